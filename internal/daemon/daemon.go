package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/meshgate/meshgate/internal/api"
	"github.com/meshgate/meshgate/internal/domain"
	"github.com/meshgate/meshgate/internal/infra/admission"
	"github.com/meshgate/meshgate/internal/infra/directory"
	"github.com/meshgate/meshgate/internal/infra/discovery"
	_ "github.com/meshgate/meshgate/internal/infra/metrics" // Register Prometheus metrics
	"github.com/meshgate/meshgate/internal/infra/reputation"
	"github.com/meshgate/meshgate/internal/infra/sqlite"
	"github.com/meshgate/meshgate/internal/infra/transport"
)

// Daemon is the core meshgate runtime. It wires together all components:
// discovery feeds the directory, the transport accepts connections, the
// admission engine scores them against the reputation ledger and the
// chain, and the fanout broadcasts outcomes to the current peer set.
type Daemon struct {
	Config Config
	NodeID string

	DB        *sqlite.DB
	Directory *directory.Directory
	Ledger    *reputation.Ledger
	Chain     *admission.Chain
	Engine    *admission.Engine
	Discovery *discovery.Listener
	Transport *transport.Transport
	Fanout    *transport.Broadcaster
	Server    *api.Server

	cancel context.CancelFunc
}

// New creates and initializes a Daemon with all components wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration. The
// configuration is validated before anything touches the network.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	nodeID := cfg.Node.ID
	if nodeID == "" {
		id, err := LoadOrCreateNodeID(meshgateHome())
		if err != nil {
			return nil, err
		}
		nodeID = id
	}

	db, err := sqlite.Open(meshgateHome())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	dir := directory.New(cfg.SilenceWindow())
	ledger := reputation.New(cfg.ReputationConfig())
	chain := admission.NewChain(db)

	// Reload the persisted chain and verify it before trusting it.
	stored, err := db.Records()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load admission chain: %w", err)
	}
	if err := chain.Load(stored); err != nil {
		// A corrupt stored chain is a critical alert, not a startup
		// failure: admission continues on a fresh chain while the
		// stored one awaits investigation.
		log.Printf("[daemon] CRITICAL: persisted chain failed verification: %v — starting fresh", err)
		chain = admission.NewChain(nil)
	} else if n := len(stored); n > 0 {
		log.Printf("[daemon] reloaded admission chain: %d records", n)
	}

	engine := admission.NewEngine(cfg.AdmissionConfig(), chain, ledger, dir)

	d := &Daemon{
		Config:    cfg,
		NodeID:    nodeID,
		DB:        db,
		Directory: dir,
		Ledger:    ledger,
		Chain:     chain,
		Engine:    engine,
		Fanout:    transport.NewBroadcaster(cfg.FanoutConfig()),
	}

	d.Transport = transport.New(cfg.TransportConfig(), nodeID, d)

	disco := discovery.New(cfg.DiscoveryConfig(), nodeID, cfg.Transport.Port, cfg.Node.Metadata, dir)
	disco.OnSighting(d.preScore)
	d.Discovery = disco

	srv := api.NewServer(nodeID, dir, ledger, engine, disco, d.Fanout)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	d.Server = srv

	return d, nil
}

// HandleInbound runs the admission path for a peer that connected and
// completed the transport handshake. Accepted peers go active; every
// decision is committed to the chain and fanned out to the peer set.
func (d *Daemon) HandleInbound(rec domain.PeerRecord) domain.Verdict {
	// Register the sighting first so the identity criterion can see a
	// conflicting incumbent. A conflicting claim leaves the incumbent
	// untouched — including its lifecycle state, which is keyed by the
	// shared identity and must not track the hijack attempt.
	if _, err := d.Directory.Upsert(rec); err != nil {
		log.Printf("[daemon] inbound %s: %v", rec.ID, err)
	} else {
		d.Directory.SetState(rec.ID, domain.PeerEvaluating)
	}

	verdict := d.Engine.Evaluate(rec)
	record, _ := d.Engine.Commit(verdict)

	if verdict.Accepted() {
		// First successful application-level handshake: the peer is
		// active until the connection is lost and it is rediscovered.
		d.Directory.SetState(rec.ID, domain.PeerActive)
	}

	go d.announceDecision(record)
	return verdict
}

// preScore evaluates a freshly discovered peer without committing, so
// operators can see the would-be score before the peer ever connects.
// A promising new sighting is dialed right away rather than waiting for
// the remote side to connect first.
func (d *Daemon) preScore(rec domain.PeerRecord) {
	v := d.Engine.Evaluate(rec)
	log.Printf("[daemon] discovered %s at %s (pre-score %.3f)", rec.ID, rec.Address(), v.Aggregate)

	if v.Accepted() && rec.State == domain.PeerDiscovered {
		go d.join(rec)
	}
}

// join dials a discovered peer and runs the outbound handshake, applying
// for membership in the remote peer set. An accepting remote goes active
// locally; the result feeds the reputation ledger at connection weight.
func (d *Daemon) join(rec domain.PeerRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := d.Transport.Connect(ctx, rec)
	if err != nil {
		log.Printf("[daemon] join %s: %v", rec.ID, err)
		return
	}
	defer conn.Close()

	hello := domain.Announcement{
		Type:      domain.AnnounceType,
		ID:        d.NodeID,
		Port:      d.Config.Transport.Port,
		Timestamp: time.Now().Unix(),
		Metadata:  d.Config.Node.Metadata,
	}
	decision, err := d.Transport.Handshake(conn, hello)
	if err != nil {
		log.Printf("[daemon] join %s: %v", rec.ID, err)
		return
	}

	if decision == domain.DecisionAccept {
		d.Directory.SetState(rec.ID, domain.PeerActive)
		d.Ledger.RecordOutcome(rec.ID, domain.OutcomeSuccess, 0.5)
	}
	log.Printf("[daemon] join %s: remote decision %s", rec.ID, decision)
}

// announceDecision fans the committed record out to the current peer set.
// The result feeds monitoring; it never blocks the admission path.
func (d *Daemon) announceDecision(rec domain.AdmissionRecord) {
	peers := d.activePeers()
	if len(peers) == 0 {
		return
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		log.Printf("[daemon] marshal admission record: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res := d.Fanout.Broadcast(ctx, domain.Envelope{
		Type:     domain.EnvelopeAdmissionUpdate,
		Origin:   d.NodeID,
		Sequence: rec.Sequence,
		Payload:  payload,
	}, peers)

	log.Printf("[daemon] admission update %d fanned out: %d delivered, %d failed in %s",
		rec.Sequence, len(res.Delivered), len(res.Failed), res.Elapsed.Round(time.Millisecond))

	// Delivery outcomes are reputation signal too.
	for _, p := range peers {
		addr := p.Address()
		for _, f := range res.Failed {
			if f == addr {
				d.Ledger.RecordOutcome(p.ID, domain.OutcomeFailure, 0.5)
			}
		}
	}
}

// activePeers returns the peers eligible for fanout: everyone currently
// admitted or still under evaluation, excluding rejected entries.
func (d *Daemon) activePeers() []domain.PeerRecord {
	var out []domain.PeerRecord
	for _, p := range d.Directory.Snapshot() {
		if p.State == domain.PeerRejected {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Serve starts all workers and blocks until a signal or a fatal error.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	log.Printf("[daemon] meshgate node %s starting", d.NodeID)

	errc := make(chan error, 3)

	go func() {
		if err := d.Transport.Listen(ctx); err != nil {
			errc <- fmt.Errorf("transport: %w", err)
		}
	}()
	go func() {
		if err := d.Discovery.Run(ctx); err != nil {
			errc <- fmt.Errorf("discovery: %w", err)
		}
	}()
	go d.statusLoop(ctx)

	httpAddr := net.JoinHostPort(d.Config.API.Host, strconv.Itoa(d.Config.API.Port))
	httpSrv := &http.Server{Addr: httpAddr, Handler: d.Server.Handler()}
	go func() {
		log.Printf("[daemon] API listening on http://%s", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- fmt.Errorf("api: %w", err)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigc:
		log.Printf("[daemon] received %s, shutting down", sig)
	case err := <-errc:
		log.Printf("[daemon] fatal: %v", err)
		cancel()
		httpSrv.Close()
		d.Close()
		return err
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	return d.Close()
}

// statusLoop periodically reports a health snapshot and re-verifies the
// admission chain. A broken chain surfaces as a critical alert but does
// not halt admission; audit-dependent operations are untrustworthy until
// it is resolved.
func (d *Daemon) statusLoop(ctx context.Context) {
	interval := time.Duration(d.Config.Telemetry.StatusIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if broken, ok := d.Engine.VerifyChain(); !ok {
				log.Printf("[daemon] CRITICAL: admission chain broken at record %d", broken)
			}
			log.Printf("[daemon] status: %d peers, chain height %d, network health %.3f",
				d.Directory.Count(), d.Chain.Height(), d.Ledger.NetworkHealth())
		}
	}
}

// Close releases daemon resources.
func (d *Daemon) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
