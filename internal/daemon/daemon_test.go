package daemon

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/meshgate/meshgate/internal/domain"
	"github.com/meshgate/meshgate/internal/infra/transport"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	t.Setenv("MESHGATE_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.Fanout.Retries = 1
	cfg.Fanout.SendTimeoutSeconds = 1

	d, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// freshPeer is a fully-populated inbound candidate that clears admission.
func freshPeer() domain.PeerRecord {
	return domain.PeerRecord{
		ID:       "peer-abcdef1",
		Host:     "127.0.0.1",
		Port:     19404,
		LastSeen: time.Now().Add(-2 * time.Second),
		Metadata: map[string]string{
			"region": "eu-west", "version": "1.4.2", "capacity": "high",
			"uptime": "99.9", "role": "relay",
		},
	}
}

// acceptAll admits every inbound handshake, standing in for a remote node.
type acceptAll struct{}

func (acceptAll) HandleInbound(domain.PeerRecord) domain.Verdict {
	return domain.Verdict{Decision: domain.DecisionAccept, Aggregate: 0.9}
}

// ─── HandleInbound ──────────────────────────────────────────────────────────

func TestHandleInbound_AcceptedPeerGoesActive(t *testing.T) {
	d := newTestDaemon(t)

	v := d.HandleInbound(freshPeer())
	if !v.Accepted() {
		t.Fatalf("Decision = %s at aggregate %.3f, want accept", v.Decision, v.Aggregate)
	}
	if rec, _ := d.Directory.Get("peer-abcdef1"); rec.State != domain.PeerActive {
		t.Errorf("State = %s, want ACTIVE", rec.State)
	}
	if d.Chain.Height() != 1 {
		t.Errorf("Height() = %d, want 1", d.Chain.Height())
	}
}

func TestHandleInbound_ConflictingClaimLeavesIncumbentUntouched(t *testing.T) {
	d := newTestDaemon(t)

	incumbent := freshPeer()
	if _, err := d.Directory.Upsert(incumbent); err != nil {
		t.Fatal(err)
	}
	d.Directory.SetState(incumbent.ID, domain.PeerActive)

	claim := freshPeer()
	claim.Host = "127.0.0.2"

	v := d.HandleInbound(claim)
	if v.Accepted() {
		t.Fatalf("Decision = %s, want reject for a claim on a taken identity", v.Decision)
	}

	// The incumbent holds the identity; the failed claim must leave its
	// directory entry, including lifecycle state, exactly as it was.
	rec, ok := d.Directory.Get(incumbent.ID)
	if !ok {
		t.Fatal("incumbent dropped from directory")
	}
	if rec.State != domain.PeerActive {
		t.Errorf("incumbent State = %s after conflicting claim, want ACTIVE", rec.State)
	}
	if rec.Host != incumbent.Host {
		t.Errorf("incumbent Host = %s, want %s", rec.Host, incumbent.Host)
	}
	if d.Chain.Height() != 1 {
		t.Errorf("Height() = %d, want the attempt recorded", d.Chain.Height())
	}
}

// ─── Outbound join ──────────────────────────────────────────────────────────

func TestJoin_AcceptingRemoteActivatesPeer(t *testing.T) {
	d := newTestDaemon(t)

	remote := transport.New(transport.Config{
		ListenHost:       "127.0.0.1",
		ListenPort:       0,
		ConnectTimeout:   2 * time.Second,
		HandshakeTimeout: 2 * time.Second,
	}, "node-remote", acceptAll{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go remote.Listen(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for remote.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("remote listener never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}

	host, portStr, err := net.SplitHostPort(remote.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)

	rec := domain.PeerRecord{ID: "peer-remote-1", Host: host, Port: port, LastSeen: time.Now()}
	if _, err := d.Directory.Upsert(rec); err != nil {
		t.Fatal(err)
	}

	d.join(rec)

	if got, _ := d.Directory.Get(rec.ID); got.State != domain.PeerActive {
		t.Errorf("State = %s after accepted join, want ACTIVE", got.State)
	}
	if got := d.Ledger.Score(rec.ID); got <= 0.5 {
		t.Errorf("Score = %v after accepted join, want above default", got)
	}
}
