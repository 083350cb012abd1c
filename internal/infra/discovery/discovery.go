// Package discovery maintains network presence visibility without a
// central directory.
//
// On a fixed interval the listener broadcasts a presence datagram on the
// UDP channel and sweeps silent peers out of the directory. Inbound
// announcements upsert the directory and notify a registered callback so
// the admission engine can pre-score new sightings. Malformed datagrams
// are dropped without a response — no reply ever goes to an
// unauthenticated sender, to avoid amplification.
package discovery

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/meshgate/meshgate/internal/domain"
	"github.com/meshgate/meshgate/internal/infra/directory"
	"github.com/meshgate/meshgate/internal/infra/metrics"
)

// maxDatagramBytes is the largest announcement the listener will parse.
const maxDatagramBytes = 2048

// Config controls announce cadence and the broadcast channel.
type Config struct {
	Interval      time.Duration
	BroadcastAddr string
	BroadcastPort int
	Debug         bool
}

// DefaultConfig returns production discovery defaults.
func DefaultConfig() Config {
	return Config{
		Interval:      30 * time.Second,
		BroadcastAddr: "255.255.255.255",
		BroadcastPort: 9001,
	}
}

// Stats tracks discovery activity for the status surface.
type Stats struct {
	AnnouncementsSent uint64 `json:"announcements_sent"`
	PeersSighted      uint64 `json:"peers_sighted"`
	Malformed         uint64 `json:"malformed"`
	Conflicts         uint64 `json:"conflicts"`
	SendErrors        uint64 `json:"send_errors"`
}

// Listener announces local presence and ingests announcements from others.
type Listener struct {
	config    Config
	localID   string
	localPort int // transport port to advertise
	metadata  map[string]string
	dir       *directory.Directory

	// onSighting is invoked for every structurally valid announcement
	// after the directory upsert, so the admission engine may pre-score
	// the peer. Never invoked for this node's own datagrams.
	onSighting func(domain.PeerRecord)

	mu    sync.Mutex
	stats Stats

	// Injectable clock
	now func() time.Time
}

// New creates a discovery listener advertising localID at localPort.
func New(cfg Config, localID string, localPort int, metadata map[string]string, dir *directory.Directory) *Listener {
	return &Listener{
		config:    cfg,
		localID:   localID,
		localPort: localPort,
		metadata:  metadata,
		dir:       dir,
		now:       time.Now,
	}
}

// OnSighting registers the pre-scoring callback.
func (l *Listener) OnSighting(fn func(domain.PeerRecord)) { l.onSighting = fn }

// Run binds the broadcast port and serves until the context is cancelled.
// Each interval it announces local presence and sweeps the directory;
// both also run once immediately at startup.
func (l *Listener) Run(ctx context.Context) error {
	pc, err := net.ListenPacket("udp4", ":"+strconv.Itoa(l.config.BroadcastPort))
	if err != nil {
		return err
	}
	log.Printf("[discovery] listening for announcements on %s", pc.LocalAddr())

	go func() {
		<-ctx.Done()
		pc.Close()
	}()
	go l.readLoop(pc)

	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()

	l.announce()
	l.sweep()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.announce()
			l.sweep()
		}
	}
}

// announce broadcasts a presence datagram. Failure to send — for example
// on a host with no broadcast-capable interface — is logged and retried
// next interval, never fatal.
func (l *Listener) announce() {
	a := domain.Announcement{
		Type:      domain.AnnounceType,
		ID:        l.localID,
		Port:      l.localPort,
		Timestamp: l.now().Unix(),
		Metadata:  l.metadata,
	}
	payload, err := json.Marshal(a)
	if err != nil {
		log.Printf("[discovery] marshal announcement: %v", err)
		return
	}

	addr := net.JoinHostPort(l.config.BroadcastAddr, strconv.Itoa(l.config.BroadcastPort))
	conn, err := net.Dial("udp4", addr)
	if err != nil {
		l.countSendError()
		log.Printf("[discovery] announce failed: %v (retrying next interval)", err)
		return
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		l.countSendError()
		log.Printf("[discovery] announce failed: %v (retrying next interval)", err)
		return
	}

	l.mu.Lock()
	l.stats.AnnouncementsSent++
	l.mu.Unlock()
	metrics.AnnouncementsSent.Inc()
}

// sweep evicts peers past the silence window. This is the only path that
// removes directory entries.
func (l *Listener) sweep() {
	evicted := l.dir.Sweep()
	for _, id := range evicted {
		log.Printf("[discovery] evicted silent peer %s", id)
	}
}

// readLoop ingests datagrams until the socket closes.
func (l *Listener) readLoop(pc net.PacketConn) {
	buf := make([]byte, maxDatagramBytes)
	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		l.handleDatagram(buf[:n], from)
	}
}

// handleDatagram parses one announcement and upserts the directory.
// Structurally invalid datagrams are dropped silently; unknown extra
// fields are ignored for forward compatibility.
func (l *Listener) handleDatagram(data []byte, from net.Addr) {
	var a domain.Announcement
	if err := json.Unmarshal(data, &a); err != nil {
		l.dropMalformed(from, err)
		return
	}
	if !a.Valid() {
		l.dropMalformed(from, domain.ErrDatagramMalformed)
		return
	}
	if a.ID == l.localID {
		return // our own broadcast echoed back
	}

	host := a.Host
	if host == "" {
		if h, _, err := net.SplitHostPort(from.String()); err == nil {
			host = h
		}
	}

	rec, err := l.dir.Upsert(domain.PeerRecord{
		ID:       a.ID,
		Host:     host,
		Port:     a.Port,
		Metadata: a.Metadata,
		State:    domain.PeerDiscovered,
	})
	if err != nil {
		l.mu.Lock()
		l.stats.Conflicts++
		l.mu.Unlock()
		metrics.DatagramsReceived.WithLabelValues("conflict").Inc()
		log.Printf("[discovery] announcement for %s from %s conflicts with known address %s", a.ID, from, rec.Address())
		return
	}

	l.mu.Lock()
	l.stats.PeersSighted++
	l.mu.Unlock()
	metrics.DatagramsReceived.WithLabelValues("ok").Inc()

	if l.onSighting != nil {
		// The callback sees the peer's declared timestamp, not the
		// directory's sighting time, so freshness scoring reflects
		// what the peer claimed.
		cand := rec
		cand.LastSeen = time.Unix(a.Timestamp, 0)
		l.onSighting(cand)
	}
}

func (l *Listener) dropMalformed(from net.Addr, err error) {
	l.mu.Lock()
	l.stats.Malformed++
	l.mu.Unlock()
	metrics.DatagramsReceived.WithLabelValues("malformed").Inc()
	if l.config.Debug {
		log.Printf("[discovery] dropped datagram from %s: %v", from, err)
	}
}

func (l *Listener) countSendError() {
	l.mu.Lock()
	l.stats.SendErrors++
	l.mu.Unlock()
}

// Stats returns cumulative discovery counters.
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
