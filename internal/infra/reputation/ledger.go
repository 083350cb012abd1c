// Package reputation converts a stream of interaction outcomes into a
// single comparable trust score per peer.
//
// Scores live in [0,1] and are never stored: every read recomputes the
// weighted average of the peer's bounded history, with each entry's weight
// attenuated by exp(-λ·Δt). Old interactions fade smoothly instead of
// being abruptly discarded. Peers never mutate their own score — the
// ledger is the only writer.
package reputation

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/meshgate/meshgate/internal/domain"
	"github.com/meshgate/meshgate/internal/infra/metrics"
)

// DefaultScore is the neutral score returned for unknown peers, so the
// admission engine can evaluate brand-new candidates.
const DefaultScore = 0.5

// Config controls decay and history retention.
type Config struct {
	// Lambda is the exponential decay constant applied per second of age.
	Lambda float64

	// HistorySize bounds the per-peer interaction ring buffer. The oldest
	// entries are silently dropped once the buffer is full.
	HistorySize int
}

// DefaultConfig returns production reputation defaults.
func DefaultConfig() Config {
	return Config{
		Lambda:      0.001, // ~17-minute half-life
		HistorySize: 50,
	}
}

// entry is the per-peer ledger state.
type entry struct {
	history         []domain.Interaction
	lastInteraction time.Time
}

// Ledger tracks per-peer reputation.
type Ledger struct {
	mu     sync.RWMutex
	config Config
	peers  map[string]*entry

	// Injectable clock
	now func() time.Time
}

// New creates an empty ledger.
func New(cfg Config) *Ledger {
	return &Ledger{
		config: cfg,
		peers:  make(map[string]*entry),
		now:    time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// RecordOutcome appends an interaction to the peer's history, evicting the
// oldest entry once the buffer is full.
func (l *Ledger) RecordOutcome(peerID string, outcome domain.Outcome, weight float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.peers[peerID]
	if !ok {
		e = &entry{}
		l.peers[peerID] = e
	}

	now := l.now()
	e.history = append(e.history, domain.Interaction{
		Outcome:   outcome,
		Weight:    weight,
		Timestamp: now,
	})
	if len(e.history) > l.config.HistorySize {
		e.history = e.history[len(e.history)-l.config.HistorySize:]
	}
	e.lastInteraction = now

	metrics.OutcomesRecorded.WithLabelValues(string(outcome)).Inc()
	metrics.NetworkHealth.Set(l.networkHealthLocked(now))
}

// Score returns the peer's current trust score. Unknown peers return the
// neutral default rather than erroring.
func (l *Ledger) Score(peerID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.peers[peerID]
	if !ok {
		return DefaultScore
	}
	return l.scoreOf(e, l.now())
}

// scoreOf computes the decayed weighted average of a peer's history.
func (l *Ledger) scoreOf(e *entry, now time.Time) float64 {
	var sum, norm float64
	for _, in := range e.history {
		age := now.Sub(in.Timestamp).Seconds()
		if age < 0 {
			age = 0
		}
		w := in.Weight * math.Exp(-l.config.Lambda*age)
		sum += w * in.Outcome.Value()
		norm += w
	}
	if norm == 0 {
		return DefaultScore
	}
	score := sum / norm
	// Guard against float drift at the boundaries.
	return math.Min(1.0, math.Max(0.0, score))
}

// NetworkHealth returns the mean score across all tracked peers, weighted
// by how recently each peer last interacted. No peers yields the neutral
// default.
func (l *Ledger) NetworkHealth() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.networkHealthLocked(l.now())
}

func (l *Ledger) networkHealthLocked(now time.Time) float64 {
	var sum, norm float64
	for _, e := range l.peers {
		age := now.Sub(e.lastInteraction).Seconds()
		if age < 0 {
			age = 0
		}
		w := math.Exp(-l.config.Lambda * age)
		sum += w * l.scoreOf(e, now)
		norm += w
	}
	if norm == 0 {
		return DefaultScore
	}
	return sum / norm
}

// TrackedPeers returns the number of peers with recorded history.
func (l *Ledger) TrackedPeers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.peers)
}

// PeerScore pairs an identity with its current score, for read-only export.
type PeerScore struct {
	PeerID string  `json:"peer_id"`
	Score  float64 `json:"score"`
}

// Snapshot returns all current scores, sorted by identity.
func (l *Ledger) Snapshot() []PeerScore {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()
	out := make([]PeerScore, 0, len(l.peers))
	for id, e := range l.peers {
		out = append(out, PeerScore{PeerID: id, Score: l.scoreOf(e, now)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}
