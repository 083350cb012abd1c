// Package directory maintains the live table of known peers.
// It is pure storage with a TTL: entries are created or refreshed on every
// sighting and removed only by the periodic silence-window sweep.
package directory

import (
	"sort"
	"sync"
	"time"

	"github.com/meshgate/meshgate/internal/domain"
	"github.com/meshgate/meshgate/internal/infra/metrics"
)

// Directory is a concurrent map of PeerRecords keyed by identity.
type Directory struct {
	mu            sync.RWMutex
	peers         map[string]*domain.PeerRecord
	silenceWindow time.Duration

	// Injectable clock
	now func() time.Time
}

// New creates an empty directory. Peers unseen for silenceWindow are
// removed on the next Sweep.
func New(silenceWindow time.Duration) *Directory {
	return &Directory{
		peers:         make(map[string]*domain.PeerRecord),
		silenceWindow: silenceWindow,
		now:           time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (d *Directory) SetClock(now func() time.Time) { d.now = now }

// Upsert inserts a peer or refreshes its last-seen timestamp.
// A claim on an existing identity from a different address is refused:
// the incumbent entry is kept untouched until it ages out via Sweep, and
// ErrIdentityConflict is returned so the caller can score it accordingly.
func (d *Directory) Upsert(rec domain.PeerRecord) (domain.PeerRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	existing, ok := d.peers[rec.ID]
	if ok {
		if existing.Host != rec.Host || existing.Port != rec.Port {
			return *existing, domain.ErrIdentityConflict
		}
		existing.LastSeen = now
		if len(rec.Metadata) > 0 {
			existing.Metadata = rec.Metadata
		}
		return *existing, nil
	}

	rec.LastSeen = now
	if rec.State == "" {
		rec.State = domain.PeerDiscovered
	}
	d.peers[rec.ID] = &rec
	metrics.PeersKnown.Set(float64(len(d.peers)))
	return rec, nil
}

// Get returns the peer with the given identity.
func (d *Directory) Get(id string) (domain.PeerRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.peers[id]
	if !ok {
		return domain.PeerRecord{}, false
	}
	return *p, true
}

// SetState transitions a peer's admission lifecycle state.
// Unknown identities are ignored — the peer may have been swept.
func (d *Directory) SetState(id string, state domain.PeerState) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.peers[id]; ok {
		p.State = state
	}
}

// Snapshot returns a copy of all entries, sorted by identity for
// deterministic iteration.
func (d *Directory) Snapshot() []domain.PeerRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]domain.PeerRecord, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of known peers.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// Sweep evicts peers whose last sighting exceeds the silence window and
// returns the evicted identities. This is the only removal path.
func (d *Directory) Sweep() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var evicted []string
	for id, p := range d.peers {
		if p.SilentSince(now, d.silenceWindow) {
			delete(d.peers, id)
			evicted = append(evicted, id)
		}
	}
	if len(evicted) > 0 {
		metrics.PeersEvicted.Add(float64(len(evicted)))
		metrics.PeersKnown.Set(float64(len(d.peers)))
	}
	sort.Strings(evicted)
	return evicted
}
