// Package admission decides whether a candidate peer joins the active
// peer set and keeps the tamper-evident log of every decision.
//
// The log is a local, single-writer hash chain: record n carries the
// content hash of record n-1, record 0 links to a fixed genesis constant.
// Appends are serialized — each record's correctness depends on knowing
// the immediately preceding hash — while reads are freely concurrent.
package admission

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/meshgate/meshgate/internal/domain"
	"github.com/meshgate/meshgate/internal/infra/metrics"
)

// GenesisHash is the previous-hash of record 0.
var GenesisHash = strings.Repeat("0", 64)

// RecordStore persists appended records. The chain itself stays
// authoritative in memory; the store is write-through only.
type RecordStore interface {
	InsertRecord(domain.AdmissionRecord) error
}

// Chain is the append-only sequence of admission records.
type Chain struct {
	mu      sync.RWMutex
	records []domain.AdmissionRecord
	store   RecordStore // may be nil

	// Injectable clock
	now func() time.Time
}

// NewChain creates an empty chain. store may be nil for a purely
// in-memory chain.
func NewChain(store RecordStore) *Chain {
	return &Chain{store: store, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (c *Chain) SetClock(now func() time.Time) { c.now = now }

// contentHash computes the canonical hash of a record's content.
// The previous record's hash is part of the input, which is what links
// the chain together.
func contentHash(seq uint64, peerID string, decision domain.Decision, score float64, ts time.Time, prevHash string) string {
	content := fmt.Sprintf("%d|%s|%s|%s|%d|%s",
		seq, peerID, decision,
		strconv.FormatFloat(score, 'g', -1, 64),
		ts.UnixNano(), prevHash,
	)
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Append creates the next record and links it to the chain head.
// Only one append is in flight at a time system-wide.
func (c *Chain) Append(peerID string, decision domain.Decision, score float64) (domain.AdmissionRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevHash := GenesisHash
	var seq uint64
	if n := len(c.records); n > 0 {
		prevHash = c.records[n-1].Hash
		seq = c.records[n-1].Sequence + 1
	}

	rec := domain.AdmissionRecord{
		Sequence:  seq,
		PeerID:    peerID,
		Decision:  decision,
		Score:     score,
		Timestamp: c.now(),
		PrevHash:  prevHash,
	}
	rec.Hash = contentHash(rec.Sequence, rec.PeerID, rec.Decision, rec.Score, rec.Timestamp, rec.PrevHash)

	c.records = append(c.records, rec)
	metrics.ChainHeight.Set(float64(len(c.records)))

	if c.store != nil {
		if err := c.store.InsertRecord(rec); err != nil {
			// The in-memory chain stays authoritative; persistence
			// failure is reported but does not roll back the append.
			return rec, fmt.Errorf("persist admission record %d: %w", rec.Sequence, err)
		}
	}
	return rec, nil
}

// Load adopts previously persisted records as the chain, verifying their
// integrity first. Called once at startup, before any Append.
func (c *Chain) Load(records []domain.AdmissionRecord) error {
	if broken, ok := verify(records); !ok {
		return fmt.Errorf("%w: record %d", domain.ErrChainBroken, broken)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.records) > 0 {
		return fmt.Errorf("chain already has %d records", len(c.records))
	}
	c.records = append(c.records, records...)
	metrics.ChainHeight.Set(float64(len(c.records)))
	return nil
}

// Height returns the number of records in the chain.
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(len(c.records))
}

// Records returns a copy of the most recent limit records in sequence
// order. limit <= 0 returns the full chain. Export is read-only; the
// chain never accepts records back as input.
func (c *Chain) Records(limit int) []domain.AdmissionRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := 0
	if limit > 0 && len(c.records) > limit {
		start = len(c.records) - limit
	}
	out := make([]domain.AdmissionRecord, len(c.records)-start)
	copy(out, c.records[start:])
	return out
}

// Verify walks the full chain and confirms every record's previous-hash
// matches the prior record's recomputed content hash and that sequence
// indices increase strictly with no gaps. It returns the index of the
// first broken record and false, or 0 and true if the chain is intact.
func (c *Chain) Verify() (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	broken, ok := verify(c.records)
	if ok {
		metrics.ChainIntact.Set(1)
	} else {
		metrics.ChainIntact.Set(0)
	}
	return broken, ok
}

func verify(records []domain.AdmissionRecord) (uint64, bool) {
	prevHash := GenesisHash
	for i, rec := range records {
		if rec.Sequence != uint64(i) {
			return rec.Sequence, false
		}
		if rec.PrevHash != prevHash {
			return rec.Sequence, false
		}
		want := contentHash(rec.Sequence, rec.PeerID, rec.Decision, rec.Score, rec.Timestamp, rec.PrevHash)
		if rec.Hash != want {
			return rec.Sequence, false
		}
		prevHash = rec.Hash
	}
	return 0, true
}
