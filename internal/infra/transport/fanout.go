package transport

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/meshgate/meshgate/internal/domain"
	"github.com/meshgate/meshgate/internal/infra/metrics"
)

// ─── Fanout ─────────────────────────────────────────────────────────────────
// Broadcast delivers one envelope to every peer in a snapshot, one
// goroutine per peer. Per-peer failures are collected, never fatal to the
// batch, and a peer that exhausts its retries is skipped for a cooldown
// window on subsequent rounds.

// FanoutConfig controls broadcast retry behavior.
type FanoutConfig struct {
	Retries         int
	BackoffBase     time.Duration
	SendTimeout     time.Duration
	FailureCooldown time.Duration
}

// DefaultFanoutConfig returns production fanout defaults.
func DefaultFanoutConfig() FanoutConfig {
	return FanoutConfig{
		Retries:         3,
		BackoffBase:     500 * time.Millisecond,
		SendTimeout:     2 * time.Second,
		FailureCooldown: 60 * time.Second,
	}
}

// Result summarizes one broadcast round. It is consumed by monitoring and
// never blocks subsequent broadcasts.
type Result struct {
	Delivered []string      `json:"delivered"`
	Failed    []string      `json:"failed"`
	Skipped   []string      `json:"skipped"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Stats accumulates fanout counters across rounds.
type Stats struct {
	Rounds       uint64 `json:"rounds"`
	Delivered    uint64 `json:"delivered"`
	Failed       uint64 `json:"failed"`
	PeersReached uint64 `json:"peers_reached"`
}

// dialFunc opens a connection to addr. Swappable in tests.
type dialFunc func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error)

func netDial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}

// Broadcaster performs parallel, retrying delivery to peer snapshots.
type Broadcaster struct {
	config FanoutConfig
	dial   dialFunc

	mu       sync.Mutex
	cooldown map[string]time.Time // peer address -> last exhausted failure
	stats    Stats

	// Injectable clock
	now func() time.Time
}

// NewBroadcaster creates a fanout broadcaster.
func NewBroadcaster(cfg FanoutConfig) *Broadcaster {
	return &Broadcaster{
		config:   cfg,
		dial:     netDial,
		cooldown: make(map[string]time.Time),
		now:      time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (b *Broadcaster) SetClock(now func() time.Time) { b.now = now }

// Broadcast sends the envelope to every peer in the snapshot concurrently
// and returns once every delivery has succeeded, exhausted its retries,
// or been skipped by cooldown.
func (b *Broadcaster) Broadcast(ctx context.Context, env domain.Envelope, peers []domain.PeerRecord) Result {
	start := b.now()

	payload, err := json.Marshal(env)
	if err != nil {
		// An envelope that cannot marshal reaches nobody.
		log.Printf("[fanout] envelope marshal: %v", err)
		return Result{Elapsed: b.now().Sub(start)}
	}

	var (
		wg        sync.WaitGroup
		resMu     sync.Mutex
		delivered []string
		failed    []string
		skipped   []string
	)

	for _, peer := range peers {
		addr := peer.Address()
		if b.coolingDown(addr) {
			skipped = append(skipped, addr)
			continue
		}

		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			err := b.sendWithRetry(ctx, addr, payload)

			resMu.Lock()
			defer resMu.Unlock()
			if err != nil {
				failed = append(failed, addr)
				b.markFailed(addr)
				metrics.BroadcastSends.WithLabelValues("failed").Inc()
				log.Printf("[fanout] %s failed after %d attempts: %v", addr, b.config.Retries, err)
				return
			}
			delivered = append(delivered, addr)
			b.clearFailed(addr)
			metrics.BroadcastSends.WithLabelValues("delivered").Inc()
		}(addr)
	}
	wg.Wait()

	sort.Strings(delivered)
	sort.Strings(failed)
	sort.Strings(skipped)

	elapsed := b.now().Sub(start)
	metrics.BroadcastLatency.Observe(elapsed.Seconds())

	b.mu.Lock()
	b.stats.Rounds++
	b.stats.Delivered += uint64(len(delivered))
	b.stats.Failed += uint64(len(failed))
	b.stats.PeersReached += uint64(len(delivered))
	b.mu.Unlock()

	return Result{Delivered: delivered, Failed: failed, Skipped: skipped, Elapsed: elapsed}
}

// sendWithRetry attempts one delivery with exponential backoff between
// attempts. The context cancels the backoff sleeps as well as the dials.
func (b *Broadcaster) sendWithRetry(ctx context.Context, addr string, payload []byte) error {
	var lastErr error
	for attempt := 0; attempt < b.config.Retries; attempt++ {
		if attempt > 0 {
			backoff := b.config.BackoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if lastErr = b.sendOnce(ctx, addr, payload); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (b *Broadcaster) sendOnce(ctx context.Context, addr string, payload []byte) error {
	conn, err := b.dial(ctx, addr, b.config.SendTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(b.config.SendTimeout))
	if _, err := conn.Write(payload); err != nil {
		return err
	}
	return nil
}

// coolingDown reports whether the peer failed a round too recently.
func (b *Broadcaster) coolingDown(addr string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	last, ok := b.cooldown[addr]
	if !ok {
		return false
	}
	return b.now().Sub(last) < b.config.FailureCooldown
}

func (b *Broadcaster) markFailed(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cooldown[addr] = b.now()
}

func (b *Broadcaster) clearFailed(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cooldown, addr)
}

// Stats returns cumulative fanout counters.
func (b *Broadcaster) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
