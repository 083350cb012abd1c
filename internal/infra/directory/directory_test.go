package directory

import (
	"errors"
	"testing"
	"time"

	"github.com/meshgate/meshgate/internal/domain"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestDirectory(t *testing.T, window time.Duration) (*Directory, *time.Time) {
	t.Helper()
	now := baseTime
	d := New(window)
	d.SetClock(func() time.Time { return now })
	return d, &now
}

func testPeer(id string) domain.PeerRecord {
	return domain.PeerRecord{
		ID:   id,
		Host: "10.0.0.1",
		Port: 9000,
	}
}

// ─── Upsert ─────────────────────────────────────────────────────────────────

func TestUpsert_InsertsNewPeer(t *testing.T) {
	d, _ := newTestDirectory(t, time.Minute)

	rec, err := d.Upsert(testPeer("peer-alpha"))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if rec.LastSeen != baseTime {
		t.Errorf("LastSeen = %v, want %v", rec.LastSeen, baseTime)
	}
	if rec.State != domain.PeerDiscovered {
		t.Errorf("State = %s, want DISCOVERED", rec.State)
	}
	if d.Count() != 1 {
		t.Errorf("Count() = %d, want 1", d.Count())
	}
}

func TestUpsert_RefreshesLastSeen(t *testing.T) {
	d, now := newTestDirectory(t, time.Minute)

	if _, err := d.Upsert(testPeer("peer-alpha")); err != nil {
		t.Fatal(err)
	}

	*now = baseTime.Add(10 * time.Second)
	rec, err := d.Upsert(testPeer("peer-alpha"))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if rec.LastSeen != *now {
		t.Errorf("LastSeen = %v, want %v", rec.LastSeen, *now)
	}
	if d.Count() != 1 {
		t.Errorf("Count() = %d, want 1 after refresh", d.Count())
	}
}

func TestUpsert_RejectsConflictingAddress(t *testing.T) {
	d, _ := newTestDirectory(t, time.Minute)

	if _, err := d.Upsert(testPeer("peer-alpha")); err != nil {
		t.Fatal(err)
	}

	claim := testPeer("peer-alpha")
	claim.Host = "10.0.0.99"
	incumbent, err := d.Upsert(claim)
	if !errors.Is(err, domain.ErrIdentityConflict) {
		t.Fatalf("Upsert() error = %v, want ErrIdentityConflict", err)
	}
	if incumbent.Host != "10.0.0.1" {
		t.Errorf("incumbent host = %s, want original 10.0.0.1", incumbent.Host)
	}

	// The incumbent entry must be untouched.
	got, ok := d.Get("peer-alpha")
	if !ok || got.Host != "10.0.0.1" {
		t.Errorf("Get() = %+v, want original address kept", got)
	}
}

// ─── Sweep ──────────────────────────────────────────────────────────────────

func TestSweep_EvictsSilentPeers(t *testing.T) {
	d, now := newTestDirectory(t, time.Minute)

	d.Upsert(testPeer("peer-old"))

	*now = baseTime.Add(30 * time.Second)
	fresh := testPeer("peer-fresh")
	fresh.Host = "10.0.0.2"
	d.Upsert(fresh)

	// peer-old is 90s silent, past the 60s window; peer-fresh is 60s
	// silent, exactly at the boundary and therefore kept.
	*now = baseTime.Add(90 * time.Second)
	evicted := d.Sweep()

	if len(evicted) != 1 || evicted[0] != "peer-old" {
		t.Fatalf("Sweep() = %v, want [peer-old]", evicted)
	}
	if _, ok := d.Get("peer-old"); ok {
		t.Error("peer-old still present after sweep")
	}
	if _, ok := d.Get("peer-fresh"); !ok {
		t.Error("peer-fresh evicted prematurely")
	}
}

func TestSweep_EmptyDirectory(t *testing.T) {
	d, _ := newTestDirectory(t, time.Minute)
	if evicted := d.Sweep(); len(evicted) != 0 {
		t.Errorf("Sweep() = %v, want none", evicted)
	}
}

// ─── Snapshot & State ───────────────────────────────────────────────────────

func TestSnapshot_SortedAndCopied(t *testing.T) {
	d, _ := newTestDirectory(t, time.Minute)

	for _, id := range []string{"peer-c", "peer-a", "peer-b"} {
		p := testPeer(id)
		p.Host = "10.0.0." + id[len(id)-1:]
		if _, err := d.Upsert(p); err != nil {
			t.Fatal(err)
		}
	}

	snap := d.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Snapshot() len = %d, want 3", len(snap))
	}
	for i, want := range []string{"peer-a", "peer-b", "peer-c"} {
		if snap[i].ID != want {
			t.Errorf("Snapshot()[%d].ID = %s, want %s", i, snap[i].ID, want)
		}
	}

	// Mutating the snapshot must not touch the directory.
	snap[0].State = domain.PeerRejected
	if got, _ := d.Get("peer-a"); got.State == domain.PeerRejected {
		t.Error("snapshot mutation leaked into directory")
	}
}

func TestSetState_Transitions(t *testing.T) {
	d, _ := newTestDirectory(t, time.Minute)
	d.Upsert(testPeer("peer-alpha"))

	d.SetState("peer-alpha", domain.PeerActive)
	if got, _ := d.Get("peer-alpha"); got.State != domain.PeerActive {
		t.Errorf("State = %s, want ACTIVE", got.State)
	}

	// Unknown identities are ignored.
	d.SetState("peer-ghost", domain.PeerActive)
}
