package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/meshgate/meshgate/internal/domain"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

// recordingHandler answers every inbound handshake with a fixed verdict and
// remembers what it was asked about.
type recordingHandler struct {
	mu      sync.Mutex
	seen    []domain.PeerRecord
	verdict domain.Verdict
}

func (h *recordingHandler) HandleInbound(rec domain.PeerRecord) domain.Verdict {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, rec)
	return h.verdict
}

func (h *recordingHandler) inboundCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func (h *recordingHandler) lastSeen(t *testing.T) domain.PeerRecord {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.seen) == 0 {
		t.Fatal("handler saw no inbound peers")
	}
	return h.seen[len(h.seen)-1]
}

// startTransport binds a loopback listener on an ephemeral port and returns
// the transport once it is accepting.
func startTransport(t *testing.T, h Handler) (*Transport, context.CancelFunc) {
	t.Helper()

	tr := New(Config{
		ListenHost:       "127.0.0.1",
		ListenPort:       0,
		ConnectTimeout:   2 * time.Second,
		HandshakeTimeout: 2 * time.Second,
	}, "node-local", h)

	ctx, cancel := context.WithCancel(context.Background())
	go tr.Listen(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for tr.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("listener did not bind")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return tr, cancel
}

func validHello(id string) domain.Announcement {
	return domain.Announcement{
		Type:      domain.AnnounceType,
		ID:        id,
		Port:      9000,
		Timestamp: time.Now().Unix(),
		Metadata:  map[string]string{"region": "eu-west"},
	}
}

// ─── Handshake ──────────────────────────────────────────────────────────────

func TestHandshake_RoundTrip(t *testing.T) {
	h := &recordingHandler{verdict: domain.Verdict{Decision: domain.DecisionAccept, Aggregate: 0.91}}
	tr, cancel := startTransport(t, h)
	defer cancel()

	conn, err := net.Dial("tcp", tr.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	decision, err := tr.Handshake(conn, validHello("peer-remote-1"))
	if err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}
	if decision != domain.DecisionAccept {
		t.Errorf("Handshake() decision = %q, want accept", decision)
	}

	rec := h.lastSeen(t)
	if rec.ID != "peer-remote-1" {
		t.Errorf("handler saw peer %q, want peer-remote-1", rec.ID)
	}
	if rec.Host != "127.0.0.1" {
		t.Errorf("handler saw host %q, want host filled from the connection", rec.Host)
	}
	if rec.State != domain.PeerDiscovered {
		t.Errorf("handler saw state %q, want DISCOVERED", rec.State)
	}
}

func TestHandshake_RejectVerdictReachesCaller(t *testing.T) {
	h := &recordingHandler{verdict: domain.Verdict{Decision: domain.DecisionReject, Aggregate: 0.31}}
	tr, cancel := startTransport(t, h)
	defer cancel()

	conn, err := net.Dial("tcp", tr.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	decision, err := tr.Handshake(conn, validHello("peer-remote-2"))
	if err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}
	if decision != domain.DecisionReject {
		t.Errorf("Handshake() decision = %q, want reject", decision)
	}
}

func TestHandleConn_MalformedHandshakeDropped(t *testing.T) {
	h := &recordingHandler{verdict: domain.Verdict{Decision: domain.DecisionAccept}}
	tr, cancel := startTransport(t, h)
	defer cancel()

	conn, err := net.Dial("tcp", tr.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("this is not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The connection is closed without a reply and the handler never runs.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Error("expected the connection to close without a reply")
	}
	if got := h.inboundCount(); got != 0 {
		t.Errorf("handler ran %d times for malformed handshake, want 0", got)
	}
}

func TestHandleConn_MissingIdentityDropped(t *testing.T) {
	h := &recordingHandler{verdict: domain.Verdict{Decision: domain.DecisionAccept}}
	tr, cancel := startTransport(t, h)
	defer cancel()

	conn, err := net.Dial("tcp", tr.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Structurally valid JSON that fails announcement validation.
	hello := validHello("")
	if err := json.NewEncoder(conn).Encode(hello); err != nil {
		t.Fatalf("encode: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Error("expected the connection to close without a reply")
	}
	if got := h.inboundCount(); got != 0 {
		t.Errorf("handler ran %d times for invalid announcement, want 0", got)
	}
}

func TestListen_ConcurrentHandshakes(t *testing.T) {
	h := &recordingHandler{verdict: domain.Verdict{Decision: domain.DecisionAccept, Aggregate: 0.8}}
	tr, cancel := startTransport(t, h)
	defer cancel()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", tr.Addr().String())
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			if _, err := tr.Handshake(conn, validHello(fmt.Sprintf("peer-worker-%d", i))); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent handshake: %v", err)
	}
	if got := h.inboundCount(); got != n {
		t.Errorf("handler ran %d times, want %d", got, n)
	}
}

func TestConnect_RefusedPort(t *testing.T) {
	tr := New(Config{ConnectTimeout: time.Second, HandshakeTimeout: time.Second}, "node-local", nil)

	// Bind and immediately close a listener to get a port nobody serves.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	_, err = tr.Connect(context.Background(), domain.PeerRecord{
		ID: "peer-gone", Host: "127.0.0.1", Port: addr.Port,
	})
	if err == nil {
		t.Fatal("Connect() to closed port succeeded, want error")
	}
}
