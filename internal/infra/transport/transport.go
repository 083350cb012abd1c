// Package transport owns all socket-level I/O for the overlay: the TCP
// listener with its admission handshake, deadline-bounded outbound dials,
// and the retrying broadcast fanout.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/meshgate/meshgate/internal/domain"
	"github.com/meshgate/meshgate/internal/infra/metrics"
)

// maxHandshakeBytes bounds the first message read from a new connection.
const maxHandshakeBytes = 64 * 1024

// Config controls socket behavior.
type Config struct {
	ListenHost       string
	ListenPort       int
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
}

// DefaultConfig returns production transport defaults.
func DefaultConfig() Config {
	return Config{
		ListenHost:       "0.0.0.0",
		ListenPort:       9000,
		ConnectTimeout:   10 * time.Second,
		HandshakeTimeout: 5 * time.Second,
	}
}

// Handler receives the peer record extracted from an inbound handshake
// and returns the admission verdict to report back. This is how inbound
// connections reach the admission engine without the transport knowing
// scoring details.
type Handler interface {
	HandleInbound(rec domain.PeerRecord) domain.Verdict
}

// handshakeReply is the JSON response written after an inbound handshake.
type handshakeReply struct {
	Status string  `json:"status"`
	Score  float64 `json:"score"`
}

// Transport accepts inbound connections and dials outbound ones.
type Transport struct {
	config  Config
	localID string
	handler Handler

	listener net.Listener
}

// New creates a transport. The handler must be non-nil before Listen.
func New(cfg Config, localID string, handler Handler) *Transport {
	return &Transport{config: cfg, localID: localID, handler: handler}
}

// Listen binds the TCP listener and serves connections until the context
// is cancelled. Each connection is handled independently and concurrently;
// a failure on one never affects another.
func (t *Transport) Listen(ctx context.Context) error {
	addr := net.JoinHostPort(t.config.ListenHost, strconv.Itoa(t.config.ListenPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	t.listener = ln
	log.Printf("[transport] listening on %s", ln.Addr())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("[transport] accept: %v", err)
			continue
		}
		metrics.ConnectionsInbound.Inc()
		go t.handleConn(conn)
	}
}

// Addr returns the bound listener address, or nil before Listen.
func (t *Transport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// handleConn runs the per-connection handshake and admission exchange.
// Malformed or late handshakes drop the connection; nothing is processed
// further and no other peer is affected.
func (t *Transport) handleConn(conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(t.config.HandshakeTimeout))

	var hello domain.Announcement
	dec := json.NewDecoder(io.LimitReader(conn, maxHandshakeBytes))
	if err := dec.Decode(&hello); err != nil {
		log.Printf("[transport] handshake from %s dropped: %v", conn.RemoteAddr(), err)
		return
	}
	if !hello.Valid() {
		log.Printf("[transport] handshake from %s dropped: %v", conn.RemoteAddr(), domain.ErrHandshakeMalformed)
		return
	}

	rec := recordFromAnnouncement(hello, conn.RemoteAddr())
	verdict := t.handler.HandleInbound(rec)

	reply := handshakeReply{Status: string(verdict.Decision), Score: verdict.Aggregate}
	conn.SetWriteDeadline(time.Now().Add(t.config.HandshakeTimeout))
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Printf("[transport] reply to %s failed: %v", conn.RemoteAddr(), err)
	}
}

// Connect opens an outbound connection with a bounded timeout. Failures
// are reported to the caller; retry policy lives with the caller.
func (t *Transport) Connect(ctx context.Context, peer domain.PeerRecord) (net.Conn, error) {
	d := net.Dialer{Timeout: t.config.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", peer.Address())
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", peer.Address(), err)
	}
	return conn, nil
}

// Handshake sends this node's announcement as the first message on a
// fresh outbound connection and reads the remote verdict.
func (t *Transport) Handshake(conn net.Conn, hello domain.Announcement) (domain.Decision, error) {
	conn.SetWriteDeadline(time.Now().Add(t.config.HandshakeTimeout))
	if err := json.NewEncoder(conn).Encode(hello); err != nil {
		return "", fmt.Errorf("send handshake: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(t.config.HandshakeTimeout))
	var reply handshakeReply
	if err := json.NewDecoder(io.LimitReader(conn, maxHandshakeBytes)).Decode(&reply); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", domain.ErrHandshakeTimeout
		}
		return "", fmt.Errorf("read handshake reply: %w", err)
	}
	return domain.Decision(reply.Status), nil
}

// recordFromAnnouncement builds a PeerRecord from a handshake, filling in
// the host from the connection when the sender omitted it.
func recordFromAnnouncement(a domain.Announcement, remote net.Addr) domain.PeerRecord {
	host := a.Host
	if host == "" {
		if h, _, err := net.SplitHostPort(remote.String()); err == nil {
			host = h
		}
	}
	return domain.PeerRecord{
		ID:       a.ID,
		Host:     host,
		Port:     a.Port,
		LastSeen: time.Unix(a.Timestamp, 0),
		Metadata: a.Metadata,
		State:    domain.PeerDiscovered,
	}
}
