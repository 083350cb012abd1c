// Package domain holds the core types shared across the meshgate daemon.
// A PeerRecord describes a node sighted on the overlay, either via a
// discovery datagram or an inbound handshake.
package domain

import (
	"fmt"
	"time"
)

// PeerState tracks where a peer is in its admission lifecycle.
type PeerState string

const (
	PeerDiscovered PeerState = "DISCOVERED"
	PeerEvaluating PeerState = "EVALUATING"
	PeerAccepted   PeerState = "ACCEPTED"
	PeerRejected   PeerState = "REJECTED"
	PeerActive     PeerState = "ACTIVE"
)

// PeerRecord is a known node in the overlay.
type PeerRecord struct {
	ID       string            `json:"id"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	LastSeen time.Time         `json:"last_seen"`
	Metadata map[string]string `json:"metadata,omitempty"`
	State    PeerState         `json:"state"`
}

// Address returns the peer's dialable host:port string.
func (p *PeerRecord) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// HasAddress reports whether both address fields are populated.
func (p *PeerRecord) HasAddress() bool {
	return p.Host != "" && p.Port > 0
}

// SilentSince reports whether the peer has not been sighted within window.
func (p *PeerRecord) SilentSince(now time.Time, window time.Duration) bool {
	return now.Sub(p.LastSeen) > window
}

// Outcome classifies a single interaction with a peer for reputation purposes.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeNeutral Outcome = "neutral"
)

// Value maps an outcome onto the [0,1] score axis. Neutral sits at the
// default score so it pulls history toward indifference, not failure.
func (o Outcome) Value() float64 {
	switch o {
	case OutcomeSuccess:
		return 1.0
	case OutcomeFailure:
		return 0.0
	default:
		return 0.5
	}
}

// Interaction is one entry in a peer's bounded reputation history.
type Interaction struct {
	Outcome   Outcome   `json:"outcome"`
	Weight    float64   `json:"weight"`
	Timestamp time.Time `json:"timestamp"`
}
