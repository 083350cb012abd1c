// Package domain — wire messages.
package domain

import "encoding/json"

// Announcement is the discovery datagram broadcast on the UDP channel and
// the handshake payload sent as the first message on a new TCP connection.
// Unknown fields are ignored on decode for forward compatibility.
type Announcement struct {
	Type      string            `json:"type"`
	ID        string            `json:"id"`
	Host      string            `json:"host,omitempty"`
	Port      int               `json:"port"`
	Timestamp int64             `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AnnounceType is the Type value of a discovery datagram.
const AnnounceType = "peer-announce"

// Valid reports whether the announcement carries all required fields.
// Host may be empty on broadcast datagrams — the listener fills it in from
// the sender address — so it is not required here.
func (a *Announcement) Valid() bool {
	return a.Type == AnnounceType && a.ID != "" && a.Port > 0 && a.Timestamp > 0
}

// EnvelopeType classifies a broadcast message.
type EnvelopeType string

const (
	EnvelopeAdmissionUpdate EnvelopeType = "admission-update"
	EnvelopePeerAnnounce    EnvelopeType = "peer-announce"
	EnvelopeGeneric         EnvelopeType = "generic"
)

// Envelope wraps a message fanned out to the current peer set.
// Sequence is set only for admission-update envelopes and carries the
// chain index of the record being announced.
type Envelope struct {
	Type     EnvelopeType    `json:"type"`
	Origin   string          `json:"origin"`
	Sequence uint64          `json:"sequence,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}
