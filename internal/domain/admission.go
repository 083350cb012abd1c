// Package domain — admission types.
package domain

import "time"

// Decision is the outcome of an admission evaluation.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// Criterion names one axis of the admission score.
type Criterion string

const (
	CriterionStructure  Criterion = "structure"
	CriterionIdentity   Criterion = "identity"
	CriterionFreshness  Criterion = "freshness"
	CriterionReputation Criterion = "reputation"
	CriterionMetadata   Criterion = "metadata"
)

// Verdict is the ephemeral result of a single admission evaluation.
// It is produced by Evaluate and consumed by Commit; it is never persisted.
// IdentityConflict marks a candidate whose identity is already claimed
// with a different address; such a verdict shares its identity with the
// incumbent, so commit must not route outcomes or state through it.
type Verdict struct {
	Candidate        PeerRecord            `json:"candidate"`
	Scores           map[Criterion]float64 `json:"scores"`
	Aggregate        float64               `json:"aggregate"`
	Threshold        float64               `json:"threshold"`
	Decision         Decision              `json:"decision"`
	IdentityConflict bool                  `json:"identity_conflict,omitempty"`
	EvaluatedAt      time.Time             `json:"evaluated_at"`
}

// Accepted reports whether the verdict admits the candidate.
func (v *Verdict) Accepted() bool {
	return v.Decision == DecisionAccept
}

// AdmissionRecord is one block in the hash-chained admission log.
// Record n's PrevHash equals record n-1's Hash; record 0 links to the
// genesis constant. Records are append-only and never mutated.
type AdmissionRecord struct {
	Sequence  uint64    `json:"sequence"`
	PeerID    string    `json:"peer_id"`
	Decision  Decision  `json:"decision"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}
