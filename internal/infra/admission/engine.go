package admission

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/meshgate/meshgate/internal/domain"
	"github.com/meshgate/meshgate/internal/infra/metrics"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Weights holds the per-criterion multipliers. They must sum to 1.0.
type Weights struct {
	Structure  float64 `toml:"structure"`
	Identity   float64 `toml:"identity"`
	Freshness  float64 `toml:"freshness"`
	Reputation float64 `toml:"reputation"`
	Metadata   float64 `toml:"metadata"`
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Structure + w.Identity + w.Freshness + w.Reputation + w.Metadata
}

// Validate checks the weights sum to 1.0 within float tolerance.
func (w Weights) Validate() error {
	if math.Abs(w.Sum()-1.0) > 1e-9 {
		return domain.ErrWeightsInvalid
	}
	return nil
}

// Config controls the admission engine.
type Config struct {
	// Weights multiply each normalized criterion score.
	Weights Weights

	// Threshold is the minimum aggregate score for acceptance.
	Threshold float64

	// StalenessWindow is how long a candidate's declared timestamp stays
	// fresh; the freshness criterion decays linearly to zero over it.
	StalenessWindow time.Duration

	// MinIdentityLength is the identifier length that earns a full
	// identity-quality score. Shorter identifiers score proportionally.
	MinIdentityLength int

	// RichMetadataKeys is the number of metadata keys that earns a full
	// metadata-richness score.
	RichMetadataKeys int
}

// DefaultConfig returns the default admission configuration.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Structure:  0.25,
			Identity:   0.20,
			Freshness:  0.20,
			Reputation: 0.20,
			Metadata:   0.15,
		},
		Threshold:         0.70,
		StalenessWindow:   60 * time.Second,
		MinIdentityLength: 8,
		RichMetadataKeys:  3,
	}
}

// Validate fails fast on an unusable configuration.
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return domain.ErrThresholdInvalid
	}
	// The freshness criterion divides by the window; a zero window would
	// turn a just-seen candidate into a NaN aggregate.
	if c.StalenessWindow <= 0 {
		return domain.ErrStalenessInvalid
	}
	if c.MinIdentityLength < 1 {
		return fmt.Errorf("min identity length must be at least 1, got %d", c.MinIdentityLength)
	}
	if c.RichMetadataKeys < 1 {
		return fmt.Errorf("rich metadata keys must be at least 1, got %d", c.RichMetadataKeys)
	}
	return nil
}

// ─── Collaborators ──────────────────────────────────────────────────────────

// Reputations is the slice of the reputation ledger the engine consumes.
type Reputations interface {
	Score(peerID string) float64
	RecordOutcome(peerID string, outcome domain.Outcome, weight float64)
}

// PeerLookup resolves an identity against the live directory, so the
// identity criterion can detect a claim that conflicts with an incumbent.
type PeerLookup interface {
	Get(id string) (domain.PeerRecord, bool)
	SetState(id string, state domain.PeerState)
}

// ─── Engine ─────────────────────────────────────────────────────────────────

// Engine is the single authority deciding whether a candidate enters the
// active peer set, and the only writer of the admission chain.
type Engine struct {
	config Config
	chain  *Chain
	ledger Reputations
	peers  PeerLookup

	// Injectable clock
	now func() time.Time
}

// NewEngine creates an admission engine. The configuration must already
// be validated.
func NewEngine(cfg Config, chain *Chain, ledger Reputations, peers PeerLookup) *Engine {
	return &Engine{
		config: cfg,
		chain:  chain,
		ledger: ledger,
		peers:  peers,
		now:    time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Evaluate scores a candidate across the five admission criteria and
// returns the verdict. It has no side effects; Commit records the
// decision. Given identical candidate attributes, ledger state, and
// configuration, the result is deterministic.
func (e *Engine) Evaluate(candidate domain.PeerRecord) domain.Verdict {
	now := e.now()
	conflict := e.identityConflict(candidate)
	scores := map[domain.Criterion]float64{
		domain.CriterionStructure:  e.scoreStructure(candidate),
		domain.CriterionIdentity:   e.scoreIdentity(candidate, conflict),
		domain.CriterionFreshness:  e.scoreFreshness(candidate, now),
		domain.CriterionReputation: e.ledger.Score(candidate.ID),
		domain.CriterionMetadata:   e.scoreMetadata(candidate),
	}

	w := e.config.Weights
	aggregate := w.Structure*scores[domain.CriterionStructure] +
		w.Identity*scores[domain.CriterionIdentity] +
		w.Freshness*scores[domain.CriterionFreshness] +
		w.Reputation*scores[domain.CriterionReputation] +
		w.Metadata*scores[domain.CriterionMetadata]

	// Structural completeness and identity uniqueness are hard gates.
	// Neither criterion's weight alone can pull the aggregate below the
	// threshold, and a hijacked identity would otherwise ride in on the
	// incumbent's reputation.
	decision := domain.DecisionReject
	if aggregate >= e.config.Threshold && scores[domain.CriterionStructure] > 0 && !conflict {
		decision = domain.DecisionAccept
	}

	metrics.AdmissionScore.Observe(aggregate)
	return domain.Verdict{
		Candidate:        candidate,
		Scores:           scores,
		Aggregate:        aggregate,
		Threshold:        e.config.Threshold,
		Decision:         decision,
		IdentityConflict: conflict,
		EvaluatedAt:      now,
	}
}

// Commit appends the verdict to the admission chain and feeds the outcome
// back into the reputation ledger: success on accept, failure on reject.
// The chain append is the sole serialized step in the system.
func (e *Engine) Commit(v domain.Verdict) (domain.AdmissionRecord, error) {
	rec, err := e.chain.Append(v.Candidate.ID, v.Decision, v.Aggregate)
	if err != nil {
		// Persistence trouble; the in-memory record is still committed.
		log.Printf("[admission] WARNING: %v", err)
	}

	switch {
	case v.IdentityConflict:
		// The rejected claim shares its identity with the incumbent.
		// Routing the failure outcome or a state transition through that
		// identity would punish the wrong peer, so only the chain record
		// documents the attempt.
	case v.Accepted():
		e.ledger.RecordOutcome(v.Candidate.ID, domain.OutcomeSuccess, 1.0)
		e.peers.SetState(v.Candidate.ID, domain.PeerAccepted)
	default:
		e.ledger.RecordOutcome(v.Candidate.ID, domain.OutcomeFailure, 1.0)
		e.peers.SetState(v.Candidate.ID, domain.PeerRejected)
	}

	metrics.AdmissionDecisions.WithLabelValues(string(v.Decision)).Inc()
	log.Printf("[admission] %s peer %s (score %.3f, threshold %.2f, seq %d)",
		v.Decision, v.Candidate.ID, v.Aggregate, v.Threshold, rec.Sequence)
	return rec, nil
}

// VerifyChain checks the full admission chain. See Chain.Verify.
func (e *Engine) VerifyChain() (uint64, bool) {
	return e.chain.Verify()
}

// Chain exposes the underlying record log for read-only export.
func (e *Engine) Chain() *Chain {
	return e.chain
}

// ─── Criteria ───────────────────────────────────────────────────────────────

// scoreStructure checks presence of all required PeerRecord fields.
// All-or-nothing: one missing field zeroes the criterion.
func (e *Engine) scoreStructure(p domain.PeerRecord) float64 {
	if p.ID == "" || !p.HasAddress() || p.LastSeen.IsZero() {
		return 0
	}
	return 1
}

// identityConflict reports whether the candidate's identity is already
// claimed by a directory incumbent at a different address.
func (e *Engine) identityConflict(p domain.PeerRecord) bool {
	incumbent, ok := e.peers.Get(p.ID)
	return ok && (incumbent.Host != p.Host || incumbent.Port != p.Port)
}

// scoreIdentity rewards identifiers of sufficient length and zeroes any
// identifier already claimed with a different address.
func (e *Engine) scoreIdentity(p domain.PeerRecord, conflict bool) float64 {
	if conflict {
		return 0
	}
	if len(p.ID) >= e.config.MinIdentityLength {
		return 1
	}
	return float64(len(p.ID)) / float64(e.config.MinIdentityLength)
}

// scoreFreshness decays linearly from 1 to 0 over the staleness window.
func (e *Engine) scoreFreshness(p domain.PeerRecord, now time.Time) float64 {
	if p.LastSeen.IsZero() {
		return 0
	}
	age := now.Sub(p.LastSeen)
	if age < 0 {
		age = 0
	}
	frac := 1 - age.Seconds()/e.config.StalenessWindow.Seconds()
	return math.Max(0, frac)
}

// scoreMetadata rewards declared-metadata richness up to the configured
// key count.
func (e *Engine) scoreMetadata(p domain.PeerRecord) float64 {
	if e.config.RichMetadataKeys <= 0 {
		return 1
	}
	frac := float64(len(p.Metadata)) / float64(e.config.RichMetadataKeys)
	return math.Min(1, frac)
}
