package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Directory errors
	ErrPeerNotFound     = errors.New("peer not found in directory")
	ErrIdentityConflict = errors.New("identity already claimed with a different address")

	// Discovery errors
	ErrDatagramMalformed = errors.New("discovery datagram malformed")
	ErrSelfAnnouncement  = errors.New("announcement originates from this node")

	// Admission errors
	ErrChainBroken      = errors.New("admission chain integrity violation")
	ErrVerdictStale     = errors.New("verdict does not match current chain state")
	ErrWeightsInvalid   = errors.New("criterion weights must sum to 1.0")
	ErrThresholdInvalid = errors.New("acceptance threshold must be in [0,1]")
	ErrStalenessInvalid = errors.New("staleness window must be positive")

	// Transport errors
	ErrHandshakeTimeout   = errors.New("handshake not received before deadline")
	ErrHandshakeMalformed = errors.New("handshake message malformed")
	ErrBroadcastFailed    = errors.New("broadcast delivered to no peers")
	ErrPeerCoolingDown    = errors.New("peer skipped — recent delivery failure")
)
