// Package metrics provides Prometheus metrics for meshgate — counters,
// gauges, and histograms for discovery, admission, reputation, and fanout.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Peer Directory ─────────────────────────────────────────────────────────

// PeersKnown tracks the current size of the peer directory.
var PeersKnown = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "meshgate",
	Name:      "peers_known",
	Help:      "Number of peers currently in the directory.",
})

// PeersEvicted tracks peers removed by the silence-window sweep.
var PeersEvicted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "meshgate",
	Name:      "peers_evicted_total",
	Help:      "Total peers evicted after exceeding the silence window.",
})

// ─── Discovery ──────────────────────────────────────────────────────────────

// AnnouncementsSent tracks discovery datagrams broadcast by this node.
var AnnouncementsSent = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "meshgate",
	Name:      "discovery_announcements_total",
	Help:      "Total discovery announcements broadcast.",
})

// DatagramsReceived tracks inbound discovery datagrams by result.
var DatagramsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "meshgate",
	Name:      "discovery_datagrams_total",
	Help:      "Total inbound discovery datagrams.",
}, []string{"result"})

// ─── Admission ──────────────────────────────────────────────────────────────

// AdmissionDecisions tracks committed admission decisions.
var AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "meshgate",
	Name:      "admission_decisions_total",
	Help:      "Total committed admission decisions.",
}, []string{"decision"})

// AdmissionScore tracks aggregate scores at evaluation time.
var AdmissionScore = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "meshgate",
	Name:      "admission_score",
	Help:      "Aggregate admission scores.",
	Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
})

// ChainHeight tracks the admission chain length.
var ChainHeight = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "meshgate",
	Name:      "admission_chain_height",
	Help:      "Number of records in the admission chain.",
})

// ChainIntact reports chain verification state (1 intact, 0 broken).
var ChainIntact = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "meshgate",
	Name:      "admission_chain_intact",
	Help:      "Whether the last chain verification passed (1) or failed (0).",
})

// ─── Reputation ─────────────────────────────────────────────────────────────

// NetworkHealth tracks the recency-weighted mean score across peers.
var NetworkHealth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "meshgate",
	Name:      "reputation_network_health",
	Help:      "Recency-weighted mean reputation across tracked peers.",
})

// OutcomesRecorded tracks interaction outcomes fed into the ledger.
var OutcomesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "meshgate",
	Name:      "reputation_outcomes_total",
	Help:      "Total interaction outcomes recorded.",
}, []string{"outcome"})

// ─── Transport & Fanout ─────────────────────────────────────────────────────

// BroadcastLatency tracks full fanout round duration in seconds.
var BroadcastLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "meshgate",
	Name:      "broadcast_round_seconds",
	Help:      "Duration of a full broadcast fanout round.",
	Buckets:   prometheus.DefBuckets,
})

// BroadcastSends tracks per-peer delivery attempts by result.
var BroadcastSends = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "meshgate",
	Name:      "broadcast_sends_total",
	Help:      "Total per-peer broadcast deliveries.",
}, []string{"result"})

// ConnectionsInbound tracks accepted inbound transport connections.
var ConnectionsInbound = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "meshgate",
	Name:      "transport_inbound_connections_total",
	Help:      "Total accepted inbound connections.",
})
