// Package api provides the read-only HTTP surface consumed by the
// monitoring and dashboard collaborators: node status, the peer table
// snapshot, reputation scores, and the admission-chain audit export.
// Nothing served here mutates core state.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meshgate/meshgate/internal/domain"
	"github.com/meshgate/meshgate/internal/infra/admission"
	"github.com/meshgate/meshgate/internal/infra/directory"
	"github.com/meshgate/meshgate/internal/infra/discovery"
	"github.com/meshgate/meshgate/internal/infra/reputation"
	"github.com/meshgate/meshgate/internal/infra/transport"
)

// Server is the meshgate HTTP API server.
type Server struct {
	localID string
	dir     *directory.Directory
	ledger  *reputation.Ledger
	engine  *admission.Engine
	disco   *discovery.Listener
	fanout  *transport.Broadcaster

	metricsEnabled bool
	startedAt      time.Time
}

// NewServer creates a new API server over the core components.
func NewServer(localID string, dir *directory.Directory, ledger *reputation.Ledger,
	engine *admission.Engine, disco *discovery.Listener, fanout *transport.Broadcaster) *Server {
	return &Server{
		localID:   localID,
		dir:       dir,
		ledger:    ledger,
		engine:    engine,
		disco:     disco,
		fanout:    fanout,
		startedAt: time.Now(),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/status", s.handleStatus)
	r.Get("/api/peers", s.handlePeers)
	r.Get("/api/reputation", s.handleReputation)
	r.Get("/api/audit", s.handleAudit)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// statusResponse is the /api/status payload.
type statusResponse struct {
	NodeID        string          `json:"node_id"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Peers         int             `json:"peers"`
	ChainHeight   uint64          `json:"chain_height"`
	ChainIntact   bool            `json:"chain_intact"`
	NetworkHealth float64         `json:"network_health"`
	Discovery     discovery.Stats `json:"discovery"`
	Broadcast     transport.Stats `json:"broadcast"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	_, intact := s.engine.VerifyChain()
	writeJSON(w, http.StatusOK, statusResponse{
		NodeID:        s.localID,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Peers:         s.dir.Count(),
		ChainHeight:   s.engine.Chain().Height(),
		ChainIntact:   intact,
		NetworkHealth: s.ledger.NetworkHealth(),
		Discovery:     s.disco.Stats(),
		Broadcast:     s.fanout.Stats(),
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"peers": s.dir.Snapshot(),
	})
}

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"network_health": s.ledger.NetworkHealth(),
		"scores":         s.ledger.Snapshot(),
	})
}

// handleAudit exports the admission chain. The chain is verified first so
// the consumer knows whether the export can be trusted; a broken chain is
// still exported, flagged untrusted.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	broken, intact := s.engine.VerifyChain()
	resp := map[string]any{
		"intact":  intact,
		"records": recordsOrEmpty(s.engine.Chain().Records(limit)),
	}
	if !intact {
		resp["broken_sequence"] = broken
	}
	writeJSON(w, http.StatusOK, resp)
}

func recordsOrEmpty(recs []domain.AdmissionRecord) []domain.AdmissionRecord {
	if recs == nil {
		return []domain.AdmissionRecord{}
	}
	return recs
}

// writeJSON marshals v with an appropriate content type.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
