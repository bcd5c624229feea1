package http

import (
	"net/http"

	"github.com/agentlegible/orchestrator/internal/observability"
)

// StatsHandler handles GET /v1/stats: per-operation counts, failures and
// latency for the lifecycle engine.
type StatsHandler struct {
	stats *observability.OpStats
}

// NewStatsHandler creates the stats handler.
func NewStatsHandler(stats *observability.OpStats) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// ServeHTTP serves the stats snapshot.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"operations": h.stats.SnapshotAll(),
	})
}

// HealthHandler handles GET /v1/healthz.
type HealthHandler struct {
	ready func() bool
}

// NewHealthHandler creates the health handler. ready reports whether the
// service can take traffic.
func NewHealthHandler(ready func() bool) *HealthHandler {
	return &HealthHandler{ready: ready}
}

// ServeHTTP serves the health status.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil && !h.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
