package api

import (
	"net/http"

	"github.com/apigate/gatewayd/internal/cache"
	"github.com/apigate/gatewayd/internal/database"
	"github.com/apigate/gatewayd/internal/metrics"
)

// StatusHandler reports gateway liveness and backing-store health.
type StatusHandler struct {
	db    database.DB
	cache cache.Store
}

func NewStatusHandler(db database.DB, c cache.Store) *StatusHandler {
	return &StatusHandler{db: db, cache: c}
}

func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	report := map[string]string{
		"gateway":  "up",
		"database": "up",
		"cache":    "up",
	}
	if err := h.db.Ping(r.Context()); err != nil {
		report["database"] = "down"
		status = http.StatusServiceUnavailable
	}
	if err := h.cache.Ping(r.Context()); err != nil {
		report["cache"] = "down"
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, report)
}

func (h *StatusHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, metrics.GetMetrics().ToJSON())
}

func (h *StatusHandler) Prometheus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(metrics.GetMetrics().ToPrometheus()))
}
