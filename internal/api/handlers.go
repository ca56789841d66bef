package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"tokengate/internal/models"
	"tokengate/internal/ratelimit"
	"tokengate/internal/stats"
	"tokengate/internal/version"
)

// StatsSource provides aggregated decision counters. *stats.Dispatcher
// satisfies it.
type StatsSource interface {
	Summary(ctx context.Context) (*stats.Summary, error)
	Dropped() int64
	Failed() int64
}

// Handlers contains the HTTP handlers for the gateway
type Handlers struct {
	store        *ratelimit.Store
	stats        StatsSource
	statsBackend string
	info         version.Info
	started      time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handlers)

// WithStats exposes decision counters from src under /api/v1/stats.
func WithStats(src StatsSource, backend string) HandlerOption {
	return func(h *Handlers) {
		h.stats = src
		h.statsBackend = backend
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(store *ratelimit.Store, info version.Info, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		store:   store,
		info:    info,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Demo handles the rate limited sample endpoints.
// POST /vault, GET /vault, PUT /vault/{id}, GET /testing
func (h *Handlers) Demo(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, models.StatusResponse{Status: "ok"})
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.info.Version
	response.Uptime = time.Since(h.started).Round(time.Second).String()

	response.AddComponent("api", models.StatusHealthy, "API is operational")
	response.AddComponent("limiter", models.StatusHealthy, "Limiter is admitting requests")

	if h.store != nil {
		response.AddMetric("buckets", h.store.Len())
	}

	if h.stats != nil {
		response.AddMetric("dropped_events", h.stats.Dropped())
		response.AddMetric("failed_events", h.stats.Failed())

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if _, err := h.stats.Summary(ctx); err != nil {
			response.Status = models.StatusDegraded
			response.AddComponent("stats", models.StatusUnhealthy, err.Error())
		} else {
			response.AddComponent("stats", models.StatusHealthy, "Stats backend "+h.statsBackend+" is reachable")
		}
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// Version reports build information.
// GET /api/v1/version
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, h.info)
}

// Stats reports aggregated admission decisions.
// GET /api/v1/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.writeErrorResponse(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Decision statistics are disabled")
		return
	}

	summary, err := h.stats.Summary(r.Context())
	if err != nil {
		slog.Error("Failed to read decision statistics", "backend", h.statsBackend, "error", err)
		h.writeErrorResponse(w, r, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Statistics backend unavailable")
		return
	}

	response := models.StatsResponse{
		Admitted:   summary.Total.Admitted,
		Rejected:   summary.Total.Rejected,
		Endpoints:  make(map[string]models.DecisionCounts, len(summary.Endpoints)),
		Dropped:    h.stats.Dropped(),
		Failed:     h.stats.Failed(),
		Backend:    h.statsBackend,
		ReportedAt: time.Now().UTC(),
	}
	for name, c := range summary.Endpoints {
		response.Endpoints[name] = models.DecisionCounts{Admitted: c.Admitted, Rejected: c.Rejected}
	}
	if h.store != nil {
		response.Buckets = h.store.Len()
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, data)
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	errorResp.RequestID = r.Header.Get(requestIDHeader)
	h.writeJSONResponse(w, statusCode, errorResp)
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing left to send.
		slog.Error("Error encoding JSON response", "error", err)
	}
}
