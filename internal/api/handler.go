// Package api provides HTTP handlers for the gateway: the inference surface
// fronting the local LLM runtime, and the analytics surface over the cache
// and metrics subsystems.
package api

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/goccy/go-json"

	"github.com/simpleton-llm/gateway/internal/cache"
	"github.com/simpleton-llm/gateway/internal/metrics"
	"github.com/simpleton-llm/gateway/internal/observability"
	"github.com/simpleton-llm/gateway/internal/runtime"
)

// Handler serves all gateway endpoints.
type Handler struct {
	cache   *cache.Manager
	metrics *metrics.Store
	runtime *runtime.Client
	logger  *observability.Logger

	// alerts is swapped atomically on config reload.
	alerts atomic.Pointer[metrics.AlertThresholds]
}

// NewHandler creates the gateway handler.
func NewHandler(cacheMgr *cache.Manager, store *metrics.Store, rt *runtime.Client, alerts metrics.AlertThresholds, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = &observability.Logger{Logger: slog.Default()}
	}
	h := &Handler{
		cache:   cacheMgr,
		metrics: store,
		runtime: rt,
		logger:  logger,
	}
	h.alerts.Store(&alerts)
	return h
}

// SetAlertThresholds replaces the alert thresholds, typically from a config
// reload callback.
func (h *Handler) SetAlertThresholds(t metrics.AlertThresholds) {
	h.alerts.Store(&t)
}

func (h *Handler) alertThresholds() metrics.AlertThresholds {
	return *h.alerts.Load()
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Inference surface
	mux.HandleFunc("POST /inference/generate", h.Generate)
	mux.HandleFunc("POST /inference/chat", h.Chat)
	mux.HandleFunc("POST /completion", h.Completion)
	mux.HandleFunc("POST /embeddings", h.Embeddings)
	mux.HandleFunc("GET /models", h.ListModels)

	// Analytics surface
	mux.HandleFunc("GET /analytics/stats", h.AnalyticsStats)
	mux.HandleFunc("GET /analytics/errors", h.AnalyticsErrors)
	mux.HandleFunc("GET /analytics/alerts", h.AnalyticsAlerts)
	mux.HandleFunc("GET /analytics/usage", h.AnalyticsUsage)
	mux.HandleFunc("GET /analytics/cache", h.AnalyticsCache)
	mux.HandleFunc("DELETE /analytics/cache", h.AnalyticsCacheClear)
	mux.HandleFunc("GET /analytics/health", h.AnalyticsHealth)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"message": message,
			"type":    "api_error",
		},
	}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
