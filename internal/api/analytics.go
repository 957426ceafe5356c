package api

import (
	"net/http"
	"strconv"
	"time"
)

// AnalyticsStats serves GET /analytics/stats. The optional since_minutes
// query narrows the window; zero or absent covers everything retained.
func (h *Handler) AnalyticsStats(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if raw := r.URL.Query().Get("since_minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes < 0 {
			h.writeError(w, http.StatusBadRequest, "since_minutes must be a non-negative integer")
			return
		}
		window = time.Duration(minutes) * time.Minute
	}

	h.writeJSON(w, http.StatusOK, h.metrics.Snapshot(window))
}

// AnalyticsErrors serves GET /analytics/errors, most recent first.
func (h *Handler) AnalyticsErrors(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	errs := h.metrics.RecentErrors(limit)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"errors": errs,
		"count":  len(errs),
	})
}

// AnalyticsAlerts serves GET /analytics/alerts, evaluating thresholds over
// the rolling window on demand.
func (h *Handler) AnalyticsAlerts(w http.ResponseWriter, r *http.Request) {
	th := h.alertThresholds()
	alerts := h.metrics.CheckAlerts(th)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
		"thresholds": map[string]float64{
			"error_rate":      th.ErrorRate,
			"latency_seconds": th.Latency.Seconds(),
		},
	})
}

// AnalyticsUsage serves GET /analytics/usage: cache outcomes per category and
// runtime usage per model.
func (h *Handler) AnalyticsUsage(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"cache_events": h.metrics.CacheEvents(),
		"llm_usage":    h.metrics.LLMUsage(),
	})
}

// AnalyticsCache serves GET /analytics/cache.
func (h *Handler) AnalyticsCache(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.cache.Stats(r.Context()))
}

// AnalyticsCacheClear serves DELETE /analytics/cache. The optional prefix
// query scopes invalidation to a category; absent means everything.
func (h *Handler) AnalyticsCacheClear(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	deleted := h.cache.Invalidate(r.Context(), prefix)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"deleted": deleted,
		"prefix":  prefix,
	})
}

// AnalyticsHealth serves GET /analytics/health. A down cache degrades the
// report but never fails it; the gateway keeps serving without caching.
func (h *Handler) AnalyticsHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	cacheStatus := "disabled"
	if h.cache.Enabled() {
		cacheStatus = "up"
		if err := h.cache.Ping(r.Context()); err != nil {
			cacheStatus = "down"
			status = "degraded"
		}
	}

	runtimeStatus := "up"
	if err := h.runtime.Ping(r.Context()); err != nil {
		runtimeStatus = "down"
		status = "degraded"
	}

	metricsStatus := "up"
	if !h.metrics.Healthy() {
		metricsStatus = "down"
		status = "degraded"
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"components": map[string]string{
			"cache":   cacheStatus,
			"runtime": runtimeStatus,
			"metrics": metricsStatus,
		},
		"requests_in_progress": h.metrics.InFlight(),
	})
}
