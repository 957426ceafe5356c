package metrics

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// RequestEvent records one completed request. Immutable once appended.
type RequestEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	Method    string        `json:"method"`
	Path      string        `json:"path"`
	Status    int           `json:"status"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// ErrorEvent records one failed request.
type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Status    int       `json:"status"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
}

// Error type labels. A request that failed with a non-HTTP error (handler
// reported a message) is an exception; a plain 4xx/5xx is an http_error.
const (
	ErrorTypeHTTP      = "http_error"
	ErrorTypeException = "exception"
)

// AlertThresholds is the configuration compared against the rolling window.
type AlertThresholds struct {
	// ErrorRate is a fraction in [0,1].
	ErrorRate float64
	// Latency is the average-latency ceiling.
	Latency time.Duration
}

// Alert kinds.
const (
	AlertHighErrorRate = "high_error_rate"
	AlertHighLatency   = "high_response_time"
)

// Alert is a derived signal that a threshold was exceeded over the rolling
// window. Computed on demand, never persisted.
type Alert struct {
	Type      string  `json:"type"`
	Severity  string  `json:"severity"`
	Message   string  `json:"message"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// EndpointSnapshot is the per-endpoint slice of a stats snapshot.
// Times are in seconds.
type EndpointSnapshot struct {
	Requests    int64            `json:"requests"`
	Errors      int64            `json:"errors"`
	ErrorRate   float64          `json:"error_rate"` // percent
	AvgTime     float64          `json:"avg_time"`
	MinTime     float64          `json:"min_time"`
	MaxTime     float64          `json:"max_time"`
	StatusCodes map[string]int64 `json:"status_codes"`
}

// StatsSnapshot is a consistent read-only view of recent activity.
type StatsSnapshot struct {
	TotalRequests      int                         `json:"total_requests"`
	TotalErrors        int                         `json:"total_errors"`
	ErrorRate          float64                     `json:"error_rate"` // percent
	AvgResponseTime    float64                     `json:"avg_response_time"`
	RequestsPerMinute  int                         `json:"requests_per_minute"`
	InProgress         int64                       `json:"requests_in_progress"`
	StatusDistribution map[string]int64            `json:"status_distribution"`
	EndpointBreakdown  map[string]EndpointSnapshot `json:"endpoint_breakdown"`
	RetentionHours     int                         `json:"retention_hours"`
}

// CacheEventCounts aggregates hit/miss outcomes for one cache category.
type CacheEventCounts struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// LLMUsageCounts aggregates runtime usage for one model.
type LLMUsageCounts struct {
	Requests int64 `json:"requests"`
	Tokens   int64 `json:"tokens"`
}

// RequestHandle tracks one in-flight request from BeginRequest to EndRequest.
type RequestHandle struct {
	method string
	path   string
	start  time.Time
}

// endpointStat is the mutable per-endpoint aggregate, updated incrementally
// in O(1) per request. Never recomputed from history.
type endpointStat struct {
	count    int64
	errors   int64
	total    time.Duration
	min      time.Duration
	max      time.Duration
	statuses map[string]int64
}

// StoreConfig bounds the event history.
type StoreConfig struct {
	Retention        time.Duration
	MaxRequestEvents int
	MaxErrorEvents   int
}

// DefaultStoreConfig returns the service defaults: 10k requests, 1k errors,
// 7 days of retention.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Retention:        168 * time.Hour,
		MaxRequestEvents: 10000,
		MaxErrorEvents:   1000,
	}
}

// Store is the process-wide metrics aggregator. All methods are safe for
// concurrent use; raw events and per-endpoint aggregates are guarded by
// separate locks so appends and aggregate updates do not contend.
//
// A Store must never fail a request: recording problems are logged and
// dropped.
type Store struct {
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	inFlight atomic.Int64

	eventsMu sync.Mutex
	requests *ring[RequestEvent]
	errors   *ring[ErrorEvent]

	statsMu   sync.RWMutex
	endpoints map[string]*endpointStat

	cacheMu     sync.RWMutex
	cacheEvents map[string]*CacheEventCounts

	llmMu    sync.RWMutex
	llmUsage map[string]*LLMUsageCounts
}

// NewStore creates a metrics store with the given bounds.
func NewStore(cfg StoreConfig, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultStoreConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.MaxRequestEvents <= 0 {
		cfg.MaxRequestEvents = def.MaxRequestEvents
	}
	if cfg.MaxErrorEvents <= 0 {
		cfg.MaxErrorEvents = def.MaxErrorEvents
	}

	return &Store{
		retention:   cfg.Retention,
		logger:      logger,
		now:         time.Now,
		requests:    newRing[RequestEvent](cfg.MaxRequestEvents),
		errors:      newRing[ErrorEvent](cfg.MaxErrorEvents),
		endpoints:   make(map[string]*endpointStat),
		cacheEvents: make(map[string]*CacheEventCounts),
		llmUsage:    make(map[string]*LLMUsageCounts),
	}
}

// BeginRequest marks a request as in flight and returns its handle.
// It never blocks beyond a counter update.
func (s *Store) BeginRequest(method, path string) *RequestHandle {
	s.inFlight.Add(1)
	RequestsInProgress.Inc()
	return &RequestHandle{method: method, path: path, start: s.now()}
}

// EndRequest completes a request: it decrements the in-flight counter,
// appends a RequestEvent (and an ErrorEvent on failure), and updates the
// endpoint aggregate. errMsg is non-empty only for non-HTTP failures.
func (s *Store) EndRequest(h *RequestHandle, status int, errMsg string) {
	if h == nil {
		s.logger.Warn("EndRequest called with nil handle, dropping")
		return
	}

	now := s.now()
	duration := now.Sub(h.start)

	if n := s.inFlight.Add(-1); n < 0 {
		s.inFlight.CompareAndSwap(n, 0)
		s.logger.Warn("in-flight counter underflow, clamped to zero")
	}
	RequestsInProgress.Dec()

	statusLabel := strconv.Itoa(status)
	RequestsTotal.WithLabelValues(h.method, h.path, statusLabel).Inc()
	RequestDuration.WithLabelValues(h.method, h.path).Observe(duration.Seconds())

	failed := errMsg != "" || status >= 400
	errType := ErrorTypeHTTP
	if errMsg != "" {
		errType = ErrorTypeException
	}
	if failed {
		ErrorsTotal.WithLabelValues(h.path, errType).Inc()
	}

	s.eventsMu.Lock()
	s.pruneLocked(now)
	s.requests.push(RequestEvent{
		Timestamp: now,
		Method:    h.method,
		Path:      h.path,
		Status:    status,
		Duration:  duration,
		Error:     errMsg,
	})
	if failed {
		s.errors.push(ErrorEvent{
			Timestamp: now,
			Method:    h.method,
			Path:      h.path,
			Status:    status,
			Type:      errType,
			Message:   errMsg,
		})
	}
	s.eventsMu.Unlock()

	s.statsMu.Lock()
	key := h.method + " " + h.path
	st, ok := s.endpoints[key]
	if !ok {
		st = &endpointStat{min: duration, max: duration, statuses: make(map[string]int64)}
		s.endpoints[key] = st
	}
	st.count++
	st.total += duration
	if duration < st.min {
		st.min = duration
	}
	if duration > st.max {
		st.max = duration
	}
	st.statuses[statusLabel]++
	if failed {
		st.errors++
	}
	s.statsMu.Unlock()
}

// RecordCacheEvent increments the category-scoped hit or miss counter.
// Implements the cache package's Recorder interface.
func (s *Store) RecordCacheEvent(category string, hit bool) {
	if category == "" {
		category = "unknown"
	}
	if hit {
		CacheHits.WithLabelValues(category).Inc()
	} else {
		CacheMisses.WithLabelValues(category).Inc()
	}

	s.cacheMu.Lock()
	counts, ok := s.cacheEvents[category]
	if !ok {
		counts = &CacheEventCounts{}
		s.cacheEvents[category] = counts
	}
	if hit {
		counts.Hits++
	} else {
		counts.Misses++
	}
	s.cacheMu.Unlock()
}

// RecordLLMUsage increments per-model request and token counters.
func (s *Store) RecordLLMUsage(model string, tokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMRequests.WithLabelValues(model).Inc()
	if tokens > 0 {
		LLMTokens.WithLabelValues(model).Add(float64(tokens))
	}

	s.llmMu.Lock()
	usage, ok := s.llmUsage[model]
	if !ok {
		usage = &LLMUsageCounts{}
		s.llmUsage[model] = usage
	}
	usage.Requests++
	usage.Tokens += int64(tokens)
	s.llmMu.Unlock()
}

// Snapshot aggregates the event window into a consistent view. A zero window
// covers everything still retained.
func (s *Store) Snapshot(window time.Duration) StatsSnapshot {
	now := s.now()

	s.eventsMu.Lock()
	s.pruneLocked(now)
	events := s.requests.snapshot()
	errorEvents := s.errors.snapshot()
	s.eventsMu.Unlock()

	var cutoff time.Time
	if window > 0 {
		cutoff = now.Add(-window)
	}
	minuteAgo := now.Add(-time.Minute)

	snap := StatsSnapshot{
		StatusDistribution: make(map[string]int64),
		EndpointBreakdown:  make(map[string]EndpointSnapshot),
		InProgress:         s.inFlight.Load(),
		RetentionHours:     int(s.retention / time.Hour),
	}

	var totalDuration time.Duration
	for _, ev := range events {
		if !ev.Timestamp.Before(minuteAgo) {
			snap.RequestsPerMinute++
		}
		if window > 0 && ev.Timestamp.Before(cutoff) {
			continue
		}
		snap.TotalRequests++
		totalDuration += ev.Duration
		snap.StatusDistribution[statusClass(ev.Status)]++
	}
	for _, ev := range errorEvents {
		if window > 0 && ev.Timestamp.Before(cutoff) {
			continue
		}
		snap.TotalErrors++
	}

	if snap.TotalRequests > 0 {
		snap.AvgResponseTime = totalDuration.Seconds() / float64(snap.TotalRequests)
		snap.ErrorRate = float64(snap.TotalErrors) / float64(snap.TotalRequests) * 100
	}

	s.statsMu.RLock()
	for key, st := range s.endpoints {
		if st.count == 0 {
			continue
		}
		ep := EndpointSnapshot{
			Requests:    st.count,
			Errors:      st.errors,
			ErrorRate:   float64(st.errors) / float64(st.count) * 100,
			AvgTime:     (st.total / time.Duration(st.count)).Seconds(),
			MinTime:     st.min.Seconds(),
			MaxTime:     st.max.Seconds(),
			StatusCodes: make(map[string]int64, len(st.statuses)),
		}
		for code, n := range st.statuses {
			ep.StatusCodes[code] = n
		}
		snap.EndpointBreakdown[key] = ep
	}
	s.statsMu.RUnlock()

	return snap
}

// RecentErrors returns up to limit errors, most recent first.
func (s *Store) RecentErrors(limit int) []ErrorEvent {
	s.eventsMu.Lock()
	s.pruneLocked(s.now())
	all := s.errors.snapshot()
	s.eventsMu.Unlock()

	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}

	out := make([]ErrorEvent, 0, limit)
	for i := len(all) - 1; i >= len(all)-limit; i-- {
		out = append(out, all[i])
	}
	return out
}

// alertWindow is the rolling window alerts are evaluated over.
const alertWindow = 5 * time.Minute

// CheckAlerts compares the last five minutes of activity against thresholds.
// Pure function of the current snapshot; holds no alert state.
func (s *Store) CheckAlerts(th AlertThresholds) []Alert {
	snap := s.Snapshot(alertWindow)

	var alerts []Alert
	if snap.TotalRequests == 0 {
		return alerts
	}

	errorRate := float64(snap.TotalErrors) / float64(snap.TotalRequests)
	if th.ErrorRate > 0 && errorRate > th.ErrorRate {
		alerts = append(alerts, Alert{
			Type:     AlertHighErrorRate,
			Severity: "warning",
			Message: fmt.Sprintf("Error rate is %.1f%% (threshold: %.1f%%)",
				errorRate*100, th.ErrorRate*100),
			Value:     errorRate,
			Threshold: th.ErrorRate,
		})
	}

	if th.Latency > 0 && snap.AvgResponseTime > th.Latency.Seconds() {
		alerts = append(alerts, Alert{
			Type:     AlertHighLatency,
			Severity: "warning",
			Message: fmt.Sprintf("Average response time is %.2fs (threshold: %.2fs)",
				snap.AvgResponseTime, th.Latency.Seconds()),
			Value:     snap.AvgResponseTime,
			Threshold: th.Latency.Seconds(),
		})
	}

	return alerts
}

// CacheEvents returns a copy of per-category cache counters.
func (s *Store) CacheEvents() map[string]CacheEventCounts {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	out := make(map[string]CacheEventCounts, len(s.cacheEvents))
	for category, counts := range s.cacheEvents {
		out[category] = *counts
	}
	return out
}

// LLMUsage returns a copy of per-model usage counters.
func (s *Store) LLMUsage() map[string]LLMUsageCounts {
	s.llmMu.RLock()
	defer s.llmMu.RUnlock()

	out := make(map[string]LLMUsageCounts, len(s.llmUsage))
	for model, usage := range s.llmUsage {
		out[model] = *usage
	}
	return out
}

// InFlight returns the current in-flight request count.
func (s *Store) InFlight() int64 {
	return s.inFlight.Load()
}

// Healthy reports whether the aggregator is accepting events. The store is
// in-process, so the only failure mode is an uninitialized instance.
func (s *Store) Healthy() bool {
	return s != nil && s.requests != nil && s.errors != nil
}

// Clear resets event history and aggregates. Prometheus counters are
// monotonic by contract and are left untouched; the in-flight counter tracks
// live requests and is likewise preserved.
func (s *Store) Clear() {
	s.eventsMu.Lock()
	s.requests.clear()
	s.errors.clear()
	s.eventsMu.Unlock()

	s.statsMu.Lock()
	s.endpoints = make(map[string]*endpointStat)
	s.statsMu.Unlock()

	s.cacheMu.Lock()
	s.cacheEvents = make(map[string]*CacheEventCounts)
	s.cacheMu.Unlock()

	s.llmMu.Lock()
	s.llmUsage = make(map[string]*LLMUsageCounts)
	s.llmMu.Unlock()
}

// pruneLocked drops events older than the retention window. Caller holds
// eventsMu. Amortized O(1): each event is popped at most once.
func (s *Store) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.retention)
	for {
		ev, ok := s.requests.front()
		if !ok || !ev.Timestamp.Before(cutoff) {
			break
		}
		s.requests.popFront()
	}
	for {
		ev, ok := s.errors.front()
		if !ok || !ev.Timestamp.Before(cutoff) {
			break
		}
		s.errors.popFront()
	}
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
