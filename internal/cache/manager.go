package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// envelope wraps a cached payload with metadata so entries can be aged and
// attributed after a model swap.
type envelope struct {
	Timestamp int64           `json:"timestamp"`
	Model     string          `json:"model,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Manager is the cache front door used by request handlers. Every operation
// degrades gracefully: a down or misbehaving store turns reads into misses
// and writes into no-ops, never into request failures.
type Manager struct {
	store      Store
	keyGen     *KeyGenerator
	categories map[string]CategoryConfig
	defaultTTL time.Duration
	enabled    bool
	recorder   Recorder
	logger     *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewManager creates a cache manager. A nil store disables caching entirely;
// a nil recorder disables hit/miss reporting.
func NewManager(store Store, cfg Config, recorder Recorder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	categories := cfg.Categories
	if categories == nil {
		categories = DefaultConfig().Categories
	}
	defaultTTL := cfg.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Manager{
		store:      store,
		keyGen:     NewKeyGenerator(),
		categories: categories,
		defaultTTL: defaultTTL,
		enabled:    cfg.Enabled && store != nil,
		recorder:   recorder,
		logger:     logger,
	}
}

// NewStore builds the configured backing store. Redis connection failures are
// returned to the caller so it can decide between failing fast and running
// with caching disabled.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Backend {
	case "", "redis":
		return NewRedisStore(cfg.Redis, cfg.Namespace, cfg.DefaultTTL)
	case "memory":
		return NewMemoryStore(cfg.DefaultTTL), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %q", cfg.Backend)
	}
}

// Enabled reports whether caching is active.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// DeriveKey derives the deterministic cache key for a request.
func (m *Manager) DeriveKey(category string, params KeyParams) string {
	return m.keyGen.Generate(category, params)
}

// Get returns the cached payload for key, or ok=false on a miss. Store
// errors and malformed entries are logged and treated as misses. Hit/miss
// outcomes are reported to the recorder, scoped by the key's category prefix.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	if !m.enabled {
		return nil, false
	}

	category := Category(key)

	data, err := m.store.Get(ctx, key)
	if err != nil {
		m.logger.Warn("cache get failed, treating as miss", "category", category, "error", err)
		m.recordOutcome(category, false)
		return nil, false
	}
	if data == nil {
		m.recordOutcome(category, false)
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || len(env.Payload) == 0 {
		// Malformed entry; payload contents are deliberately not logged.
		m.logger.Warn("discarding malformed cache entry", "category", category, "key_prefix", category)
		m.recordOutcome(category, false)
		return nil, false
	}

	m.recordOutcome(category, true)
	return env.Payload, true
}

// Set serializes payload and stores it under key with the TTL configured for
// category. It is a silent no-op when caching is disabled for the category or
// the store is unreachable; a cache write must never fail a served request.
func (m *Manager) Set(ctx context.Context, key string, payload any, category string) {
	m.SetWithModel(ctx, key, payload, category, "")
}

// SetWithModel is Set with the producing model recorded in the entry.
func (m *Manager) SetWithModel(ctx context.Context, key string, payload any, category, model string) {
	if !m.enabled {
		return
	}
	if cat, ok := m.categories[category]; ok && !cat.Enabled {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		m.logger.Warn("cache payload not serializable, skipping", "category", category, "error", err)
		return
	}

	data, err := json.Marshal(envelope{
		Timestamp: time.Now().Unix(),
		Model:     model,
		Payload:   raw,
	})
	if err != nil {
		m.logger.Warn("cache envelope encode failed, skipping", "category", category, "error", err)
		return
	}

	if err := m.store.Set(ctx, key, data, m.ttlFor(category)); err != nil {
		m.logger.Warn("cache set failed", "category", category, "error", err)
	}
}

// Invalidate removes all entries whose key starts with prefix, or every entry
// when prefix is empty. Returns the number removed; store errors are logged
// and yield the partial count.
func (m *Manager) Invalidate(ctx context.Context, prefix string) int64 {
	if !m.enabled {
		return 0
	}
	deleted, err := m.store.DeleteByPrefix(ctx, prefix)
	if err != nil {
		m.logger.Warn("cache invalidation incomplete", "prefix", prefix, "error", err)
	}
	return deleted
}

// Stats returns hit/miss counters and best-effort backend statistics.
func (m *Manager) Stats(ctx context.Context) Stats {
	hits := m.hits.Load()
	misses := m.misses.Load()

	stats := Stats{
		Enabled: m.enabled,
		Hits:    hits,
		Misses:  misses,
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}

	if m.enabled {
		if info, err := m.store.Info(ctx); err == nil {
			stats.Keys = info.Keys
			stats.MemoryBytes = info.MemoryBytes
		} else {
			m.logger.Warn("cache store info unavailable", "error", err)
		}
	}

	return stats
}

// Ping checks backing store health.
func (m *Manager) Ping(ctx context.Context) error {
	if !m.enabled {
		return nil
	}
	return m.store.Ping(ctx)
}

// Close releases the backing store.
func (m *Manager) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}

func (m *Manager) ttlFor(category string) time.Duration {
	if cat, ok := m.categories[category]; ok && cat.TTL > 0 {
		return cat.TTL
	}
	return m.defaultTTL
}

func (m *Manager) recordOutcome(category string, hit bool) {
	if hit {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
	if m.recorder != nil {
		m.recorder.RecordCacheEvent(category, hit)
	}
}
