// Package cache makes repeated model calls cheap by storing serialized
// responses in an external key-value store, keyed by a deterministic hash of
// the request content. The backing store owns durability; this package owns
// key derivation, serialization, per-category TTL policy, and graceful
// degradation when the store is unreachable.
package cache

import (
	"context"
	"time"
)

// Well-known cache categories. A category is a logical namespace with its own
// TTL policy; embeddings of fixed text are stable for much longer than
// generated responses.
const (
	CategoryEmbedding  = "embedding"
	CategoryInference  = "inference"
	CategoryChat       = "chat"
	CategoryCompletion = "completion"
)

// CategoryConfig controls caching behavior for a single category.
// Immutable after process start.
type CategoryConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// StoreInfo holds best-effort backend statistics. Values may be approximate
// or zero if the backend only exposes aggregate counters.
type StoreInfo struct {
	Keys        int64 `json:"keys"`
	MemoryBytes int64 `json:"memory_bytes"`
}

// Stats holds cache statistics for the analytics surface.
type Stats struct {
	Enabled     bool    `json:"enabled"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	Keys        int64   `json:"keys"`
	MemoryBytes int64   `json:"memory_bytes"`
}

// Store defines the backing key-value store. Implementations must be safe for
// concurrent use. Get returns nil, nil on a miss.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A TTL of 0 uses the store default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes all keys starting with prefix and returns the
	// number removed. An empty prefix removes every key in the store's
	// namespace. Keys created during the scan may or may not be removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)

	// Info returns best-effort backend statistics.
	Info(ctx context.Context) (StoreInfo, error)

	Ping(ctx context.Context) error
	Close() error
}

// Recorder receives cache hit/miss outcomes. Implemented by the metrics
// aggregator; kept as a local interface so the cache has no dependency on it.
type Recorder interface {
	RecordCacheEvent(category string, hit bool)
}

// Config holds the complete cache configuration.
type Config struct {
	Enabled    bool                      `yaml:"enabled"`
	Backend    string                    `yaml:"backend"` // redis or memory
	Namespace  string                    `yaml:"namespace"`
	DefaultTTL time.Duration             `yaml:"default_ttl"`
	Categories map[string]CategoryConfig `yaml:"categories"`
	Redis      RedisConfig               `yaml:"redis"`
}

// DefaultConfig returns sensible defaults mirroring the service's category
// staleness tolerances.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Backend:    "redis",
		Namespace:  "simpleton",
		DefaultTTL: time.Hour,
		Categories: map[string]CategoryConfig{
			CategoryEmbedding:  {Enabled: true, TTL: 24 * time.Hour},
			CategoryInference:  {Enabled: true, TTL: time.Hour},
			CategoryChat:       {Enabled: true, TTL: time.Hour},
			CategoryCompletion: {Enabled: true, TTL: 2 * time.Hour},
		},
		Redis: DefaultRedisConfig(),
	}
}
