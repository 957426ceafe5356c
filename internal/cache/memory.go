package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore implements Store with an in-process TTL map. It serves
// deployments without Redis and keeps tests hermetic; it offers no
// cross-process durability.
type MemoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore creates an in-memory store with the given default TTL.
func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &MemoryStore{
		cache: gocache.New(defaultTTL, 10*time.Minute),
	}
}

// Get retrieves a value. Returns nil, nil on a miss.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, nil
	}
	value, ok := v.([]byte)
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores a value with the given TTL.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.cache.Set(key, stored, ttl)
	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

// DeleteByPrefix removes all keys starting with prefix. An empty prefix
// removes everything.
func (s *MemoryStore) DeleteByPrefix(_ context.Context, prefix string) (int64, error) {
	var deleted int64
	for key := range s.cache.Items() {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			s.cache.Delete(key)
			deleted++
		}
	}
	return deleted, nil
}

// Info reports the entry count and an approximate memory footprint (sum of
// stored value sizes; map overhead is not counted).
func (s *MemoryStore) Info(_ context.Context) (StoreInfo, error) {
	var info StoreInfo
	for _, item := range s.cache.Items() {
		info.Keys++
		if value, ok := item.Object.([]byte); ok {
			info.MemoryBytes += int64(len(value))
		}
	}
	return info, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close releases nothing; the janitor goroutine stops when the store is
// garbage collected.
func (s *MemoryStore) Close() error {
	s.cache.Flush()
	return nil
}
