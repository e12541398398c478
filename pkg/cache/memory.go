package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryStore is the in-process Store used by single-instance deployments.
// A capacity bound with LRU eviction keeps memory flat when many distinct
// parameter combinations are requested over a long process lifetime.
type MemoryStore struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *Entry]
	ttl     time.Duration
}

// NewMemoryStore creates a memory-backed store.
// capacity <= 0 uses DefaultCapacity; ttl <= 0 uses DefaultTTL.
func NewMemoryStore(capacity int, ttl time.Duration) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	entries, err := lru.New[string, *Entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	return &MemoryStore{
		entries: entries,
		ttl:     ttl,
	}, nil
}

// Get returns the entry at key, deleting it as a side effect if it has
// expired.
func (s *MemoryStore) Get(ctx context.Context, key Key) (*Entry, error) {
	cacheKey := key.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries.Get(cacheKey)
	if !ok {
		CacheMisses.WithLabelValues("memory").Inc()
		return nil, ErrCacheMiss
	}

	if entry.IsExpired(s.ttl) {
		s.entries.Remove(cacheKey)
		CacheExpired.WithLabelValues("memory").Inc()
		CacheMisses.WithLabelValues("memory").Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("memory").Inc()
	return entry, nil
}

// Set inserts or overwrites the entry at key. The LRU evicts the least
// recently used entry when the capacity bound is reached.
func (s *MemoryStore) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries.Add(key.String(), entry)
	return nil
}

// Delete removes the entry at key.
func (s *MemoryStore) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries.Remove(key.String())
	return nil
}

// Len returns the number of entries currently held, including entries
// that have expired but have not been read since.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.entries.Len()
}

// TTL returns the uniform freshness window.
func (s *MemoryStore) TTL() time.Duration {
	return s.ttl
}
