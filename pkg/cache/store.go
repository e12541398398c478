package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultTTL is the freshness window applied uniformly to all entries.
// Exam schedules change a few times a year; a week-old answer is still
// the current answer.
const DefaultTTL = 7 * 24 * time.Hour

// DefaultCapacity bounds the number of entries the memory backend holds.
const DefaultCapacity = 1024

// Store is a TTL-bounded response cache shared by all concurrent fetches.
// Expiration is lazy: an expired entry is deleted by the read that
// discovers it, there is no background sweep. Entries for keys that are
// never re-read stay in memory until evicted by capacity pressure or
// process restart.
type Store interface {
	// Get returns the entry at key. Returns ErrCacheMiss when the key is
	// absent or the entry has outlived the store TTL.
	Get(ctx context.Context, key Key) (*Entry, error)

	// Set inserts or overwrites the entry at key.
	Set(ctx context.Context, key Key, entry *Entry) error

	// Delete removes the entry at key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key Key) error

	// TTL returns the uniform freshness window.
	TTL() time.Duration
}
