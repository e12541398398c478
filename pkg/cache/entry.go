// Package cache provides response caching for the Q-Net client with
// memory and Redis backends.
package cache

import (
	"time"
)

// Entry represents a cached upstream response.
type Entry struct {
	// Body is the raw upstream response body (XML, kept opaque)
	Body string `json:"body"`

	// StatusCode is the upstream HTTP status code at cache time
	StatusCode int `json:"status_code"`

	// StoredAt is when the entry was written
	StoredAt time.Time `json:"stored_at"`
}

// NewEntry creates an entry stamped with the current time.
func NewEntry(body string, statusCode int) *Entry {
	return &Entry{
		Body:       body,
		StatusCode: statusCode,
		StoredAt:   time.Now(),
	}
}

// IsExpired returns true if the entry is older than ttl.
// The freshness window is store configuration, not per-entry state;
// it applies uniformly to every entry.
func (e *Entry) IsExpired(ttl time.Duration) bool {
	return time.Since(e.StoredAt) >= ttl
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age() time.Duration {
	return time.Since(e.StoredAt)
}

// RemainingTTL returns the time until the entry expires under ttl.
// Returns 0 if already expired.
func (e *Entry) RemainingTTL(ttl time.Duration) time.Duration {
	remaining := ttl - time.Since(e.StoredAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
