// Package cache provides a generic, thread-safe TTL cache with bounded
// capacity and pattern-based invalidation.
//
// Entries expire after a per-entry TTL and are evicted lazily on read plus
// swept periodically in the background. When the cache is at capacity, the
// entry with the oldest store time is evicted to make room. Statistics are
// always collected; Prometheus metrics are optional via functional options.
package cache

import (
	"time"

	"github.com/OwlAIhub/OwlAI-sub003/errors"
)

// Cache represents a generic cache interface.
// The cache is parameterized by value type V for type safety.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found and
	// not expired, zero value and false otherwise.
	Get(key string) (V, bool)

	// Set stores a value with the default TTL. Returns true if a new entry
	// was created, false if an existing one was updated.
	Set(key string, value V) (bool, error)

	// SetWithTTL stores a value with an explicit TTL override.
	SetWithTTL(key string, value V, ttl time.Duration) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// InvalidateByPattern removes every entry whose key contains the given
	// substring and returns the number removed. Deliberately broad: callers
	// use it to drop all cached reads touching an entity id.
	InvalidateByPattern(substring string) int

	// Clear removes all entries from the cache.
	Clear() error

	// Size returns the current number of entries in the cache.
	Size() int

	// Keys returns a slice of all unexpired keys currently in the cache.
	Keys() []string

	// Stats returns cache statistics (always collected).
	Stats() *Statistics

	// Close shuts down the cache and stops the background sweep goroutine.
	Close() error
}

// EvictCallback is called when an entry is evicted from the cache.
type EvictCallback[V any] func(key string, value V)

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
