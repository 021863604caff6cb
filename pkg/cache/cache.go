// Package cache provides generic, thread-safe in-process caches with two
// eviction policies: an LRU bounded by entry count and a TTL variant bounded
// by entry age. Hit and miss statistics are always collected; Prometheus
// export is optional via WithMetrics.
package cache

import (
	"fmt"

	"github.com/c360/pjstream/errors"
)

// Cache is the surface shared by both eviction variants. Values are
// parameterized so callers get their own types back without assertions.
type Cache[V any] interface {
	// Get returns the value stored under key and whether it was present.
	Get(key string) (V, bool)

	// Set stores value under key, reporting whether a new entry was
	// created rather than an existing one replaced.
	Set(key string, value V) (bool, error)

	// Delete removes the entry, reporting whether it existed.
	Delete(key string) (bool, error)

	// Clear removes every entry.
	Clear() error

	// Size returns the current entry count.
	Size() int

	// Keys lists the stored keys. Ordering is variant-specific.
	Keys() []string

	// Stats exposes the cache's operation counters.
	Stats() *Statistics

	// Close releases background resources. TTL caches stop their cleanup
	// goroutine here; for LRU caches it is a no-op.
	Close() error
}

// EvictCallback runs after an entry leaves the cache through policy
// eviction, expiry, deletion, or Clear. Callbacks run outside the
// cache's lock, so they may call back into the cache.
type EvictCallback[V any] func(key string, value V)

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: empty cache key", errors.ErrInvalidInput),
			"cache", "validateKey", "check key")
	}
	return nil
}
