// Package cache provides generic, thread-safe in-process caches.
//
// # Overview
//
// Two eviction policies cover the streaming service's hot paths:
//
//   - NewLRU: bounded by entry count, evicting the least recently used.
//     The hybrid session store keeps recently touched session snapshots
//     in one so repeated reads skip the KV round trip.
//   - NewTTL: bounded by entry age. The KV history resolver caches
//     revision listings for a few seconds so a burst of point-in-time
//     queries fetches each key's history once.
//
// Both are parameterized by value type, so callers get their own types
// back without assertions:
//
//	snapshots, err := cache.NewLRU[session.Snapshot](1024)
//	if err != nil {
//	    return err
//	}
//	snapshots.Set(sess.ID, sess.Snapshot())
//
// # Statistics and Metrics
//
// Every cache counts hits, misses, sets, deletes, and evictions; Stats
// exposes the counters. WithMetrics additionally registers the counters
// as Prometheus collectors labeled with a component prefix:
//
//	c, err := cache.NewLRU[session.Snapshot](1024,
//	    cache.WithMetrics[session.Snapshot](registry, "session_cache"))
//
// # Eviction Callbacks
//
// WithEvictionCallback observes entries as they leave the cache, whether
// evicted by policy, expired, deleted, or cleared. Callbacks run outside
// the cache's lock.
//
// # Lifecycle
//
// TTL caches run a background sweeper; stop it with Close or by
// cancelling the construction context. Close on an LRU cache is a no-op,
// so callers can close any Cache uniformly.
package cache
