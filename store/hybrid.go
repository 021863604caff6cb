package store

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/metric"
	"github.com/c360/pjstream/pkg/cache"
	"github.com/c360/pjstream/session"
)

// DefaultCacheSize bounds the hybrid store's LRU when the caller passes
// zero.
const DefaultCacheSize = 1024

// HybridStore layers an in-process LRU in front of a primary
// repository, usually a KVStore. Reads hit the cache first; writes go
// through to the primary and refresh the cache with the state that was
// actually persisted. Scans always go to the primary.
//
// Cached values are snapshots rather than live aggregates, so cache
// hits still return detached copies.
type HybridStore struct {
	primary SessionRepository
	cache   cache.Cache[session.Snapshot]
}

// HybridOption configures a HybridStore.
type HybridOption func(*hybridConfig)

type hybridConfig struct {
	cacheOpts []cache.Option[session.Snapshot]
}

// WithCacheMetrics exports the cache's hit, miss, and size series under
// the session_cache component label. A nil registry disables the option.
func WithCacheMetrics(registry *metric.MetricsRegistry) HybridOption {
	return func(c *hybridConfig) {
		if registry != nil {
			c.cacheOpts = append(c.cacheOpts,
				cache.WithMetrics[session.Snapshot](registry, "session_cache"))
		}
	}
}

// NewHybridStore fronts primary with an LRU of up to cacheSize
// sessions.
func NewHybridStore(primary SessionRepository, cacheSize int, opts ...HybridOption) (*HybridStore, error) {
	if primary == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: nil primary repository", errors.ErrInvalidConfig),
			"store", "NewHybridStore", "validate primary")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	var cfg hybridConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	c, err := cache.NewLRU[session.Snapshot](cacheSize, cfg.cacheOpts...)
	if err != nil {
		return nil, errors.WrapInvalid(err, "store", "NewHybridStore", "build cache")
	}
	return &HybridStore{primary: primary, cache: c}, nil
}

// Find serves from the cache when possible, falling back to the
// primary and caching what it returns.
func (s *HybridStore) Find(ctx context.Context, id string) (*session.Session, error) {
	if snap, ok := s.cache.Get(id); ok {
		sess, err := session.Restore(snap)
		if err == nil {
			return sess, nil
		}
		s.cache.Delete(id)
	}
	sess, err := s.primary.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(id, sess.Snapshot())
	return sess, nil
}

// Save writes through to the primary, then caches.
func (s *HybridStore) Save(ctx context.Context, sess *session.Session) error {
	if err := s.primary.Save(ctx, sess); err != nil {
		return err
	}
	s.cache.Set(sess.ID(), sess.Snapshot())
	return nil
}

// Update runs fn through the primary and refreshes the cache with the
// state the primary persisted. A failed update drops the cached entry
// instead of guessing at the stored state.
func (s *HybridStore) Update(ctx context.Context, id string, fn UpdateFunc) error {
	var persisted session.Snapshot
	err := s.primary.Update(ctx, id, func(sess *session.Session) error {
		if err := fn(sess); err != nil {
			return err
		}
		persisted = sess.Snapshot()
		return nil
	})
	if err != nil {
		s.cache.Delete(id)
		return err
	}
	s.cache.Set(id, persisted)
	return nil
}

// Remove deletes from the primary and drops the cached entry even when
// the primary reports an error.
func (s *HybridStore) Remove(ctx context.Context, id string) error {
	err := s.primary.Remove(ctx, id)
	s.cache.Delete(id)
	return err
}

// FindActive scans the primary.
func (s *HybridStore) FindActive(ctx context.Context) ([]string, error) {
	return s.primary.FindActive(ctx)
}

// FindByCriteria scans the primary.
func (s *HybridStore) FindByCriteria(ctx context.Context, crit Criteria, page Page) ([]*session.Session, error) {
	return s.primary.FindByCriteria(ctx, crit, page)
}

// FindAt forwards to the primary when it retains history. The LRU holds
// only current state, so history reads never touch it.
func (s *HybridStore) FindAt(ctx context.Context, id string, at time.Time) (*session.Session, error) {
	hr, ok := s.primary.(HistoryReader)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: primary repository does not retain history", errors.ErrInvalidConfig),
			"store", "FindAt", "probe primary")
	}
	return hr.FindAt(ctx, id, at)
}

// Stats exposes the cache hit and miss counters.
func (s *HybridStore) Stats() *cache.Statistics {
	return s.cache.Stats()
}

// Close releases the cache. The primary stays open for its owner.
func (s *HybridStore) Close() error {
	return s.cache.Close()
}
