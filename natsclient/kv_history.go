package natsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/pjstream/pkg/cache"
)

// defaultHistoryTTL bounds how long a fetched revision history is served
// from cache before the bucket is consulted again.
const defaultHistoryTTL = 5 * time.Second

// HistorySource provides access to the retained revision history of keys
// in a KV bucket. jetstream.KeyValue satisfies it directly.
type HistorySource interface {
	History(ctx context.Context, key string, opts ...jetstream.WatchOpt) ([]jetstream.KeyValueEntry, error)
}

// HistoryResolver answers point-in-time queries against a KV bucket by
// binary-searching its revision history. Fetched histories are cached for
// a short TTL so a burst of queries against the same key hits the bucket
// once.
//
// Resolution is bounded by the bucket's history depth: revisions that have
// aged out of the bucket cannot be recovered here.
type HistoryResolver struct {
	source HistorySource
	cache  cache.Cache[[]jetstream.KeyValueEntry]
	logger *slog.Logger
	ttl    time.Duration
}

// HistoryOption configures a HistoryResolver.
type HistoryOption func(*HistoryResolver)

// WithHistoryTTL sets how long fetched revision histories are cached.
func WithHistoryTTL(ttl time.Duration) HistoryOption {
	return func(r *HistoryResolver) {
		r.ttl = ttl
	}
}

// WithHistoryLogger sets the logger used for cache lifecycle events.
func WithHistoryLogger(logger *slog.Logger) HistoryOption {
	return func(r *HistoryResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewHistoryResolver creates a resolver over the given source. The context
// bounds the cache sweeper goroutine; cancel it or call Close to stop it.
func NewHistoryResolver(ctx context.Context, source HistorySource, opts ...HistoryOption) (*HistoryResolver, error) {
	if source == nil {
		return nil, errors.New("kv: history source is nil")
	}

	r := &HistoryResolver{
		source: source,
		logger: slog.Default(),
		ttl:    defaultHistoryTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ttl <= 0 {
		return nil, fmt.Errorf("kv: history TTL %v must be positive", r.ttl)
	}

	sweep := r.ttl / 5
	if sweep < time.Second {
		sweep = time.Second
	}

	logger := r.logger
	histories, err := cache.NewTTL[[]jetstream.KeyValueEntry](ctx, r.ttl, sweep,
		cache.WithEvictionCallback[[]jetstream.KeyValueEntry](func(key string, revs []jetstream.KeyValueEntry) {
			logger.Debug("History cache dropped key", "key", key, "revisions", len(revs))
		}))
	if err != nil {
		return nil, fmt.Errorf("kv: history cache: %w", err)
	}
	r.cache = histories

	return r, nil
}

// EntryAt returns the revision of key that was current at the given time:
// the newest revision created at or before it. Delete and purge markers
// are returned as-is; callers decide what a tombstone means for them.
//
// Returns ErrKVNoRevision when the key's retained history begins after the
// requested time, and ErrKVKeyNotFound when the key has no history at all.
func (r *HistoryResolver) EntryAt(ctx context.Context, key string, at time.Time) (jetstream.KeyValueEntry, error) {
	revs, err := r.history(ctx, key)
	if err != nil {
		return nil, err
	}

	// Index of the first revision created strictly after the requested
	// time. Everything below it is at-or-before.
	idx := sort.Search(len(revs), func(i int) bool {
		return revs[i].Created().After(at)
	})
	if idx == 0 {
		return nil, fmt.Errorf("%w: %s at %s", ErrKVNoRevision, key, at.Format(time.RFC3339))
	}
	return revs[idx-1], nil
}

// EntriesInRange returns the revisions of key created within (from, to],
// oldest first. An empty result is not an error: the key simply did not
// change inside the window.
func (r *HistoryResolver) EntriesInRange(ctx context.Context, key string, from, to time.Time) ([]jetstream.KeyValueEntry, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("kv: history range end %s precedes start %s",
			to.Format(time.RFC3339), from.Format(time.RFC3339))
	}

	revs, err := r.history(ctx, key)
	if err != nil {
		return nil, err
	}

	lo := sort.Search(len(revs), func(i int) bool { return revs[i].Created().After(from) })
	hi := sort.Search(len(revs), func(i int) bool { return revs[i].Created().After(to) })

	// Copy the window so callers never alias the cached slice.
	window := make([]jetstream.KeyValueEntry, hi-lo)
	copy(window, revs[lo:hi])
	return window, nil
}

// Stats exposes the resolver's cache counters.
func (r *HistoryResolver) Stats() *cache.Statistics {
	return r.cache.Stats()
}

// Close stops the cache sweeper. The resolver must not be used afterwards.
func (r *HistoryResolver) Close() error {
	return r.cache.Close()
}

// history returns the full retained history for key, oldest first, fetching
// from the source on cache miss.
func (r *HistoryResolver) history(ctx context.Context, key string) ([]jetstream.KeyValueEntry, error) {
	if revs, ok := r.cache.Get(key); ok {
		return revs, nil
	}

	revs, err := r.source.History(ctx, key)
	if err != nil {
		if IsKVNotFound(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv history %s: %w", key, err)
	}
	if len(revs) == 0 {
		return nil, ErrKVKeyNotFound
	}

	// The server sends oldest-first already; sort so the binary searches
	// never depend on that.
	sort.Slice(revs, func(i, j int) bool {
		if revs[i].Created().Equal(revs[j].Created()) {
			return revs[i].Revision() < revs[j].Revision()
		}
		return revs[i].Created().Before(revs[j].Created())
	})

	if _, err := r.cache.Set(key, revs); err != nil {
		// Serving uncached beats failing the query.
		r.logger.Debug("History cache set failed", "key", key, "error", err)
	}
	return revs, nil
}
