package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/pjstream/errors"
)

// NewTTL builds a cache whose entries expire ttl after they were set.
// Expired entries are dropped lazily on lookup and swept by a background
// goroutine every cleanupInterval. The goroutine stops when ctx is
// cancelled or Close is called, whichever comes first.
func NewTTL[V any](
	ctx context.Context, ttl, cleanupInterval time.Duration, options ...Option[V],
) (Cache[V], error) {
	if ttl <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: ttl %v must be positive", errors.ErrInvalidInput, ttl),
			"cache", "NewTTL", "validate ttl")
	}
	if cleanupInterval <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: cleanup interval %v must be positive", errors.ErrInvalidInput, cleanupInterval),
			"cache", "NewTTL", "validate cleanup interval")
	}
	opts := applyOptions(options...)
	rec, err := newRecorder(opts)
	if err != nil {
		return nil, errors.WrapTransient(err, "cache", "NewTTL", "register metrics")
	}

	c := &ttlCache[V]{
		ttl:      ttl,
		items:    make(map[string]*ttlEntry[V]),
		rec:      rec,
		evictFn:  opts.evictCallback,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.sweep(ctx, cleanupInterval)
	return c, nil
}

type ttlEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

func (e *ttlEntry[V]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

type ttlCache[V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	items   map[string]*ttlEntry[V]
	rec     recorder
	evictFn EvictCallback[V]

	shutdown  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (c *ttlCache[V]) Get(key string) (V, bool) {
	now := time.Now()

	c.mu.RLock()
	entry, exists := c.items[key]
	c.mu.RUnlock()

	if !exists {
		var zero V
		c.rec.miss()
		return zero, false
	}

	if entry.expired(now) {
		c.dropExpired(key, now)
		var zero V
		c.rec.miss()
		return zero, false
	}

	c.rec.hit()
	return entry.value, true
}

// dropExpired removes key if it is still present and still expired; a
// concurrent Set may have refreshed it between the read and this write.
func (c *ttlCache[V]) dropExpired(key string, now time.Time) {
	var evicted *ttlEntry[V]

	c.mu.Lock()
	if entry, ok := c.items[key]; ok && entry.expired(now) {
		delete(c.items, key)
		evicted = entry
		c.rec.evicted()
		c.rec.resize(len(c.items))
	}
	c.mu.Unlock()

	if evicted != nil && c.evictFn != nil {
		c.evictFn(evicted.key, evicted.value)
	}
}

func (c *ttlCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	entry := &ttlEntry[V]{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}

	c.mu.Lock()
	_, exists := c.items[key]
	c.items[key] = entry
	c.rec.set()
	c.rec.resize(len(c.items))
	c.mu.Unlock()

	return !exists, nil
}

func (c *ttlCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	entry, exists := c.items[key]
	if exists {
		delete(c.items, key)
		c.rec.deleted()
		c.rec.resize(len(c.items))
	}
	c.mu.Unlock()

	if exists && c.evictFn != nil {
		c.evictFn(entry.key, entry.value)
	}
	return exists, nil
}

func (c *ttlCache[V]) Clear() error {
	var cleared []*ttlEntry[V]

	c.mu.Lock()
	if c.evictFn != nil {
		cleared = make([]*ttlEntry[V], 0, len(c.items))
		for _, entry := range c.items {
			cleared = append(cleared, entry)
		}
	}
	c.items = make(map[string]*ttlEntry[V])
	c.rec.resize(0)
	c.mu.Unlock()

	for _, entry := range cleared {
		c.evictFn(entry.key, entry.value)
	}
	return nil
}

func (c *ttlCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Keys returns the keys of unexpired entries, in no particular order.
func (c *ttlCache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	keys := make([]string, 0, len(c.items))
	for key, entry := range c.items {
		if !entry.expired(now) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (c *ttlCache[V]) Stats() *Statistics {
	return c.rec.stats
}

// Close stops the sweep goroutine and waits for it to exit. Safe to
// call more than once and after the construction context is cancelled.
func (c *ttlCache[V]) Close() error {
	c.closeOnce.Do(func() { close(c.shutdown) })

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("ttl cache sweeper did not stop")
	}
}

func (c *ttlCache[V]) sweep(ctx context.Context, interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *ttlCache[V]) removeExpired() {
	now := time.Now()
	var expired []*ttlEntry[V]

	c.mu.Lock()
	for key, entry := range c.items {
		if entry.expired(now) {
			delete(c.items, key)
			expired = append(expired, entry)
		}
	}
	if len(expired) > 0 {
		for range expired {
			c.rec.evicted()
		}
		c.rec.resize(len(c.items))
	}
	c.mu.Unlock()

	if c.evictFn != nil {
		for _, entry := range expired {
			c.evictFn(entry.key, entry.value)
		}
	}
}
