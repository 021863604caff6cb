package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/c360/pjstream/errors"
)

// NewLRU builds a cache that holds at most maxSize entries and evicts
// the least recently used entry past that. Lookups count as use.
func NewLRU[V any](maxSize int, options ...Option[V]) (Cache[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: LRU size %d must be positive", errors.ErrInvalidInput, maxSize),
			"cache", "NewLRU", "validate size")
	}
	opts := applyOptions(options...)
	rec, err := newRecorder(opts)
	if err != nil {
		return nil, errors.WrapTransient(err, "cache", "NewLRU", "register metrics")
	}
	return &lruCache[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		rec:     rec,
		evictFn: opts.evictCallback,
	}, nil
}

type lruEntry[V any] struct {
	key   string
	value V
}

// lruCache keys a doubly linked list by map. The list front is the most
// recently used entry; eviction pops the back.
type lruCache[V any] struct {
	mu      sync.RWMutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	rec     recorder
	evictFn EvictCallback[V]
}

func (c *lruCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		var zero V
		c.rec.miss()
		return zero, false
	}
	c.order.MoveToFront(element)
	c.rec.hit()
	return element.Value.(*lruEntry[V]).value, true
}

func (c *lruCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	var evict *lruEntry[V]

	c.mu.Lock()
	if element, exists := c.items[key]; exists {
		element.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(element)
		c.rec.set()
		c.mu.Unlock()
		return false, nil
	}

	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
	if len(c.items) > c.maxSize {
		evict = c.popOldest()
		c.rec.evicted()
	}
	c.rec.set()
	c.rec.resize(len(c.items))
	c.mu.Unlock()

	if evict != nil && c.evictFn != nil {
		c.evictFn(evict.key, evict.value)
	}
	return true, nil
}

func (c *lruCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	element, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		return false, nil
	}
	entry := element.Value.(*lruEntry[V])
	c.remove(element)
	c.rec.deleted()
	c.rec.resize(len(c.items))
	c.mu.Unlock()

	if c.evictFn != nil {
		c.evictFn(entry.key, entry.value)
	}
	return true, nil
}

func (c *lruCache[V]) Clear() error {
	var cleared []lruEntry[V]

	c.mu.Lock()
	if c.evictFn != nil {
		cleared = make([]lruEntry[V], 0, len(c.items))
		for element := c.order.Back(); element != nil; element = element.Prev() {
			cleared = append(cleared, *element.Value.(*lruEntry[V]))
		}
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.rec.resize(0)
	c.mu.Unlock()

	for _, entry := range cleared {
		c.evictFn(entry.key, entry.value)
	}
	return nil
}

func (c *lruCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Keys returns keys in recency order, most recently used first.
func (c *lruCache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*lruEntry[V]).key)
	}
	return keys
}

func (c *lruCache[V]) Stats() *Statistics {
	return c.rec.stats
}

func (c *lruCache[V]) Close() error {
	return nil
}

// popOldest unlinks the back of the list. Caller holds the lock and
// runs the eviction callback after releasing it.
func (c *lruCache[V]) popOldest() *lruEntry[V] {
	element := c.order.Back()
	if element == nil {
		return nil
	}
	entry := element.Value.(*lruEntry[V])
	c.remove(element)
	return entry
}

func (c *lruCache[V]) remove(element *list.Element) {
	delete(c.items, element.Value.(*lruEntry[V]).key)
	c.order.Remove(element)
}
