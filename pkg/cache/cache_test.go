package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// testConformance runs the behavior every Cache variant shares.
func testConformance(t *testing.T, c Cache[string]) {
	t.Helper()

	if value, ok := c.Get("missing"); ok {
		t.Errorf("expected miss on empty cache, got %q", value)
	}

	created, err := c.Set("stream-1", "skeleton")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if !created {
		t.Error("first set should create the entry")
	}
	if value, ok := c.Get("stream-1"); !ok || value != "skeleton" {
		t.Errorf("get after set = %q, %t", value, ok)
	}

	created, err = c.Set("stream-1", "patched")
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if created {
		t.Error("second set should update, not create")
	}
	if value, _ := c.Get("stream-1"); value != "patched" {
		t.Errorf("overwrite did not stick, got %q", value)
	}

	if _, err := c.Set("", "nope"); err == nil {
		t.Error("empty key should be rejected")
	}

	deleted, err := c.Delete("stream-1")
	if err != nil || !deleted {
		t.Errorf("delete = %t, %v", deleted, err)
	}
	deleted, err = c.Delete("stream-1")
	if err != nil || deleted {
		t.Errorf("second delete = %t, %v; want false, nil", deleted, err)
	}

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("doc-%d", i), "body")
	}
	if got := c.Size(); got != 5 {
		t.Errorf("size = %d, want 5", got)
	}
	if got := len(c.Keys()); got != 5 {
		t.Errorf("keys = %d entries, want 5", got)
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := c.Size(); got != 0 {
		t.Errorf("size after clear = %d", got)
	}
}

func TestLRUConformance(t *testing.T) {
	c, err := NewLRU[string](64)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	defer c.Close()
	testConformance(t, c)
}

func TestTTLConformance(t *testing.T) {
	c, err := NewTTL[string](context.Background(), time.Minute, time.Second)
	if err != nil {
		t.Fatalf("NewTTL: %v", err)
	}
	defer c.Close()
	testConformance(t, c)
}

func TestNewLRURejectsNonPositiveSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := NewLRU[string](size); err == nil {
			t.Errorf("NewLRU(%d) should fail", size)
		}
	}
}

func TestNewTTLRejectsBadDurations(t *testing.T) {
	ctx := context.Background()
	if _, err := NewTTL[string](ctx, 0, time.Second); err == nil {
		t.Error("zero ttl should fail")
	}
	if _, err := NewTTL[string](ctx, time.Second, 0); err == nil {
		t.Error("zero cleanup interval should fail")
	}
}

func TestLRUEvictsOldest(t *testing.T) {
	var evicted []string
	c, err := NewLRU[string](3, WithEvictionCallback[string](func(key, _ string) {
		evicted = append(evicted, key)
	}))
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}

	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3")

	// Touch "a" so "b" becomes the oldest.
	c.Get("a")
	c.Set("d", "4")

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("%s should have survived eviction", key)
		}
	}
	if len(evicted) != 1 || evicted[0] != "b" {
		t.Errorf("eviction callback saw %v, want [b]", evicted)
	}
	if got := c.Stats().Evictions(); got != 1 {
		t.Errorf("evictions = %d, want 1", got)
	}
}

func TestLRUKeysInRecencyOrder(t *testing.T) {
	c, _ := NewLRU[string](8)
	c.Set("first", "1")
	c.Set("second", "2")
	c.Set("third", "3")
	c.Get("first")

	keys := c.Keys()
	want := []string{"first", "third", "second"}
	for i, key := range want {
		if keys[i] != key {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
}

func TestTTLExpiry(t *testing.T) {
	var mu sync.Mutex
	var expired []string
	c, err := NewTTL[string](context.Background(), 30*time.Millisecond, 10*time.Millisecond,
		WithEvictionCallback[string](func(key, _ string) {
			mu.Lock()
			expired = append(expired, key)
			mu.Unlock()
		}))
	if err != nil {
		t.Fatalf("NewTTL: %v", err)
	}
	defer c.Close()

	c.Set("history", "revisions")
	if _, ok := c.Get("history"); !ok {
		t.Fatal("entry should be readable before expiry")
	}

	time.Sleep(60 * time.Millisecond)

	if _, ok := c.Get("history"); ok {
		t.Error("entry should have expired")
	}
	if got := c.Size(); got != 0 {
		t.Errorf("size after sweep = %d", got)
	}

	mu.Lock()
	sawExpiry := len(expired) > 0
	mu.Unlock()
	if !sawExpiry {
		t.Error("eviction callback should have observed the expiry")
	}
}

func TestTTLSetRefreshesExpiry(t *testing.T) {
	c, err := NewTTL[string](context.Background(), 50*time.Millisecond, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewTTL: %v", err)
	}
	defer c.Close()

	c.Set("key", "v1")
	time.Sleep(30 * time.Millisecond)
	c.Set("key", "v2")
	time.Sleep(30 * time.Millisecond)

	// 60ms after the first set but only 30ms after the refresh.
	if value, ok := c.Get("key"); !ok || value != "v2" {
		t.Errorf("refreshed entry = %q, %t; want v2, true", value, ok)
	}
}

func TestTTLCloseStopsSweeper(t *testing.T) {
	c, err := NewTTL[string](context.Background(), time.Minute, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewTTL: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestTTLContextCancelStopsSweeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, err := NewTTL[string](ctx, time.Minute, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewTTL: %v", err)
	}
	cancel()

	// Close must not hang after the context already stopped the sweeper.
	done := make(chan error, 1)
	go func() { done <- c.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("close after cancel: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close hung after context cancellation")
	}
}

func TestStatisticsCounters(t *testing.T) {
	c, _ := NewLRU[string](2)

	c.Get("miss")
	c.Set("a", "1")
	c.Get("a")
	c.Set("b", "2")
	c.Set("c", "3") // evicts a
	c.Delete("b")

	stats := c.Stats()
	if got := stats.Hits(); got != 1 {
		t.Errorf("hits = %d, want 1", got)
	}
	if got := stats.Misses(); got != 1 {
		t.Errorf("misses = %d, want 1", got)
	}
	if got := stats.Sets(); got != 3 {
		t.Errorf("sets = %d, want 3", got)
	}
	if got := stats.Deletes(); got != 1 {
		t.Errorf("deletes = %d, want 1", got)
	}
	if got := stats.Evictions(); got != 1 {
		t.Errorf("evictions = %d, want 1", got)
	}
	if got := stats.HitRatio(); got != 0.5 {
		t.Errorf("hit ratio = %v, want 0.5", got)
	}
	if got := stats.MaxSize(); got != 2 {
		t.Errorf("max size = %d, want 2", got)
	}
}

func TestLRUConcurrentAccess(t *testing.T) {
	c, _ := NewLRU[int](128)

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key-%d", i%32)
				c.Set(key, worker)
				c.Get(key)
				if i%16 == 0 {
					c.Delete(key)
				}
			}
		}(worker)
	}
	wg.Wait()

	if got := c.Size(); got > 32 {
		t.Errorf("size = %d, want at most the working set of 32", got)
	}
}

func TestEvictionCallbackCanReenter(t *testing.T) {
	var c Cache[string]
	var err error
	c, err = NewLRU[string](2, WithEvictionCallback[string](func(key, _ string) {
		// Callbacks run outside the lock, so touching the cache again
		// must not deadlock.
		c.Get(key)
	}))
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}

	c.Set("a", "1")
	c.Set("b", "2")

	done := make(chan struct{})
	go func() {
		c.Set("c", "3")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("eviction callback deadlocked against the cache lock")
	}
}
