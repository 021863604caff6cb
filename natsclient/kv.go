package natsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/pjstream/pkg/retry"
)

// Well-known KV errors. Callers match these with errors.Is rather than
// inspecting raw NATS error strings.
var (
	ErrKVKeyNotFound        = errors.New("kv: key not found")
	ErrKVKeyExists          = errors.New("kv: key already exists")
	ErrKVRevisionMismatch   = errors.New("kv: revision mismatch (concurrent update)")
	ErrKVMaxRetriesExceeded = errors.New("kv: max retries exceeded")
	ErrKVNoRevision         = errors.New("kv: no revision at or before requested time")
)

// KVEntry is a value paired with the revision needed for CAS writes.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions tunes KV operation behavior.
type KVOptions struct {
	MaxRetries            int           // additional CAS attempts after the first
	RetryDelay            time.Duration // initial delay between attempts
	MaxRetryDelay         time.Duration // delay cap
	UseExponentialBackoff bool
	Timeout               time.Duration // per-operation timeout, zero disables
	MaxValueSize          int           // write size cap in bytes, zero disables
}

// DefaultKVOptions returns defaults tuned for session-state
// contention: many small CAS rounds rather than few slow ones.
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries:            10,
		RetryDelay:            10 * time.Millisecond,
		MaxRetryDelay:         time.Second,
		UseExponentialBackoff: true,
		Timeout:               5 * time.Second,
		MaxValueSize:          1 << 20,
	}
}

// KVStore layers CAS retries, size limits, and timeouts over a raw
// JetStream bucket.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// NewKVStore wraps a bucket with the client's logger and the given
// option tweaks.
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &KVStore{
		bucket:  bucket,
		options: options,
		logger:  c.logger,
	}
}

func (kv *KVStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get returns the value and revision for a key.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFound(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv: get %q: %w", key, err)
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put writes a key unconditionally. Last writer wins.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv: put %q: %w", key, err)
	}
	kv.logger.Debug("KV put", "key", key, "revision", rev)
	return rev, nil
}

// Create writes a key only if it does not exist yet.
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Create(ctx, key, value)
	if err != nil {
		if IsKVConflict(err) {
			return 0, ErrKVKeyExists
		}
		return 0, fmt.Errorf("kv: create %q: %w", key, err)
	}
	kv.logger.Debug("KV create", "key", key, "revision", rev)
	return rev, nil
}

// Update writes a key only when the stored revision still matches.
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Update(ctx, key, value, revision)
	if err != nil {
		if IsKVConflict(err) {
			return 0, ErrKVRevisionMismatch
		}
		return 0, fmt.Errorf("kv: update %q: %w", key, err)
	}
	kv.logger.Debug("KV update", "key", key, "from", revision, "to", rev)
	return rev, nil
}

// Delete removes a key.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		if IsKVNotFound(err) {
			return ErrKVKeyNotFound
		}
		return fmt.Errorf("kv: delete %q: %w", key, err)
	}
	kv.logger.Debug("KV delete", "key", key)
	return nil
}

// Watch streams changes for keys matching the pattern. No timeout is
// applied; the watcher lives until stopped or the context ends.
func (kv *KVStore) Watch(ctx context.Context, pattern string, opts ...jetstream.WatchOpt) (jetstream.KeyWatcher, error) {
	watcher, err := kv.bucket.Watch(ctx, pattern, opts...)
	if err != nil {
		return nil, fmt.Errorf("kv: watch %q: %w", pattern, err)
	}
	return watcher, nil
}

func (kv *KVStore) retryConfig() retry.Config {
	cfg := retry.Config{
		MaxAttempts:  kv.options.MaxRetries + 1,
		InitialDelay: kv.options.RetryDelay,
		MaxDelay:     kv.options.MaxRetryDelay,
		Multiplier:   1.0,
		AddJitter:    true,
	}
	if kv.options.UseExponentialBackoff {
		cfg.Multiplier = 2.0
	}
	return cfg
}

// UpdateWithRetry reads the key, applies updateFn, and writes back
// with CAS, retrying revision conflicts with jittered backoff. A
// missing key presents as nil current bytes and is created on write.
// Errors from updateFn abort immediately.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string,
	updateFn func(current []byte) ([]byte, error)) error {

	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	attempt := 0
	err := retry.Do(ctx, kv.retryConfig(), func() error {
		attempt++
		return kv.casRound(ctx, key, attempt, updateFn)
	})
	if err != nil && IsKVConflict(err) {
		return ErrKVMaxRetriesExceeded
	}
	return err
}

// casRound is one read-modify-write attempt.
func (kv *KVStore) casRound(ctx context.Context, key string, attempt int,
	updateFn func(current []byte) ([]byte, error)) error {

	var current []byte
	var revision uint64

	entry, err := kv.Get(ctx, key)
	switch {
	case err == nil:
		current, revision = entry.Value, entry.Revision
	case IsKVNotFound(err):
		// First write for this key.
	default:
		return fmt.Errorf("kv: read before update: %w", err)
	}

	next, err := updateFn(current)
	if err != nil {
		return retry.NonRetryable(fmt.Errorf("apply update: %w", err))
	}
	if kv.options.MaxValueSize > 0 && len(next) > kv.options.MaxValueSize {
		return retry.NonRetryable(fmt.Errorf("value is %d bytes, limit is %d",
			len(next), kv.options.MaxValueSize))
	}

	if revision == 0 {
		_, err = kv.bucket.Create(ctx, key, next)
	} else {
		_, err = kv.bucket.Update(ctx, key, next, revision)
	}
	if err == nil {
		return nil
	}
	if IsKVConflict(err) {
		kv.logger.Debug("KV conflict, retrying", "key", key, "attempt", attempt)
		return err
	}
	return fmt.Errorf("kv: write %q: %w", key, err)
}

// UpdateJSON applies updateFn to the key's JSON object under CAS. A
// missing key starts from an empty object; corrupt stored JSON aborts
// without retrying.
func (kv *KVStore) UpdateJSON(ctx context.Context, key string,
	updateFn func(current map[string]any) error) error {

	return kv.UpdateWithRetry(ctx, key, func(current []byte) ([]byte, error) {
		obj := make(map[string]any)
		if len(current) > 0 {
			if err := json.Unmarshal(current, &obj); err != nil {
				return nil, retry.NonRetryable(fmt.Errorf("unmarshal current: %w", err))
			}
		}
		if err := updateFn(obj); err != nil {
			return nil, err
		}
		return json.Marshal(obj)
	})
}

// Error detection helpers cover both this package's sentinels and the
// raw server error strings NATS surfaces before they are classified.

// IsKVNotFound reports whether err means the key does not exist.
func IsKVNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrKVKeyNotFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") ||
		strings.Contains(msg, "10037")
}

// IsKVConflict reports whether err means a CAS conflict: the key
// already exists or the revision moved underneath the writer.
func IsKVConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrKVRevisionMismatch) || errors.Is(err, ErrKVKeyExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") ||
		strings.Contains(msg, "10071") ||
		strings.Contains(msg, "key exists") ||
		strings.Contains(msg, "10058")
}
