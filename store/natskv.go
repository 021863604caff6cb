package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	cerrors "github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/natsclient"
	"github.com/c360/pjstream/pkg/retry"
	"github.com/c360/pjstream/session"
)

// BucketName is the KV bucket holding session snapshots.
const BucketName = "pjs_sessions"

// bucketHistory keeps a few revisions per session for recovery.
const bucketHistory = 5

// KeyValue is the subset of jetstream.KeyValue the store uses. Taking
// the subset keeps the store testable without a running server.
type KeyValue interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
	Keys(ctx context.Context, opts ...jetstream.WatchOpt) ([]string, error)
}

// BucketCreator provisions KV buckets. natsclient.Client satisfies it.
type BucketCreator interface {
	CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error)
}

// KVStore persists sessions in a NATS JetStream KV bucket, one snapshot
// per session keyed by ID. Writers go through compare-and-swap on the
// entry revision and retry on conflict; scans list keys then read
// entries one at a time.
type KVStore struct {
	bucket     KeyValue
	bucketName string // name OpenKVStore provisions; unused for wrapped buckets
	retry      retry.Config
	logger     *slog.Logger

	histMu   sync.Mutex
	resolver *natsclient.HistoryResolver // built on first FindAt
}

// KVOption configures a KVStore.
type KVOption func(*KVStore)

// WithRetryConfig overrides the CAS retry policy.
func WithRetryConfig(cfg retry.Config) KVOption {
	return func(s *KVStore) { s.retry = cfg }
}

// WithBucket overrides the bucket name OpenKVStore provisions. Empty
// keeps the default BucketName.
func WithBucket(name string) KVOption {
	return func(s *KVStore) {
		if name != "" {
			s.bucketName = name
		}
	}
}

// WithLogger sets the logger used for conflict retries.
func WithLogger(logger *slog.Logger) KVOption {
	return func(s *KVStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewKVStore wraps an existing bucket.
func NewKVStore(bucket KeyValue, opts ...KVOption) (*KVStore, error) {
	if bucket == nil {
		return nil, cerrors.WrapInvalid(
			fmt.Errorf("%w: nil bucket", cerrors.ErrInvalidConfig),
			"store", "NewKVStore", "validate bucket")
	}
	s := &KVStore{
		bucket: bucket,
		retry:  retry.Quick(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// OpenKVStore provisions the session bucket and wraps it.
func OpenKVStore(ctx context.Context, creator BucketCreator, opts ...KVOption) (*KVStore, error) {
	if creator == nil {
		return nil, cerrors.WrapInvalid(
			fmt.Errorf("%w: nil bucket creator", cerrors.ErrInvalidConfig),
			"store", "OpenKVStore", "validate creator")
	}
	s := &KVStore{
		bucketName: BucketName,
		retry:      retry.Quick(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	bucket, err := creator.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      s.bucketName,
		Description: "Priority stream session state",
		History:     bucketHistory,
	})
	if err != nil {
		return nil, cerrors.WrapTransient(err, "store", "OpenKVStore", "create KV bucket")
	}
	s.bucket = bucket
	return s, nil
}

// Find returns the session stored under id.
func (s *KVStore) Find(ctx context.Context, id string) (*session.Session, error) {
	if id == "" {
		return nil, cerrors.WrapInvalid(
			fmt.Errorf("%w: empty session id", cerrors.ErrInvalidInput),
			"store", "Find", "validate id")
	}
	entry, err := s.bucket.Get(ctx, id)
	if err != nil {
		if isKVNotFound(err) {
			return nil, cerrors.WrapInvalid(
				fmt.Errorf("%w: %s", cerrors.ErrSessionNotFound, id),
				"store", "Find", "look up session")
		}
		return nil, cerrors.WrapTransient(err, "store", "Find", "get from KV")
	}
	sess, err := decodeSession(entry.Value())
	if err != nil {
		return nil, cerrors.WrapFatal(err, "store", "Find", "decode stored session")
	}
	return sess, nil
}

// FindAt returns the session as stored at the given instant, resolved
// from the bucket's revision history. Reach is bounded by the bucket's
// history depth, so only recent state is recoverable. Times before the
// oldest retained revision, and times at which the session carried a
// delete marker, report ErrSessionNotFound.
func (s *KVStore) FindAt(ctx context.Context, id string, at time.Time) (*session.Session, error) {
	if id == "" {
		return nil, cerrors.WrapInvalid(
			fmt.Errorf("%w: empty session id", cerrors.ErrInvalidInput),
			"store", "FindAt", "validate id")
	}
	resolver, err := s.historyResolver()
	if err != nil {
		return nil, err
	}
	entry, err := resolver.EntryAt(ctx, id, at)
	if err != nil {
		if errors.Is(err, natsclient.ErrKVKeyNotFound) || errors.Is(err, natsclient.ErrKVNoRevision) {
			return nil, cerrors.WrapInvalid(
				fmt.Errorf("%w: %s at %s", cerrors.ErrSessionNotFound, id, at.Format(time.RFC3339)),
				"store", "FindAt", "resolve history")
		}
		return nil, cerrors.WrapTransient(err, "store", "FindAt", "resolve history")
	}
	if entry.Operation() != jetstream.KeyValuePut {
		// Tombstone: the session was deleted at or before that instant.
		return nil, cerrors.WrapInvalid(
			fmt.Errorf("%w: %s at %s", cerrors.ErrSessionNotFound, id, at.Format(time.RFC3339)),
			"store", "FindAt", "resolve history")
	}
	sess, err := decodeSession(entry.Value())
	if err != nil {
		return nil, cerrors.WrapFatal(err, "store", "FindAt", "decode stored session")
	}
	return sess, nil
}

// historyResolver builds the resolver on first use. The narrow KeyValue
// interface cannot serve history, so the wrapped bucket must also expose
// it; real jetstream buckets always do.
func (s *KVStore) historyResolver() (*natsclient.HistoryResolver, error) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	if s.resolver != nil {
		return s.resolver, nil
	}
	source, ok := s.bucket.(natsclient.HistorySource)
	if !ok {
		return nil, cerrors.WrapInvalid(
			fmt.Errorf("%w: bucket does not expose revision history", cerrors.ErrInvalidConfig),
			"store", "FindAt", "resolve history source")
	}
	resolver, err := natsclient.NewHistoryResolver(context.Background(), source,
		natsclient.WithHistoryLogger(s.logger))
	if err != nil {
		return nil, cerrors.WrapTransient(err, "store", "FindAt", "build history resolver")
	}
	s.resolver = resolver
	return resolver, nil
}

// Close releases the history resolver if one was built. The store's
// regular operations do not need closing.
func (s *KVStore) Close() error {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	if s.resolver == nil {
		return nil
	}
	err := s.resolver.Close()
	s.resolver = nil
	return err
}

// Save persists a new session. Pending events on the argument are not
// stored; drain them before saving.
func (s *KVStore) Save(ctx context.Context, sess *session.Session) error {
	if sess == nil {
		return cerrors.WrapInvalid(
			fmt.Errorf("%w: nil session", cerrors.ErrInvalidInput),
			"store", "Save", "validate session")
	}
	data, err := json.Marshal(sess.Snapshot())
	if err != nil {
		return cerrors.WrapFatal(err, "store", "Save", "marshal snapshot")
	}
	if _, err := s.bucket.Create(ctx, sess.ID(), data); err != nil {
		if isKVConflict(err) {
			return cerrors.WrapInvalid(
				fmt.Errorf("%w: session %s", cerrors.ErrAlreadyExists, sess.ID()),
				"store", "Save", "create in KV")
		}
		return cerrors.WrapTransient(err, "store", "Save", "create in KV")
	}
	return nil
}

// Update reads the stored session, applies fn, and writes the result
// back with a revision check. A lost race reruns fn against the fresh
// state.
func (s *KVStore) Update(ctx context.Context, id string, fn UpdateFunc) error {
	if id == "" {
		return cerrors.WrapInvalid(
			fmt.Errorf("%w: empty session id", cerrors.ErrInvalidInput),
			"store", "Update", "validate id")
	}
	if fn == nil {
		return cerrors.WrapInvalid(
			fmt.Errorf("%w: nil update callback", cerrors.ErrInvalidInput),
			"store", "Update", "validate callback")
	}
	attempt := 0
	err := retry.Do(ctx, s.retry, func() error {
		attempt++
		entry, err := s.bucket.Get(ctx, id)
		if err != nil {
			if isKVNotFound(err) {
				return retry.NonRetryable(fmt.Errorf("%w: %s", cerrors.ErrSessionNotFound, id))
			}
			return fmt.Errorf("read session %s: %w", id, err)
		}
		sess, err := decodeSession(entry.Value())
		if err != nil {
			return retry.NonRetryable(fmt.Errorf("decode stored session: %w", err))
		}
		if err := fn(sess); err != nil {
			return retry.NonRetryable(err)
		}
		data, err := json.Marshal(sess.Snapshot())
		if err != nil {
			return retry.NonRetryable(fmt.Errorf("marshal snapshot: %w", err))
		}
		if _, err := s.bucket.Update(ctx, id, data, entry.Revision()); err != nil {
			if isKVConflict(err) {
				s.logger.Debug("session update conflict, retrying",
					"session_id", id, "attempt", attempt)
				return err
			}
			return fmt.Errorf("write session %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return cerrors.Wrap(err, "store", "Update", "apply update")
	}
	return nil
}

// Remove deletes the session. The read-then-delete pair is not atomic;
// a racing writer may resurrect the key.
func (s *KVStore) Remove(ctx context.Context, id string) error {
	if id == "" {
		return cerrors.WrapInvalid(
			fmt.Errorf("%w: empty session id", cerrors.ErrInvalidInput),
			"store", "Remove", "validate id")
	}
	if _, err := s.bucket.Get(ctx, id); err != nil {
		if isKVNotFound(err) {
			return cerrors.WrapInvalid(
				fmt.Errorf("%w: %s", cerrors.ErrSessionNotFound, id),
				"store", "Remove", "look up session")
		}
		return cerrors.WrapTransient(err, "store", "Remove", "get from KV")
	}
	if err := s.bucket.Delete(ctx, id); err != nil {
		return cerrors.WrapTransient(err, "store", "Remove", "delete from KV")
	}
	return nil
}

// FindActive returns the IDs of active sessions in lexical order.
func (s *KVStore) FindActive(ctx context.Context) ([]string, error) {
	snaps, err := s.scan(ctx, "FindActive")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, snap := range snaps {
		if snap.Status == session.StatusActive {
			ids = append(ids, snap.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// FindByCriteria returns matching sessions, sorted and paged.
func (s *KVStore) FindByCriteria(ctx context.Context, crit Criteria, page Page) ([]*session.Session, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	page = page.withDefaults()
	snaps, err := s.scan(ctx, "FindByCriteria")
	if err != nil {
		return nil, err
	}
	matched := make([]session.Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		if crit.Matches(snap) {
			matched = append(matched, snap)
		}
	}
	sortSnapshots(matched, page)
	sessions, err := restoreAll(pageWindow(matched, page))
	if err != nil {
		return nil, cerrors.WrapFatal(err, "store", "FindByCriteria", "restore snapshots")
	}
	return sessions, nil
}

// scan reads every stored snapshot. Keys deleted between the listing
// and the read are skipped.
func (s *KVStore) scan(ctx context.Context, method string) ([]session.Snapshot, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, cerrors.WrapTransient(err, "store", method, "list KV keys")
	}
	snaps := make([]session.Snapshot, 0, len(keys))
	for _, key := range keys {
		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			if isKVNotFound(err) {
				continue
			}
			return nil, cerrors.WrapTransient(err, "store", method,
				fmt.Sprintf("get session %s", key))
		}
		var snap session.Snapshot
		if err := json.Unmarshal(entry.Value(), &snap); err != nil {
			return nil, cerrors.WrapFatal(err, "store", method,
				fmt.Sprintf("decode session %s", key))
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func decodeSession(data []byte) (*session.Session, error) {
	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return session.Restore(snap)
}

// isKVNotFound matches both the typed jetstream sentinels and raw
// server error strings.
func isKVNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "10037")
}

// isKVConflict matches create-exists and wrong-revision failures.
func isKVConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") ||
		strings.Contains(msg, "10071") ||
		strings.Contains(msg, "key exists") ||
		strings.Contains(msg, "10058")
}
