package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/session"
)

// shardCount trades lock contention against footprint. Sixteen shards
// keeps a hot session from serializing unrelated traffic.
const shardCount = 16

// MemoryStore is an in-process SessionRepository. The store owns its
// aggregates exclusively: Find and FindByCriteria return restored
// copies, and Update works copy-on-write so a failed callback leaves
// the stored state untouched.
type MemoryStore struct {
	shards [shardCount]memShard
}

type memShard struct {
	mu       sync.RWMutex
	sessions map[string]*memEntry
}

// memEntry pairs a stored session with its write lock and a bounded
// trail of superseded revisions. An Update racing a Remove may apply to
// the unlinked aggregate and be lost.
type memEntry struct {
	mu      sync.Mutex
	sess    *session.Session
	savedAt time.Time     // when the current revision was written
	past    []memRevision // superseded revisions, oldest first
}

// memRevision is a snapshot displaced by a later Update, stamped with
// the time it became current. The trail is capped at bucketHistory
// revisions total so both repository backends answer the same window.
type memRevision struct {
	at   time.Time
	snap session.Snapshot
}

// NewMemoryStore returns an empty in-memory repository.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].sessions = make(map[string]*memEntry)
	}
	return s
}

func (s *MemoryStore) shard(id string) *memShard {
	return &s.shards[xxhash.Sum64String(id)%shardCount]
}

func (s *MemoryStore) entry(id, method string) (*memEntry, error) {
	sh := s.shard(id)
	sh.mu.RLock()
	e, ok := sh.sessions[id]
	sh.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrSessionNotFound, id),
			"store", method, "look up session")
	}
	return e, nil
}

// Find returns a detached copy of the session.
func (s *MemoryStore) Find(_ context.Context, id string) (*session.Session, error) {
	e, err := s.entry(id, "Find")
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	snap := e.sess.Snapshot()
	e.mu.Unlock()
	sess, err := session.Restore(snap)
	if err != nil {
		return nil, errors.WrapFatal(err, "store", "Find", "restore snapshot")
	}
	return sess, nil
}

// FindAt returns the session as it was stored at the given instant,
// resolved from the entry's revision trail. Times before the oldest
// retained revision report ErrSessionNotFound. The trail does not
// survive Remove.
func (s *MemoryStore) FindAt(_ context.Context, id string, at time.Time) (*session.Session, error) {
	e, err := s.entry(id, "FindAt")
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	revs := make([]memRevision, 0, len(e.past)+1)
	revs = append(revs, e.past...)
	revs = append(revs, memRevision{at: e.savedAt, snap: e.sess.Snapshot()})
	e.mu.Unlock()

	// Index of the first revision written strictly after the requested
	// time; the one below it was current then.
	idx := sort.Search(len(revs), func(i int) bool {
		return revs[i].at.After(at)
	})
	if idx == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s at %s", errors.ErrSessionNotFound, id, at.Format(time.RFC3339)),
			"store", "FindAt", "resolve history")
	}
	sess, err := session.Restore(revs[idx-1].snap)
	if err != nil {
		return nil, errors.WrapFatal(err, "store", "FindAt", "restore snapshot")
	}
	return sess, nil
}

// Save persists a new session. The stored aggregate is detached from
// the argument, so later mutations through the caller's pointer never
// reach the store. Pending events on the argument are not carried over.
func (s *MemoryStore) Save(_ context.Context, sess *session.Session) error {
	if sess == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: nil session", errors.ErrInvalidInput),
			"store", "Save", "validate session")
	}
	detached, err := session.Restore(sess.Snapshot())
	if err != nil {
		return errors.WrapInvalid(err, "store", "Save", "detach session")
	}
	id := detached.ID()
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[id]; ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: session %s", errors.ErrAlreadyExists, id),
			"store", "Save", "check for duplicate")
	}
	sh.sessions[id] = &memEntry{sess: detached, savedAt: time.Now()}
	return nil
}

// Update applies fn to a working copy under the session's write lock
// and swaps it in on success. The callback's error aborts the update
// and is returned wrapped.
func (s *MemoryStore) Update(_ context.Context, id string, fn UpdateFunc) error {
	if fn == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: nil update callback", errors.ErrInvalidInput),
			"store", "Update", "validate callback")
	}
	e, err := s.entry(id, "Update")
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.sess.Snapshot()
	work, err := session.Restore(prev)
	if err != nil {
		return errors.WrapFatal(err, "store", "Update", "copy stored session")
	}
	if err := fn(work); err != nil {
		return errors.Wrap(err, "store", "Update", "apply update")
	}
	e.past = append(e.past, memRevision{at: e.savedAt, snap: prev})
	if len(e.past) > bucketHistory-1 {
		e.past = e.past[len(e.past)-(bucketHistory-1):]
	}
	e.sess = work
	e.savedAt = time.Now()
	return nil
}

// Remove deletes the session.
func (s *MemoryStore) Remove(_ context.Context, id string) error {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[id]; !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrSessionNotFound, id),
			"store", "Remove", "look up session")
	}
	delete(sh.sessions, id)
	return nil
}

// FindActive returns the IDs of active sessions in lexical order.
func (s *MemoryStore) FindActive(_ context.Context) ([]string, error) {
	var ids []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for id, e := range sh.sessions {
			e.mu.Lock()
			active := e.sess.Status() == session.StatusActive
			e.mu.Unlock()
			if active {
				ids = append(ids, id)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids, nil
}

// FindByCriteria returns detached copies of matching sessions, sorted
// and paged. Sessions added or removed while the scan walks the shards
// may or may not appear.
func (s *MemoryStore) FindByCriteria(_ context.Context, crit Criteria, page Page) ([]*session.Session, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	page = page.withDefaults()
	var snaps []session.Snapshot
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, e := range sh.sessions {
			e.mu.Lock()
			snap := e.sess.Snapshot()
			e.mu.Unlock()
			if crit.Matches(snap) {
				snaps = append(snaps, snap)
			}
		}
		sh.mu.RUnlock()
	}
	sortSnapshots(snaps, page)
	sessions, err := restoreAll(pageWindow(snaps, page))
	if err != nil {
		return nil, errors.WrapFatal(err, "store", "FindByCriteria", "restore snapshots")
	}
	return sessions, nil
}

// Len reports the number of stored sessions across all shards.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}
