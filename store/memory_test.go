package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/event"
	"github.com/c360/pjstream/session"
)

func newStoredSession(t *testing.T) *session.Session {
	t.Helper()
	sess := session.New(session.DefaultConfig())
	sess.TakeEvents()
	return sess
}

func TestMemoryStoreSaveAndFind(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sess := newStoredSession(t)

	require.NoError(t, s.Save(ctx, sess))
	assert.Equal(t, 1, s.Len())

	got, err := s.Find(ctx, sess.ID())
	require.NoError(t, err)
	assert.Equal(t, sess.ID(), got.ID())
	assert.Equal(t, session.StatusCreated, got.Status())
}

func TestMemoryStoreSaveDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sess := newStoredSession(t)

	require.NoError(t, s.Save(ctx, sess))
	err := s.Save(ctx, sess)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyExists)
}

func TestMemoryStoreSaveNil(t *testing.T) {
	err := NewMemoryStore().Save(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestMemoryStoreFindMissing(t *testing.T) {
	_, err := NewMemoryStore().Find(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)
	assert.True(t, errors.IsInvalid(err))
}

func TestMemoryStoreSaveDetachesArgument(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sess := newStoredSession(t)

	require.NoError(t, s.Save(ctx, sess))
	require.NoError(t, sess.Activate())

	got, err := s.Find(ctx, sess.ID())
	require.NoError(t, err)
	assert.Equal(t, session.StatusCreated, got.Status())
}

func TestMemoryStoreFindReturnsDetachedCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sess := newStoredSession(t)
	require.NoError(t, s.Save(ctx, sess))

	got, err := s.Find(ctx, sess.ID())
	require.NoError(t, err)
	require.NoError(t, got.Activate())

	again, err := s.Find(ctx, sess.ID())
	require.NoError(t, err)
	assert.Equal(t, session.StatusCreated, again.Status())
}

func TestMemoryStoreUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sess := newStoredSession(t)
	require.NoError(t, s.Save(ctx, sess))

	var published []event.Event
	err := s.Update(ctx, sess.ID(), func(cur *session.Session) error {
		if err := cur.Activate(); err != nil {
			return err
		}
		published = cur.TakeEvents()
		return nil
	})
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, event.SessionActivated, published[0].Kind)

	got, err := s.Find(ctx, sess.ID())
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, got.Status())
}

func TestMemoryStoreUpdateAbortsOnCallbackError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sess := newStoredSession(t)
	require.NoError(t, s.Save(ctx, sess))

	boom := fmt.Errorf("boom")
	err := s.Update(ctx, sess.ID(), func(cur *session.Session) error {
		if err := cur.Activate(); err != nil {
			return err
		}
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	got, err := s.Find(ctx, sess.ID())
	require.NoError(t, err)
	assert.Equal(t, session.StatusCreated, got.Status())
}

func TestMemoryStoreUpdateGuards(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.Update(ctx, "nope", func(*session.Session) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)

	sess := newStoredSession(t)
	require.NoError(t, s.Save(ctx, sess))
	err = s.Update(ctx, sess.ID(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestMemoryStoreUpdateSerializesWriters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sess := newStoredSession(t)
	require.NoError(t, s.Save(ctx, sess))

	const writers = 50
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			err := s.Update(ctx, sess.ID(), func(cur *session.Session) error {
				cur.AdjustPriorityThreshold(1, true)
				cur.TakeEvents()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Find(ctx, sess.ID())
	require.NoError(t, err)
	assert.Equal(t, uint8(10+writers), got.PriorityThreshold().Value())
}

func TestMemoryStoreFindAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sess := newStoredSession(t)
	require.NoError(t, s.Save(ctx, sess))
	afterSave := time.Now()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.Update(ctx, sess.ID(), func(cur *session.Session) error {
		if err := cur.Activate(); err != nil {
			return err
		}
		cur.TakeEvents()
		return nil
	}))

	t.Run("instant before the update sees the old revision", func(t *testing.T) {
		got, err := s.FindAt(ctx, sess.ID(), afterSave)
		require.NoError(t, err)
		assert.Equal(t, session.StatusCreated, got.Status())
	})

	t.Run("now sees the current revision", func(t *testing.T) {
		got, err := s.FindAt(ctx, sess.ID(), time.Now())
		require.NoError(t, err)
		assert.Equal(t, session.StatusActive, got.Status())
	})

	t.Run("instant before the save is not found", func(t *testing.T) {
		_, err := s.FindAt(ctx, sess.ID(), time.Now().Add(-time.Hour))
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrSessionNotFound)
	})

	t.Run("unknown session is not found", func(t *testing.T) {
		_, err := s.FindAt(ctx, "nope", time.Now())
		assert.ErrorIs(t, err, errors.ErrSessionNotFound)
	})
}

// Old revisions age out of the trail once enough updates displace them.
func TestMemoryStoreFindAtTrailBounded(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sess := newStoredSession(t)
	require.NoError(t, s.Save(ctx, sess))
	start := time.Now()

	const updates = bucketHistory + 2
	for i := 0; i < updates; i++ {
		time.Sleep(2 * time.Millisecond)
		require.NoError(t, s.Update(ctx, sess.ID(), func(cur *session.Session) error {
			cur.AdjustPriorityThreshold(1, true)
			cur.TakeEvents()
			return nil
		}))
	}

	_, err := s.FindAt(ctx, sess.ID(), start)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)

	got, err := s.FindAt(ctx, sess.ID(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, uint8(10+updates), got.PriorityThreshold().Value())
}

func TestMemoryStoreRemove(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sess := newStoredSession(t)
	require.NoError(t, s.Save(ctx, sess))

	require.NoError(t, s.Remove(ctx, sess.ID()))
	assert.Equal(t, 0, s.Len())

	_, err := s.Find(ctx, sess.ID())
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)

	err = s.Remove(ctx, sess.ID())
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)
}

func TestMemoryStoreFindActive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var active []string
	for i := 0; i < 5; i++ {
		sess := newStoredSession(t)
		if i%2 == 0 {
			require.NoError(t, sess.Activate())
			sess.TakeEvents()
			active = append(active, sess.ID())
		}
		require.NoError(t, s.Save(ctx, sess))
	}
	sort.Strings(active)

	ids, err := s.FindActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, active, ids)
}

func TestMemoryStoreFindByCriteria(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var all []string
	for i := 0; i < 6; i++ {
		sess := newStoredSession(t)
		if i < 2 {
			require.NoError(t, sess.Activate())
			sess.TakeEvents()
		}
		require.NoError(t, s.Save(ctx, sess))
		all = append(all, sess.ID())
	}
	sort.Strings(all)

	t.Run("status filter", func(t *testing.T) {
		got, err := s.FindByCriteria(ctx, Criteria{Status: session.StatusActive}, Page{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, sess := range got {
			assert.Equal(t, session.StatusActive, sess.Status())
		}
	})

	t.Run("paging by id covers everything once", func(t *testing.T) {
		first, err := s.FindByCriteria(ctx, Criteria{}, Page{Limit: 4, SortBy: SortID})
		require.NoError(t, err)
		rest, err := s.FindByCriteria(ctx, Criteria{}, Page{Limit: 4, Offset: 4, SortBy: SortID})
		require.NoError(t, err)

		var ids []string
		for _, sess := range append(first, rest...) {
			ids = append(ids, sess.ID())
		}
		assert.Equal(t, all, ids)
	})

	t.Run("created window excludes everything", func(t *testing.T) {
		crit := Criteria{CreatedBefore: time.Now().Add(-time.Hour)}
		got, err := s.FindByCriteria(ctx, crit, Page{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("invalid page rejected", func(t *testing.T) {
		_, err := s.FindByCriteria(ctx, Criteria{}, Page{Limit: -1})
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
	})
}
