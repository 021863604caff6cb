package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/natsclient"
	"github.com/c360/pjstream/session"
)

type KVStoreIntegrationSuite struct {
	suite.Suite
	testClient *natsclient.TestClient
	store      *KVStore
	ctx        context.Context
	cancel     context.CancelFunc
}

func (s *KVStoreIntegrationSuite) SetupSuite() {
	s.testClient = natsclient.NewTestClient(s.T(), natsclient.WithJetStream())
}

func (s *KVStoreIntegrationSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 30*time.Second)

	var err error
	s.store, err = OpenKVStore(s.ctx, s.testClient.Client)
	s.Require().NoError(err)
}

func (s *KVStoreIntegrationSuite) TearDownTest() {
	s.cancel()
}

func (s *KVStoreIntegrationSuite) newSession() *session.Session {
	sess := session.New(session.DefaultConfig())
	sess.TakeEvents()
	return sess
}

func (s *KVStoreIntegrationSuite) TestSaveFindRoundTrip() {
	sess := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, sess))

	got, err := s.store.Find(s.ctx, sess.ID())
	s.Require().NoError(err)
	s.Equal(sess.ID(), got.ID())
	s.Equal(session.StatusCreated, got.Status())
	s.Equal(sess.PriorityThreshold(), got.PriorityThreshold())
}

func (s *KVStoreIntegrationSuite) TestSaveDuplicate() {
	sess := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, sess))

	err := s.store.Save(s.ctx, sess)
	s.Error(err)
	s.ErrorIs(err, errors.ErrAlreadyExists)
}

func (s *KVStoreIntegrationSuite) TestFindMissing() {
	_, err := s.store.Find(s.ctx, "missing-session")
	s.Error(err)
	s.ErrorIs(err, errors.ErrSessionNotFound)
}

func (s *KVStoreIntegrationSuite) TestUpdatePersistsTransition() {
	sess := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, sess))

	err := s.store.Update(s.ctx, sess.ID(), func(cur *session.Session) error {
		if err := cur.Activate(); err != nil {
			return err
		}
		cur.TakeEvents()
		return nil
	})
	s.Require().NoError(err)

	got, err := s.store.Find(s.ctx, sess.ID())
	s.Require().NoError(err)
	s.Equal(session.StatusActive, got.Status())
}

// TestConcurrentUpdates drives real CAS conflicts through the server
// and checks that every increment lands.
func (s *KVStoreIntegrationSuite) TestConcurrentUpdates() {
	sess := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, sess))

	const writers = 8
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() {
			errs <- s.store.Update(s.ctx, sess.ID(), func(cur *session.Session) error {
				cur.AdjustPriorityThreshold(1, true)
				cur.TakeEvents()
				return nil
			})
		}()
	}
	for i := 0; i < writers; i++ {
		s.NoError(<-errs)
	}

	got, err := s.store.Find(s.ctx, sess.ID())
	s.Require().NoError(err)
	s.Equal(uint8(10+writers), got.PriorityThreshold().Value())
}

func (s *KVStoreIntegrationSuite) TestRemove() {
	sess := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, sess))

	s.Require().NoError(s.store.Remove(s.ctx, sess.ID()))

	_, err := s.store.Find(s.ctx, sess.ID())
	s.ErrorIs(err, errors.ErrSessionNotFound)
}

func (s *KVStoreIntegrationSuite) TestFindActiveAndCriteria() {
	active := s.newSession()
	s.Require().NoError(active.Activate())
	active.TakeEvents()
	s.Require().NoError(s.store.Save(s.ctx, active))

	idle := s.newSession()
	s.Require().NoError(s.store.Save(s.ctx, idle))

	ids, err := s.store.FindActive(s.ctx)
	s.Require().NoError(err)
	s.Contains(ids, active.ID())
	s.NotContains(ids, idle.ID())

	got, err := s.store.FindByCriteria(s.ctx,
		Criteria{Status: session.StatusActive}, Page{SortBy: SortID})
	s.Require().NoError(err)
	gotIDs := make([]string, 0, len(got))
	for _, cur := range got {
		gotIDs = append(gotIDs, cur.ID())
	}
	s.Contains(gotIDs, active.ID())
	s.NotContains(gotIDs, idle.ID())
}

// TestHybridOverKV runs the LRU front against the real backend.
func (s *KVStoreIntegrationSuite) TestHybridOverKV() {
	h, err := NewHybridStore(s.store, 16)
	s.Require().NoError(err)
	defer h.Close()

	sess := s.newSession()
	s.Require().NoError(h.Save(s.ctx, sess))

	got, err := h.Find(s.ctx, sess.ID())
	s.Require().NoError(err)
	s.Equal(sess.ID(), got.ID())
	s.EqualValues(1, h.Stats().Hits())

	err = h.Update(s.ctx, sess.ID(), func(cur *session.Session) error {
		if err := cur.Activate(); err != nil {
			return err
		}
		cur.TakeEvents()
		return nil
	})
	s.Require().NoError(err)

	got, err = h.Find(s.ctx, sess.ID())
	s.Require().NoError(err)
	s.Equal(session.StatusActive, got.Status())
}

func TestKVStoreIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(KVStoreIntegrationSuite))
}
