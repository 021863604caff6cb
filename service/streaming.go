package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c360/pjstream/analyzer"
	"github.com/c360/pjstream/config"
	cerrors "github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/event"
	"github.com/c360/pjstream/frame"
	"github.com/c360/pjstream/metric"
	"github.com/c360/pjstream/pkg/checksum"
	"github.com/c360/pjstream/pkg/worker"
	"github.com/c360/pjstream/priority"
	"github.com/c360/pjstream/session"
	"github.com/c360/pjstream/store"
)

// defaultSweepInterval is how often idle sessions are checked for
// expiry when the configuration does not say otherwise.
const defaultSweepInterval = 30 * time.Second

// Analysis pool fallbacks when worker offload is enabled without sizes.
const (
	defaultAnalysisWorkers = 4
	defaultAnalysisQueue   = 64
)

// StreamingService drives priority JSON streaming end to end: it
// creates and expires sessions, analyzes documents into streaming
// plans, and hands frames to transports one pull at a time. All
// session mutation goes through the repository's Update so concurrent
// transports never race on shared state; domain events drained from
// those updates are published after the write lands.
type StreamingService struct {
	*BaseService

	analyzer  *analyzer.Analyzer
	sessions  store.SessionRepository
	publisher event.Publisher
	pool      *worker.Pool[analyzeJob]

	sessionDefaults session.Config
	sweepInterval   time.Duration

	sweeping bool // guarded by mu; one sweep loop per running service
}

// StreamingOption overrides a collaborator the constructor would
// otherwise build from configuration.
type StreamingOption func(*StreamingService)

// WithSessionRepository replaces the storage-mode-selected repository.
func WithSessionRepository(repo store.SessionRepository) StreamingOption {
	return func(s *StreamingService) {
		s.sessions = repo
	}
}

// WithEventPublisher replaces the default event publisher.
func WithEventPublisher(pub event.Publisher) StreamingOption {
	return func(s *StreamingService) {
		s.publisher = pub
	}
}

// analyzeJob carries one document analysis through the worker pool.
// The result channel is buffered so a worker never blocks on a caller
// that gave up waiting.
type analyzeJob struct {
	streamID string
	doc      any
	result   chan analyzeResult
}

type analyzeResult struct {
	plan *analyzer.Plan
	err  error
}

// NewStreamingService builds the service from configuration. The
// session repository follows cfg.Streaming.Storage.Mode (memory, kv,
// hybrid; KV modes need a NATS client), and events go to NATS when a
// client is present, to memory otherwise. Options override both.
func NewStreamingService(cfg *config.Config, deps *Dependencies, opts ...StreamingOption) (*StreamingService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("streaming service requires configuration")
	}
	if deps == nil {
		deps = &Dependencies{}
	}

	streaming := cfg.Streaming

	an, err := analyzer.New(streaming.Analyzer, analyzer.WithChecksum(checksum.New()))
	if err != nil {
		return nil, fmt.Errorf("create analyzer: %w", err)
	}

	base := NewBaseServiceWithOptions(
		"streaming",
		cfg,
		WithLogger(deps.Logger),
		WithMetrics(deps.MetricsRegistry),
		WithNATS(deps.NATSClient),
	)

	svc := &StreamingService{
		BaseService:     base,
		analyzer:        an,
		sessionDefaults: streaming.Session,
		sweepInterval:   streaming.SweepInterval,
	}
	if svc.sweepInterval <= 0 {
		svc.sweepInterval = defaultSweepInterval
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.sessions == nil {
		repo, err := openRepository(streaming.Storage, deps)
		if err != nil {
			return nil, err
		}
		svc.sessions = repo
	}
	if svc.publisher == nil {
		svc.publisher = defaultPublisher(deps)
	}

	if streaming.Worker.Enabled {
		workers := streaming.Worker.Workers
		if workers <= 0 {
			workers = defaultAnalysisWorkers
		}
		queue := streaming.Worker.QueueSize
		if queue <= 0 {
			queue = defaultAnalysisQueue
		}
		var poolOpts []worker.Option[analyzeJob]
		if deps.MetricsRegistry != nil {
			poolOpts = append(poolOpts,
				worker.WithMetricsRegistry[analyzeJob](deps.MetricsRegistry, "analysis"))
		}
		pool, err := worker.NewPool(workers, queue, svc.processAnalyzeJob, poolOpts...)
		if err != nil {
			return nil, fmt.Errorf("build analysis pool: %w", err)
		}
		svc.pool = pool
	}

	svc.SetHealthCheck(svc.healthCheck)
	return svc, nil
}

// openRepository selects the session store for the configured mode.
func openRepository(cfg config.StorageConfig, deps *Dependencies) (store.SessionRepository, error) {
	switch cfg.Mode {
	case "", config.StorageModeMemory:
		return store.NewMemoryStore(), nil

	case config.StorageModeKV, config.StorageModeHybrid:
		if deps.NATSClient == nil {
			return nil, fmt.Errorf("storage mode %q requires a NATS client", cfg.Mode)
		}
		kv, err := store.OpenKVStore(context.Background(), deps.NATSClient,
			store.WithBucket(cfg.Bucket),
			store.WithLogger(deps.Logger))
		if err != nil {
			return nil, fmt.Errorf("open session KV store: %w", err)
		}
		if cfg.Mode == config.StorageModeKV {
			return kv, nil
		}
		hybrid, err := store.NewHybridStore(kv, cfg.CacheSize,
			store.WithCacheMetrics(deps.MetricsRegistry))
		if err != nil {
			return nil, fmt.Errorf("open hybrid session store: %w", err)
		}
		return hybrid, nil

	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.Mode)
	}
}

// defaultPublisher routes events to NATS when a client is available,
// namespacing subjects by platform identity when one is configured.
func defaultPublisher(deps *Dependencies) event.Publisher {
	if deps.NATSClient != nil {
		pub, err := event.NewNATSPublisher(deps.NATSClient,
			event.WithLogger(deps.Logger),
			event.WithSubjectNamespace(deps.Platform.Org, deps.Platform.Platform))
		if err == nil {
			return pub
		}
	}
	return event.NewMemoryPublisher()
}

// Start starts the service, the analysis pool, and the expiry sweep.
// Calling Start on a running service is a no-op.
func (s *StreamingService) Start(ctx context.Context) error {
	if err := s.BaseService.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sweeping {
		return nil
	}

	if s.pool != nil {
		if err := s.pool.Start(ctx); err != nil {
			// A stopped pool cannot restart; analyze falls back to
			// running inline when submissions fail.
			s.logger.Warn("Analysis pool not started, analyzing inline", "error", err)
		}
	}

	s.wg.Add(1)
	go s.sweepLoop()
	s.sweeping = true

	s.logger.Info("Streaming service started",
		"sweep_interval", s.sweepInterval,
		"analysis_pool", s.pool != nil)
	return nil
}

// Stop stops the sweep, the analysis pool, and the base service.
func (s *StreamingService) Stop(timeout time.Duration) error {
	if err := s.BaseService.Stop(timeout); err != nil {
		return err
	}

	s.mu.Lock()
	wasRunning := s.sweeping
	s.sweeping = false
	s.mu.Unlock()
	if !wasRunning {
		return nil
	}

	if s.pool != nil {
		if err := s.pool.Stop(timeout); err != nil {
			s.logger.Warn("Analysis pool did not stop cleanly", "error", err)
		} else if st := s.pool.Stats(); st.Submitted > 0 {
			s.logger.Debug("Analysis pool drained",
				"processed", st.Processed,
				"failed", st.Failed,
				"dropped", st.Dropped)
		}
	}
	s.logger.Info("Streaming service stopped")
	return nil
}

// CreateSession creates and activates a session. Zero config fields
// fall back to the service's configured session defaults.
func (s *StreamingService) CreateSession(ctx context.Context, cfg session.Config) (string, error) {
	if cfg.MaxConcurrentStreams <= 0 {
		cfg.MaxConcurrentStreams = s.sessionDefaults.MaxConcurrentStreams
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = s.sessionDefaults.Timeout
	}

	sess := session.New(cfg)
	if err := sess.Activate(); err != nil {
		return "", err
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return "", err
	}
	s.publishEvents(ctx, sess.TakeEvents())

	if m := s.coreMetrics(); m != nil {
		m.RecordSessionCreated()
	}
	s.RecordOperation()
	s.logger.Info("Session created", "session_id", sess.ID())
	return sess.ID(), nil
}

// CloseSession closes an active session, cancelling its live streams.
func (s *StreamingService) CloseSession(ctx context.Context, sessionID string) error {
	var events []event.Event
	err := s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		if err := sess.Close(); err != nil {
			return err
		}
		events = sess.TakeEvents()
		return nil
	})
	if err != nil {
		return err
	}
	s.publishEvents(ctx, events)

	if m := s.coreMetrics(); m != nil {
		m.RecordSessionEnded("closed")
	}
	s.RecordOperation()
	s.logger.Info("Session closed", "session_id", sessionID)
	return nil
}

// GetSession returns a detached copy of the session.
func (s *StreamingService) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return s.sessions.Find(ctx, sessionID)
}

// GetSessionAt returns the session as it was stored at the given
// instant. Every storage mode retains a short revision trail, so only
// recent state is reachable; older instants report ErrSessionNotFound.
func (s *StreamingService) GetSessionAt(ctx context.Context, sessionID string, at time.Time) (*session.Session, error) {
	hr, ok := s.sessions.(store.HistoryReader)
	if !ok {
		return nil, cerrors.WrapInvalid(
			fmt.Errorf("%w: session store does not retain history", cerrors.ErrInvalidConfig),
			"service", "GetSessionAt", "probe repository")
	}
	return hr.FindAt(ctx, sessionID, at)
}

// ListSessions returns detached copies of sessions matching the
// criteria, sorted and paged. Paging is validated by the repository.
func (s *StreamingService) ListSessions(ctx context.Context, crit store.Criteria, page store.Page) ([]*session.Session, error) {
	return s.sessions.FindByCriteria(ctx, crit, page)
}

// OpenStream creates a stream for the document, analyzes it into a
// plan, and starts delivery. The stream ID is returned once frames can
// be pulled. Documents that violate the analysis limits fail here and
// leave the stream in Failed state.
func (s *StreamingService) OpenStream(ctx context.Context, sessionID string, doc any) (string, error) {
	var (
		streamID string
		events   []event.Event
	)
	err := s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		st, err := sess.CreateStream(doc)
		if err != nil {
			return err
		}
		streamID = st.ID()
		events = sess.TakeEvents()
		return nil
	})
	if err != nil {
		return "", err
	}
	s.publishEvents(ctx, events)

	start := time.Now()
	plan, err := s.analyze(ctx, streamID, doc)
	if m := s.coreMetrics(); m != nil {
		m.ObserveAnalysisDuration(time.Since(start))
	}
	if err != nil {
		s.failStream(ctx, sessionID, streamID, err)
		return "", err
	}

	err = s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		if err := sess.AttachPlan(streamID, plan); err != nil {
			return err
		}
		if err := sess.StartStream(streamID); err != nil {
			return err
		}
		events = sess.TakeEvents()
		return nil
	})
	if err != nil {
		return "", err
	}
	s.publishEvents(ctx, events)

	if m := s.coreMetrics(); m != nil {
		m.RecordStreamCreated()
		m.RecordPatchEntries(plan.PatchEntryCount())
	}
	s.RecordOperation()
	s.logger.Info("Stream opened",
		"session_id", sessionID,
		"stream_id", streamID,
		"frames", plan.FrameCount(),
		"patch_entries", plan.PatchEntryCount())
	return streamID, nil
}

// PullFrame advances delivery by one frame. The second return is false
// once the plan is exhausted. Pulling the terminal frame completes the
// stream; pulls after that fail with an illegal-transition error.
func (s *StreamingService) PullFrame(ctx context.Context, sessionID, streamID string) (frame.Frame, bool, error) {
	var (
		f      frame.Frame
		ok     bool
		events []event.Event
	)
	start := time.Now()
	err := s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		var err error
		f, ok, err = sess.NextFrame(streamID)
		if err != nil {
			return err
		}
		if ok && f.Terminal() {
			if err := sess.CompleteStream(streamID); err != nil {
				return err
			}
		}
		events = sess.TakeEvents()
		return nil
	})
	if err != nil {
		return frame.Frame{}, false, err
	}
	s.publishEvents(ctx, events)

	if ok {
		if m := s.coreMetrics(); m != nil {
			m.ObserveDeliveryDuration(time.Since(start))
			if f.Terminal() {
				m.RecordStreamEnded("completed")
			}
		}
		s.RecordOperation()
	}
	return f, ok, nil
}

// CancelStream abandons a live stream. Frames already delivered stay
// delivered; the stream just stops producing.
func (s *StreamingService) CancelStream(ctx context.Context, sessionID, streamID string) error {
	var events []event.Event
	err := s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		if err := sess.CancelStream(streamID); err != nil {
			return err
		}
		events = sess.TakeEvents()
		return nil
	})
	if err != nil {
		return err
	}
	s.publishEvents(ctx, events)

	if m := s.coreMetrics(); m != nil {
		m.RecordStreamEnded("cancelled")
	}
	s.RecordOperation()
	s.logger.Info("Stream cancelled", "session_id", sessionID, "stream_id", streamID)
	return nil
}

// AdjustPriority raises or lowers a session's delivery threshold by
// delta, saturating at the priority bounds, and returns the new
// threshold. Subsequent pulls on any of the session's streams drop
// patch frames below it; skeleton and terminal frames still deliver,
// so a degraded client keeps shape and completion while shedding
// low-value patches.
func (s *StreamingService) AdjustPriority(ctx context.Context, sessionID string, delta uint8, raise bool) (priority.Priority, error) {
	var (
		threshold priority.Priority
		events    []event.Event
	)
	err := s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		threshold = sess.AdjustPriorityThreshold(delta, raise)
		events = sess.TakeEvents()
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.publishEvents(ctx, events)

	s.RecordOperation()
	s.logger.Info("Priority threshold adjusted",
		"session_id", sessionID,
		"threshold", threshold.Value(),
		"raised", raise)
	return threshold, nil
}

// analyze runs document analysis inline or through the worker pool. A
// full queue is backpressure and surfaces as a transient error; a pool
// that is not running falls back to inline analysis.
func (s *StreamingService) analyze(ctx context.Context, streamID string, doc any) (*analyzer.Plan, error) {
	if s.pool == nil {
		return s.analyzer.Analyze(streamID, doc)
	}

	job := analyzeJob{
		streamID: streamID,
		doc:      doc,
		result:   make(chan analyzeResult, 1),
	}
	if err := s.pool.Submit(job); err != nil {
		if errors.Is(err, worker.ErrPoolNotStarted) || errors.Is(err, worker.ErrPoolStopped) {
			return s.analyzer.Analyze(streamID, doc)
		}
		return nil, cerrors.WrapTransient(err, "StreamingService", "OpenStream", "submit analysis")
	}
	select {
	case res := <-job.result:
		return res.plan, res.err
	case <-ctx.Done():
		return nil, cerrors.Wrap(ctx.Err(), "StreamingService", "OpenStream", "wait for analysis")
	}
}

// processAnalyzeJob is the worker pool processor.
func (s *StreamingService) processAnalyzeJob(_ context.Context, job analyzeJob) error {
	plan, err := s.analyzer.Analyze(job.streamID, job.doc)
	job.result <- analyzeResult{plan: plan, err: err}
	return err
}

// failStream marks a stream failed after an analysis error. Best
// effort: the analysis error is what callers see either way.
func (s *StreamingService) failStream(ctx context.Context, sessionID, streamID string, cause error) {
	var events []event.Event
	err := s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		if err := sess.FailStream(streamID, cause.Error()); err != nil {
			return err
		}
		events = sess.TakeEvents()
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to mark stream failed",
			"session_id", sessionID, "stream_id", streamID, "error", err)
		return
	}
	s.publishEvents(ctx, events)

	if m := s.coreMetrics(); m != nil {
		m.RecordStreamEnded("failed")
	}
	s.logger.Info("Stream failed",
		"session_id", sessionID, "stream_id", streamID, "reason", cause.Error())
}

// sweepLoop expires idle sessions until the service stops.
func (s *StreamingService) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweepExpired(context.Background())
		}
	}
}

// sweepExpired scans active sessions and expires the idle ones. The
// scan is weakly consistent; a session that closes mid-sweep is simply
// skipped by ExpireIfIdle on the next update.
func (s *StreamingService) sweepExpired(ctx context.Context) {
	ids, err := s.sessions.FindActive(ctx)
	if err != nil {
		s.logger.Warn("Expiry sweep could not list sessions", "error", err)
		return
	}

	now := time.Now()
	for _, id := range ids {
		var (
			expired bool
			events  []event.Event
		)
		err := s.sessions.Update(ctx, id, func(sess *session.Session) error {
			expired = sess.ExpireIfIdle(now)
			events = sess.TakeEvents()
			return nil
		})
		if err != nil {
			if !errors.Is(err, cerrors.ErrSessionNotFound) {
				s.logger.Warn("Expiry sweep update failed", "session_id", id, "error", err)
			}
			continue
		}
		if !expired {
			continue
		}
		s.publishEvents(ctx, events)

		if m := s.coreMetrics(); m != nil {
			m.RecordSessionEnded("expired")
		}
		s.logger.Info("Session expired", "session_id", id)
	}
}

// publishEvents forwards drained session events. Event delivery is
// advisory; failures are logged, never propagated to the operation
// that produced them.
func (s *StreamingService) publishEvents(ctx context.Context, events []event.Event) {
	if len(events) == 0 {
		return
	}
	if err := s.publisher.PublishBatch(ctx, events); err != nil {
		s.logger.Warn("Failed to publish session events",
			"events", len(events), "error", err)
	}
}

// healthCheck verifies the session repository answers queries.
func (s *StreamingService) healthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := s.sessions.FindActive(ctx); err != nil {
		return fmt.Errorf("session repository unavailable: %w", err)
	}
	return nil
}

// coreMetrics returns the shared core metrics, or nil when the service
// was built without a registry.
func (s *StreamingService) coreMetrics() *metric.Metrics {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.CoreMetrics()
}
