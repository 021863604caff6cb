// Package session holds the Session and Stream aggregates of the
// priority streaming engine: the state machines that govern stream
// delivery, the per-transition domain events, and the snapshots used
// for persistence.
//
// Aggregates are deliberately not self-synchronized. The owning
// repository serializes writers per session (see store.Update); reads
// through a stale pointer are the caller's concern. Every successful
// state transition appends exactly one domain event to the pending
// buffer; the caller drains it with TakeEvents and hands the batch to a
// publisher after persisting.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/pjstream/analyzer"
	"github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/event"
	"github.com/c360/pjstream/frame"
	"github.com/c360/pjstream/priority"
)

// Status tracks a session's lifecycle.
type Status string

const (
	// StatusCreated indicates the session exists but accepts no streams.
	StatusCreated Status = "created"
	// StatusActive indicates the session accepts and delivers streams.
	StatusActive Status = "active"
	// StatusClosed indicates the caller closed the session.
	StatusClosed Status = "closed"
	// StatusExpired indicates the idle timeout elapsed.
	StatusExpired Status = "expired"
)

// Valid reports whether s is a known session status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusActive, StatusClosed, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether the session has reached a final status.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusExpired
}

func (s Status) String() string { return string(s) }

// Default session capacity and idle timeout.
const (
	DefaultMaxConcurrentStreams = 8
	DefaultTimeout              = 5 * time.Minute
)

// Config bounds a session. Zero fields take defaults.
type Config struct {
	MaxConcurrentStreams int           `json:"max_concurrent_streams" yaml:"max_concurrent_streams"`
	Timeout              time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentStreams: DefaultMaxConcurrentStreams,
		Timeout:              DefaultTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentStreams <= 0 {
		c.MaxConcurrentStreams = DefaultMaxConcurrentStreams
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Session is a bounded collection of concurrent streams. It owns its
// streams exclusively; they do not outlive it.
type Session struct {
	id          string
	config      Config
	status      Status
	createdAt   time.Time
	activatedAt time.Time
	closedAt    time.Time
	lastActive  time.Time
	threshold   priority.Priority
	streams     map[string]*Stream
	order       []string
	events      []event.Event
}

// New creates a session in Created status with a fresh identifier and
// records the creation event.
func New(cfg Config) *Session {
	now := time.Now()
	s := &Session{
		id:         uuid.NewString(),
		config:     cfg.withDefaults(),
		status:     StatusCreated,
		createdAt:  now,
		lastActive: now,
		threshold:  priority.Background,
		streams:    make(map[string]*Stream),
	}
	s.record(event.SessionCreated, "", nil)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Status returns the current session status.
func (s *Session) Status() Status { return s.status }

// Config returns the session's configuration.
func (s *Session) Config() Config { return s.config }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// ActivatedAt returns when the session was activated, zero if never.
func (s *Session) ActivatedAt() time.Time { return s.activatedAt }

// ClosedAt returns when the session reached a terminal status, zero
// while live.
func (s *Session) ClosedAt() time.Time { return s.closedAt }

// LastActiveAt returns the time of the last stream activity.
func (s *Session) LastActiveAt() time.Time { return s.lastActive }

// PriorityThreshold returns the delivery threshold. NextFrame drops
// patch frames below it; the default Background delivers everything
// the default rules produce.
func (s *Session) PriorityThreshold() priority.Priority { return s.threshold }

// Activate moves the session from Created to Active.
func (s *Session) Activate() error {
	if s.status != StatusCreated {
		return s.illegal("Activate", StatusCreated)
	}
	now := time.Now()
	s.status = StatusActive
	s.activatedAt = now
	s.lastActive = now
	s.record(event.SessionActivated, "", nil)
	return nil
}

// Close moves the session from Active to Closed, cancelling any live
// streams first. Closing a session that was never activated is illegal.
func (s *Session) Close() error {
	if s.status != StatusActive {
		return s.illegal("Close", StatusActive)
	}
	s.cancelLiveStreams()
	s.status = StatusClosed
	s.closedAt = time.Now()
	s.record(event.SessionClosed, "", nil)
	return nil
}

// ExpireIfIdle expires an Active session whose idle time reached the
// configured timeout, cancelling live streams. It reports whether the
// session expired on this call.
func (s *Session) ExpireIfIdle(now time.Time) bool {
	if s.status != StatusActive {
		return false
	}
	idle := now.Sub(s.lastActive)
	if idle < s.config.Timeout {
		return false
	}
	s.cancelLiveStreams()
	s.status = StatusExpired
	s.closedAt = now
	s.record(event.SessionExpired, "", map[string]any{
		"idle": idle.String(),
	})
	return true
}

// CreateStream adds a stream for the given source document. The session
// must be Active and below its live-stream capacity.
func (s *Session) CreateStream(source any) (*Stream, error) {
	if s.status != StatusActive {
		return nil, s.illegal("CreateStream", StatusActive)
	}
	if s.liveStreams() >= s.config.MaxConcurrentStreams {
		return nil, errors.Wrap(
			fmt.Errorf("%w: %d live streams at capacity %d",
				errors.ErrStreamLimit, s.liveStreams(), s.config.MaxConcurrentStreams),
			"Session", "CreateStream", "enforce stream capacity")
	}

	st := &Stream{
		id:        uuid.NewString(),
		sessionID: s.id,
		status:    StreamCreated,
		source:    source,
		createdAt: time.Now(),
	}
	s.streams[st.id] = st
	s.order = append(s.order, st.id)
	s.touch()
	s.record(event.StreamCreated, st.id, nil)
	return st, nil
}

// AttachPlan hands a stream its streaming plan. The stream must not
// have started and must not already have a plan. Attaching records the
// skeleton and patch generation facts.
func (s *Session) AttachPlan(streamID string, plan *analyzer.Plan) error {
	if plan == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: plan required", errors.ErrInvalidInput),
			"Session", "AttachPlan", "validate arguments")
	}
	st, err := s.Stream(streamID)
	if err != nil {
		return err
	}
	if st.status != StreamCreated || st.plan != nil {
		return s.illegalStream("AttachPlan", st)
	}

	st.plan = plan
	s.touch()
	s.record(event.SkeletonGenerated, st.id, nil)
	s.record(event.PatchesGenerated, st.id, map[string]any{
		"frames":        plan.FrameCount(),
		"patch_entries": plan.PatchEntryCount(),
	})
	return nil
}

// StartStream begins delivery. The stream must hold a plan.
func (s *Session) StartStream(streamID string) error {
	st, err := s.Stream(streamID)
	if err != nil {
		return err
	}
	if st.status != StreamCreated || st.plan == nil {
		return s.illegalStream("StartStream", st)
	}
	now := time.Now()
	st.status = StreamStarted
	st.startedAt = now
	s.touch()
	s.record(event.StreamStarted, st.id, nil)
	return nil
}

// CompleteStream marks a started stream as fully delivered.
func (s *Session) CompleteStream(streamID string) error {
	st, err := s.Stream(streamID)
	if err != nil {
		return err
	}
	if st.status != StreamStarted {
		return s.illegalStream("CompleteStream", st)
	}
	st.status = StreamCompleted
	st.endedAt = time.Now()
	s.touch()
	s.record(event.StreamCompleted, st.id, map[string]any{
		"frames_delivered": st.delivered,
	})
	return nil
}

// FailStream marks a live stream as failed. Streams may fail before
// starting (analysis errors).
func (s *Session) FailStream(streamID, reason string) error {
	st, err := s.Stream(streamID)
	if err != nil {
		return err
	}
	if !st.status.Live() {
		return s.illegalStream("FailStream", st)
	}
	st.status = StreamFailed
	st.endedAt = time.Now()
	st.failReason = reason
	s.touch()
	s.record(event.StreamFailed, st.id, map[string]any{
		"reason": reason,
	})
	return nil
}

// CancelStream abandons a live stream.
func (s *Session) CancelStream(streamID string) error {
	st, err := s.Stream(streamID)
	if err != nil {
		return err
	}
	if !st.status.Live() {
		return s.illegalStream("CancelStream", st)
	}
	s.cancelStream(st)
	return nil
}

// NextFrame pulls the next frame from a started stream. The second
// return is false when the plan is exhausted. Patch frames whose
// priority is below the session's delivery threshold are dropped, not
// delivered; skeleton and terminal frames always pass. Pulling never
// blocks; pacing and backpressure belong to the transport.
func (s *Session) NextFrame(streamID string) (frame.Frame, bool, error) {
	st, err := s.Stream(streamID)
	if err != nil {
		return frame.Frame{}, false, err
	}
	if st.status != StreamStarted || st.plan == nil {
		return frame.Frame{}, false, s.illegalStream("NextFrame", st)
	}

	for {
		f, ok := st.plan.Next()
		if !ok {
			return frame.Frame{}, false, nil
		}
		if f.Kind() == frame.KindPatch && f.Priority().Less(s.threshold) {
			st.skipped++
			continue
		}
		st.delivered++
		s.touch()
		return f, true, nil
	}
}

// AdjustPriorityThreshold raises or lowers the delivery threshold by
// delta, saturating at the priority bounds, and returns the new value.
// NextFrame drops patch frames below the threshold, so raising it
// degrades delivery to the important fields only.
func (s *Session) AdjustPriorityThreshold(delta uint8, raise bool) priority.Priority {
	if raise {
		s.threshold = s.threshold.IncreaseBy(delta)
	} else {
		s.threshold = s.threshold.DecreaseBy(delta)
	}
	s.record(event.ThresholdAdjusted, "", map[string]any{
		"threshold": s.threshold.Value(),
		"raised":    raise,
	})
	return s.threshold
}

// Stream returns the stream with the given ID.
func (s *Session) Stream(streamID string) (*Stream, error) {
	st, ok := s.streams[streamID]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrStreamNotFound, streamID),
			"Session", "Stream", "look up stream")
	}
	return st, nil
}

// Streams returns all streams in creation order.
func (s *Session) Streams() []*Stream {
	out := make([]*Stream, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.streams[id])
	}
	return out
}

// LiveStreamCount returns the number of streams counting against
// capacity.
func (s *Session) LiveStreamCount() int { return s.liveStreams() }

// TakeEvents drains and returns the pending domain events in append
// order. The caller owns delivery from here.
func (s *Session) TakeEvents() []event.Event {
	out := s.events
	s.events = nil
	return out
}

// PendingEvents returns the number of undrained events.
func (s *Session) PendingEvents() int { return len(s.events) }

func (s *Session) cancelLiveStreams() {
	for _, id := range s.order {
		if st := s.streams[id]; st.status.Live() {
			s.cancelStream(st)
		}
	}
}

func (s *Session) cancelStream(st *Stream) {
	st.status = StreamCancelled
	st.endedAt = time.Now()
	s.touch()
	s.record(event.StreamCancelled, st.id, map[string]any{
		"frames_delivered": st.delivered,
	})
}

func (s *Session) liveStreams() int {
	n := 0
	for _, st := range s.streams {
		if st.status.Live() {
			n++
		}
	}
	return n
}

func (s *Session) touch() {
	s.lastActive = time.Now()
}

func (s *Session) record(kind event.Kind, streamID string, attrs map[string]any) {
	s.events = append(s.events, event.New(kind, s.id, streamID, attrs))
}

func (s *Session) illegal(method string, want Status) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: session %s is %s, want %s",
			errors.ErrIllegalTransition, s.id, s.status, want),
		"Session", method, "check session state")
}

func (s *Session) illegalStream(method string, st *Stream) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: stream %s is %s", errors.ErrIllegalTransition, st.id, st.status),
		"Session", method, "check stream state")
}
