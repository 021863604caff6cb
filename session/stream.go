package session

import (
	"time"

	"github.com/c360/pjstream/analyzer"
)

// StreamStatus tracks one stream's lifecycle.
type StreamStatus string

const (
	// StreamCreated indicates the stream exists but has no plan yet.
	StreamCreated StreamStatus = "created"
	// StreamStarted indicates frames are being delivered.
	StreamStarted StreamStatus = "started"
	// StreamCompleted indicates the full plan was delivered.
	StreamCompleted StreamStatus = "completed"
	// StreamFailed indicates delivery ended with an error.
	StreamFailed StreamStatus = "failed"
	// StreamCancelled indicates the caller abandoned the stream.
	StreamCancelled StreamStatus = "cancelled"
)

// Valid reports whether s is a known stream status.
func (s StreamStatus) Valid() bool {
	switch s {
	case StreamCreated, StreamStarted, StreamCompleted, StreamFailed, StreamCancelled:
		return true
	}
	return false
}

// Terminal reports whether the stream has reached a final status.
func (s StreamStatus) Terminal() bool {
	return s == StreamCompleted || s == StreamFailed || s == StreamCancelled
}

// Live reports whether the stream counts against session capacity.
func (s StreamStatus) Live() bool {
	return s == StreamCreated || s == StreamStarted
}

func (s StreamStatus) String() string { return string(s) }

// Stream is one logical JSON document being progressively delivered. A
// Stream is owned by exactly one Session and is only ever mutated
// through it; it carries no locking of its own.
type Stream struct {
	id         string
	sessionID  string
	status     StreamStatus
	source     any
	plan       *analyzer.Plan
	createdAt  time.Time
	startedAt  time.Time
	endedAt    time.Time
	delivered  int
	skipped    int
	failReason string
}

// ID returns the stream identifier.
func (s *Stream) ID() string { return s.id }

// SessionID returns the owning session's identifier.
func (s *Stream) SessionID() string { return s.sessionID }

// Status returns the current stream status.
func (s *Stream) Status() StreamStatus { return s.status }

// Source returns the raw document the stream was created from.
func (s *Stream) Source() any { return s.source }

// HasPlan reports whether a streaming plan has been attached.
func (s *Stream) HasPlan() bool { return s.plan != nil }

// FramesRemaining returns the number of frames not yet delivered, zero
// when no plan is attached.
func (s *Stream) FramesRemaining() int {
	if s.plan == nil {
		return 0
	}
	return s.plan.Len()
}

// FramesDelivered returns the number of frames pulled so far.
func (s *Stream) FramesDelivered() int { return s.delivered }

// FramesSkipped returns the number of patch frames dropped because
// they fell below the session's delivery threshold.
func (s *Stream) FramesSkipped() int { return s.skipped }

// CreatedAt returns when the stream was created.
func (s *Stream) CreatedAt() time.Time { return s.createdAt }

// StartedAt returns when delivery started, zero if never started.
func (s *Stream) StartedAt() time.Time { return s.startedAt }

// EndedAt returns when the stream reached a terminal status, zero while
// live.
func (s *Stream) EndedAt() time.Time { return s.endedAt }

// FailReason returns the failure reason, empty unless failed.
func (s *Stream) FailReason() string { return s.failReason }
