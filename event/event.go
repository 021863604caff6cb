// Package event defines the domain events emitted by session and stream
// state transitions, and the publishers that carry them to interested
// consumers.
//
// Aggregates never publish directly: they append events to a pending
// buffer, the service drains the buffer after persisting, and hands the
// batch to a Publisher. Losing an event is therefore a delivery concern,
// never a state-consistency one.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/c360/pjstream/pkg/timestamp"
)

// Kind names a domain event type. The value doubles as the NATS subject
// suffix, so kinds stay lowercase dot-separated.
type Kind string

const (
	SessionCreated   Kind = "session.created"
	SessionActivated Kind = "session.activated"
	SessionClosed    Kind = "session.closed"
	SessionExpired   Kind = "session.expired"

	StreamCreated   Kind = "stream.created"
	StreamStarted   Kind = "stream.started"
	StreamCompleted Kind = "stream.completed"
	StreamFailed    Kind = "stream.failed"
	StreamCancelled Kind = "stream.cancelled"

	SkeletonGenerated Kind = "skeleton.generated"
	PatchesGenerated  Kind = "patches.generated"
	ThresholdAdjusted Kind = "priority.threshold_adjusted"
)

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	switch k {
	case SessionCreated, SessionActivated, SessionClosed, SessionExpired,
		StreamCreated, StreamStarted, StreamCompleted, StreamFailed, StreamCancelled,
		SkeletonGenerated, PatchesGenerated, ThresholdAdjusted:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// Event is an append-only fact describing one state change. Events are
// immutable once created; Attrs carries kind-specific detail (frame
// counts, failure reasons, threshold values).
type Event struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	SessionID string         `json:"session_id"`
	StreamID  string         `json:"stream_id,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// New creates an event stamped with a fresh ID and the current time in
// unix milliseconds. streamID and attrs may be empty.
func New(kind Kind, sessionID, streamID string, attrs map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		SessionID: sessionID,
		StreamID:  streamID,
		Timestamp: timestamp.ToUnixMs(time.Now()),
		Attrs:     attrs,
	}
}

// Time returns the event timestamp as time.Time.
func (e Event) Time() time.Time {
	return timestamp.FromUnixMs(e.Timestamp)
}
