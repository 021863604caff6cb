package session

import (
	"fmt"
	"time"

	"github.com/c360/pjstream/analyzer"
	"github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/priority"
	"github.com/c360/pjstream/pkg/timestamp"
)

// Snapshot is the persistable form of a Session. Pending events are
// deliberately absent: the service drains and publishes them before
// saving, so a restored session never replays old facts.
type Snapshot struct {
	ID                   string           `json:"id"`
	Status               Status           `json:"status"`
	MaxConcurrentStreams int              `json:"max_concurrent_streams"`
	TimeoutMs            int64            `json:"timeout_ms"`
	CreatedAt            int64            `json:"created_at"`
	ActivatedAt          int64            `json:"activated_at,omitempty"`
	ClosedAt             int64            `json:"closed_at,omitempty"`
	LastActiveAt         int64            `json:"last_active_at,omitempty"`
	PriorityThreshold    uint8            `json:"priority_threshold"`
	Streams              []StreamSnapshot `json:"streams,omitempty"`
}

// StreamSnapshot is the persistable form of a Stream, including its
// plan position so delivery resumes where it stopped.
type StreamSnapshot struct {
	ID              string             `json:"id"`
	Status          StreamStatus       `json:"status"`
	Source          any                `json:"source,omitempty"`
	Plan            *analyzer.Snapshot `json:"plan,omitempty"`
	CreatedAt       int64              `json:"created_at"`
	StartedAt       int64              `json:"started_at,omitempty"`
	EndedAt         int64              `json:"ended_at,omitempty"`
	FramesDelivered int                `json:"frames_delivered"`
	FramesSkipped   int                `json:"frames_skipped,omitempty"`
	FailReason      string             `json:"fail_reason,omitempty"`
}

// Snapshot captures the session and all its streams.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:                   s.id,
		Status:               s.status,
		MaxConcurrentStreams: s.config.MaxConcurrentStreams,
		TimeoutMs:            s.config.Timeout.Milliseconds(),
		CreatedAt:            timestamp.ToUnixMs(s.createdAt),
		ActivatedAt:          timestamp.ToUnixMs(s.activatedAt),
		ClosedAt:             timestamp.ToUnixMs(s.closedAt),
		LastActiveAt:         timestamp.ToUnixMs(s.lastActive),
		PriorityThreshold:    s.threshold.Value(),
	}
	for _, id := range s.order {
		st := s.streams[id]
		ss := StreamSnapshot{
			ID:              st.id,
			Status:          st.status,
			Source:          st.source,
			CreatedAt:       timestamp.ToUnixMs(st.createdAt),
			StartedAt:       timestamp.ToUnixMs(st.startedAt),
			EndedAt:         timestamp.ToUnixMs(st.endedAt),
			FramesDelivered: st.delivered,
			FramesSkipped:   st.skipped,
			FailReason:      st.failReason,
		}
		if st.plan != nil {
			planSnap := st.plan.Snapshot()
			ss.Plan = &planSnap
		}
		snap.Streams = append(snap.Streams, ss)
	}
	return snap
}

// Restore rebuilds a session from a snapshot. Invalid statuses or a
// missing ID fail with ErrInvalidInput; restoring appends no events.
func Restore(snap Snapshot) (*Session, error) {
	if snap.ID == "" {
		return nil, restoreError("session id required")
	}
	if !snap.Status.Valid() {
		return nil, restoreError(fmt.Sprintf("unknown session status %q", snap.Status))
	}

	threshold := priority.Background
	if snap.PriorityThreshold != 0 {
		p, err := priority.New(int(snap.PriorityThreshold))
		if err != nil {
			return nil, errors.Wrap(err, "Session", "Restore", "restore priority threshold")
		}
		threshold = p
	}

	s := &Session{
		id: snap.ID,
		config: Config{
			MaxConcurrentStreams: snap.MaxConcurrentStreams,
			Timeout:              time.Duration(snap.TimeoutMs) * time.Millisecond,
		}.withDefaults(),
		status:      snap.Status,
		createdAt:   timestamp.FromUnixMs(snap.CreatedAt),
		activatedAt: timestamp.FromUnixMs(snap.ActivatedAt),
		closedAt:    timestamp.FromUnixMs(snap.ClosedAt),
		lastActive:  timestamp.FromUnixMs(snap.LastActiveAt),
		threshold:   threshold,
		streams:     make(map[string]*Stream, len(snap.Streams)),
	}

	for _, ss := range snap.Streams {
		if ss.ID == "" {
			return nil, restoreError("stream id required")
		}
		if !ss.Status.Valid() {
			return nil, restoreError(fmt.Sprintf("unknown stream status %q", ss.Status))
		}
		st := &Stream{
			id:         ss.ID,
			sessionID:  snap.ID,
			status:     ss.Status,
			source:     ss.Source,
			createdAt:  timestamp.FromUnixMs(ss.CreatedAt),
			startedAt:  timestamp.FromUnixMs(ss.StartedAt),
			endedAt:    timestamp.FromUnixMs(ss.EndedAt),
			delivered:  ss.FramesDelivered,
			skipped:    ss.FramesSkipped,
			failReason: ss.FailReason,
		}
		if ss.Plan != nil {
			st.plan = analyzer.FromSnapshot(*ss.Plan)
		}
		s.streams[st.id] = st
		s.order = append(s.order, st.id)
	}
	return s, nil
}

func restoreError(detail string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidInput, detail),
		"Session", "Restore", "validate snapshot")
}
