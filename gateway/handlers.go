package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/c360/pjstream/health"
	"github.com/c360/pjstream/pkg/timestamp"
	"github.com/c360/pjstream/session"
	"github.com/c360/pjstream/store"
)

// createSessionRequest carries optional session bounds. Zero fields
// fall back to the service defaults.
type createSessionRequest struct {
	MaxConcurrentStreams int   `json:"max_concurrent_streams,omitempty"`
	TimeoutMs            int64 `json:"timeout_ms,omitempty"`
}

// adjustPriorityRequest moves the session's delivery threshold by
// delta in the named direction.
type adjustPriorityRequest struct {
	Delta int  `json:"delta"`
	Raise bool `json:"raise"`
}

type adjustPriorityResponse struct {
	ID                string `json:"id"`
	PriorityThreshold uint8  `json:"priority_threshold"`
}

// sessionResponse is the wire form of a session. Timestamps are Unix
// milliseconds; zero means the session never reached that state.
type sessionResponse struct {
	ID                   string           `json:"id"`
	Status               string           `json:"status"`
	PriorityThreshold    uint8            `json:"priority_threshold"`
	MaxConcurrentStreams int              `json:"max_concurrent_streams"`
	TimeoutMs            int64            `json:"timeout_ms"`
	CreatedAt            int64            `json:"created_at"`
	ActivatedAt          int64            `json:"activated_at,omitempty"`
	ClosedAt             int64            `json:"closed_at,omitempty"`
	LastActiveAt         int64            `json:"last_active_at,omitempty"`
	Streams              []streamResponse `json:"streams,omitempty"`
}

type streamResponse struct {
	ID              string `json:"id"`
	SessionID       string `json:"session_id"`
	Status          string `json:"status"`
	FramesDelivered int    `json:"frames_delivered"`
	FramesRemaining int    `json:"frames_remaining"`
	FramesSkipped   int    `json:"frames_skipped,omitempty"`
	FailReason      string `json:"fail_reason,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	StartedAt       int64  `json:"started_at,omitempty"`
	EndedAt         int64  `json:"ended_at,omitempty"`
}

type sessionListResponse struct {
	Sessions []sessionResponse `json:"sessions"`
	Count    int               `json:"count"`
}

func sessionToResponse(sess *session.Session, includeStreams bool) sessionResponse {
	cfg := sess.Config()
	resp := sessionResponse{
		ID:                   sess.ID(),
		Status:               sess.Status().String(),
		PriorityThreshold:    uint8(sess.PriorityThreshold()),
		MaxConcurrentStreams: cfg.MaxConcurrentStreams,
		TimeoutMs:            cfg.Timeout.Milliseconds(),
		CreatedAt:            timestamp.ToUnixMs(sess.CreatedAt()),
		ActivatedAt:          timestamp.ToUnixMs(sess.ActivatedAt()),
		ClosedAt:             timestamp.ToUnixMs(sess.ClosedAt()),
		LastActiveAt:         timestamp.ToUnixMs(sess.LastActiveAt()),
	}
	if includeStreams {
		for _, st := range sess.Streams() {
			resp.Streams = append(resp.Streams, streamToResponse(st))
		}
	}
	return resp
}

func streamToResponse(st *session.Stream) streamResponse {
	return streamResponse{
		ID:              st.ID(),
		SessionID:       st.SessionID(),
		Status:          st.Status().String(),
		FramesDelivered: st.FramesDelivered(),
		FramesRemaining: st.FramesRemaining(),
		FramesSkipped:   st.FramesSkipped(),
		FailReason:      st.FailReason(),
		CreatedAt:       timestamp.ToUnixMs(st.CreatedAt()),
		StartedAt:       timestamp.ToUnixMs(st.StartedAt()),
		EndedAt:         timestamp.ToUnixMs(st.EndedAt()),
	}
}

// handleCreateSession creates and activates a session. The body is
// optional; an empty body takes the service defaults.
func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}

	var req createSessionRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			g.writeError(w, http.StatusBadRequest, "malformed session request")
			return
		}
	}
	if req.MaxConcurrentStreams < 0 || req.TimeoutMs < 0 {
		g.writeError(w, http.StatusBadRequest, "session bounds cannot be negative")
		return
	}

	cfg := session.Config{
		MaxConcurrentStreams: req.MaxConcurrentStreams,
		Timeout:              time.Duration(req.TimeoutMs) * time.Millisecond,
	}

	id, err := g.streaming.CreateSession(r.Context(), cfg)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	sess, err := g.streaming.GetSession(r.Context(), id)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, sessionToResponse(sess, false))
}

// handleListSessions lists sessions with validated pagination.
// Filters: status, created_after, created_before (RFC3339). Paging:
// limit, offset, sort_by, desc.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	crit, page, err := parseListQuery(r)
	if err != nil {
		g.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions, err := g.streaming.ListSessions(r.Context(), crit, page)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	resp := sessionListResponse{Sessions: make([]sessionResponse, 0, len(sessions))}
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, sessionToResponse(sess, false))
	}
	resp.Count = len(resp.Sessions)
	g.writeJSON(w, http.StatusOK, resp)
}

func parseListQuery(r *http.Request) (store.Criteria, store.Page, error) {
	q := r.URL.Query()

	var crit store.Criteria
	if status := q.Get("status"); status != "" {
		st := session.Status(status)
		if !st.Valid() {
			return crit, store.Page{}, fmt.Errorf("unknown status %q", status)
		}
		crit.Status = st
	}
	if after := q.Get("created_after"); after != "" {
		t, err := time.Parse(time.RFC3339, after)
		if err != nil {
			return crit, store.Page{}, fmt.Errorf("created_after must be RFC3339")
		}
		crit.CreatedAfter = t
	}
	if before := q.Get("created_before"); before != "" {
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return crit, store.Page{}, fmt.Errorf("created_before must be RFC3339")
		}
		crit.CreatedBefore = t
	}

	var page store.Page
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return crit, page, fmt.Errorf("limit must be an integer")
		}
		page.Limit = n
	}
	if offset := q.Get("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil {
			return crit, page, fmt.Errorf("offset must be an integer")
		}
		page.Offset = n
	}
	page.SortBy = store.SortField(q.Get("sort_by"))
	page.Desc = q.Get("desc") == "true"

	// Range checks happen in the repository; this only rejects values
	// that never parse
	return crit, page, nil
}

// handleGetSession returns a session with its streams. The optional at
// parameter (RFC3339) asks for the session as stored at that instant,
// resolved from the repository's short revision trail.
func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var (
		sess *session.Session
		err  error
	)
	if atParam := r.URL.Query().Get("at"); atParam != "" {
		at, parseErr := time.Parse(time.RFC3339, atParam)
		if parseErr != nil {
			g.writeError(w, http.StatusBadRequest, "at must be RFC3339")
			return
		}
		sess, err = g.streaming.GetSessionAt(r.Context(), id, at)
	} else {
		sess, err = g.streaming.GetSession(r.Context(), id)
	}
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, sessionToResponse(sess, true))
}

// handleCloseSession closes a session, cancelling its live streams.
func (g *Gateway) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.streaming.CloseSession(r.Context(), id); err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	sess, err := g.streaming.GetSession(r.Context(), id)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, sessionToResponse(sess, false))
}

// handleAdjustPriority moves the session's delivery threshold.
// Subsequent frame pulls on any of the session's streams drop patch
// frames below the new threshold, letting a degraded client shed
// low-value patches without losing shape or completion.
func (g *Gateway) handleAdjustPriority(w http.ResponseWriter, r *http.Request) {
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}

	var req adjustPriorityRequest
	if err := json.Unmarshal(body, &req); err != nil {
		g.writeError(w, http.StatusBadRequest, "malformed priority request")
		return
	}
	if req.Delta < 1 || req.Delta > 255 {
		g.writeError(w, http.StatusBadRequest, "delta must be between 1 and 255")
		return
	}

	id := r.PathValue("id")
	threshold, err := g.streaming.AdjustPriority(r.Context(), id, uint8(req.Delta), req.Raise)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, adjustPriorityResponse{
		ID:                id,
		PriorityThreshold: threshold.Value(),
	})
}

// handleOpenStream opens a stream for the posted JSON document. The
// body is the document itself. Documents that violate analysis limits
// are rejected here, before any frame exists.
func (g *Gateway) handleOpenStream(w http.ResponseWriter, r *http.Request) {
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}
	doc, err := decodeDocument(body)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	sessionID := r.PathValue("id")
	streamID, err := g.streaming.OpenStream(r.Context(), sessionID, doc)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	sess, err := g.streaming.GetSession(r.Context(), sessionID)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	st, err := sess.Stream(streamID)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, streamToResponse(st))
}

// handleCancelStream abandons a live stream.
func (g *Gateway) handleCancelStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	streamID := r.PathValue("sid")
	if err := g.streaming.CancelStream(r.Context(), sessionID, streamID); err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	sess, err := g.streaming.GetSession(r.Context(), sessionID)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	st, err := sess.Stream(streamID)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, streamToResponse(st))
}

// handleHealth reports aggregate health for the gateway and the
// streaming service behind it. Unhealthy aggregates answer 503 so
// load balancers stop routing here; degraded still answers 200.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	info := g.streaming.GetStatus()
	streamingHealth := g.streaming.Health().WithMetrics(&health.Metrics{
		Uptime:       info.Uptime,
		LastActivity: info.LastActivity,
	})

	agg := health.Aggregate("pjstream", []health.Status{
		health.NewHealthy("gateway", "serving"),
		streamingHealth,
	})

	code := http.StatusOK
	if agg.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	g.writeJSON(w, code, agg)
}
