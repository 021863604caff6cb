package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/pjstream/frame"
	"github.com/c360/pjstream/session"
)

// oneShotCloseTimeout bounds the cleanup of an ephemeral session after
// its response ends. The request context is unusable by then.
const oneShotCloseTimeout = 5 * time.Second

// handleStreamFrames delivers a stream's frames as Server-Sent Events.
// Each frame is one event: the event name is the frame kind, the event
// id is the frame sequence, the data is the frame's wire JSON. A
// reconnecting client resumes automatically because delivery position
// lives server-side; the Last-Event-ID header needs no handling.
func (g *Gateway) handleStreamFrames(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	streamID := r.PathValue("sid")

	sess, err := g.streaming.GetSession(r.Context(), sessionID)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	if _, err := sess.Stream(streamID); err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	g.streamFrames(w, r, sessionID, streamID)
}

// handleOneShotStream is the canonical request/response shape: the
// posted document gets an ephemeral single-stream session and the
// frames come back as the SSE response. Bad documents fail with a JSON
// status before any frame is sent.
func (g *Gateway) handleOneShotStream(w http.ResponseWriter, r *http.Request) {
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}
	doc, err := decodeDocument(body)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	ctx := r.Context()
	sessionID, err := g.streaming.CreateSession(ctx, session.Config{MaxConcurrentStreams: 1})
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), oneShotCloseTimeout)
		defer cancel()
		if err := g.streaming.CloseSession(closeCtx, sessionID); err != nil {
			g.logger.Warn("One-shot session close failed",
				"session_id", sessionID, "error", err)
		}
	}()

	streamID, err := g.streaming.OpenStream(ctx, sessionID, doc)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	g.streamFrames(w, r, sessionID, streamID)
}

// streamFrames runs the pull loop. The first frame is pulled before
// any SSE bytes go out so state errors still reach the client as JSON
// status codes; after that, errors travel as SSE error events. The
// skeleton goes out unpaced, later frames wait on the limiter.
func (g *Gateway) streamFrames(w http.ResponseWriter, r *http.Request, sessionID, streamID string) {
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		g.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()

	f, more, err := g.streaming.PullFrame(ctx, sessionID, streamID)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	if g.sseActive != nil {
		g.sseActive.Inc()
		defer g.sseActive.Dec()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", g.config.SSERetry.Milliseconds()); err != nil {
		return
	}
	flusher.Flush()

	limiter := g.newFrameLimiter()

	for more {
		if err := g.writeFrameEvent(w, flusher, f); err != nil {
			return
		}
		if f.Terminal() {
			return
		}

		if err := limiter.Wait(ctx); err != nil {
			// Client went away
			return
		}

		f, more, err = g.streaming.PullFrame(ctx, sessionID, streamID)
		if err != nil {
			g.writeSSEError(w, flusher, err)
			return
		}
	}
}

// newFrameLimiter builds the per-connection pacing limiter.
func (g *Gateway) newFrameLimiter() *rate.Limiter {
	if g.config.FramesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(g.config.FramesPerSecond), g.config.Burst)
}

// writeFrameEvent emits one frame as an SSE event and records its
// encoded size.
func (g *Gateway) writeFrameEvent(w io.Writer, flusher http.Flusher, f frame.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n",
		f.Kind(), f.Sequence(), data); err != nil {
		return err
	}
	flusher.Flush()

	if g.metrics != nil {
		g.metrics.RecordFrameEmitted(string(f.Kind()), len(data))
	}
	return nil
}

// writeSSEError reports a mid-stream failure as an SSE error event.
// The HTTP status is long gone at this point.
func (g *Gateway) writeSSEError(w io.Writer, flusher http.Flusher, err error) {
	payload, _ := json.Marshal(map[string]any{
		"error":  sanitizeError(err),
		"status": errorStatus(err),
	})
	if _, werr := fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload); werr != nil {
		return
	}
	flusher.Flush()
}
