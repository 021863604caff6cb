package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/pjstream/compress"
	cerrors "github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/frame"
	"github.com/c360/pjstream/pkg/buffer"
)

// envelopeOverhead is the slack on top of MaxDocumentSize allowed for
// the envelope framing around a document.
const envelopeOverhead = 4096

// wsMessage is one queued outbound message.
type wsMessage struct {
	msgType int
	data    []byte
}

// client is one websocket connection and its session. The write pump
// is the only goroutine that touches the connection's write side; all
// senders go through the outbound buffer.
type client struct {
	conn        *websocket.Conn
	sessionID   string
	connectedAt time.Time
	closed      atomic.Bool
	closeOnce   sync.Once

	outbound buffer.Buffer[wsMessage]
	notify   chan struct{}

	// Active stream state. One stream at a time per connection.
	mu           sync.Mutex
	streamID     string
	streamCancel context.CancelFunc
	codec        compress.Codec
	codecType    compress.Type
}

func newClient(conn *websocket.Conn, sessionID string, sendBuffer int) (*client, error) {
	outbound, err := buffer.NewCircularBuffer[wsMessage](sendBuffer,
		buffer.WithOverflowPolicy[wsMessage](buffer.Block))
	if err != nil {
		return nil, err
	}
	return &client{
		conn:        conn,
		sessionID:   sessionID,
		connectedAt: time.Now(),
		outbound:    outbound,
		notify:      make(chan struct{}, 1),
	}, nil
}

// enqueue queues one message for the write pump. The Block overflow
// policy makes this backpressure frame delivery when the client cannot
// keep up; it fails once the client is torn down.
func (c *client) enqueue(msg wsMessage) error {
	if c.closed.Load() {
		return cerrors.Wrap(cerrors.ErrAlreadyStopped,
			"websocket", "enqueue", "queue message")
	}
	if err := c.outbound.Write(msg); err != nil {
		return err
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// activeStream returns the current stream state.
func (c *client) activeStream() (string, compress.Codec, compress.Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamID, c.codec, c.codecType
}

// readPump consumes request envelopes until the connection dies. Pongs
// and reads both push the deadline forward; a silent client times out.
func (s *Server) readPump(wg *sync.WaitGroup, c *client) {
	defer wg.Done()
	defer s.removeClient(c, "read_closed")

	s.mu.RLock()
	shutdown := s.shutdown
	s.mu.RUnlock()

	c.conn.SetReadLimit(s.config.MaxDocumentSize + envelopeOverhead)
	_ = c.conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	})

	for {
		select {
		case <-shutdown:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			// Oversized messages get a 1009 close from the library
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
		s.dispatch(c, data)
	}
}

// writePump owns the connection's write side: it drains the outbound
// buffer and keeps the connection alive with pings.
func (s *Server) writePump(wg *sync.WaitGroup, c *client) {
	defer wg.Done()
	defer s.removeClient(c, "write_closed")

	s.mu.RLock()
	shutdown := s.shutdown
	s.mu.RUnlock()

	ticker := time.NewTicker(s.config.PongTimeout * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			_ = s.drainOutbound(c)
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.notify:
			if err := s.drainOutbound(c); err != nil {
				return
			}
		}
	}
}

// drainBatch bounds how many queued messages leave the ring per lock
// acquisition while draining.
const drainBatch = 32

func (s *Server) drainOutbound(c *client) error {
	for {
		msgs := c.outbound.ReadBatch(drainBatch)
		if len(msgs) == 0 {
			return nil
		}
		for _, msg := range msgs {
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := c.conn.WriteMessage(msg.msgType, msg.data); err != nil {
				s.metrics.recordError("client_write")
				return err
			}
		}
	}
}

// dispatch routes one request envelope.
func (s *Server) dispatch(c *client, data []byte) {
	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.metrics.recordError("malformed_envelope")
		s.sendEnvelope(c, errorEnvelope("", cerrors.WrapInvalid(
			fmt.Errorf("%w: malformed request envelope", cerrors.ErrInvalidInput),
			"websocket", "dispatch", "parse envelope")))
		return
	}

	switch env.Action {
	case actionStream:
		s.handleStreamAction(c, env)
	case actionCancel:
		s.handleCancelAction(c)
	case actionAdjust:
		s.handleAdjustAction(c, env)
	default:
		s.sendEnvelope(c, errorEnvelope("", cerrors.WrapInvalid(
			fmt.Errorf("%w: unknown action %q", cerrors.ErrInvalidInput, env.Action),
			"websocket", "dispatch", "route action")))
	}
}

// handleStreamAction opens a stream for the carried document and
// starts delivering its frames. Compression is negotiated here and
// applies to the whole stream.
func (s *Server) handleStreamAction(c *client, env clientEnvelope) {
	codecType := compress.Type(env.Compression)
	codec, err := compress.ForType(codecType)
	if err != nil {
		s.sendEnvelope(c, errorEnvelope("", err))
		return
	}
	if codecType == "" {
		codecType = compress.None
	}

	if len(env.Document) == 0 {
		s.sendEnvelope(c, errorEnvelope("", cerrors.WrapInvalid(
			fmt.Errorf("%w: stream request carries no document", cerrors.ErrInvalidInput),
			"websocket", "handleStreamAction", "validate document")))
		return
	}
	var doc any
	if err := json.Unmarshal(env.Document, &doc); err != nil {
		s.sendEnvelope(c, errorEnvelope("", cerrors.WrapInvalid(
			fmt.Errorf("%w: malformed document", cerrors.ErrInvalidInput),
			"websocket", "handleStreamAction", "parse document")))
		return
	}

	if id, _, _ := c.activeStream(); id != "" {
		s.sendEnvelope(c, errorEnvelope(id, cerrors.Wrap(
			fmt.Errorf("%w: a stream is already active on this connection", cerrors.ErrStreamLimit),
			"websocket", "handleStreamAction", "check active stream")))
		return
	}

	streamID, err := s.streaming.OpenStream(context.Background(), c.sessionID, doc)
	if err != nil {
		s.metrics.recordError("stream_open")
		s.sendEnvelope(c, errorEnvelope("", err))
		return
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.streamID = streamID
	c.streamCancel = cancel
	c.codec = codec
	c.codecType = codecType
	c.mu.Unlock()

	s.sendEnvelope(c, serverEnvelope{
		Type:        typeAccepted,
		StreamID:    streamID,
		Compression: codecType.String(),
	})

	s.mu.RLock()
	wg := s.wg
	s.mu.RUnlock()
	if wg == nil {
		cancel()
		return
	}
	wg.Add(1)
	go s.deliverFrames(streamCtx, wg, c, streamID)
}

// handleCancelAction cancels the active stream.
func (s *Server) handleCancelAction(c *client) {
	c.mu.Lock()
	streamID := c.streamID
	cancel := c.streamCancel
	c.mu.Unlock()

	if streamID == "" {
		s.sendEnvelope(c, errorEnvelope("", cerrors.WrapInvalid(
			fmt.Errorf("%w: no active stream to cancel", cerrors.ErrInvalidInput),
			"websocket", "handleCancelAction", "check active stream")))
		return
	}
	if cancel != nil {
		cancel()
	}

	if err := s.streaming.CancelStream(context.Background(), c.sessionID, streamID); err != nil {
		// The deliverer may have completed the stream first
		s.sendEnvelope(c, errorEnvelope(streamID, err))
		return
	}

	c.mu.Lock()
	if c.streamID == streamID {
		c.streamID = ""
		c.streamCancel = nil
		c.codec = nil
		c.codecType = ""
	}
	c.mu.Unlock()
	s.sendEnvelope(c, serverEnvelope{Type: typeCancelled, StreamID: streamID})
}

// handleAdjustAction moves the connection session's delivery threshold.
// Frames already queued outbound are unaffected; later pulls drop
// patch frames below the new threshold.
func (s *Server) handleAdjustAction(c *client, env clientEnvelope) {
	if env.Delta < 1 || env.Delta > 255 {
		s.sendEnvelope(c, errorEnvelope("", cerrors.WrapInvalid(
			fmt.Errorf("%w: delta must be between 1 and 255", cerrors.ErrInvalidInput),
			"websocket", "handleAdjustAction", "validate delta")))
		return
	}

	threshold, err := s.streaming.AdjustPriority(context.Background(), c.sessionID, uint8(env.Delta), env.Raise)
	if err != nil {
		s.metrics.recordError("priority_adjust")
		s.sendEnvelope(c, errorEnvelope("", err))
		return
	}
	s.sendEnvelope(c, serverEnvelope{Type: typeAdjusted, Threshold: threshold.Value()})
}

// deliverFrames pulls frames for one stream and queues them to the
// client, pacing with the configured limiter. The skeleton goes out
// unpaced.
func (s *Server) deliverFrames(ctx context.Context, wg *sync.WaitGroup, c *client, streamID string) {
	defer wg.Done()

	start := time.Now()
	delivered := 0
	limiter := s.newFrameLimiter()

	// Stream state must be cleared before any terminal envelope goes
	// out, or a prompt follow-up request would see the slot still busy.
	clearStream := func() {
		c.mu.Lock()
		if c.streamID == streamID {
			c.streamID = ""
			c.streamCancel = nil
			c.codec = nil
			c.codecType = ""
		}
		c.mu.Unlock()
	}
	defer clearStream()

	for {
		f, more, err := s.streaming.PullFrame(ctx, c.sessionID, streamID)
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled
				return
			}
			s.metrics.recordError("frame_pull")
			clearStream()
			s.sendEnvelope(c, errorEnvelope(streamID, err))
			return
		}
		if !more {
			break
		}

		if err := s.enqueueFrame(c, streamID, f); err != nil {
			return
		}
		delivered++

		if f.Terminal() {
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
	}

	clearStream()
	s.sendEnvelope(c, serverEnvelope{Type: typeDone, StreamID: streamID, Frames: delivered})
	if s.metrics != nil {
		s.metrics.streamDuration.Observe(time.Since(start).Seconds())
	}
}

// enqueueFrame wraps one frame in an envelope and queues it. Streams
// that negotiated compression get the envelope compressed into a
// binary message; everything else travels as text.
func (s *Server) enqueueFrame(c *client, streamID string, f frame.Frame) error {
	frameData, err := json.Marshal(f)
	if err != nil {
		s.metrics.recordError("frame_marshal")
		return err
	}
	payload, err := json.Marshal(serverEnvelope{
		Type:     typeFrame,
		StreamID: streamID,
		Sequence: f.Sequence(),
		Frame:    frameData,
	})
	if err != nil {
		s.metrics.recordError("envelope_marshal")
		return err
	}

	msgType := websocket.TextMessage
	_, codec, codecType := c.activeStream()
	if codec != nil && codecType != compress.None {
		compressed, cerr := codec.Compress(payload)
		if cerr != nil {
			s.metrics.recordError("compress")
			// Fall back to the text form; clients switch on message type
		} else {
			payload = compressed
			msgType = websocket.BinaryMessage
		}
	}

	if err := c.enqueue(wsMessage{msgType: msgType, data: payload}); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.framesSent.WithLabelValues(string(f.Kind())).Inc()
		s.metrics.bytesSent.Add(float64(len(payload)))
		s.metrics.messageSizeBytes.WithLabelValues(codecType.String()).Observe(float64(len(payload)))
	}
	return nil
}

// sendEnvelope queues a control envelope as a text message.
func (s *Server) sendEnvelope(c *client, env serverEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		s.metrics.recordError("envelope_marshal")
		return
	}
	if err := c.enqueue(wsMessage{msgType: websocket.TextMessage, data: payload}); err != nil {
		return
	}
	if s.metrics != nil {
		s.metrics.bytesSent.Add(float64(len(payload)))
	}
}
