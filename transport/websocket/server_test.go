package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/pjstream/analyzer"
	"github.com/c360/pjstream/compress"
	"github.com/c360/pjstream/config"
	"github.com/c360/pjstream/frame"
	"github.com/c360/pjstream/priority"
	"github.com/c360/pjstream/service"
	"github.com/c360/pjstream/session"
	"github.com/c360/pjstream/store"
)

func testPlatformConfig() *config.Config {
	return &config.Config{
		Streaming: config.StreamingConfig{
			Session: session.Config{
				MaxConcurrentStreams: 4,
				Timeout:              time.Minute,
			},
			Analyzer:      analyzer.DefaultConfig(),
			SweepInterval: time.Hour,
		},
	}
}

func newTestServer(t *testing.T, port int, mutate ...func(*config.Config, *Config)) (*Server, *service.StreamingService) {
	t.Helper()

	platform := testPlatformConfig()
	cfg := DefaultConfig()
	cfg.Port = port
	for _, m := range mutate {
		m(platform, &cfg)
	}

	svc, err := service.NewStreamingService(platform, &service.Dependencies{})
	require.NoError(t, err)

	srv, err := New(ConstructorConfig{
		Config:    cfg,
		Streaming: svc,
	})
	require.NoError(t, err)
	require.NoError(t, srv.Initialize())
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop(2 * time.Second) })

	time.Sleep(100 * time.Millisecond)
	return srv, svc
}

func dialTest(t *testing.T, port int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://localhost:%d/ws", port), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func testDocument(t *testing.T) string {
	t.Helper()
	doc := map[string]any{
		"id":          "prod-9931",
		"name":        "Mechanical Keyboard",
		"price":       129.99,
		"status":      "in_stock",
		"summary":     "Compact tenkeyless board with hot-swap sockets",
		"description": strings.Repeat("Long-form marketing copy. ", 50),
		"specs": map[string]any{
			"layout":   "tkl",
			"switches": "tactile",
			"weight_g": 780,
		},
		"reviews": []any{"Great board", "Solid build", "Loud but worth it"},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(data)
}

func sendStream(t *testing.T, conn *websocket.Conn, doc, compression string) {
	t.Helper()
	payload, err := json.Marshal(clientEnvelope{
		Action:      actionStream,
		Document:    json.RawMessage(doc),
		Compression: compression,
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

// readEnvelope reads one server envelope, decompressing binary
// messages with the supplied codec.
func readEnvelope(t *testing.T, conn *websocket.Conn, codec compress.Codec) (serverEnvelope, int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	if msgType == websocket.BinaryMessage {
		require.NotNil(t, codec, "binary message on an uncompressed stream")
		data, err = codec.Decompress(data)
		require.NoError(t, err)
	}
	var env serverEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env, msgType
}

// collectFrames reads frame envelopes until the done envelope arrives.
func collectFrames(t *testing.T, conn *websocket.Conn, codec compress.Codec) ([]frame.Frame, serverEnvelope) {
	t.Helper()
	var frames []frame.Frame
	for {
		env, _ := readEnvelope(t, conn, codec)
		switch env.Type {
		case typeFrame:
			var f frame.Frame
			require.NoError(t, json.Unmarshal(env.Frame, &f))
			frames = append(frames, f)
		case typeDone:
			return frames, env
		default:
			t.Fatalf("unexpected envelope type %q (error %q, code %d)", env.Type, env.Error, env.Code)
		}
	}
}

func TestNew_RequiresStreaming(t *testing.T) {
	_, err := New(ConstructorConfig{Config: DefaultConfig()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "streaming service")
}

func TestInitialize_ValidatesConfig(t *testing.T) {
	svc, err := service.NewStreamingService(testPlatformConfig(), &service.Dependencies{})
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(*Config) {}, false},
		{"privileged port", func(c *Config) { c.Port = 80 }, true},
		{"port too high", func(c *Config) { c.Port = 70000 }, true},
		{"negative frame rate", func(c *Config) { c.FramesPerSecond = -1 }, true},
		{"negative document size", func(c *Config) { c.MaxDocumentSize = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			srv, err := New(ConstructorConfig{Config: cfg, Streaming: svc})
			require.NoError(t, err)
			err = srv.Initialize()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInitialize_FillsDefaults(t *testing.T) {
	svc, err := service.NewStreamingService(testPlatformConfig(), &service.Dependencies{})
	require.NoError(t, err)

	srv, err := New(ConstructorConfig{
		Config:    Config{Port: 9310, FramesPerSecond: 2},
		Streaming: svc,
	})
	require.NoError(t, err)
	require.NoError(t, srv.Initialize())

	assert.Equal(t, "/ws", srv.config.Path)
	assert.Equal(t, int64(DefaultMaxDocumentSize), srv.config.MaxDocumentSize)
	assert.Equal(t, 1, srv.config.Burst)
	assert.Equal(t, DefaultSendBuffer, srv.config.SendBuffer)
	assert.Equal(t, DefaultPongTimeout, srv.config.PongTimeout)
	assert.Equal(t, DefaultWriteTimeout, srv.config.WriteTimeout)
}

func TestFromPlatform(t *testing.T) {
	assert.Equal(t, DefaultConfig(), FromPlatform(nil))

	platform := testPlatformConfig()
	platform.Server.Host = "0.0.0.0"
	platform.Server.WebSocketPort = 9100
	platform.Server.WebSocketPath = "/stream"
	platform.Server.MaxRequestSize = 2048
	platform.Streaming.Delivery.FramesPerSecond = 5
	platform.Streaming.Delivery.Burst = 2

	cfg := FromPlatform(platform)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "/stream", cfg.Path)
	assert.Equal(t, int64(2048), cfg.MaxDocumentSize)
	assert.Equal(t, float64(5), cfg.FramesPerSecond)
	assert.Equal(t, 2, cfg.Burst)
}

func TestStreamLifecycle(t *testing.T) {
	_, svc := newTestServer(t, 8911)
	conn := dialTest(t, 8911)

	sendStream(t, conn, testDocument(t), "")

	accepted, msgType := readEnvelope(t, conn, nil)
	require.Equal(t, typeAccepted, accepted.Type)
	require.NotEmpty(t, accepted.StreamID)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.Equal(t, "none", accepted.Compression)

	frames, done := collectFrames(t, conn, nil)
	require.NotEmpty(t, frames)

	assert.Equal(t, frame.KindSkeleton, frames[0].Kind())
	for i, f := range frames {
		assert.Equal(t, uint64(i+1), f.Sequence())
		assert.Equal(t, accepted.StreamID, f.StreamID())
	}

	last := frames[len(frames)-1]
	assert.Equal(t, frame.KindComplete, last.Kind())
	assert.True(t, last.Terminal())
	assert.NotEmpty(t, last.Checksum())

	var priorities []uint8
	for _, f := range frames[1 : len(frames)-1] {
		require.Equal(t, frame.KindPatch, f.Kind())
		priorities = append(priorities, uint8(f.Priority()))
	}
	for i := 1; i < len(priorities); i++ {
		assert.LessOrEqual(t, priorities[i], priorities[i-1],
			"patch priorities must not increase")
	}

	assert.Equal(t, accepted.StreamID, done.StreamID)
	assert.Equal(t, len(frames), done.Frames)

	// The connection's session stays open for further streams
	sessions, err := svc.ListSessions(context.Background(), store.Criteria{Status: session.StatusActive}, store.Page{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	sendStream(t, conn, `{"answer": 42}`, "")
	accepted2, _ := readEnvelope(t, conn, nil)
	require.Equal(t, typeAccepted, accepted2.Type)
	require.NotEqual(t, accepted.StreamID, accepted2.StreamID)

	frames2, done2 := collectFrames(t, conn, nil)
	require.NotEmpty(t, frames2)
	assert.Equal(t, accepted2.StreamID, done2.StreamID)
}

func TestStreamCompression(t *testing.T) {
	newTestServer(t, 8912)
	conn := dialTest(t, 8912)

	codec, err := compress.ForType(compress.S2)
	require.NoError(t, err)

	sendStream(t, conn, testDocument(t), "s2")

	accepted, msgType := readEnvelope(t, conn, nil)
	require.Equal(t, typeAccepted, accepted.Type)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.Equal(t, "s2", accepted.Compression)

	sawBinary := false
	for {
		env, msgType := readEnvelope(t, conn, codec)
		if env.Type == typeFrame {
			require.Equal(t, websocket.BinaryMessage, msgType)
			sawBinary = true
			var f frame.Frame
			require.NoError(t, json.Unmarshal(env.Frame, &f))
			assert.Equal(t, accepted.StreamID, f.StreamID())
			continue
		}
		require.Equal(t, typeDone, env.Type)
		assert.Equal(t, websocket.TextMessage, msgType)
		break
	}
	assert.True(t, sawBinary, "compressed stream sent no binary frames")
}

func TestStreamRejections(t *testing.T) {
	newTestServer(t, 8913)
	conn := dialTest(t, 8913)

	send := func(t *testing.T, payload string) serverEnvelope {
		t.Helper()
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
		env, _ := readEnvelope(t, conn, nil)
		require.Equal(t, typeError, env.Type)
		return env
	}

	t.Run("malformed envelope", func(t *testing.T) {
		env := send(t, "{not json")
		assert.Equal(t, 400, env.Code)
		assert.Equal(t, "invalid input document", env.Error)
	})

	t.Run("unknown action", func(t *testing.T) {
		env := send(t, `{"action": "subscribe"}`)
		assert.Equal(t, 400, env.Code)
		assert.Equal(t, "invalid input document", env.Error)
	})

	t.Run("missing document", func(t *testing.T) {
		env := send(t, `{"action": "stream"}`)
		assert.Equal(t, 400, env.Code)
		assert.Equal(t, "invalid input document", env.Error)
	})

	t.Run("unknown compression", func(t *testing.T) {
		env := send(t, `{"action": "stream", "document": {"a": 1}, "compression": "brotli"}`)
		assert.Equal(t, 400, env.Code)
		assert.Equal(t, "invalid request", env.Error)
	})

	t.Run("cancel without stream", func(t *testing.T) {
		env := send(t, `{"action": "cancel"}`)
		assert.Equal(t, 400, env.Code)
		assert.Equal(t, "invalid input document", env.Error)
	})

	// The connection survives rejected requests
	t.Run("streams after rejections", func(t *testing.T) {
		sendStream(t, conn, `{"ok": true}`, "")
		env, _ := readEnvelope(t, conn, nil)
		assert.Equal(t, typeAccepted, env.Type)
		collectFrames(t, conn, nil)
	})
}

func TestStreamDepthLimit(t *testing.T) {
	newTestServer(t, 8914, func(p *config.Config, _ *Config) {
		p.Streaming.Analyzer.Limits = analyzer.Limits{MaxDepth: 2}
	})
	conn := dialTest(t, 8914)

	sendStream(t, conn, `{"a": {"b": {"c": 1}}}`, "")

	env, _ := readEnvelope(t, conn, nil)
	require.Equal(t, typeError, env.Type)
	assert.Equal(t, 400, env.Code)
	assert.Equal(t, "maximum nesting depth exceeded", env.Error)
}

func TestStreamBusyAndCancel(t *testing.T) {
	newTestServer(t, 8915, func(_ *config.Config, c *Config) {
		c.FramesPerSecond = 2
		c.Burst = 1
	})
	conn := dialTest(t, 8915)

	sendStream(t, conn, testDocument(t), "")
	accepted, _ := readEnvelope(t, conn, nil)
	require.Equal(t, typeAccepted, accepted.Type)

	// A second request while the first stream is still delivering
	sendStream(t, conn, `{"x": 1}`, "")
	var busy serverEnvelope
	for {
		env, _ := readEnvelope(t, conn, nil)
		if env.Type == typeError {
			busy = env
			break
		}
		require.Equal(t, typeFrame, env.Type)
	}
	assert.Equal(t, 429, busy.Code)
	assert.Equal(t, "concurrent stream limit reached", busy.Error)
	assert.Equal(t, accepted.StreamID, busy.StreamID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action": "cancel"}`)))
	for {
		env, _ := readEnvelope(t, conn, nil)
		if env.Type == typeCancelled {
			assert.Equal(t, accepted.StreamID, env.StreamID)
			break
		}
		require.Contains(t, []string{typeFrame, typeDone}, env.Type)
	}
}

func TestAdjustAction(t *testing.T) {
	_, _ = newTestServer(t, 8918)
	conn := dialTest(t, 8918)

	// Raise the threshold to High; later frames shed everything below.
	payload, err := json.Marshal(clientEnvelope{Action: actionAdjust, Delta: 70, Raise: true})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

	adjusted, _ := readEnvelope(t, conn, nil)
	require.Equal(t, typeAdjusted, adjusted.Type)
	assert.Equal(t, uint8(priority.High), adjusted.Threshold)

	sendStream(t, conn, testDocument(t), "")
	accepted, _ := readEnvelope(t, conn, nil)
	require.Equal(t, typeAccepted, accepted.Type)

	frames, done := collectFrames(t, conn, nil)
	require.NotEmpty(t, frames)
	assert.Equal(t, frame.KindSkeleton, frames[0].Kind())
	assert.Equal(t, frame.KindComplete, frames[len(frames)-1].Kind())
	for _, f := range frames {
		if f.Kind() == frame.KindPatch {
			assert.GreaterOrEqual(t, uint8(f.Priority()), uint8(priority.High),
				"below-threshold patch frame was delivered")
		}
	}
	assert.Equal(t, len(frames), done.Frames)
}

func TestAdjustActionRejectsBadDelta(t *testing.T) {
	_, _ = newTestServer(t, 8919)
	conn := dialTest(t, 8919)

	payload, err := json.Marshal(clientEnvelope{Action: actionAdjust, Delta: 0, Raise: true})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

	env, _ := readEnvelope(t, conn, nil)
	require.Equal(t, typeError, env.Type)
	assert.Equal(t, 400, env.Code)
}

func TestStopClosesClients(t *testing.T) {
	srv, svc := newTestServer(t, 8916)
	conn := dialTest(t, 8916)

	require.Eventually(t, func() bool {
		sessions, err := svc.ListSessions(context.Background(), store.Criteria{Status: session.StatusActive}, store.Page{})
		return err == nil && len(sessions) == 1
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, srv.Stop(2*time.Second))

	// The client observes the close
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	sessions, err := svc.ListSessions(context.Background(), store.Criteria{Status: session.StatusClosed}, store.Page{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestLifecycleGuards(t *testing.T) {
	srv, _ := newTestServer(t, 8917)

	assert.Equal(t, ":8917", srv.Address())
	assert.NoError(t, srv.Start(context.Background()), "second start is a no-op")

	require.NoError(t, srv.Stop(time.Second))
	assert.NoError(t, srv.Stop(time.Second), "second stop is a no-op")

	_, _, err := websocket.DefaultDialer.Dial("ws://localhost:8917/ws", nil)
	assert.Error(t, err, "dial must fail once stopped")
}
