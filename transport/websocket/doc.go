// Package websocket provides a WebSocket transport for streaming frame
// sequences to connected clients.
//
// # Overview
//
// The WebSocket server gives each connection its own streaming session.
// Clients submit documents as JSON request envelopes and receive the
// resulting frames pushed over the same connection, paced by the
// configured delivery rate. One stream runs at a time per connection;
// a second request while a stream is active is rejected the same way a
// session over its stream limit would be.
//
// # Quick Start
//
// Start a server on port 8081:
//
//	srv, err := websocket.New(websocket.ConstructorConfig{
//	    Config:    websocket.DefaultConfig(),
//	    Streaming: streamingService,
//	    Logger:    logger,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := srv.Initialize(); err != nil {
//	    return err
//	}
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Stop(5 * time.Second)
//
// # Protocol
//
// Clients send request envelopes as text messages:
//
//	{"action": "stream", "document": {...}, "compression": "s2"}
//	{"action": "cancel"}
//	{"action": "adjust", "delta": 40, "raise": true}
//
// The server answers a stream request with an acceptance envelope, one
// envelope per frame, and a terminal done envelope:
//
//	{"type": "accepted", "stream_id": "...", "compression": "s2"}
//	{"type": "frame", "stream_id": "...", "sequence": 1, "frame": {...}}
//	{"type": "done", "stream_id": "...", "frames": 12}
//
// Failures surface as error envelopes with the same status codes the
// HTTP gateway uses:
//
//	{"type": "error", "error": "invalid input document", "code": 400}
//
// A cancel request tears down the active stream and is acknowledged
// with a cancelled envelope. An adjust request moves the session's
// delivery threshold and is acknowledged with the new value; later
// frames skip patch batches below it, so a client under load keeps
// document shape and completion while shedding low-value content:
//
//	{"type": "adjusted", "threshold": 50}
//
// # Compression
//
// The stream request negotiates a codec for the whole stream. Frame
// envelopes on a compressed stream travel as binary messages holding
// the compressed JSON; control envelopes always stay text. Clients
// switch on the message type:
//
//	// TextMessage   -> plain JSON envelope
//	// BinaryMessage -> codec-compressed JSON envelope
//
// Supported codec names are "none", "s2", "lz4", and "zstd". An
// unknown name fails the stream request before a session is touched.
//
// # Backpressure and Pacing
//
// Frame delivery is paced with a token bucket shared with the SSE
// gateway configuration (FramesPerSecond, Burst). The skeleton frame
// goes out unpaced so clients can render immediately.
//
// Each client owns a bounded outbound ring with a blocking overflow
// policy. A slow reader backpressures its own frame deliverer without
// affecting other connections; a dead reader trips the write timeout
// and the connection is torn down.
//
// # Ping/Pong Keepalive
//
//	// Server pings at 9/10 of PongTimeout
//	// Any read or pong pushes the read deadline forward
//	// A silent client times out and is disconnected
//
// # Lifecycle Management
//
// During Stop:
//  1. New upgrades are refused
//  2. The HTTP server shuts down gracefully
//  3. Write pumps flush queued envelopes and send close frames
//  4. Remaining clients are disconnected and their sessions closed
//  5. Connection goroutines are awaited up to the timeout
//
// Closing a connection closes its session, which cancels any stream
// still running on it.
//
// # Observability
//
// Metrics are registered when a MetricsRegistry is supplied:
//   - pjstream_websocket_frames_sent_total: Frames sent by kind
//   - pjstream_websocket_bytes_sent_total: Total payload bytes
//   - pjstream_websocket_clients_connected: Current connections
//   - pjstream_websocket_client_connections_total: Accepted connections
//   - pjstream_websocket_client_disconnections_total: Disconnects by reason
//   - pjstream_websocket_stream_duration_seconds: Stream delivery time
//   - pjstream_websocket_message_size_bytes: Message sizes by codec
//   - pjstream_websocket_errors_total: Errors by type
//   - pjstream_websocket_server_uptime_seconds: Time since Start
package websocket
