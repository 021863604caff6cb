// Package gateway exposes priority JSON streaming over HTTP.
//
// The gateway fronts a service.StreamingService with a REST surface
// for session management and Server-Sent Events for frame delivery.
// All session state lives in the service's repository, so multiple
// gateway instances can serve the same sessions when the repository
// is KV-backed.
//
// # Architecture
//
//	┌─────────────────┐
//	│  HTTP Client    │  POST /api/v1/stream  {"user": {...}}
//	└────────┬────────┘
//	         ↓
//	┌────────────────────────────────────────┐
//	│  Gateway (REST + SSE)                  │
//	│  sessions, streams, frame delivery     │
//	└────────┬───────────────────────────────┘
//	         ↓ pull per frame
//	┌────────────────────────────────────────┐
//	│  service.StreamingService              │
//	│  analyze → plan → priority frames      │
//	└────────────────────────────────────────┘
//
// # Routes
//
//   - POST   /api/v1/sessions                                create session
//   - GET    /api/v1/sessions                                list sessions
//   - GET    /api/v1/sessions/{id}                           session info
//   - DELETE /api/v1/sessions/{id}                           close session
//   - PATCH  /api/v1/sessions/{id}/priority                  adjust delivery threshold
//   - POST   /api/v1/sessions/{id}/streams                   open stream
//   - DELETE /api/v1/sessions/{id}/streams/{sid}             cancel stream
//   - GET    /api/v1/sessions/{id}/streams/{sid}/frames      SSE frames
//   - POST   /api/v1/stream                                  one-shot SSE
//   - GET    /healthz                                        health status
//
// # Frame Delivery
//
// Frames are Server-Sent Events. The event name is the frame kind, the
// event id is the frame sequence, the data is the frame's wire JSON:
//
//	retry: 5000
//
//	event: skeleton
//	id: 1
//	data: {"stream_id":"...","kind":"skeleton","sequence":1,...}
//
//	event: patch
//	id: 2
//	data: {"stream_id":"...","kind":"patch","sequence":2,"priority":255,...}
//
//	event: complete
//	id: 5
//	data: {"stream_id":"...","kind":"complete","sequence":5,...}
//
// Delivery position is held server-side, so a client that reconnects
// simply continues where it left off. Pacing is per connection and
// comes from the delivery configuration (frames per second + burst).
//
// Documents that are oversized, malformed, or violate the analysis
// limits are rejected with a 4xx JSON error before any frame is sent.
// Once the stream is open, failures travel as SSE error events.
//
// # Usage
//
//	# One-shot: document in, prioritized frames out
//	curl -N -X POST http://localhost:8080/api/v1/stream \
//	  -H "Content-Type: application/json" \
//	  -d '{"user": {"name": "Ada", "bio": "..."}}'
//
//	# Session flow
//	curl -X POST http://localhost:8080/api/v1/sessions -d '{}'
//	curl -X POST http://localhost:8080/api/v1/sessions/{id}/streams -d @doc.json
//	curl -N http://localhost:8080/api/v1/sessions/{id}/streams/{sid}/frames
//
// # Security
//
// The gateway supports:
//   - TLS via the platform security configuration
//   - CORS with explicit origin allow-lists
//   - Request body size limits
//   - Sanitized error responses (internals never leak)
package gateway
