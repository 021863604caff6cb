// Package pjstream implements Priority JSON Streaming (PJS): progressive
// delivery of JSON documents as priority-ordered frame streams.
//
// A PJS server does not send a document as one blob. It analyzes the
// document, sends its shape immediately, then fills the shape in patches
// ordered by how much each field matters to the consumer. A client
// renders something useful after the first frame and refines it as
// patches arrive.
//
// # Philosophy
//
// PJS is built on three commitments:
//
// Skeleton first: the opening frame carries the complete shape of the
// document with zeroed values. A consumer always knows the structure
// before any content arrives, so layout never reflows.
//
// Priority over position: delivery order is decided by configurable
// priority rules, not by the document's key order. Identity fields beat
// marketing copy; marketing copy beats the 400-element review array.
//
// Pull-based delivery: the server never pushes ahead of the consumer.
// Transports pull frames one at a time, so a slow client costs buffer
// space on its own connection and nothing anywhere else.
//
// PJS MUST NOT contain:
//   - Document-type-specific logic (product pages, chat transcripts)
//   - Client rendering frameworks
//   - Transport-level retransmission (frames ride ordered transports)
//
// # Architecture
//
// The engine is a pipeline from document to frames, wrapped in a
// session layer that makes delivery resumable and observable:
//
//	┌──────────────┐   ┌──────────────────┐
//	│ HTTP Gateway │   │    WebSocket     │   Transports: accept
//	│    (SSE)     │   │    Transport     │   documents, deliver
//	└───────┬──────┘   └────────┬─────────┘   frames
//	        │                   │
//	        └───────┬───────────┘
//	                ↓ OpenStream / PullFrame
//	     ┌─────────────────────┐
//	     │  StreamingService   │   Orchestration: sessions,
//	     │                     │   streams, expiry sweep
//	     └──────────┬──────────┘
//	                │
//	     ┌──────────┼──────────────────┐
//	     ↓          ↓                  ↓
//	┌─────────┐ ┌─────────┐      ┌──────────┐
//	│Analyzer │ │ Session │      │  Store   │   Analyzer builds plans;
//	│  +Plan  │ │ +Stream │      │ mem/KV/  │   sessions own streams;
//	└─────────┘ └────┬────┘      │  hybrid  │   store persists both
//	                 │           └──────────┘
//	                 ↓ events
//	           ┌──────────┐
//	           │   NATS   │   Lifecycle events for
//	           │Publisher │   downstream consumers
//	           └──────────┘
//
// # Frame Sequence
//
// Every stream delivers exactly one well-formed sequence:
//
//	skeleton(seq=1) → patch(seq=2) → ... → patch(seq=n-1) → complete(seq=n)
//
// or terminates early with an error frame. Sequences are strictly
// consecutive and priorities never increase across patch frames. The
// reconstructor on the receiving side applies frames in order and holds
// a valid JSON document after every one of them.
//
// # Priority Model
//
// Priorities are a uint8 ladder with five named tiers:
//
//	critical   (100)  identity: ids, names, titles
//	high       (80)   above-the-fold content: summaries, prices
//	medium     (50)   default for unmatched fields
//	low        (20)   supplementary objects and metadata
//	background (10)   bulk arrays, long text, embedded media
//
// Rules match fields by exact path, path prefix, key name, or value
// kind, with per-rule additive boosts. Arithmetic saturates at the
// uint8 bounds so a stack of boosts cannot wrap a background field into
// a critical one.
//
// # Delivery Patterns
//
// Both transports drive the same pull loop. The HTTP gateway opens a
// stream from a POSTed document and replays frames over SSE; the
// WebSocket transport accepts stream requests as JSON envelopes on a
// persistent connection and interleaves frames with control messages.
// Either way the transport calls PullFrame until the terminal frame,
// pacing the loop with a token bucket when the operator configures a
// frame rate.
//
// Cancellation is a consumer right: dropping the SSE connection or
// sending a cancel envelope moves the stream to cancelled, publishes
// the lifecycle event, and frees the concurrency slot.
//
// # Storage Modes
//
// Session state lives behind one repository interface with three
// implementations:
//
//	memory  sharded in-process map; the default, no dependencies
//	kv      NATS JetStream key-value bucket; survives restarts
//	hybrid  memory front, KV write-through; read-heavy deployments
//
// Streams snapshot their undelivered plan with their session, so a
// resumed session continues delivery from the exact frame where it
// stopped.
//
// # Binary
//
// Build and run the server:
//
//	go build -o bin/pjstream ./cmd/pjstream
//	./bin/pjstream --config configs/pjstream.json
//
//	# Override ports, validate config without starting
//	./bin/pjstream --port 8080 --websocket-port 8081
//	./bin/pjstream --validate --config configs/pjstream.json
//
// The pjs tool demonstrates the engine without a server, animating a
// document's arrival in the terminal:
//
//	go build -o bin/pjs ./cmd/pjs
//	pjs product.json
//	pjs -list product.json
//
// # Version
//
// Current: v0.1.0
//
// The engine, both transports, and the three storage modes are stable.
// Compression negotiation (zstd, s2, lz4) is supported on the WebSocket
// transport and per-frame on SSE payloads.
package pjstream
