// Package natsclient manages the NATS connection shared by the
// streaming runtime. Three concerns ride on it: session and stream
// lifecycle events go out as core publishes, session state and
// configuration live in JetStream KV buckets, and point-in-time
// session queries read the KV revision history.
//
// # Connection Lifecycle
//
// A Client is built cold and dialed explicitly:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithName("pjstream"),
//		natsclient.WithLogger(logger),
//	)
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(ctx)
//
// Connect wires the standard NATS reconnect machinery plus an optional
// RTT probe loop (WithHealthInterval) that catches links which are up
// but not answering. Close drains buffered messages, bounded by the
// drain timeout or the caller's deadline.
//
// # Circuit Breaker
//
// Repeated connection failures trip a circuit breaker. While the
// circuit is open, Connect and JetStream operations fail immediately
// with ErrCircuitOpen instead of piling dials onto a struggling
// server. The breaker schedules its own half-open probe: after the
// current backoff the circuit drops back to disconnected and one
// attempt may proceed. Each trip doubles the backoff up to
// WithMaxBackoff; any success resets it.
//
// # Key-Value Store
//
// Session state is kept in a KV bucket created through
// CreateKeyValueBucket, which tolerates creation races between
// replicas. KVStore layers CAS semantics on a bucket for writers that
// must not lose updates:
//
//	store := client.NewKVStore(bucket)
//	err := store.UpdateWithRetry(ctx, sessionID, func(current []byte) ([]byte, error) {
//		return applyChange(current)
//	})
//
// Conflicting writers retry with jittered backoff; errors from the
// update function abort immediately. ErrKVMaxRetriesExceeded means the
// key stayed contended through every attempt.
//
// # Revision History
//
// Buckets configured with history retain a bounded revision trail per
// key. HistoryResolver answers "what was this session at time T"
// against that trail:
//
//	resolver, err := natsclient.NewHistoryResolver(ctx, bucket)
//	entry, err := resolver.EntryAt(ctx, sessionID, at)
//
// EntryAt returns the newest revision created at or before the
// requested instant, ErrKVNoRevision when the retained trail begins
// after it, and ErrKVKeyNotFound when the key has no history at all.
// Fetched histories are cached for a short TTL so query bursts hit the
// bucket once.
//
// # Errors
//
// Connection-level sentinels (ErrNotConnected, ErrCircuitOpen,
// ErrConnectionTimeout) and KV sentinels (ErrKVKeyNotFound,
// ErrKVKeyExists, ErrKVRevisionMismatch, ErrKVMaxRetriesExceeded,
// ErrKVNoRevision) are matched with errors.Is. IsKVNotFound and
// IsKVConflict additionally recognize the raw server error
// strings NATS surfaces before classification.
//
// # Metrics
//
// WithMetrics exports the health of every KV bucket the client
// touches: revision counts, storage bytes, and an online flag per
// bucket, polled in the background, plus an operation error counter.
// All series live under the pjstream_jetstream_* prefix.
//
// # Testing
//
// TestClient runs a disposable NATS server in a container:
//
//	tc := natsclient.NewTestClient(t, natsclient.WithKV())
//	bucket, err := tc.CreateKVBucket(ctx, "sessions")
//
// NewSharedTestClient is the TestMain variant for sharing one server
// across a package. Integration tests throughout the repo use this
// harness instead of mocking the server.
package natsclient
