// Package retry reruns failing operations with exponential backoff.
//
// Everything that talks to NATS goes through this package when a first
// attempt is allowed to fail. Event publishes ride DefaultConfig,
// JetStream bucket lookups during startup ride Quick, and the KV store's
// compare-and-swap loop reruns its callback until a revision check wins.
//
// # Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay (single operations)
//   - Quick(): 10 attempts, 50ms-1s delay (startup polling, CAS loops)
//
// # Examples
//
// Publish with defaults:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return nc.Publish(subject, payload)
//	})
//
// Wait for a bucket another process provisions:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    _, err := js.KeyValue(ctx, bucketName)
//	    return err
//	})
//
// Fail fast on permanent conditions:
//
//	err := retry.Do(ctx, cfg, func() error {
//	    entry, err := bucket.Get(ctx, id)
//	    if isNotFound(err) {
//	        return retry.NonRetryable(err)
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    return apply(entry)
//	})
//
// # Scope
//
// The package is intentionally minimal. There is no circuit breaker and
// no metrics collection; instrument at the call site if attempt counts
// matter. Error classification belongs to the caller, which marks
// permanent failures with NonRetryable. The errors package maps its own
// classified retry policies onto Config via ToRetryConfig.
//
// Do checks ctx between attempts and while sleeping, so shutdown never
// waits out a backoff window. All functions are safe for concurrent use.
package retry
