// Package errors defines the shared error vocabulary for PJStream
// components: the sentinel failure modes, a three-class taxonomy, and
// wrapping helpers that keep both reachable through standard errors.Is
// and errors.As chains.
//
// # Classification
//
// Every error resolves to one of three classes:
//
//   - Transient: worth retrying (connection loss, rate limits, storage blips)
//   - Invalid: a caller mistake no retry will fix (malformed frames, unknown sessions, limit violations)
//   - Fatal: stop processing (bad configuration, exhausted resources)
//
// Classification looks at three things in order. An explicit
// ClassifiedError answers from its class. A known sentinel answers from
// the package's sentinel table, even through wrapping, so text added by
// fmt.Errorf never changes a sentinel's class. Everything else falls
// back to message hints, and unknown errors default to transient so
// they stay eligible for retry.
//
// # Wrapping
//
// Wrap and the class-tagging variants produce one consistent format:
//
//	"component.method: action failed: <cause>"
//
//	return errors.WrapInvalid(err, "DocumentAnalyzer", "Analyze", "walk document")
//
// WrapTransient, WrapInvalid, and WrapFatal pin the class explicitly;
// plain Wrap leaves classification to the wrapped chain.
//
// # Branching on errors
//
// Match conditions with the sentinels:
//
//	if errors.Is(err, errors.ErrSessionNotFound) {
//	    return http.StatusNotFound
//	}
//
// or branch on class when the exact condition does not matter:
//
//	if err := publisher.Publish(ctx, event); err != nil {
//	    if errors.IsTransient(err) {
//	        // schedule a retry
//	    }
//	}
//
// # Retry policy
//
// RetryConfig expresses a backoff schedule in terms of retries after
// the first attempt and consults the taxonomy through ShouldRetry.
// ToRetryConfig converts it to the pkg/retry Config accepted by
// retry.Do.
package errors
