// Package bulwark protects outbound calls to rate-limited, occasionally
// failing external services with composable reliability primitives:
//
//   - Per-service fixed-window rate limiting
//   - Per-service circuit breaker (closed / open / half-open states)
//   - Bounded retries with exponential backoff and per-attempt timeouts
//   - TTL + size bounded content cache with a host allowlist
//   - Optional coalescing of concurrent identical calls
//   - Prometheus metrics and zap structured logging
//
// Design goals:
//   - Small surface area – functional options configure everything
//   - Distinguishable error kinds instead of opaque failures, so callers can
//     map rate-limit, circuit-open and timeout conditions to their own behavior
//   - Safe concurrent use of a single Caller / ContentCache instance
//   - All state is in-process; nothing is shared across instances
//
// Typical usage:
//
//	caller := bulwark.NewCaller(
//	    bulwark.WithServiceQuota("docs", 100),
//	    bulwark.WithMaxRetries(3),
//	    bulwark.WithRequestTimeout(30*time.Second),
//	)
//	result, err := caller.Call(ctx, "docs", fetchOp)
//	if bulwark.IsRateLimited(err) {
//	    // back off, surface HTTP 429 upstream, ...
//	}
//
// The library does not perform network calls itself: callers supply operation
// closures and read back results or one of the well-defined error kinds.
package bulwark
