package bulwark

import (
	"context"
	"errors"
	"time"

	"github.com/fathiraz/bulwark/internal/backoff"
)

// RetryExecutor runs an operation up to a bounded number of attempts, each
// under its own timeout, sleeping an exponentially growing delay between
// failures. It holds no per-call state and is safe for concurrent use.
type RetryExecutor struct {
	baseDelay time.Duration
	maxDelay  time.Duration
	jitter    float64
	strategy  backoff.Strategy
}

// RetryOption configures a RetryExecutor.
type RetryOption func(*RetryExecutor)

// WithRetryJitter adds a uniform random fraction (0..1) on top of each backoff
// delay. The default is 0 to preserve deterministic delays, at the cost of
// synchronized retry storms when many callers fail together.
func WithRetryJitter(f float64) RetryOption {
	return func(re *RetryExecutor) {
		re.jitter = f
	}
}

// WithBackoffStrategy replaces the exponential backoff calculation.
func WithBackoffStrategy(s backoff.Strategy) RetryOption {
	return func(re *RetryExecutor) {
		re.strategy = s
	}
}

// NewRetryExecutor creates an executor whose n-th backoff delay is
// baseDelay * 2^n capped at maxDelay. Zero arguments fall back to a 1s base
// and a 5m cap.
func NewRetryExecutor(baseDelay, maxDelay time.Duration, opts ...RetryOption) *RetryExecutor {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Minute
	}
	re := &RetryExecutor{
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		strategy:  backoff.Exponential{},
	}
	for _, opt := range opts {
		opt(re)
	}
	return re
}

// ExecuteWithRetry runs op up to maxRetries times. Each attempt gets a fresh
// child context bounded by perAttemptTimeout. The first success returns
// immediately; the final failure is wrapped with attempt-count context and
// never swallowed. Cancellation of ctx aborts the current attempt and the
// whole loop – it is not itself a retryable failure.
func (re *RetryExecutor) ExecuteWithRetry(ctx context.Context, op Operation, maxRetries int, perAttemptTimeout time.Duration) (any, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
		result, err := op(attemptCtx)
		cancel()

		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			// The caller's context ended, not the attempt's.
			return nil, ctx.Err()
		}
		lastErr = err

		if attempt == maxRetries {
			break
		}

		timer := time.NewTimer(re.strategy.Delay(attempt, re.baseDelay, re.maxDelay, re.jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return nil, &Error{
			Kind:       KindTimeout,
			Message:    "operation timed out",
			Attempts:   maxRetries,
			MaxRetries: maxRetries,
			Timestamp:  time.Now(),
			Cause:      lastErr,
		}
	}
	return nil, &Error{
		Kind:       KindOperation,
		Message:    "operation failed after retries",
		Attempts:   maxRetries,
		MaxRetries: maxRetries,
		Timestamp:  time.Now(),
		Cause:      lastErr,
	}
}
