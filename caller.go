package bulwark

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Caller is the composition root for outbound calls to a named external
// service: it acquires a rate-limit permit, then executes the operation
// through the circuit breaker with the retry executor driving attempts inside
// the protected call. A single Caller instance owns all per-service state and
// is safe for concurrent use.
type Caller struct {
	limiter *RateLimiter
	breaker *CircuitBreaker
	retry   *RetryExecutor

	quotas          map[string]int
	defaultQuota    int
	rateLimitWindow time.Duration
	maxRetries      int
	requestTimeout  time.Duration

	breakerConfig CircuitBreakerConfig
	retryBase     time.Duration
	retryMax      time.Duration
	retryJitter   float64
	retryStrategy RetryOption

	dedup   *singleflight.Group
	logger  *zap.Logger
	metrics *MetricsCollector

	validationError error
}

// NewCaller constructs a Caller using the provided functional options. A best
// effort validation is performed; call ValidationError for the result.
func NewCaller(options ...CallerOption) *Caller {
	c := &Caller{
		quotas:          make(map[string]int),
		defaultQuota:    100,
		rateLimitWindow: time.Hour,
		maxRetries:      3,
		requestTimeout:  30 * time.Second,
		breakerConfig:   CircuitBreakerConfig{},
		retryBase:       time.Second,
		retryMax:        5 * time.Minute,
		logger:          zap.NewNop(),
	}

	for _, option := range options {
		option(c)
	}

	c.limiter = NewRateLimiter()
	c.breaker = NewCircuitBreaker(c.breakerConfig)

	retryOpts := []RetryOption{WithRetryJitter(c.retryJitter)}
	if c.retryStrategy != nil {
		retryOpts = append(retryOpts, c.retryStrategy)
	}
	c.retry = NewRetryExecutor(c.retryBase, c.retryMax, retryOpts...)

	if err := c.validate(); err != nil {
		c.validationError = err
	}

	return c
}

// Call executes op against the named service with the full admission chain.
// Rate limiting runs first because it is the cheapest, fastest-failing guard;
// the breaker wraps the retries so a dependency already known to be down does
// not pay for maxRetries additional attempts per call.
//
// The returned error is either the operation's own terminal failure wrapped
// with retry context, or one of the admission kinds (KindRateLimit,
// KindCircuitOpen) that never reached the operation.
func (c *Caller) Call(ctx context.Context, service string, op Operation) (any, error) {
	start := time.Now()

	quota := c.quotaFor(service)
	if !c.limiter.TryAcquire(service, quota, c.rateLimitWindow) {
		status := c.limiter.Status(service)
		c.logger.Warn("rate limit exceeded",
			zap.String("service", service),
			zap.Int("quota", quota),
			zap.Duration("reset_in", status.ResetIn))
		c.metrics.RecordRateLimitDenied(service)
		c.metrics.RecordCall(service, "rate_limited", time.Since(start))
		return nil, &Error{
			Kind:       KindRateLimit,
			Service:    service,
			Message:    "rate limit exceeded",
			Remaining:  status.Remaining,
			RetryAfter: status.ResetIn,
			Timestamp:  time.Now(),
			Cause:      ErrRateLimited,
		}
	}
	c.metrics.RecordRateLimitRemaining(service, c.limiter.Status(service).Remaining)

	result, err := c.breaker.Execute(ctx, service, func(ctx context.Context) (any, error) {
		return c.retry.ExecuteWithRetry(ctx, c.instrumented(service, op), c.maxRetries, c.requestTimeout)
	})
	c.metrics.RecordCircuitState(service, c.breaker.State(service))

	duration := time.Since(start)
	switch {
	case err == nil:
		c.metrics.RecordCall(service, "success", duration)
	case IsCircuitOpen(err):
		c.logger.Warn("circuit breaker open", zap.String("service", service))
		c.metrics.RecordCircuitRejection(service)
		c.metrics.RecordCall(service, "circuit_open", duration)
	case errors.Is(err, context.Canceled):
		c.metrics.RecordCall(service, "canceled", duration)
	default:
		c.logger.Warn("call failed",
			zap.String("service", service),
			zap.Error(err))
		c.metrics.RecordCall(service, "failure", duration)
	}
	if err != nil {
		c.metrics.RecordError(errKind(err), service)
	}

	return result, err
}

// CallShared behaves like Call but coalesces concurrent calls sharing the
// same (service, key) onto one in-flight execution when deduplication is
// enabled. All waiters receive the owner's result; content is treated as
// interchangeable for the same key.
func (c *Caller) CallShared(ctx context.Context, service, key string, op Operation) (any, error) {
	if c.dedup == nil {
		return c.Call(ctx, service, op)
	}

	result, err, shared := c.dedup.Do(service+"\x00"+key, func() (any, error) {
		return c.Call(ctx, service, op)
	})
	if shared {
		c.logger.Debug("coalesced onto in-flight call",
			zap.String("service", service),
			zap.String("key", key))
		c.metrics.RecordDeduplicationHit(service)
	}
	return result, err
}

// RateLimitStatus reports the current window state for a service.
func (c *Caller) RateLimitStatus(service string) RateLimitStatus {
	return c.limiter.Status(service)
}

// CircuitState reports the current circuit state for a service.
func (c *Caller) CircuitState(service string) CircuitState {
	return c.breaker.State(service)
}

// ValidationError returns the configuration validation error, if any.
func (c *Caller) ValidationError() error {
	return c.validationError
}

func (c *Caller) quotaFor(service string) int {
	if quota, ok := c.quotas[service]; ok {
		return quota
	}
	return c.defaultQuota
}

// instrumented wraps op so retries after the first attempt are counted.
func (c *Caller) instrumented(service string, op Operation) Operation {
	if c.metrics == nil {
		return op
	}
	attempt := 0
	return func(ctx context.Context) (any, error) {
		attempt++
		if attempt > 1 {
			c.metrics.RecordRetry(service, attempt-1)
		}
		return op(ctx)
	}
}

func (c *Caller) validate() error {
	var problems []string

	if c.defaultQuota <= 0 {
		problems = append(problems, "default quota must be positive")
	}
	for name, quota := range c.quotas {
		if quota <= 0 {
			problems = append(problems, "quota for "+name+" must be positive")
		}
	}
	if c.rateLimitWindow <= 0 {
		problems = append(problems, "rate limit window must be positive")
	}
	if c.maxRetries < 1 {
		problems = append(problems, "max retries must be at least 1")
	}
	if c.requestTimeout <= 0 {
		problems = append(problems, "request timeout must be positive")
	}
	if c.retryJitter < 0 || c.retryJitter > 1 {
		problems = append(problems, "retry jitter must be between 0 and 1")
	}

	if len(problems) > 0 {
		return &Error{
			Kind:    KindValidation,
			Message: "invalid caller configuration: " + joinProblems(problems),
		}
	}
	return nil
}

func joinProblems(problems []string) string {
	out := problems[0]
	for _, p := range problems[1:] {
		out += "; " + p
	}
	return out
}

func errKind(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return "Canceled"
	}
	return KindOperation
}
