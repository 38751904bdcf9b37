package bulwark

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CallerOption configures a Caller.
type CallerOption func(*Caller)

// WithServiceQuota sets the per-window request quota for a named service.
func WithServiceQuota(service string, maxRequests int) CallerOption {
	return func(c *Caller) {
		c.quotas[service] = maxRequests
	}
}

// WithServiceQuotas sets quotas for several named services at once.
func WithServiceQuotas(quotas map[string]int) CallerOption {
	return func(c *Caller) {
		for service, quota := range quotas {
			c.quotas[service] = quota
		}
	}
}

// WithDefaultQuota sets the quota applied to service names without an
// explicit quota.
func WithDefaultQuota(maxRequests int) CallerOption {
	return func(c *Caller) {
		c.defaultQuota = maxRequests
	}
}

// WithRateLimitWindow sets the fixed window the quotas apply to. The default
// is one hour.
func WithRateLimitWindow(window time.Duration) CallerOption {
	return func(c *Caller) {
		c.rateLimitWindow = window
	}
}

// WithCircuitBreaker sets the failure threshold and open timeout shared by
// all service circuits.
func WithCircuitBreaker(config CircuitBreakerConfig) CallerOption {
	return func(c *Caller) {
		c.breakerConfig = config
	}
}

// WithMaxRetries sets the number of attempts per call (including the first).
func WithMaxRetries(n int) CallerOption {
	return func(c *Caller) {
		c.maxRetries = n
	}
}

// WithRequestTimeout sets the per-attempt timeout.
func WithRequestTimeout(d time.Duration) CallerOption {
	return func(c *Caller) {
		c.requestTimeout = d
	}
}

// WithRetryBackoff sets the base delay and cap for the exponential backoff
// between attempts.
func WithRetryBackoff(base, max time.Duration) CallerOption {
	return func(c *Caller) {
		c.retryBase = base
		c.retryMax = max
	}
}

// WithJitter sets the jitter fraction (0.0 to 1.0) added to backoff delays.
func WithJitter(f float64) CallerOption {
	return func(c *Caller) {
		c.retryJitter = f
	}
}

// WithDeduplication coalesces concurrent CallShared invocations that share a
// (service, key) pair onto a single in-flight execution.
func WithDeduplication() CallerOption {
	return func(c *Caller) {
		c.dedup = new(singleflight.Group)
	}
}

// WithLogger sets the structured logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) CallerOption {
	return func(c *Caller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() CallerOption {
	return func(c *Caller) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) CallerOption {
	return func(c *Caller) {
		c.metrics = collector
	}
}

// FromConfig translates an environment-sourced Config into caller options.
func FromConfig(cfg Config) CallerOption {
	return func(c *Caller) {
		WithServiceQuotas(cfg.ServiceQuotas)(c)
		WithDefaultQuota(cfg.DefaultQuota)(c)
		WithRateLimitWindow(cfg.RateLimitWindow)(c)
		WithCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			OpenTimeout:      cfg.OpenTimeout,
		})(c)
		WithMaxRetries(cfg.MaxRetries)(c)
		WithRequestTimeout(cfg.RequestTimeout)(c)
		WithRetryBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay)(c)
		WithJitter(cfg.RetryJitter)(c)
	}
}
