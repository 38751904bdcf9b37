// Package backoff provides the delay calculations used between retry
// attempts. Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the delay before the retry that follows the given attempt
// number (1-based).
type Strategy interface {
	Delay(attempt int, base, max time.Duration, jitter float64) time.Duration
}

// Exponential doubles the delay each attempt: base * 2^attempt, capped at max.
// With jitter > 0 a uniform random fraction of the delay is added on top,
// which spreads out retry storms when many callers fail together.
type Exponential struct{}

// Delay implements Strategy.
func (Exponential) Delay(attempt int, base, max time.Duration, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30 // keep 2^attempt in range
	}

	delay := time.Duration(float64(base) * pow(2, attempt))
	if delay < 0 || delay > max {
		delay = max
	}

	jitter = clamp(jitter)
	if jitter > 0 {
		extra := time.Duration(float64(delay) * jitter * rand.Float64())
		if delay+extra > max {
			delay = max
		} else {
			delay += extra
		}
	}
	return delay
}

// Decorrelated implements decorrelated jitter per the AWS architecture blog:
// each delay is drawn uniformly from [base, min(max, base*3^attempt)]. It has
// smoother tail behavior than exponential jitter under sustained contention.
type Decorrelated struct{}

// Delay implements Strategy. The jitter parameter is ignored; randomness is
// inherent to the scheme.
func (Decorrelated) Delay(attempt int, base, max time.Duration, _ float64) time.Duration {
	if attempt <= 0 {
		return base
	}
	if attempt > 10 {
		attempt = 10
	}

	lower := float64(base)
	upper := lower * pow(3, attempt)
	if upper > float64(max) || upper < 0 {
		upper = float64(max)
	}
	if upper < lower {
		upper = lower
	}

	delay := time.Duration(lower + rand.Float64()*(upper-lower))
	if delay < 0 || delay > max {
		delay = max
	}
	return delay
}

func clamp(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(b float64, n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= b
	}
	return result
}
