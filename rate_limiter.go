package bulwark

import (
	"sync"
	"time"
)

// RateLimiter counts requests per key in fixed windows. The window is reset
// lazily on each acquisition attempt; there is no background timer. It is
// intentionally coarse – bursts can straddle a window boundary – because the
// goal is hourly protection of external quotas, not traffic smoothing.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*rateLimitBucket
}

type rateLimitBucket struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	windowStart time.Time
	count       int
}

// RateLimitStatus is a snapshot of one key's current window.
type RateLimitStatus struct {
	Remaining int
	ResetIn   time.Duration
	Allowed   bool
}

// NewRateLimiter creates an empty rate limiter. Buckets are created on first
// use of a key and live for the process lifetime.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*rateLimitBucket),
	}
}

// TryAcquire consumes one permit for key if the current window has capacity.
// It never blocks; a false return means the caller should fail fast.
func (rl *RateLimiter) TryAcquire(key string, maxRequests int, window time.Duration) bool {
	b := rl.bucket(key, maxRequests, window)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.Sub(b.windowStart) >= b.window {
		b.windowStart = now
		b.count = 0
	}

	// Quota and window follow the latest acquisition so configuration
	// changes take effect without discarding the bucket.
	b.maxRequests = maxRequests
	b.window = window

	if b.count < b.maxRequests {
		b.count++
		return true
	}
	return false
}

// Status reports the remaining permits and time until the window resets for
// key. Keys that never acquired a permit report Allowed with zero counters.
func (rl *RateLimiter) Status(key string) RateLimitStatus {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if !exists {
		return RateLimitStatus{Allowed: true}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.Sub(b.windowStart) >= b.window {
		b.windowStart = now
		b.count = 0
	}

	remaining := b.maxRequests - b.count
	if remaining < 0 {
		remaining = 0
	}
	resetIn := b.window - now.Sub(b.windowStart)
	if resetIn < 0 {
		resetIn = 0
	}

	return RateLimitStatus{
		Remaining: remaining,
		ResetIn:   resetIn,
		Allowed:   remaining > 0,
	}
}

func (rl *RateLimiter) bucket(key string, maxRequests int, window time.Duration) *rateLimitBucket {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()
	if exists {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, exists = rl.buckets[key]; exists {
		return b
	}
	b = &rateLimitBucket{
		maxRequests: maxRequests,
		window:      window,
		windowStart: time.Now(),
	}
	rl.buckets[key] = b
	return b
}
