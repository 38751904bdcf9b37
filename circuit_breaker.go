package bulwark

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Operation is an asynchronous unit of work executed under bulwark's
// reliability layers. The context carries the per-attempt timeout.
type Operation func(ctx context.Context) (any, error)

// CircuitState represents the state of one key's circuit.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// String implements fmt.Stringer for log and metric labels.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds circuit breaker configuration shared by all keys.
type CircuitBreakerConfig struct {
	FailureThreshold int
	OpenTimeout      time.Duration
}

// CircuitBreaker isolates sustained failures per key. While a key's circuit is
// open, calls are rejected immediately without invoking the operation. After
// OpenTimeout a single trial call is admitted (half-open); its outcome decides
// whether the circuit closes or re-opens.
type CircuitBreaker struct {
	mu      sync.RWMutex
	config  CircuitBreakerConfig
	records map[string]*circuitRecord
}

type circuitRecord struct {
	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
	nextAttempt time.Time
	probing     bool
}

// NewCircuitBreaker creates a circuit breaker. Zero config fields fall back to
// a threshold of 5 failures and a 60s open timeout.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.OpenTimeout == 0 {
		config.OpenTimeout = 60 * time.Second
	}
	return &CircuitBreaker{
		config:  config,
		records: make(map[string]*circuitRecord),
	}
}

// Execute runs op under key's circuit. When the circuit is open it returns a
// KindCircuitOpen error without invoking op; otherwise it propagates op's own
// result, recording the outcome against the circuit.
//
// A caller-initiated cancellation is propagated without counting as a circuit
// failure: only operation failures and timeouts say anything about the health
// of the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, key string, op Operation) (any, error) {
	rec := cb.record(key)

	admitted, retryAfter := rec.admit(time.Now(), cb.config.OpenTimeout)
	if !admitted {
		return nil, &Error{
			Kind:       KindCircuitOpen,
			Service:    key,
			Message:    "circuit breaker is open",
			RetryAfter: retryAfter,
			Timestamp:  time.Now(),
			Cause:      ErrCircuitOpen,
		}
	}

	result, err := op(ctx)
	if err != nil {
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			// Caller gave up; release the half-open probe without a verdict.
			rec.releaseProbe()
			return nil, err
		}
		rec.recordFailure(time.Now(), cb.config)
		return nil, err
	}

	rec.recordSuccess()
	return result, nil
}

// State returns the current state of key's circuit, evaluating the lazy
// open → half-open transition the same way Execute does.
func (cb *CircuitBreaker) State(key string) CircuitState {
	cb.mu.RLock()
	rec, exists := cb.records[key]
	cb.mu.RUnlock()
	if !exists {
		return StateClosed
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state
}

func (cb *CircuitBreaker) record(key string) *circuitRecord {
	cb.mu.RLock()
	rec, exists := cb.records[key]
	cb.mu.RUnlock()
	if exists {
		return rec
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if rec, exists = cb.records[key]; exists {
		return rec
	}
	rec = &circuitRecord{state: StateClosed}
	cb.records[key] = rec
	return rec
}

// admit decides whether a call may reach the operation. The second return is
// how long the caller should wait before retrying when rejected.
func (r *circuitRecord) admit(now time.Time, openTimeout time.Duration) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateClosed:
		return true, 0
	case StateOpen:
		if now.Before(r.nextAttempt) {
			return false, r.nextAttempt.Sub(now)
		}
		r.state = StateHalfOpen
		r.probing = true
		return true, 0
	case StateHalfOpen:
		if r.probing {
			// Exactly one trial call may be in flight.
			return false, openTimeout
		}
		r.probing = true
		return true, 0
	default:
		return false, openTimeout
	}
}

func (r *circuitRecord) recordFailure(now time.Time, config CircuitBreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures++
	r.lastFailure = now

	switch r.state {
	case StateClosed:
		if r.failures >= config.FailureThreshold {
			r.state = StateOpen
			r.nextAttempt = now.Add(config.OpenTimeout)
		}
	case StateHalfOpen:
		// Any half-open failure re-opens immediately with a fresh timeout.
		r.state = StateOpen
		r.nextAttempt = now.Add(config.OpenTimeout)
		r.probing = false
	}
}

func (r *circuitRecord) recordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateHalfOpen {
		r.state = StateClosed
		r.failures = 0
		r.lastFailure = time.Time{}
		r.nextAttempt = time.Time{}
		r.probing = false
	}
}

func (r *circuitRecord) releaseProbe() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probing = false
}
