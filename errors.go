package bulwark

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds carried by *Error. The outer service layer branches on these to
// choose user-facing behavior (e.g. 429 for rate limit, 503 for circuit open).
const (
	KindRateLimit     = "RateLimit"
	KindCircuitOpen   = "CircuitOpen"
	KindTimeout       = "Timeout"
	KindOperation     = "Operation"
	KindURLNotAllowed = "URLNotAllowed"
	KindValidation    = "Validation"
)

// Sentinel errors for common failure scenarios
var (
	// ErrRateLimited is returned when a call is denied by the rate limiter
	ErrRateLimited = errors.New("bulwark: rate limit exceeded")

	// ErrCircuitOpen is returned when the circuit breaker is in open state
	ErrCircuitOpen = errors.New("bulwark: circuit open")

	// ErrTimeout is returned when every attempt ran out of time
	ErrTimeout = errors.New("bulwark: operation timed out")

	// ErrURLNotAllowed is returned when a URL's host fails the allowlist check
	ErrURLNotAllowed = errors.New("bulwark: url not allowed")
)

// Error is the rich error type constructed by bulwark components. It carries
// the failure kind, the service it occurred against and retry context so that
// nothing the wrapped operation reported is swallowed.
type Error struct {
	Kind       string
	Service    string
	Message    string
	Attempts   int
	MaxRetries int
	Remaining  int
	RetryAfter time.Duration
	Timestamp  time.Time
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Service != "" {
		msg = fmt.Sprintf("[%s] %s", e.Service, msg)
	}
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempts, e.MaxRetries)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is maps error kinds onto the package sentinels so callers can branch with
// errors.Is without inspecting Kind strings.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrRateLimited:
		return e.Kind == KindRateLimit
	case ErrCircuitOpen:
		return e.Kind == KindCircuitOpen
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrURLNotAllowed:
		return e.Kind == KindURLNotAllowed
	}
	if targetErr, ok := target.(*Error); ok {
		return e.Kind == targetErr.Kind
	}
	return false
}

// IsRateLimited reports whether err is a rate-limit admission failure.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsCircuitOpen reports whether err is a circuit-open admission failure.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsTimeout reports whether err means every attempt ran out of time.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsURLNotAllowed reports whether err is an allowlist rejection.
func IsURLNotAllowed(err error) bool {
	return errors.Is(err, ErrURLNotAllowed)
}
