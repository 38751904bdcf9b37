package backoff

import (
	"testing"
	"time"
)

func TestExponentialGrowth(t *testing.T) {
	s := Exponential{}
	base := 100 * time.Millisecond
	max := time.Hour

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := s.Delay(tt.attempt, base, max, 0); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialCapsAtMax(t *testing.T) {
	s := Exponential{}
	max := time.Second

	if got := s.Delay(20, 100*time.Millisecond, max, 0); got != max {
		t.Errorf("Expected delay capped at %v, got %v", max, got)
	}
	// Very large attempt numbers must not overflow into negatives
	if got := s.Delay(1000, time.Second, max, 0); got != max {
		t.Errorf("Expected overflow-safe cap at %v, got %v", max, got)
	}
}

func TestExponentialNegativeAttempt(t *testing.T) {
	s := Exponential{}
	base := 50 * time.Millisecond
	if got := s.Delay(-3, base, time.Hour, 0); got != base {
		t.Errorf("Expected negative attempt treated as 0, got %v", got)
	}
}

func TestExponentialJitterBounds(t *testing.T) {
	s := Exponential{}
	base := 100 * time.Millisecond
	max := time.Hour

	for i := 0; i < 100; i++ {
		got := s.Delay(2, base, max, 0.5)
		lower := 400 * time.Millisecond
		upper := 600 * time.Millisecond
		if got < lower || got > upper {
			t.Fatalf("Expected jittered delay in [%v, %v], got %v", lower, upper, got)
		}
	}
}

func TestExponentialJitterClamped(t *testing.T) {
	s := Exponential{}
	base := 100 * time.Millisecond
	max := time.Hour

	// jitter outside [0, 1] is clamped rather than rejected
	if got := s.Delay(0, base, max, -5); got != base {
		t.Errorf("Expected negative jitter clamped to 0, got %v", got)
	}
	for i := 0; i < 100; i++ {
		if got := s.Delay(0, base, max, 7); got > 2*base {
			t.Fatalf("Expected jitter clamped to 1, got %v", got)
		}
	}
}

func TestExponentialJitterRespectsMax(t *testing.T) {
	s := Exponential{}
	max := 150 * time.Millisecond
	for i := 0; i < 100; i++ {
		if got := s.Delay(0, 100*time.Millisecond, max, 1); got > max {
			t.Fatalf("Expected jittered delay <= %v, got %v", max, got)
		}
	}
}

func TestDecorrelatedBounds(t *testing.T) {
	s := Decorrelated{}
	base := 100 * time.Millisecond
	max := 10 * time.Second

	if got := s.Delay(0, base, max, 0); got != base {
		t.Errorf("Expected first delay to equal base, got %v", got)
	}

	for attempt := 1; attempt <= 5; attempt++ {
		for i := 0; i < 50; i++ {
			got := s.Delay(attempt, base, max, 0)
			if got < base || got > max {
				t.Fatalf("Delay(%d) = %v outside [%v, %v]", attempt, got, base, max)
			}
		}
	}
}

func TestDecorrelatedLargeAttemptStaysBounded(t *testing.T) {
	s := Decorrelated{}
	base := time.Second
	max := 5 * time.Second
	for i := 0; i < 100; i++ {
		if got := s.Delay(100, base, max, 0); got < base || got > max {
			t.Fatalf("Expected delay in [%v, %v], got %v", base, max, got)
		}
	}
}
