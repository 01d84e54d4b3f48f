package backoff_test

import (
	"testing"
	"time"

	"github.com/conductkit/conduct/backoff"
)

func TestLinear(t *testing.T) {
	s := backoff.NewLinear(10 * time.Second)
	for attempt := 1; attempt <= 5; attempt++ {
		if got := s.Delay(attempt); got != 10*time.Second {
			t.Errorf("Delay(%d) = %v, want 10s", attempt, got)
		}
	}
}

func TestExponential(t *testing.T) {
	s := backoff.NewExponential(2 * time.Second)
	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
	}
	for i, w := range want {
		attempt := i + 1
		if got := s.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestExponentialClampsLowAttempt(t *testing.T) {
	s := backoff.NewExponential(time.Second)
	if got := s.Delay(0); got != time.Second {
		t.Errorf("Delay(0) = %v, want 1s", got)
	}
}

func TestJitterBounds(t *testing.T) {
	base := 10 * time.Second
	s := backoff.WithJitter(backoff.NewLinear(base))

	lo := time.Duration(float64(base) * 0.5)
	hi := time.Duration(float64(base) * 1.5)

	for i := 0; i < 200; i++ {
		got := s.Delay(1)
		if got < lo || got > hi {
			t.Fatalf("jittered delay %v outside [%v, %v]", got, lo, hi)
		}
	}
}

func TestJitterVaries(t *testing.T) {
	s := backoff.WithJitter(backoff.NewExponential(time.Second))

	seen := make(map[time.Duration]bool)
	for i := 0; i < 50; i++ {
		seen[s.Delay(3)] = true
	}
	if len(seen) < 2 {
		t.Error("jitter produced identical delays across 50 calls")
	}
}

func TestDefaultStrategy(t *testing.T) {
	s := backoff.DefaultStrategy()
	got := s.Delay(1)
	if got < 500*time.Millisecond || got > 1500*time.Millisecond {
		t.Errorf("default Delay(1) = %v, want within [0.5s, 1.5s]", got)
	}
}
