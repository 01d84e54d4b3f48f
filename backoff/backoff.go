// Package backoff provides pluggable retry delay strategies for task
// execution. All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear waits the same base delay before every retry attempt.
type Linear struct {
	Base time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(base time.Duration) *Linear {
	return &Linear{Base: base}
}

// Delay returns the base delay regardless of attempt number.
func (l *Linear) Delay(_ int) time.Duration {
	return l.Base
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = Base * 2^(attempt-1).
type Exponential struct {
	Base time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base time.Duration) *Exponential {
	return &Exponential{Base: base}
}

// Delay returns Base * 2^(attempt-1).
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(e.Base) * math.Pow(2, float64(attempt-1)))
}

// ──────────────────────────────────────────────────
// Jitter
// ──────────────────────────────────────────────────

// Jitter wraps another strategy and uniformly randomizes its delay in
// [0.5x, 1.5x]. This prevents thundering herd when many retries happen
// simultaneously.
type Jitter struct {
	Inner Strategy
}

// WithJitter wraps a strategy with ±50% uniform jitter.
func WithJitter(inner Strategy) *Jitter {
	return &Jitter{Inner: inner}
}

// Delay returns a random duration in [0.5d, 1.5d] where d is the inner
// strategy's delay.
func (j *Jitter) Delay(attempt int) time.Duration {
	d := float64(j.Inner.Delay(attempt))
	factor := 0.5 + rand.Float64() //nolint:gosec // jitter intentionally uses non-crypto rand
	return time.Duration(d * factor)
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default backoff used for tasks without an
// explicit retry policy: exponential with 1s base and ±50% jitter.
func DefaultStrategy() Strategy {
	return WithJitter(NewExponential(1 * time.Second))
}
