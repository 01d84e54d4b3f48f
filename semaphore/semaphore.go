// Package semaphore provides a distributed, TTL-leased counting lock used
// for task throttling. Leases live in a shared external store so the limit
// holds across all processes; a crashed holder's lease is reclaimed when
// its TTL expires plus the store's maintenance interval.
//
// When no lease store is configured (or the store reports itself
// unavailable), every operation degrades to an immediate no-op success —
// throttling is disabled rather than blocking execution.
package semaphore

import (
	"context"
	"log/slog"
	"time"
)

// LeaseStore is the external shared store backing semaphore leases.
// Implementations live in the store subpackages (memory, redis, bun).
type LeaseStore interface {
	// TryAcquire attempts to take one lease on key. It returns true when
	// fewer than limit leases are currently held; the granted lease
	// expires after ttl if never released.
	TryAcquire(ctx context.Context, key string, limit int, ttl time.Duration) (bool, error)

	// Release gives back one lease on key. Returns false if no lease was
	// held (already expired or never acquired).
	Release(ctx context.Context, key string) (bool, error)

	// Available reports whether the backing store is reachable. When it
	// returns false, semaphores degrade to no-ops.
	Available(ctx context.Context) bool
}

// Default parameters for semaphores constructed without options.
const (
	DefaultLimit        = 1
	DefaultTTL          = 1 * time.Minute
	DefaultPollInterval = 500 * time.Millisecond
)

// Semaphore is a named counting lock. At most Limit concurrent holders of
// Key are allowed system-wide. It holds no local state across calls other
// than its parameters; all coordination happens in the LeaseStore.
type Semaphore struct {
	store        LeaseStore
	key          string
	limit        int
	ttl          time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// Option configures a Semaphore.
type Option func(*Semaphore)

// WithLimit sets how many concurrent holders of the key are allowed.
func WithLimit(n int) Option {
	return func(s *Semaphore) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithTTL sets the lease duration. A crashed holder's lease is reclaimed
// after this much time.
func WithTTL(d time.Duration) Option {
	return func(s *Semaphore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithPollInterval sets how long Wait sleeps between acquisition attempts.
func WithPollInterval(d time.Duration) Option {
	return func(s *Semaphore) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Semaphore) { s.logger = l }
}

// New creates a semaphore on key backed by store. A nil store disables
// throttling: all operations succeed immediately.
func New(store LeaseStore, key string, opts ...Option) *Semaphore {
	s := &Semaphore{
		store:        store,
		key:          key,
		limit:        DefaultLimit,
		ttl:          DefaultTTL,
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the semaphore's concurrency key.
func (s *Semaphore) Key() string { return s.key }

// Limit returns the maximum number of concurrent holders.
func (s *Semaphore) Limit() int { return s.limit }

// enabled reports whether a usable lease store is configured.
func (s *Semaphore) enabled(ctx context.Context) bool {
	return s.store != nil && s.store.Available(ctx)
}

// Wait acquires one lease, sleeping pollInterval between attempts until a
// lease is granted or ctx is done. Returns true on acquisition; the only
// error paths are context cancellation and store failures.
func (s *Semaphore) Wait(ctx context.Context) (bool, error) {
	if !s.enabled(ctx) {
		return true, nil
	}

	for {
		ok, err := s.store.TryAcquire(ctx, s.key, s.limit, s.ttl)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		s.logger.Debug("semaphore busy, polling",
			slog.String("key", s.key),
			slog.Duration("poll_interval", s.pollInterval),
		)

		select {
		case <-time.After(s.pollInterval):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// Signal releases one lease. Returns true if a lease was held.
func (s *Semaphore) Signal(ctx context.Context) (bool, error) {
	if !s.enabled(ctx) {
		return true, nil
	}
	return s.store.Release(ctx, s.key)
}

// With acquires a lease, runs fn, and releases the lease on every exit
// path including panics. It returns fn's error.
func (s *Semaphore) With(ctx context.Context, fn func() error) error {
	if _, err := s.Wait(ctx); err != nil {
		return err
	}
	defer func() {
		if _, err := s.Signal(ctx); err != nil {
			s.logger.Warn("semaphore release failed",
				slog.String("key", s.key),
				slog.String("error", err.Error()),
			)
		}
	}()
	return fn()
}
