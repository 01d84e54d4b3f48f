package queue

import (
	"fmt"

	"golang.org/x/time/rate"
)

// ScopeConfig defines rate limits and concurrency for a specific
// workflow on a specific queue. It lets one noisy workflow be capped
// without throttling every other workflow sharing the queue.
type ScopeConfig struct {
	// QueueName is the queue this config applies to.
	QueueName string

	// Workflow is the workflow name (Unit.Workflow).
	Workflow string

	// RateLimit is the sustained units per second for this workflow.
	RateLimit float64

	// RateBurst is the burst size for the workflow's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous units for this workflow on
	// this queue. Zero means no workflow-specific concurrency limit.
	MaxConcurrency int
}

// scopeState tracks runtime state for a single queue+workflow pair.
type scopeState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// scopeKey builds the map key for a queue+workflow pair.
func scopeKey(queue, workflow string) string {
	return fmt.Sprintf("%s:%s", queue, workflow)
}

// SetScopeConfig configures rate limits and concurrency for a specific
// workflow on a specific queue. Calling this multiple times for the
// same queue+workflow replaces the previous configuration.
func (m *Manager) SetScopeConfig(cfg ScopeConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := scopeKey(cfg.QueueName, cfg.Workflow)
	existing := m.scopes[key]

	ss := &scopeState{
		maxConcurrency: cfg.MaxConcurrency,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ss.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ss.active = existing.active
	}
	m.scopes[key] = ss
}

// ScopeActiveCount returns the current number of active units for a
// queue+workflow pair.
func (m *Manager) ScopeActiveCount(queue, workflow string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ss := m.scopes[scopeKey(queue, workflow)]; ss != nil {
		return ss.active
	}
	return 0
}
