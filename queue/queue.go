package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-queue behaviour such as rate limiting and concurrency.
type Config struct {
	// Name is the queue identifier (must match Unit.Queue).
	Name string

	// MaxConcurrency limits how many units from this queue may run
	// simultaneously across the local worker pool. Zero means no
	// queue-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained units per second that may be
	// delivered from this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// queueState tracks runtime state for a single queue.
type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
	slots   int
}

// Manager controls per-queue and per-scope rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
	scopes map[string]*scopeState
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues: make(map[string]*queueState, len(configs)),
		scopes: make(map[string]*scopeState),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	return m
}

func newQueueState(cfg Config) *queueState {
	qs := &queueState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return qs
}

func (m *Manager) state(queue string) *queueState {
	qs := m.queues[queue]
	if qs == nil {
		qs = &queueState{config: Config{Name: queue}}
		m.queues[queue] = qs
	}
	return qs
}

// Admit checks rate limits and concurrency for the given queue and
// workflow at delivery time. If the unit is allowed to proceed it
// increments the active counter and returns true. The caller MUST call
// Done when execution completes.
func (m *Manager) Admit(queue, workflow string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check queue-level constraints.
	qs := m.queues[queue]
	if qs != nil {
		if qs.limiter != nil && !qs.limiter.Allow() {
			return false
		}
		if qs.config.MaxConcurrency > 0 && qs.active >= qs.config.MaxConcurrency {
			return false
		}
	}

	// Check workflow-scoped constraints.
	if workflow != "" {
		ss := m.scopes[scopeKey(queue, workflow)]
		if ss != nil {
			if ss.limiter != nil && !ss.limiter.Allow() {
				return false
			}
			if ss.maxConcurrency > 0 && ss.active >= ss.maxConcurrency {
				return false
			}
			ss.active++
		}
	}

	if qs != nil {
		qs.active++
	}

	return true
}

// Done decrements the active unit count for the queue and workflow.
func (m *Manager) Done(queue, workflow string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}

	if workflow != "" {
		if ss := m.scopes[scopeKey(queue, workflow)]; ss != nil && ss.active > 0 {
			ss.active--
		}
	}
}

// TryAcquireSlot reserves a fan-out slot on the named queue. The limit
// is supplied by the dispatching task; a configured MaxConcurrency
// tightens it further. Returns false when all slots are taken, in
// which case the caller runs the work inline instead of enqueueing.
func (m *Manager) TryAcquireSlot(queue string, limit int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.state(queue)
	cap := limit
	if qs.config.MaxConcurrency > 0 && qs.config.MaxConcurrency < cap {
		cap = qs.config.MaxConcurrency
	}
	if cap > 0 && qs.slots >= cap {
		return false
	}
	qs.slots++
	return true
}

// ReleaseSlot returns a fan-out slot previously granted by
// TryAcquireSlot. Releasing on a queue without held slots is a no-op.
func (m *Manager) ReleaseSlot(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.slots > 0 {
		qs.slots--
	}
}

// SetConfig dynamically updates (or creates) a queue configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.queues[cfg.Name]
	qs := newQueueState(cfg)

	// Preserve current counts if reconfiguring.
	if existing != nil {
		qs.active = existing.active
		qs.slots = existing.slots
	}
	m.queues[cfg.Name] = qs
}

// ActiveCount returns the current number of active units for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}

// SlotCount returns the number of fan-out slots currently held for a
// queue.
func (m *Manager) SlotCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.slots
	}
	return 0
}
