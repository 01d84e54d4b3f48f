package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conductkit/conduct/workflow"
)

// Handler executes a delivered unit. The engine wires this to
// workflow.Runner.ExecuteUnit.
type Handler func(ctx context.Context, unit *workflow.Unit) error

// Memory is an in-process delivery queue. Units are held until their
// RunAt is due, then handed to the Handler from a pool of worker
// goroutines. It satisfies workflow.Enqueuer.
//
// Memory is suitable for single-process deployments and tests. A
// multi-process deployment replaces it with a broker-backed Enqueuer
// while keeping the same Manager admission rules on each worker.
type Memory struct {
	manager      *Manager
	logger       *slog.Logger
	concurrency  int
	pollInterval time.Duration

	mu      sync.Mutex
	pending []*workflow.Unit
	running bool

	stopCh chan struct{}
	group  *errgroup.Group
}

var _ workflow.Enqueuer = (*Memory)(nil)

// MemoryOption configures a Memory queue.
type MemoryOption func(*Memory)

// WithManager sets the admission manager. Without one, units are
// delivered without rate limiting or concurrency control.
func WithManager(m *Manager) MemoryOption {
	return func(q *Memory) { q.manager = m }
}

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) MemoryOption {
	return func(q *Memory) { q.concurrency = n }
}

// WithPollInterval sets how often idle workers re-check for due units.
func WithPollInterval(d time.Duration) MemoryOption {
	return func(q *Memory) { q.pollInterval = d }
}

// WithMemoryLogger sets the logger.
func WithMemoryLogger(l *slog.Logger) MemoryOption {
	return func(q *Memory) { q.logger = l }
}

// NewMemory creates an in-process delivery queue.
func NewMemory(opts ...MemoryOption) *Memory {
	q := &Memory{
		manager:      NewManager(),
		logger:       slog.Default(),
		concurrency:  4,
		pollInterval: 10 * time.Millisecond,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Manager returns the admission manager.
func (q *Memory) Manager() *Manager { return q.manager }

// Enqueue schedules a unit for delivery. Units with a RunAt in the
// future are held until due.
func (q *Memory) Enqueue(_ context.Context, unit *workflow.Unit) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, unit)
	return nil
}

// Requeue re-schedules a run-level unit for a later traversal pass.
// For the in-process queue this is the same path as Enqueue; the
// distinction matters for broker-backed implementations that route
// resumptions differently.
func (q *Memory) Requeue(ctx context.Context, unit *workflow.Unit) error {
	return q.Enqueue(ctx, unit)
}

// TryAcquireSlot reserves a fan-out slot through the admission manager.
func (q *Memory) TryAcquireSlot(_ context.Context, queue string, limit int) bool {
	return q.manager.TryAcquireSlot(queue, limit)
}

// ReleaseSlot returns a fan-out slot to the admission manager.
func (q *Memory) ReleaseSlot(_ context.Context, queue string) {
	q.manager.ReleaseSlot(queue)
}

// Len returns the number of units waiting for delivery.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Start launches the worker goroutines. It returns immediately.
func (q *Memory) Start(ctx context.Context, h Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return nil
	}
	q.running = true

	g, gctx := errgroup.WithContext(ctx)
	q.group = g
	for range q.concurrency {
		g.Go(func() error {
			q.deliverLoop(gctx, h)
			return nil
		})
	}

	q.logger.Info("queue workers starting", slog.Int("concurrency", q.concurrency))
	return nil
}

// Stop signals all workers to stop and waits for them to finish or for
// the context deadline.
func (q *Memory) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	group := q.group
	q.mu.Unlock()

	close(q.stopCh)

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("queue workers stopped")
		return nil
	case <-ctx.Done():
		q.logger.Warn("queue shutdown timed out")
		return ctx.Err()
	}
}

// deliverLoop is run by each worker goroutine.
func (q *Memory) deliverLoop(ctx context.Context, h Handler) {
	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		unit := q.pop(time.Now())
		if unit == nil {
			q.sleep(ctx)
			continue
		}

		// Check queue/workflow rate limit and concurrency. Rate
		// limited units go back to pending with a small delay.
		if q.manager != nil && !q.manager.Admit(unit.Queue, unit.Workflow) {
			unit.RunAt = time.Now().Add(q.pollInterval)
			q.push(unit)
			q.sleep(ctx)
			continue
		}

		if err := h(ctx, unit); err != nil {
			q.logger.Debug("unit execution failed",
				slog.String("job_id", unit.JobID.String()),
				slog.String("workflow", unit.Workflow),
				slog.String("task", unit.TaskName),
				slog.String("error", err.Error()),
			)
		}

		if q.manager != nil {
			q.manager.Done(unit.Queue, unit.Workflow)
			// Return the dispatch-time concurrency grant, if any. Units
			// enqueued without a limit never held one.
			if unit.SlotHeld {
				q.manager.ReleaseSlot(unit.Queue)
			}
		}
	}
}

// pop removes and returns the first due unit, preserving arrival order
// for the rest. Returns nil when nothing is due.
func (q *Memory) pop(now time.Time) *workflow.Unit {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, u := range q.pending {
		if u.RunAt.IsZero() || !u.RunAt.After(now) {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return u
		}
	}
	return nil
}

func (q *Memory) push(unit *workflow.Unit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, unit)
}

func (q *Memory) sleep(ctx context.Context) {
	select {
	case <-time.After(q.pollInterval):
	case <-q.stopCh:
	case <-ctx.Done():
	}
}
