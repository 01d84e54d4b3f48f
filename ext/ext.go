package ext

import (
	"context"
	"time"

	"github.com/conductkit/conduct/id"
	"github.com/conductkit/conduct/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunStarted is called when a workflow run begins executing.
type RunStarted interface {
	OnRunStarted(ctx context.Context, run *workflow.Run) error
}

// RunCompleted is called after a run finishes successfully.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) error
}

// RunFailed is called when a run fails terminally.
type RunFailed interface {
	OnRunFailed(ctx context.Context, run *workflow.Run, err error) error
}

// RunRescheduled is called when a run releases its slot during a
// dependency wait and is re-dispatched for later.
type RunRescheduled interface {
	OnRunRescheduled(ctx context.Context, run *workflow.Run, resumeAt time.Time) error
}

// ──────────────────────────────────────────────────
// Task lifecycle hooks
// ──────────────────────────────────────────────────

// TaskStarted is called before a task iteration attempt.
type TaskStarted interface {
	OnTaskStarted(ctx context.Context, run *workflow.Run, task string, index int) error
}

// TaskCompleted is called after a task iteration succeeds.
type TaskCompleted interface {
	OnTaskCompleted(ctx context.Context, run *workflow.Run, task string, index int, elapsed time.Duration) error
}

// TaskSkipped is called when a task's condition evaluates false.
type TaskSkipped interface {
	OnTaskSkipped(ctx context.Context, run *workflow.Run, task string) error
}

// TaskRetrying is called when an iteration fails but will be retried.
type TaskRetrying interface {
	OnTaskRetrying(ctx context.Context, run *workflow.Run, task string, index, attempt int, delay time.Duration) error
}

// TaskEnqueued is called when an iteration is dispatched as an
// independent unit of work.
type TaskEnqueued interface {
	OnTaskEnqueued(ctx context.Context, run *workflow.Run, task string, index int, jobID id.JobID) error
}

// ──────────────────────────────────────────────────
// Concurrency hooks
// ──────────────────────────────────────────────────

// ThrottleAcquired is called when a semaphore lease is acquired.
type ThrottleAcquired interface {
	OnThrottleAcquired(ctx context.Context, run *workflow.Run, key string) error
}

// ThrottleReleased is called when a semaphore lease is released.
type ThrottleReleased interface {
	OnThrottleReleased(ctx context.Context, run *workflow.Run, key string) error
}

// DependencyWaitStarted is called when a task begins waiting on an
// incomplete upstream fan-out.
type DependencyWaitStarted interface {
	OnDependencyWaitStarted(ctx context.Context, run *workflow.Run, task, upstream string) error
}

// DependencyWaitCompleted is called when the awaited fan-out finishes.
type DependencyWaitCompleted interface {
	OnDependencyWaitCompleted(ctx context.Context, run *workflow.Run, task, upstream string, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Other hooks
// ──────────────────────────────────────────────────

// Span is called for custom named spans recorded via Context.Instrument.
type Span interface {
	OnSpan(ctx context.Context, run *workflow.Run, name string, attrs map[string]any, elapsed time.Duration, err error) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
