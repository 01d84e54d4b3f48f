package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/conductkit/conduct/id"
	"github.com/conductkit/conduct/workflow"
)

// Registry implements workflow.Emitter by fanning each event out to the
// registered extensions that implement the corresponding hook.
var _ workflow.Emitter = (*Registry)(nil)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type runStartedEntry struct {
	name string
	hook RunStarted
}

type runCompletedEntry struct {
	name string
	hook RunCompleted
}

type runFailedEntry struct {
	name string
	hook RunFailed
}

type runRescheduledEntry struct {
	name string
	hook RunRescheduled
}

type taskStartedEntry struct {
	name string
	hook TaskStarted
}

type taskCompletedEntry struct {
	name string
	hook TaskCompleted
}

type taskSkippedEntry struct {
	name string
	hook TaskSkipped
}

type taskRetryingEntry struct {
	name string
	hook TaskRetrying
}

type taskEnqueuedEntry struct {
	name string
	hook TaskEnqueued
}

type throttleAcquiredEntry struct {
	name string
	hook ThrottleAcquired
}

type throttleReleasedEntry struct {
	name string
	hook ThrottleReleased
}

type depWaitStartedEntry struct {
	name string
	hook DependencyWaitStarted
}

type depWaitCompletedEntry struct {
	name string
	hook DependencyWaitCompleted
}

type spanEntry struct {
	name string
	hook Span
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	runStarted       []runStartedEntry
	runCompleted     []runCompletedEntry
	runFailed        []runFailedEntry
	runRescheduled   []runRescheduledEntry
	taskStarted      []taskStartedEntry
	taskCompleted    []taskCompletedEntry
	taskSkipped      []taskSkippedEntry
	taskRetrying     []taskRetryingEntry
	taskEnqueued     []taskEnqueuedEntry
	throttleAcquired []throttleAcquiredEntry
	throttleReleased []throttleReleasedEntry
	depWaitStarted   []depWaitStartedEntry
	depWaitCompleted []depWaitCompletedEntry
	spans            []spanEntry
	shutdown         []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(RunStarted); ok {
		r.runStarted = append(r.runStarted, runStartedEntry{name, h})
	}
	if h, ok := e.(RunCompleted); ok {
		r.runCompleted = append(r.runCompleted, runCompletedEntry{name, h})
	}
	if h, ok := e.(RunFailed); ok {
		r.runFailed = append(r.runFailed, runFailedEntry{name, h})
	}
	if h, ok := e.(RunRescheduled); ok {
		r.runRescheduled = append(r.runRescheduled, runRescheduledEntry{name, h})
	}
	if h, ok := e.(TaskStarted); ok {
		r.taskStarted = append(r.taskStarted, taskStartedEntry{name, h})
	}
	if h, ok := e.(TaskCompleted); ok {
		r.taskCompleted = append(r.taskCompleted, taskCompletedEntry{name, h})
	}
	if h, ok := e.(TaskSkipped); ok {
		r.taskSkipped = append(r.taskSkipped, taskSkippedEntry{name, h})
	}
	if h, ok := e.(TaskRetrying); ok {
		r.taskRetrying = append(r.taskRetrying, taskRetryingEntry{name, h})
	}
	if h, ok := e.(TaskEnqueued); ok {
		r.taskEnqueued = append(r.taskEnqueued, taskEnqueuedEntry{name, h})
	}
	if h, ok := e.(ThrottleAcquired); ok {
		r.throttleAcquired = append(r.throttleAcquired, throttleAcquiredEntry{name, h})
	}
	if h, ok := e.(ThrottleReleased); ok {
		r.throttleReleased = append(r.throttleReleased, throttleReleasedEntry{name, h})
	}
	if h, ok := e.(DependencyWaitStarted); ok {
		r.depWaitStarted = append(r.depWaitStarted, depWaitStartedEntry{name, h})
	}
	if h, ok := e.(DependencyWaitCompleted); ok {
		r.depWaitCompleted = append(r.depWaitCompleted, depWaitCompletedEntry{name, h})
	}
	if h, ok := e.(Span); ok {
		r.spans = append(r.spans, spanEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Run event emitters
// ──────────────────────────────────────────────────

// EmitRunStarted notifies all extensions that implement RunStarted.
func (r *Registry) EmitRunStarted(ctx context.Context, run *workflow.Run) {
	for _, e := range r.runStarted {
		if err := e.hook.OnRunStarted(ctx, run); err != nil {
			r.logHookError("OnRunStarted", e.name, err)
		}
	}
}

// EmitRunCompleted notifies all extensions that implement RunCompleted.
func (r *Registry) EmitRunCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	for _, e := range r.runCompleted {
		if err := e.hook.OnRunCompleted(ctx, run, elapsed); err != nil {
			r.logHookError("OnRunCompleted", e.name, err)
		}
	}
}

// EmitRunFailed notifies all extensions that implement RunFailed.
func (r *Registry) EmitRunFailed(ctx context.Context, run *workflow.Run, runErr error) {
	for _, e := range r.runFailed {
		if err := e.hook.OnRunFailed(ctx, run, runErr); err != nil {
			r.logHookError("OnRunFailed", e.name, err)
		}
	}
}

// EmitRunRescheduled notifies all extensions that implement RunRescheduled.
func (r *Registry) EmitRunRescheduled(ctx context.Context, run *workflow.Run, resumeAt time.Time) {
	for _, e := range r.runRescheduled {
		if err := e.hook.OnRunRescheduled(ctx, run, resumeAt); err != nil {
			r.logHookError("OnRunRescheduled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Task event emitters
// ──────────────────────────────────────────────────

// EmitTaskStarted notifies all extensions that implement TaskStarted.
func (r *Registry) EmitTaskStarted(ctx context.Context, run *workflow.Run, task string, index int) {
	for _, e := range r.taskStarted {
		if err := e.hook.OnTaskStarted(ctx, run, task, index); err != nil {
			r.logHookError("OnTaskStarted", e.name, err)
		}
	}
}

// EmitTaskCompleted notifies all extensions that implement TaskCompleted.
func (r *Registry) EmitTaskCompleted(ctx context.Context, run *workflow.Run, task string, index int, elapsed time.Duration) {
	for _, e := range r.taskCompleted {
		if err := e.hook.OnTaskCompleted(ctx, run, task, index, elapsed); err != nil {
			r.logHookError("OnTaskCompleted", e.name, err)
		}
	}
}

// EmitTaskSkipped notifies all extensions that implement TaskSkipped.
func (r *Registry) EmitTaskSkipped(ctx context.Context, run *workflow.Run, task string) {
	for _, e := range r.taskSkipped {
		if err := e.hook.OnTaskSkipped(ctx, run, task); err != nil {
			r.logHookError("OnTaskSkipped", e.name, err)
		}
	}
}

// EmitTaskRetrying notifies all extensions that implement TaskRetrying.
func (r *Registry) EmitTaskRetrying(ctx context.Context, run *workflow.Run, task string, index, attempt int, delay time.Duration) {
	for _, e := range r.taskRetrying {
		if err := e.hook.OnTaskRetrying(ctx, run, task, index, attempt, delay); err != nil {
			r.logHookError("OnTaskRetrying", e.name, err)
		}
	}
}

// EmitTaskEnqueued notifies all extensions that implement TaskEnqueued.
func (r *Registry) EmitTaskEnqueued(ctx context.Context, run *workflow.Run, task string, index int, jobID id.JobID) {
	for _, e := range r.taskEnqueued {
		if err := e.hook.OnTaskEnqueued(ctx, run, task, index, jobID); err != nil {
			r.logHookError("OnTaskEnqueued", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Concurrency event emitters
// ──────────────────────────────────────────────────

// EmitThrottleAcquired notifies all extensions that implement ThrottleAcquired.
func (r *Registry) EmitThrottleAcquired(ctx context.Context, run *workflow.Run, key string) {
	for _, e := range r.throttleAcquired {
		if err := e.hook.OnThrottleAcquired(ctx, run, key); err != nil {
			r.logHookError("OnThrottleAcquired", e.name, err)
		}
	}
}

// EmitThrottleReleased notifies all extensions that implement ThrottleReleased.
func (r *Registry) EmitThrottleReleased(ctx context.Context, run *workflow.Run, key string) {
	for _, e := range r.throttleReleased {
		if err := e.hook.OnThrottleReleased(ctx, run, key); err != nil {
			r.logHookError("OnThrottleReleased", e.name, err)
		}
	}
}

// EmitDependencyWaitStarted notifies all extensions that implement DependencyWaitStarted.
func (r *Registry) EmitDependencyWaitStarted(ctx context.Context, run *workflow.Run, task, upstream string) {
	for _, e := range r.depWaitStarted {
		if err := e.hook.OnDependencyWaitStarted(ctx, run, task, upstream); err != nil {
			r.logHookError("OnDependencyWaitStarted", e.name, err)
		}
	}
}

// EmitDependencyWaitCompleted notifies all extensions that implement DependencyWaitCompleted.
func (r *Registry) EmitDependencyWaitCompleted(ctx context.Context, run *workflow.Run, task, upstream string, elapsed time.Duration) {
	for _, e := range r.depWaitCompleted {
		if err := e.hook.OnDependencyWaitCompleted(ctx, run, task, upstream, elapsed); err != nil {
			r.logHookError("OnDependencyWaitCompleted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitSpan notifies all extensions that implement Span.
func (r *Registry) EmitSpan(ctx context.Context, run *workflow.Run, name string, attrs map[string]any, elapsed time.Duration, spanErr error) {
	for _, e := range r.spans {
		if err := e.hook.OnSpan(ctx, run, name, attrs, elapsed, spanErr); err != nil {
			r.logHookError("OnSpan", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the run.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
