package workflow

import (
	"context"
	"time"

	"github.com/conductkit/conduct/id"
)

// Emitter receives the core's named lifecycle events. The core does not
// format or ship events anywhere — that is the observability
// collaborator's job. ext.Registry implements this interface and is
// wired into the Runner by the engine package.
type Emitter interface {
	EmitRunStarted(ctx context.Context, run *Run)
	EmitRunCompleted(ctx context.Context, run *Run, elapsed time.Duration)
	EmitRunFailed(ctx context.Context, run *Run, err error)
	EmitRunRescheduled(ctx context.Context, run *Run, resumeAt time.Time)

	EmitTaskStarted(ctx context.Context, run *Run, task string, index int)
	EmitTaskCompleted(ctx context.Context, run *Run, task string, index int, elapsed time.Duration)
	EmitTaskSkipped(ctx context.Context, run *Run, task string)
	EmitTaskRetrying(ctx context.Context, run *Run, task string, index, attempt int, delay time.Duration)
	EmitTaskEnqueued(ctx context.Context, run *Run, task string, index int, jobID id.JobID)

	EmitThrottleAcquired(ctx context.Context, run *Run, key string)
	EmitThrottleReleased(ctx context.Context, run *Run, key string)

	EmitDependencyWaitStarted(ctx context.Context, run *Run, task, upstream string)
	EmitDependencyWaitCompleted(ctx context.Context, run *Run, task, upstream string, elapsed time.Duration)

	EmitSpan(ctx context.Context, run *Run, name string, attrs map[string]any, elapsed time.Duration, err error)
}

// NopEmitter discards every event. It is the default when no
// observability collaborator is wired.
type NopEmitter struct{}

func (NopEmitter) EmitRunStarted(context.Context, *Run)                  {}
func (NopEmitter) EmitRunCompleted(context.Context, *Run, time.Duration) {}
func (NopEmitter) EmitRunFailed(context.Context, *Run, error)            {}
func (NopEmitter) EmitRunRescheduled(context.Context, *Run, time.Time)   {}
func (NopEmitter) EmitTaskStarted(context.Context, *Run, string, int)    {}
func (NopEmitter) EmitTaskCompleted(context.Context, *Run, string, int, time.Duration) {
}
func (NopEmitter) EmitTaskSkipped(context.Context, *Run, string) {}
func (NopEmitter) EmitTaskRetrying(context.Context, *Run, string, int, int, time.Duration) {
}
func (NopEmitter) EmitTaskEnqueued(context.Context, *Run, string, int, id.JobID) {}
func (NopEmitter) EmitThrottleAcquired(context.Context, *Run, string)            {}
func (NopEmitter) EmitThrottleReleased(context.Context, *Run, string)            {}
func (NopEmitter) EmitDependencyWaitStarted(context.Context, *Run, string, string) {
}
func (NopEmitter) EmitDependencyWaitCompleted(context.Context, *Run, string, string, time.Duration) {
}
func (NopEmitter) EmitSpan(context.Context, *Run, string, map[string]any, time.Duration, error) {
}
