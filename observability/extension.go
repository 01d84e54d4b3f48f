package observability

import (
	"context"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/conductkit/conduct/ext"
	"github.com/conductkit/conduct/id"
	"github.com/conductkit/conduct/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension               = (*MetricsExtension)(nil)
	_ ext.RunStarted              = (*MetricsExtension)(nil)
	_ ext.RunCompleted            = (*MetricsExtension)(nil)
	_ ext.RunFailed               = (*MetricsExtension)(nil)
	_ ext.RunRescheduled          = (*MetricsExtension)(nil)
	_ ext.TaskCompleted           = (*MetricsExtension)(nil)
	_ ext.TaskSkipped             = (*MetricsExtension)(nil)
	_ ext.TaskRetrying            = (*MetricsExtension)(nil)
	_ ext.TaskEnqueued            = (*MetricsExtension)(nil)
	_ ext.ThrottleAcquired        = (*MetricsExtension)(nil)
	_ ext.DependencyWaitCompleted = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via go-utils
// MetricFactory. Register it as a conduct extension to automatically
// track run executions, failure and reschedule rates, task completions,
// skips, retries, fan-out dispatches, throttle acquisitions, and
// dependency waits.
type MetricsExtension struct {
	RunStarted     gu.Counter
	RunCompleted   gu.Counter
	RunFailed      gu.Counter
	RunRescheduled gu.Counter
	TaskCompleted  gu.Counter
	TaskSkipped    gu.Counter
	TaskRetried    gu.Counter
	TaskEnqueued   gu.Counter
	ThrottleWaits  gu.Counter
	DepWaits       gu.Counter
}

// NewMetricsExtension creates a MetricsExtension using a default metrics collector.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithFactory(gu.NewMetricsCollector("conduct/observability"))
}

// NewMetricsExtensionWithFactory creates a MetricsExtension with the
// provided MetricFactory. Use gu.NewMetricsCollector for testing.
func NewMetricsExtensionWithFactory(factory gu.MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		RunStarted:     factory.Counter("conduct.run.started"),
		RunCompleted:   factory.Counter("conduct.run.completed"),
		RunFailed:      factory.Counter("conduct.run.failed"),
		RunRescheduled: factory.Counter("conduct.run.rescheduled"),
		TaskCompleted:  factory.Counter("conduct.task.completed"),
		TaskSkipped:    factory.Counter("conduct.task.skipped"),
		TaskRetried:    factory.Counter("conduct.task.retried"),
		TaskEnqueued:   factory.Counter("conduct.task.enqueued"),
		ThrottleWaits:  factory.Counter("conduct.throttle.acquired"),
		DepWaits:       factory.Counter("conduct.dependency_wait.completed"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (m *MetricsExtension) OnRunStarted(_ context.Context, _ *workflow.Run) error {
	m.RunStarted.Inc()
	return nil
}

// OnRunCompleted implements ext.RunCompleted.
func (m *MetricsExtension) OnRunCompleted(_ context.Context, _ *workflow.Run, _ time.Duration) error {
	m.RunCompleted.Inc()
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (m *MetricsExtension) OnRunFailed(_ context.Context, _ *workflow.Run, _ error) error {
	m.RunFailed.Inc()
	return nil
}

// OnRunRescheduled implements ext.RunRescheduled.
func (m *MetricsExtension) OnRunRescheduled(_ context.Context, _ *workflow.Run, _ time.Time) error {
	m.RunRescheduled.Inc()
	return nil
}

// ── Task lifecycle hooks ────────────────────────────

// OnTaskCompleted implements ext.TaskCompleted.
func (m *MetricsExtension) OnTaskCompleted(_ context.Context, _ *workflow.Run, _ string, _ int, _ time.Duration) error {
	m.TaskCompleted.Inc()
	return nil
}

// OnTaskSkipped implements ext.TaskSkipped.
func (m *MetricsExtension) OnTaskSkipped(_ context.Context, _ *workflow.Run, _ string) error {
	m.TaskSkipped.Inc()
	return nil
}

// OnTaskRetrying implements ext.TaskRetrying.
func (m *MetricsExtension) OnTaskRetrying(_ context.Context, _ *workflow.Run, _ string, _, _ int, _ time.Duration) error {
	m.TaskRetried.Inc()
	return nil
}

// OnTaskEnqueued implements ext.TaskEnqueued.
func (m *MetricsExtension) OnTaskEnqueued(_ context.Context, _ *workflow.Run, _ string, _ int, _ id.JobID) error {
	m.TaskEnqueued.Inc()
	return nil
}

// ── Concurrency hooks ───────────────────────────────

// OnThrottleAcquired implements ext.ThrottleAcquired.
func (m *MetricsExtension) OnThrottleAcquired(_ context.Context, _ *workflow.Run, _ string) error {
	m.ThrottleWaits.Inc()
	return nil
}

// OnDependencyWaitCompleted implements ext.DependencyWaitCompleted.
func (m *MetricsExtension) OnDependencyWaitCompleted(_ context.Context, _ *workflow.Run, _, _ string, _ time.Duration) error {
	m.DepWaits.Inc()
	return nil
}
