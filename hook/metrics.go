package hook

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/conductkit/conduct/workflow"
)

// meterName is the instrumentation scope name for conduct metrics.
const meterName = "github.com/conductkit/conduct"

// Metrics returns an around hook that records per-iteration execution
// metrics using the global OTel MeterProvider. If no MeterProvider is
// configured, noop instruments are used and the hook becomes a
// pass-through.
//
// Instruments:
//   - conduct.task.duration (Float64Histogram): execution time in
//     seconds, with attributes: workflow, task, status ("ok" or "error")
//   - conduct.task.executions (Int64Counter): total executions,
//     with attributes: workflow, task, status ("ok" or "error")
func Metrics() workflow.AroundFunc {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns a metrics hook using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) workflow.AroundFunc {
	// Create instruments once at hook construction time. OTel
	// instruments are safe for concurrent use. On error, the API returns
	// noop instruments so the hook degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"conduct.task.duration",
		metric.WithDescription("Duration of task iteration execution in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	executions, eErr := meter.Int64Counter(
		"conduct.task.executions",
		metric.WithDescription("Total number of task iteration executions"),
		metric.WithUnit("{execution}"),
	)
	_ = eErr // noop fallback guaranteed by OTel API contract

	return func(ctx *workflow.Context, task *workflow.Task, body func() error) error {
		start := time.Now()
		err := body()
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("workflow", ctx.Workflow().Name),
			attribute.String("task", task.QualifiedName()),
			attribute.String("status", status),
		)
		duration.Record(ctx.Context(), elapsed, attrs)
		executions.Add(ctx.Context(), 1, attrs)

		return err
	}
}
