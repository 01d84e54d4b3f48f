package hook

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/conductkit/conduct/workflow"
)

// tracerName is the instrumentation scope name for conduct tracing.
const tracerName = "github.com/conductkit/conduct"

// Tracing returns an around hook that wraps each task iteration in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and the hook becomes a pass-through with
// zero overhead.
//
// Span attributes include: conduct.run.id, conduct.workflow,
// conduct.task, conduct.index, conduct.retry_count. On error, the span
// status is set to codes.Error with the error message.
func Tracing() workflow.AroundFunc {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns a tracing hook using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) workflow.AroundFunc {
	return func(ctx *workflow.Context, task *workflow.Task, body func() error) error {
		cur := ctx.Cursor()
		_, span := tracer.Start(ctx.Context(), "conduct.task.execute",
			trace.WithAttributes(
				attribute.String("conduct.run.id", ctx.RunID().String()),
				attribute.String("conduct.workflow", ctx.Workflow().Name),
				attribute.String("conduct.task", task.QualifiedName()),
				attribute.Int("conduct.index", cur.Index),
				attribute.Int("conduct.retry_count", cur.RetryCount),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := body()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
