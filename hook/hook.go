// Package hook provides ready-made around hooks for task execution:
// structured logging, OpenTelemetry tracing and metrics, and panic
// recovery. Install them on a workflow's global hooks or on individual
// tasks.
//
//	var hooks workflow.Hooks
//	hooks.OnAround(hook.Recover(logger))
//	hooks.OnAround(hook.Logging(logger))
//	hooks.OnAround(hook.Tracing())
package hook

import (
	"log/slog"
	"time"

	"github.com/conductkit/conduct/workflow"
)

// Logging returns an around hook that logs iteration start and outcome.
func Logging(logger *slog.Logger) workflow.AroundFunc {
	return func(ctx *workflow.Context, task *workflow.Task, body func() error) error {
		cur := ctx.Cursor()
		logger.Info("task iteration started",
			slog.String("run_id", ctx.RunID().String()),
			slog.String("workflow", ctx.Workflow().Name),
			slog.String("task", task.QualifiedName()),
			slog.Int("index", cur.Index),
			slog.Int("retry_count", cur.RetryCount),
		)

		start := time.Now()
		err := body()
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("task iteration failed",
				slog.String("run_id", ctx.RunID().String()),
				slog.String("task", task.QualifiedName()),
				slog.Int("index", cur.Index),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("task iteration completed",
				slog.String("run_id", ctx.RunID().String()),
				slog.String("task", task.QualifiedName()),
				slog.Int("index", cur.Index),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
