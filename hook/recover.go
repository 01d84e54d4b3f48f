package hook

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/conductkit/conduct/workflow"
)

// Recover returns an around hook that recovers from panics in the body
// (and in any hooks composed inside it). Panics are converted to errors
// and logged with a stack trace, so a panicking task consumes its retry
// budget instead of killing the worker.
func Recover(logger *slog.Logger) workflow.AroundFunc {
	return func(ctx *workflow.Context, task *workflow.Task, body func() error) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("task body panicked",
					slog.String("run_id", ctx.RunID().String()),
					slog.String("task", task.QualifiedName()),
					slog.Int("index", ctx.Cursor().Index),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in task %s: %v", task.QualifiedName(), r)
			}
		}()
		return body()
	}
}
