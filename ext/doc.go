// Package ext defines the extension system for conduct.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting traces, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnTaskCompleted(ctx context.Context, run *workflow.Run, task string, index int, elapsed time.Duration) error {
//	    log.Printf("task %s[%d] completed in %s", task, index, elapsed)
//	    return nil
//	}
//
// # Run Lifecycle Hooks
//
//   - [RunStarted] — a workflow run began executing
//   - [RunCompleted] — the run finished successfully
//   - [RunFailed] — the run failed terminally
//   - [RunRescheduled] — the run yielded its slot during a dependency wait
//
// # Task Lifecycle Hooks
//
//   - [TaskStarted] — a task iteration attempt began
//   - [TaskCompleted] — the iteration succeeded
//   - [TaskSkipped] — the task's condition evaluated false
//   - [TaskRetrying] — the iteration failed but will be retried
//   - [TaskEnqueued] — the iteration was dispatched as its own unit
//
// # Concurrency Hooks
//
//   - [ThrottleAcquired] / [ThrottleReleased] — semaphore lease events
//   - [DependencyWaitStarted] / [DependencyWaitCompleted] — fan-out waits
//
// # Other Hooks
//
//   - [Span] — custom named spans recorded via Context.Instrument
//   - [Shutdown] — the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface; it satisfies
// workflow.Emitter and is wired into the Runner by the engine package.
package ext
