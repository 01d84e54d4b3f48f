package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conductkit/conduct"
	"github.com/conductkit/conduct/id"
	"github.com/conductkit/conduct/semaphore"
)

// Arguments is the immutable key→value record of a run's external inputs.
// It is constructed once when a run starts (or restored on resume) and
// never mutated; every task receives read access through the Context.
type Arguments map[string]any

// Context is the execution context that flows through every task
// invocation of one run. It carries the arguments, accumulated outputs,
// dispatched-unit statuses, and the iteration cursor, and exposes the
// iteration, throttle, and instrumentation primitives task bodies call.
//
// A Context is exclusively owned by one running unit of work and is never
// shared across concurrently executing units; cross-unit coordination
// happens only through serialized snapshots (see Snapshot).
type Context struct {
	ctx      context.Context
	run      *Run
	workflow *Workflow

	args     Arguments
	outputs  *OutputSet
	statuses *StatusSet
	cursor   Cursor

	// jobID identifies the host-scheduled unit executing this context.
	jobID id.JobID

	// dryRun is the run-level dry-run flag; the effective per-iteration
	// value also considers the task definition.
	dryRun bool

	// eachActive is set only while iterating a task that declares each.
	eachActive bool

	// subCount generates stable keys for unnamed throttle calls; it
	// resets at the start of every iteration.
	subCount int

	leases  semaphore.LeaseStore
	emitter Emitter
	logger  *slog.Logger
}

// newContext builds the execution context for one unit of work.
func newContext(
	ctx context.Context,
	run *Run,
	wf *Workflow,
	jobID id.JobID,
	leases semaphore.LeaseStore,
	emitter Emitter,
	logger *slog.Logger,
) *Context {
	return &Context{
		ctx:      ctx,
		run:      run,
		workflow: wf,
		args:     run.Arguments,
		outputs:  NewOutputSet(),
		statuses: NewStatusSet(),
		jobID:    jobID,
		dryRun:   run.DryRun,
		leases:   leases,
		emitter:  emitter,
		logger:   logger,
	}
}

// Context returns the underlying context.Context. During a task attempt
// with a timeout it carries the attempt's deadline.
func (c *Context) Context() context.Context { return c.ctx }

// Run returns the workflow run this context executes.
func (c *Context) Run() *Run { return c.run }

// RunID returns the run's identifier.
func (c *Context) RunID() id.RunID { return c.run.ID }

// JobID returns the identifier of the host-scheduled unit executing this
// context.
func (c *Context) JobID() id.JobID { return c.jobID }

// Workflow returns the workflow definition.
func (c *Context) Workflow() *Workflow { return c.workflow }

// Graph returns the workflow's task graph.
func (c *Context) Graph() *Graph { return c.workflow.Graph }

// Arguments returns the run's input record. Treat it as read-only.
func (c *Context) Arguments() Arguments { return c.args }

// Argument returns one input value by name.
func (c *Context) Argument(name string) (any, bool) {
	v, ok := c.args[name]
	return v, ok
}

// Cursor returns the current iteration position.
func (c *Context) Cursor() Cursor { return c.cursor }

// ── Output access ───────────────────────────────────

// Output returns a non-each task's single output record. The boolean is
// false when the task has not produced output (not yet run, or skipped).
func (c *Context) Output(task string) (*TaskOutput, bool) {
	return c.outputs.Get(task)
}

// AllOutputs returns an each-task's outputs in index order, with nil
// entries for indices whose iteration has not completed.
func (c *Context) AllOutputs(task string) []*TaskOutput {
	return c.outputs.All(task)
}

// EachOutput returns the named each-task's output at the current
// iteration index. It is iteration-scoped: calling it outside an active
// iteration is a usage error.
func (c *Context) EachOutput(task string) (*TaskOutput, error) {
	if !c.cursor.Active() {
		return nil, &conduct.ContextUsageError{Op: "EachOutput", Reason: "no active iteration"}
	}
	o, ok := c.outputs.At(task, c.cursor.Index)
	if !ok {
		return nil, fmt.Errorf("conduct: no output for task %q at index %d: %w", task, c.cursor.Index, conduct.ErrTaskNotFound)
	}
	return o, nil
}

// Outputs returns the full output set, primarily for diagnostics after a
// failed run.
func (c *Context) Outputs() *OutputSet { return c.outputs }

// Statuses returns the dispatched-unit status set.
func (c *Context) Statuses() *StatusSet { return c.statuses }

// ── Iteration access ────────────────────────────────

// EachValue returns the active iteration's element. Calling it outside an
// active each-iteration is a usage error.
func (c *Context) EachValue() (any, error) {
	if !c.eachActive {
		return nil, &conduct.ContextUsageError{Op: "EachValue", Reason: "no active each iteration"}
	}
	return c.cursor.Value, nil
}

// EachIndex returns the active iteration's index. Calling it outside an
// active each-iteration is a usage error.
func (c *Context) EachIndex() (int, error) {
	if !c.eachActive {
		return 0, &conduct.ContextUsageError{Op: "EachIndex", Reason: "no active each iteration"}
	}
	return c.cursor.Index, nil
}

// beginIteration opens the cursor for (task, index, value). It rejects
// nested iterations: an iteration must be closed before the next opens.
func (c *Context) beginIteration(task *Task, index int, value any, retryCount int) error {
	if c.cursor.Active() {
		return &conduct.ContextUsageError{Op: "beginIteration", Reason: "nested iterations are not allowed"}
	}
	c.cursor.TaskName = task.QualifiedName()
	c.cursor.Index = index
	c.cursor.Value = value
	c.cursor.RetryCount = retryCount
	// The dry-run toggle resets to the definition value at the start of
	// every iteration so it cannot leak between iterations.
	c.cursor.DryRun = c.dryRun || task.DryRun
	c.cursor.active = true
	c.eachActive = task.Each != nil
	c.subCount = 0
	return nil
}

// endIteration closes the cursor.
func (c *Context) endIteration() {
	c.cursor.reset()
	c.eachActive = false
}

// ── Dry run ─────────────────────────────────────────

// DryRun reports whether the active iteration (or, outside an iteration,
// the run) is a dry run.
func (c *Context) DryRun() bool {
	if c.cursor.Active() {
		return c.cursor.DryRun
	}
	return c.dryRun
}

// SetDryRun overrides the dry-run toggle for the remainder of the active
// iteration. The override does not survive into the next iteration.
func (c *Context) SetDryRun(on bool) {
	if c.cursor.Active() {
		c.cursor.DryRun = on
		return
	}
	c.dryRun = on
}

// SkipIfDryRun executes fn and returns its value in normal mode. In
// dry-run mode fn is not executed and fallback is returned instead.
func (c *Context) SkipIfDryRun(fallback any, fn func() (any, error)) (any, error) {
	if c.DryRun() {
		return fallback, nil
	}
	return fn()
}

// ── Throttling ──────────────────────────────────────

// Throttle limits concurrent executions of fn across all processes:
// at most limit holders of key system-wide, with lease TTL ttl. An empty
// key derives a stable per-call key from the active task and a
// sub-counter. With no lease store configured the call degrades to
// executing fn immediately.
func (c *Context) Throttle(key string, limit int, ttl time.Duration, fn func() error) error {
	if key == "" {
		key = c.nextSubKey("throttle")
	}

	sem := semaphore.New(c.leases, key,
		semaphore.WithLimit(limit),
		semaphore.WithTTL(ttl),
		semaphore.WithLogger(c.logger),
	)

	return sem.With(c.ctx, func() error {
		c.emitter.EmitThrottleAcquired(c.ctx, c.run, key)
		defer c.emitter.EmitThrottleReleased(c.ctx, c.run, key)
		return fn()
	})
}

// nextSubKey generates a stable key for unnamed throttle calls: the same
// call site produces the same key on every execution of an iteration,
// including retries and resumes.
func (c *Context) nextSubKey(kind string) string {
	c.subCount++
	scope := c.cursor.TaskName
	if scope == "" {
		scope = c.workflow.Name
	}
	return fmt.Sprintf("%s/%s#%d", scope, kind, c.subCount)
}

// ── Instrumentation ─────────────────────────────────

// Instrument runs fn as a named span, reporting its duration and outcome
// to the observability collaborator. The error is returned unchanged.
func (c *Context) Instrument(name string, attrs map[string]any, fn func() error) error {
	start := time.Now()
	err := fn()
	c.emitter.EmitSpan(c.ctx, c.run, name, attrs, time.Since(start), err)
	return err
}
