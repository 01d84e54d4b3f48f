package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conductkit/conduct"
	"github.com/conductkit/conduct/codec"
	"github.com/conductkit/conduct/id"
	"github.com/conductkit/conduct/semaphore"
)

const (
	// DefaultWaitPollInterval is the sleep between dependency status
	// checks when the task's wait policy names none.
	DefaultWaitPollInterval = 1 * time.Second

	// DefaultRescheduleDelay is how far in the future a run is
	// re-dispatched after a dependency-wait timeout when the task's
	// wait policy names no delay.
	DefaultRescheduleDelay = 30 * time.Second
)

// Runner drives workflow runs: it restores or initializes the execution
// context, walks the graph in topological order, executes task
// iterations with their condition, hook, throttle, and retry semantics,
// and checkpoints the run after every task so it can resume from the
// last uncompleted position.
//
// A Runner is safe for concurrent use; each run owns its own Context.
type Runner struct {
	store    Store
	registry *Registry
	leases   semaphore.LeaseStore
	enqueuer Enqueuer
	emitter  Emitter
	logger   *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRegistry replaces the process-wide workflow registry.
func WithRegistry(reg *Registry) RunnerOption {
	return func(r *Runner) { r.registry = reg }
}

// WithLeaseStore wires the distributed-semaphore backend. Without one,
// throttling degrades to no-ops.
func WithLeaseStore(ls semaphore.LeaseStore) RunnerOption {
	return func(r *Runner) { r.leases = ls }
}

// WithEnqueuer wires the job-queue collaborator used for fan-out
// dispatch and run rescheduling. Without one, every iteration executes
// locally and dependency-wait timeouts fail instead of rescheduling.
func WithEnqueuer(e Enqueuer) RunnerOption {
	return func(r *Runner) { r.enqueuer = e }
}

// WithEmitter wires the observability collaborator.
func WithEmitter(e Emitter) RunnerOption {
	return func(r *Runner) { r.emitter = e }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner backed by the given store.
func NewRunner(store Store, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:    store,
		registry: Default(),
		emitter:  NopEmitter{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the runner's persistence backend.
func (r *Runner) Store() Store { return r.store }

// RunOption configures one run at start time.
type RunOption func(*Run)

// RunDryRun marks the run as a dry run: every task observes dry-run
// true regardless of its own setting.
func RunDryRun() RunOption {
	return func(run *Run) { run.DryRun = true }
}

// ── Entry points ────────────────────────────────────

// Start creates and executes a run of the named workflow.
//
// The returned run may be in RunStateRescheduled rather than a terminal
// state: Start does not wait through a reschedule-driven dependency
// wait. The host queue re-dispatches the run at ResumeAt.
func (r *Runner) Start(ctx context.Context, name string, args Arguments, opts ...RunOption) (*Run, error) {
	wf, err := r.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	run := &Run{
		Entity:    conduct.NewEntity(),
		ID:        id.NewRunID(),
		Workflow:  wf.Name,
		State:     RunStatePending,
		Arguments: args,
		DryRun:    wf.DryRun,
		StartedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(run)
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("conduct/workflow: create run: %w", err)
	}

	return run, r.executeRun(ctx, run, wf, id.NewJobID())
}

// Resume re-enters a previously persisted run: completed tasks are
// skipped via the continuation marker and execution continues from the
// last uncompleted position. Failed runs may be resumed (their committed
// outputs and markers survive); resuming a succeeded run is a no-op.
func (r *Runner) Resume(ctx context.Context, runID id.RunID) (*Run, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State == RunStateSucceeded {
		return run, nil
	}
	wf, err := r.registry.Lookup(run.Workflow)
	if err != nil {
		return nil, err
	}
	return run, r.executeRun(ctx, run, wf, id.NewJobID())
}

// ResumeDue resumes every rescheduled run whose ResumeAt has passed.
// It returns the number of runs resumed and the first error encountered.
func (r *Runner) ResumeDue(ctx context.Context, now time.Time) (int, error) {
	runs, err := r.store.ListRuns(ctx, ListOpts{State: RunStateRescheduled})
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, run := range runs {
		if run.ResumeAt == nil || run.ResumeAt.After(now) {
			continue
		}
		if _, err := r.Resume(ctx, run.ID); err != nil {
			return resumed, err
		}
		resumed++
	}
	return resumed, nil
}

// ExecuteUnit is the worker entry point: the job-queue collaborator
// calls it with a dequeued unit. Root units resume their run; sub-units
// execute a single dispatched iteration and report through the store.
func (r *Runner) ExecuteUnit(ctx context.Context, unit *Unit) error {
	if unit.SubUnit() {
		return r.executeSubUnit(ctx, unit)
	}
	_, err := r.Resume(ctx, unit.RunID)
	return err
}

// ── Run loop ────────────────────────────────────────

func (r *Runner) executeRun(ctx context.Context, run *Run, wf *Workflow, jobID id.JobID) error {
	order, err := wf.Graph.Iterate()
	if err != nil {
		return r.failRun(ctx, run, nil, err)
	}

	c := newContext(ctx, run, wf, jobID, r.leases, r.emitter, r.logger)
	if len(run.Snapshot) > 0 {
		snap, err := UnmarshalSnapshot(run.Snapshot, codec.Get(wf.Codec()))
		if err != nil {
			return r.failRun(ctx, run, c, err)
		}
		if err := c.restore(snap); err != nil {
			return r.failRun(ctx, run, c, err)
		}
	}
	if err := r.refresh(ctx, c); err != nil {
		return r.failRun(ctx, run, c, err)
	}

	completed, err := r.store.CompletedTasks(ctx, run.ID)
	if err != nil {
		return r.failRun(ctx, run, c, err)
	}
	done := make(map[string]bool, len(completed))
	for _, name := range completed {
		done[name] = true
	}

	run.State = RunStateRunning
	run.ResumeAt = nil
	run.Touch()
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("conduct/workflow: update run: %w", err)
	}
	r.emitter.EmitRunStarted(ctx, run)
	start := time.Now()

	for _, task := range order {
		name := task.QualifiedName()
		if done[name] {
			continue
		}

		res, err := r.runTask(c, task)
		if err != nil {
			return r.failRun(ctx, run, c, err)
		}

		switch res.outcome {
		case stepRescheduled:
			return r.rescheduleRun(ctx, run, c, res.resumeAt)
		case stepSkipped, stepCompleted:
			// Fan-out tasks with outstanding dispatched units stay
			// unmarked: the resumed traversal re-checks them.
			if c.statuses.Dispatched(name) && !c.statuses.AllFinished(name) {
				break
			}
			if err := r.store.MarkTaskComplete(ctx, run.ID, name); err != nil {
				return r.failRun(ctx, run, c, err)
			}
		}

		if err := r.checkpoint(ctx, run, c); err != nil {
			return r.failRun(ctx, run, c, err)
		}
	}

	now := time.Now().UTC()
	run.State = RunStateSucceeded
	run.CompletedAt = &now
	run.Touch()
	if err := r.checkpoint(ctx, run, c); err != nil {
		return fmt.Errorf("conduct/workflow: final checkpoint: %w", err)
	}
	r.emitter.EmitRunCompleted(ctx, run, time.Since(start))
	r.logger.InfoContext(ctx, "run succeeded",
		"run_id", run.ID.String(),
		"workflow", run.Workflow,
		"elapsed", time.Since(start),
	)
	return nil
}

// runTask executes one task of a root run: condition, dependency wait,
// each resolution, and its per-index dispatch-or-execute loop.
func (r *Runner) runTask(c *Context, task *Task) (stepResult, error) {
	name := task.QualifiedName()

	if task.Condition != nil {
		ok, err := task.Condition(c)
		if err != nil {
			return stepResult{}, &conduct.TaskError{
				Workflow: c.workflow.Name, Task: name, Index: -1,
				Err: fmt.Errorf("condition: %w", err),
			}
		}
		if !ok {
			r.emitter.EmitTaskSkipped(c.ctx, c.run, name)
			return skipped(), nil
		}
	}

	if task.Wait != nil {
		for _, dep := range task.DependsOn {
			res, err := r.awaitDependency(c, task, dep)
			if err != nil || res.outcome == stepRescheduled {
				return res, err
			}
		}
	}

	// Upstream statuses and outputs may have changed while other units
	// were executing; pick them up before reading dependencies.
	if err := r.refresh(c.ctx, c); err != nil {
		return stepResult{}, err
	}
	for _, dep := range append([]string{name}, task.DependsOn...) {
		if c.statuses.AnyFailed(dep) {
			return stepResult{}, &conduct.TaskError{
				Workflow: c.workflow.Name, Task: dep, Index: -1,
				Err: fmt.Errorf("a dispatched iteration failed"),
			}
		}
	}

	values := []any{nil}
	if task.Each != nil {
		var err error
		values, err = task.Each(c)
		if err != nil {
			return stepResult{}, &conduct.TaskError{
				Workflow: c.workflow.Name, Task: name, Index: -1,
				Err: fmt.Errorf("each: %w", err),
			}
		}
	}

	// A restored cursor naming this task is a restart point: resume at
	// its index with its accumulated retry count.
	startIndex, retryFrom := 0, 0
	if !c.cursor.Active() && !c.cursor.SubUnit() && c.cursor.TaskName == name {
		startIndex = c.cursor.Index
		retryFrom = c.cursor.RetryCount
		c.cursor.reset()
	}

	for i := startIndex; i < len(values); i++ {
		if hasOutput(c, task, i) {
			continue
		}
		if dispatched, err := r.maybeDispatch(c, task, i, values[i]); err != nil {
			return stepResult{}, err
		} else if dispatched {
			continue
		}
		if err := r.executeIteration(c, task, i, values[i], retryFrom); err != nil {
			return stepResult{}, err
		}
		retryFrom = 0
	}

	return completed(), nil
}

// hasOutput reports whether the (task, index) iteration already produced
// an output, which makes re-running it on resume unnecessary.
func hasOutput(c *Context, task *Task, i int) bool {
	name := task.QualifiedName()
	if task.Each == nil {
		_, ok := c.outputs.Get(name)
		return ok
	}
	_, ok := c.outputs.At(name, i)
	return ok
}

// maybeDispatch hands the iteration to the job-queue collaborator as an
// independent unit when the task's enqueue policy allows it. Denied
// slots fall back to local execution.
func (r *Runner) maybeDispatch(c *Context, task *Task, index int, value any) (bool, error) {
	pol := task.Enqueue
	if pol == nil || r.enqueuer == nil {
		return false, nil
	}
	name := task.QualifiedName()

	// Already dispatched on a previous pass.
	for _, st := range c.statuses.ForTask(name) {
		if st.EachIndex == index && st.Status != StatusFailed {
			return true, nil
		}
	}

	if pol.Condition != nil {
		ok, err := pol.Condition(c)
		if err != nil {
			return false, &conduct.TaskError{
				Workflow: c.workflow.Name, Task: name, Index: index,
				Err: fmt.Errorf("enqueue condition: %w", err),
			}
		}
		if !ok {
			return false, nil
		}
	}

	queue := pol.Queue
	if queue == "" {
		queue = c.workflow.Queue()
	}
	slotHeld := false
	if pol.ConcurrencyLimit > 0 {
		if !r.enqueuer.TryAcquireSlot(c.ctx, queue, pol.ConcurrencyLimit) {
			return false, nil
		}
		slotHeld = true
	}

	jobID := id.NewJobID()
	unit := &Unit{
		JobID:       jobID,
		RunID:       c.run.ID,
		Workflow:    c.workflow.Name,
		TaskName:    name,
		Index:       index,
		Value:       value,
		ParentJobID: c.jobID,
		Queue:       queue,
		SlotHeld:    slotHeld,
	}

	st := &TaskStatus{TaskName: name, JobID: jobID, EachIndex: index, Status: StatusPending}
	c.statuses.Upsert(st)
	if err := r.store.UpsertStatus(c.ctx, c.run.ID, st); err != nil {
		if slotHeld {
			r.enqueuer.ReleaseSlot(c.ctx, queue)
		}
		return false, err
	}
	if err := r.enqueuer.Enqueue(c.ctx, unit); err != nil {
		if slotHeld {
			r.enqueuer.ReleaseSlot(c.ctx, queue)
		}
		return false, fmt.Errorf("conduct/workflow: enqueue %s[%d]: %w", name, index, err)
	}
	r.emitter.EmitTaskEnqueued(c.ctx, c.run, name, index, jobID)
	return true, nil
}

// executeIteration runs one (task, index) locally, applying the task's
// retry policy. The cursor is checkpointed before every retry wait so a
// crash during the wait resumes at the same index and retry count.
func (r *Runner) executeIteration(c *Context, task *Task, index int, value any, retryFrom int) error {
	name := task.QualifiedName()
	retries := retryFrom

	for {
		err := r.executeOnce(c, task, index, value, retries)
		if err == nil {
			return nil
		}
		if conduct.IsFatal(err) {
			return err
		}
		if task.Retry == nil || retries >= task.Retry.Count {
			return &conduct.TaskError{
				Workflow: c.workflow.Name,
				Task:     name,
				Index:    index,
				Attempt:  retries,
				Err:      err,
			}
		}

		retries++
		delay := task.Retry.Backoff().Delay(retries)

		// Only the root traversal owns the Run row. A sub-unit context
		// holds a stale copy loaded at dispatch time; writing it back
		// here would clobber a concurrent parent reschedule. Sub-unit
		// retry progress stays in-process; its (task, index) status row
		// already marks the iteration as running.
		if !c.cursor.SubUnit() {
			c.cursor.TaskName = name
			c.cursor.Index = index
			c.cursor.Value = value
			c.cursor.RetryCount = retries
			if cerr := r.checkpoint(c.ctx, c.run, c); cerr != nil {
				return cerr
			}
			c.cursor.reset()
		}

		r.emitter.EmitTaskRetrying(c.ctx, c.run, name, index, retries, delay)
		r.logger.WarnContext(c.ctx, "task retrying",
			"run_id", c.run.ID.String(),
			"task", name,
			"index", index,
			"attempt", retries,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

// executeOnce performs a single attempt: before hooks, throttle, around
// chain with the guarded body, output collection, after hooks. Error
// hooks observe any failure; they never suppress it.
func (r *Runner) executeOnce(c *Context, task *Task, index int, value any, retryCount int) (err error) {
	name := task.QualifiedName()
	r.emitter.EmitTaskStarted(c.ctx, c.run, name, index)
	start := time.Now()

	if err := c.beginIteration(task, index, value, retryCount); err != nil {
		return err
	}
	defer c.endIteration()

	prevCtx := c.ctx
	if task.Timeout > 0 {
		actx, cancel := context.WithTimeout(prevCtx, task.Timeout)
		c.ctx = actx
		defer func() {
			cancel()
			c.ctx = prevCtx
		}()
	}

	defer func() {
		if err != nil {
			for _, fn := range c.workflow.Hooks.OnError {
				fn(c, task, err)
			}
			for _, fn := range task.hooks.OnError {
				fn(c, task, err)
			}
		}
	}()

	for _, fn := range c.workflow.Hooks.Before {
		if err = fn(c, task); err != nil {
			return err
		}
	}
	for _, fn := range task.hooks.Before {
		if err = fn(c, task); err != nil {
			return err
		}
	}

	var out map[string]any
	body := func() error {
		var bodyErr error
		out, bodyErr = task.Body(c)
		return bodyErr
	}

	around := make([]AroundFunc, 0, len(c.workflow.Hooks.Around)+len(task.hooks.Around))
	around = append(around, c.workflow.Hooks.Around...)
	around = append(around, task.hooks.Around...)
	exec := func() error { return runAround(c, task, around, body) }

	if task.Throttle != nil {
		sem := semaphore.New(c.leases, task.ThrottleKey(),
			semaphore.WithLimit(task.Throttle.Limit),
			semaphore.WithTTL(task.Throttle.TTL),
			semaphore.WithPollInterval(task.Throttle.PollInterval),
			semaphore.WithLogger(r.logger),
		)
		err = sem.With(c.ctx, func() error {
			r.emitter.EmitThrottleAcquired(c.ctx, c.run, task.ThrottleKey())
			defer r.emitter.EmitThrottleReleased(c.ctx, c.run, task.ThrottleKey())
			return exec()
		})
	} else {
		err = exec()
	}
	if err != nil {
		return err
	}

	output := &TaskOutput{TaskName: name, Data: out}
	if task.Each != nil {
		output.EachIndex = intPtr(index)
	}
	c.outputs.Put(output)
	if err = r.store.SaveOutput(c.ctx, c.run.ID, output); err != nil {
		return err
	}

	for _, fn := range task.hooks.After {
		if err = fn(c, task); err != nil {
			return err
		}
	}
	for _, fn := range c.workflow.Hooks.After {
		if err = fn(c, task); err != nil {
			return err
		}
	}

	r.emitter.EmitTaskCompleted(c.ctx, c.run, name, index, time.Since(start))
	return nil
}

// ── Dependency wait ─────────────────────────────────

// awaitDependency blocks until the upstream task's dispatched units all
// finish, per the task's wait policy: poll forever when PollTimeout is
// zero, otherwise poll up to PollTimeout and then reschedule the run
// instead of continuing to hold the worker slot.
func (r *Runner) awaitDependency(c *Context, task *Task, upstream string) (stepResult, error) {
	pol := task.Wait
	interval := pol.PollInterval
	if interval <= 0 {
		interval = DefaultWaitPollInterval
	}

	if err := r.refresh(c.ctx, c); err != nil {
		return stepResult{}, err
	}
	if !c.statuses.Dispatched(upstream) || c.statuses.AllFinished(upstream) {
		return completed(), nil
	}

	r.emitter.EmitDependencyWaitStarted(c.ctx, c.run, task.QualifiedName(), upstream)
	start := time.Now()

	for {
		if pol.PollTimeout > 0 && time.Since(start) >= pol.PollTimeout {
			delay := pol.RescheduleDelay
			if delay <= 0 {
				delay = DefaultRescheduleDelay
			}
			return rescheduled(time.Now().UTC().Add(delay)), nil
		}

		select {
		case <-time.After(interval):
		case <-c.ctx.Done():
			return stepResult{}, c.ctx.Err()
		}

		if err := r.refresh(c.ctx, c); err != nil {
			return stepResult{}, err
		}
		if c.statuses.AllFinished(upstream) {
			r.emitter.EmitDependencyWaitCompleted(c.ctx, c.run, task.QualifiedName(), upstream, time.Since(start))
			return completed(), nil
		}
	}
}

// ── Sub-units ───────────────────────────────────────

// executeSubUnit runs one dispatched iteration in isolation and reports
// its output and final status through the store.
func (r *Runner) executeSubUnit(ctx context.Context, unit *Unit) error {
	run, err := r.store.GetRun(ctx, unit.RunID)
	if err != nil {
		return err
	}
	wf, err := r.registry.Lookup(unit.Workflow)
	if err != nil {
		return err
	}
	task, err := wf.Graph.Fetch(unit.TaskName)
	if err != nil {
		return err
	}

	c := newContext(ctx, run, wf, unit.JobID, r.leases, r.emitter, r.logger)
	c.cursor.TaskName = unit.TaskName
	c.cursor.ParentJobID = unit.ParentJobID
	c.cursor.Index = unit.Index

	// Sub-units read upstream outputs through the store.
	if err := r.refresh(ctx, c); err != nil {
		return err
	}

	st := &TaskStatus{TaskName: unit.TaskName, JobID: unit.JobID, EachIndex: unit.Index, Status: StatusRunning}
	if err := r.store.UpsertStatus(ctx, run.ID, st); err != nil {
		return err
	}

	execErr := r.executeIteration(c, task, unit.Index, unit.Value, 0)
	if execErr != nil {
		st.Status = StatusFailed
	} else {
		st.Status = StatusSucceeded
	}
	if err := r.store.UpsertStatus(ctx, run.ID, st); err != nil {
		return err
	}
	if execErr != nil {
		r.logger.ErrorContext(ctx, "dispatched iteration failed",
			"run_id", run.ID.String(),
			"task", unit.TaskName,
			"index", unit.Index,
			"error", execErr,
		)
	}
	return execErr
}

// ── Persistence helpers ─────────────────────────────

// refresh merges store-visible outputs and statuses into the context.
// Dispatched units report through the store, so this is how a parent
// run observes fan-out progress. Merging is idempotent per (task,
// index); last write wins.
func (r *Runner) refresh(ctx context.Context, c *Context) error {
	outs, err := r.store.ListOutputs(ctx, c.run.ID)
	if err != nil {
		return err
	}
	for _, o := range outs {
		c.outputs.Put(o)
	}
	sts, err := r.store.ListStatuses(ctx, c.run.ID)
	if err != nil {
		return err
	}
	for _, st := range sts {
		c.statuses.Upsert(st)
	}
	return nil
}

func (r *Runner) checkpoint(ctx context.Context, run *Run, c *Context) error {
	data, err := c.Snapshot().Marshal(codec.Get(c.workflow.Codec()))
	if err != nil {
		return err
	}
	run.Snapshot = data
	run.Touch()
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("conduct/workflow: checkpoint run: %w", err)
	}
	return nil
}

// failRun records the failure and returns it. Partial outputs already
// committed stay queryable for diagnostics.
func (r *Runner) failRun(ctx context.Context, run *Run, c *Context, cause error) error {
	now := time.Now().UTC()
	run.State = RunStateFailed
	run.Error = cause.Error()
	run.CompletedAt = &now
	run.Touch()
	if c != nil {
		if data, err := c.Snapshot().Marshal(codec.Get(c.workflow.Codec())); err == nil {
			run.Snapshot = data
		}
	}
	if err := r.store.UpdateRun(ctx, run); err != nil {
		r.logger.ErrorContext(ctx, "persist failed run", "run_id", run.ID.String(), "error", err)
	}
	r.emitter.EmitRunFailed(ctx, run, cause)
	r.logger.ErrorContext(ctx, "run failed",
		"run_id", run.ID.String(),
		"workflow", run.Workflow,
		"error", cause,
	)
	return cause
}

// rescheduleRun persists the rescheduled continuation and hands the run
// back to the job-queue collaborator for re-dispatch at resumeAt. This
// is a clean exit, never an error.
func (r *Runner) rescheduleRun(ctx context.Context, run *Run, c *Context, resumeAt time.Time) error {
	run.State = RunStateRescheduled
	run.ResumeAt = &resumeAt
	run.Touch()
	if err := r.checkpoint(ctx, run, c); err != nil {
		return err
	}
	r.emitter.EmitRunRescheduled(ctx, run, resumeAt)
	r.logger.InfoContext(ctx, "run rescheduled",
		"run_id", run.ID.String(),
		"workflow", run.Workflow,
		"resume_at", resumeAt,
	)
	if r.enqueuer == nil {
		return nil
	}
	return r.enqueuer.Requeue(ctx, &Unit{
		JobID:    id.NewJobID(),
		RunID:    run.ID,
		Workflow: run.Workflow,
		RunAt:    resumeAt,
	})
}
