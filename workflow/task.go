package workflow

import (
	"time"

	"github.com/conductkit/conduct/backoff"
)

// BodyFunc is a task body. It receives the execution context and returns
// the task's output record for the current iteration.
type BodyFunc func(ctx *Context) (map[string]any, error)

// ConditionFunc decides whether a task (or an enqueue policy) applies for
// the current run.
type ConditionFunc func(ctx *Context) (bool, error)

// EachFunc resolves the iteration source for a fan-out task: the body runs
// once per returned element, in order.
type EachFunc func(ctx *Context) ([]any, error)

// RetryStrategy names the delay formula applied between retry attempts.
type RetryStrategy string

const (
	// RetryLinear waits the base delay before every attempt.
	RetryLinear RetryStrategy = "linear"
	// RetryExponential doubles the base delay each attempt.
	RetryExponential RetryStrategy = "exponential"
)

// RetryPolicy bounds how a failing iteration is retried. The zero value
// disables retries (the first failure fails the run).
type RetryPolicy struct {
	// Count is the number of retry attempts after the initial failure.
	Count int
	// Strategy selects the delay formula. Unknown values fall back to
	// the base delay.
	Strategy RetryStrategy
	// BaseDelay is the formula's base.
	BaseDelay time.Duration
	// Jitter randomizes each delay uniformly within [0.5x, 1.5x].
	Jitter bool
}

// Backoff returns the delay strategy this policy describes.
func (p RetryPolicy) Backoff() backoff.Strategy {
	var s backoff.Strategy
	switch p.Strategy {
	case RetryExponential:
		s = backoff.NewExponential(p.BaseDelay)
	case RetryLinear:
		s = backoff.NewLinear(p.BaseDelay)
	default:
		s = backoff.NewLinear(p.BaseDelay)
	}
	if p.Jitter {
		s = backoff.WithJitter(s)
	}
	return s
}

// ThrottlePolicy limits how many iterations of a task may execute
// concurrently system-wide, enforced by the distributed semaphore.
type ThrottlePolicy struct {
	// Key is the concurrency key. Empty means the task's qualified name.
	Key string
	// Limit is the number of concurrent holders allowed. Zero means 1.
	Limit int
	// TTL is the lease duration; a crashed holder is reclaimed after it.
	TTL time.Duration
	// PollInterval is the sleep between acquisition attempts.
	PollInterval time.Duration
}

// EnqueuePolicy governs whether each iteration of a fan-out task is handed
// to the job-queue collaborator as an independently scheduled unit of work
// instead of executing locally.
type EnqueuePolicy struct {
	// Condition gates dispatch per run; nil means always dispatch.
	Condition ConditionFunc
	// Queue names the host queue the unit is enqueued to.
	Queue string
	// ConcurrencyLimit caps concurrently dispatched units for Queue.
	// Zero means unlimited. When the host queue cannot grant a slot the
	// iteration executes locally instead.
	ConcurrencyLimit int
}

// WaitPolicy tells a task that depends on still-incomplete fan-out work
// how to wait: poll in-process, or reschedule the whole run to free the
// worker slot.
type WaitPolicy struct {
	// PollTimeout bounds in-process polling. Zero means poll forever
	// (blocks the current unit of work; use only when that is acceptable).
	PollTimeout time.Duration
	// PollInterval is the sleep between status checks.
	PollInterval time.Duration
	// RescheduleDelay is how far in the future the run is re-dispatched
	// when PollTimeout elapses without the dependency finishing.
	RescheduleDelay time.Duration
}

// Field describes one entry of a task's declared output schema. The Type
// tag is documentation/codegen metadata only — it is never enforced at
// runtime.
type Field struct {
	Name string
	Type string
}

// Task is an immutable description of one unit of work: its identity,
// dependencies, iteration source, condition, policies, output schema, and
// executable body. Build one with NewTask; Tasks are referenced (never
// copied) by the Graph and must not be mutated after registration.
type Task struct {
	// Name uniquely identifies the task within its namespace.
	Name string
	// Namespace is a hierarchical path, empty by default.
	Namespace string
	// DependsOn lists the names of tasks that must complete first.
	DependsOn []string
	// Each, when set, makes this a fan-out task: the body runs once per
	// resolved element.
	Each EachFunc
	// Condition gates execution; nil means always run.
	Condition ConditionFunc
	// Retry bounds retries of a failing iteration; nil disables retries.
	Retry *RetryPolicy
	// Throttle limits concurrent iterations system-wide; nil disables.
	Throttle *ThrottlePolicy
	// Enqueue dispatches iterations as independent units; nil runs all
	// iterations locally.
	Enqueue *EnqueuePolicy
	// Wait controls dependency-wait behavior for incomplete upstream
	// fan-outs; nil proceeds without waiting.
	Wait *WaitPolicy
	// Outputs is the declared output schema (documentation only).
	Outputs []Field
	// Timeout bounds one execution attempt; zero means unbounded.
	// The deadline is delivered through the attempt's context.
	Timeout time.Duration
	// DryRun marks every iteration of this task as a dry run.
	DryRun bool
	// Body executes one iteration and returns its output record.
	Body BodyFunc

	// hooks are task-specific lifecycle hooks.
	hooks Hooks
}

// TaskOption configures a Task at construction time.
type TaskOption func(*Task)

// NewTask creates a task definition.
func NewTask(name string, body BodyFunc, opts ...TaskOption) *Task {
	t := &Task{
		Name: name,
		Body: body,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// QualifiedName returns "namespace/name", or just the name when the task
// has no namespace.
func (t *Task) QualifiedName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "/" + t.Name
}

// ThrottleKey returns the concurrency key used for this task's throttle:
// the policy key if set, else the task's qualified name.
func (t *Task) ThrottleKey() string {
	if t.Throttle != nil && t.Throttle.Key != "" {
		return t.Throttle.Key
	}
	return t.QualifiedName()
}

// Hooks returns the task-specific hooks for registration.
func (t *Task) Hooks() *Hooks { return &t.hooks }

// WithNamespace sets the task's namespace path.
func WithNamespace(ns string) TaskOption {
	return func(t *Task) { t.Namespace = ns }
}

// WithDependsOn declares the tasks that must complete before this one.
func WithDependsOn(names ...string) TaskOption {
	return func(t *Task) { t.DependsOn = append(t.DependsOn, names...) }
}

// WithEach makes the task iterate over a resolved sequence.
func WithEach(fn EachFunc) TaskOption {
	return func(t *Task) { t.Each = fn }
}

// WithCondition gates the task on a per-run predicate.
func WithCondition(fn ConditionFunc) TaskOption {
	return func(t *Task) { t.Condition = fn }
}

// WithRetry sets the task's retry policy.
func WithRetry(p RetryPolicy) TaskOption {
	return func(t *Task) { t.Retry = &p }
}

// WithThrottle sets the task's throttle policy.
func WithThrottle(p ThrottlePolicy) TaskOption {
	return func(t *Task) { t.Throttle = &p }
}

// WithEnqueue dispatches each iteration as an independent unit of work.
func WithEnqueue(p EnqueuePolicy) TaskOption {
	return func(t *Task) { t.Enqueue = &p }
}

// WithWait sets the task's dependency-wait policy.
func WithWait(p WaitPolicy) TaskOption {
	return func(t *Task) { t.Wait = &p }
}

// WithOutputs declares the task's output schema.
func WithOutputs(fields ...Field) TaskOption {
	return func(t *Task) { t.Outputs = append(t.Outputs, fields...) }
}

// WithTimeout bounds one execution attempt.
func WithTimeout(d time.Duration) TaskOption {
	return func(t *Task) { t.Timeout = d }
}

// WithDryRun marks the task's iterations as dry runs.
func WithDryRun(on bool) TaskOption {
	return func(t *Task) { t.DryRun = on }
}

// WithTaskBefore appends a task-specific before hook.
func WithTaskBefore(fn BeforeFunc) TaskOption {
	return func(t *Task) { t.hooks.Before = append(t.hooks.Before, fn) }
}

// WithTaskAfter appends a task-specific after hook.
func WithTaskAfter(fn AfterFunc) TaskOption {
	return func(t *Task) { t.hooks.After = append(t.hooks.After, fn) }
}

// WithTaskAround appends a task-specific around hook.
func WithTaskAround(fn AroundFunc) TaskOption {
	return func(t *Task) { t.hooks.Around = append(t.hooks.Around, fn) }
}

// WithTaskOnError appends a task-specific error-notification hook.
func WithTaskOnError(fn ErrorFunc) TaskOption {
	return func(t *Task) { t.hooks.OnError = append(t.hooks.OnError, fn) }
}
