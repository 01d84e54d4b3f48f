package workflow

import "github.com/conductkit/conduct"

// BeforeFunc runs before a task iteration's body.
type BeforeFunc func(ctx *Context, task *Task) error

// AfterFunc runs after a task iteration's body succeeds.
type AfterFunc func(ctx *Context, task *Task) error

// AroundFunc wraps a task iteration's body. It MUST invoke body exactly
// once; zero or repeated invocations are a protocol violation reported
// immediately.
type AroundFunc func(ctx *Context, task *Task, body func() error) error

// ErrorFunc is notified when a task iteration fails. Error hooks are
// observers only: they run for side effects (logging, alerting) and can
// never suppress the failure.
type ErrorFunc func(ctx *Context, task *Task, err error)

// Hooks is an ordered collection of lifecycle hooks. A workflow carries a
// global set and each task may carry its own; for one iteration the
// effective order is:
//
//	global before → task before →
//	global around (outer) → task around (inner) → body →
//	task after → global after
//
// Error hooks run global-then-task, always after a body failure.
type Hooks struct {
	Before  []BeforeFunc
	After   []AfterFunc
	Around  []AroundFunc
	OnError []ErrorFunc
}

// OnBefore appends a before hook.
func (h *Hooks) OnBefore(fn BeforeFunc) { h.Before = append(h.Before, fn) }

// OnAfter appends an after hook.
func (h *Hooks) OnAfter(fn AfterFunc) { h.After = append(h.After, fn) }

// OnAround appends an around hook.
func (h *Hooks) OnAround(fn AroundFunc) { h.Around = append(h.Around, fn) }

// OnFailure appends an error-notification hook.
func (h *Hooks) OnFailure(fn ErrorFunc) { h.OnError = append(h.OnError, fn) }

// bodyGuard enforces the around-hook contract: the innermost hook must
// invoke the body exactly once.
type bodyGuard struct {
	task  string
	calls int
}

// wrap returns a body function that counts invocations and rejects the
// second one immediately.
func (g *bodyGuard) wrap(body func() error) func() error {
	return func() error {
		g.calls++
		if g.calls > 1 {
			return &conduct.ProtocolError{Task: g.task, Reason: "body already called"}
		}
		return body()
	}
}

// check reports a protocol violation when the body was never invoked.
func (g *bodyGuard) check() error {
	if g.calls == 0 {
		return &conduct.ProtocolError{Task: g.task, Reason: "body was never called"}
	}
	return nil
}

// runAround composes the around hooks right-to-left so the first hook in
// the list is the outermost wrapper, with the guarded body innermost.
func runAround(ctx *Context, task *Task, hooks []AroundFunc, body func() error) error {
	guard := &bodyGuard{task: task.QualifiedName()}
	h := guard.wrap(body)
	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		next := h
		h = func() error {
			return hook(ctx, task, next)
		}
	}
	if err := h(); err != nil {
		return err
	}
	return guard.check()
}
