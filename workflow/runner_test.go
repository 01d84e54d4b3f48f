package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conductkit/conduct"
	"github.com/conductkit/conduct/id"
	"github.com/conductkit/conduct/store/memory"
	"github.com/conductkit/conduct/workflow"
)

// fakeEnqueuer records dispatched units. With exec set, each unit is
// executed synchronously inside Enqueue, which stands in for a host
// queue draining instantly.
type fakeEnqueuer struct {
	units    []*workflow.Unit
	requeued []*workflow.Unit
	exec     func(*workflow.Unit) error
	denySlot bool
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, u *workflow.Unit) error {
	f.units = append(f.units, u)
	if f.exec != nil {
		return f.exec(u)
	}
	return nil
}

func (f *fakeEnqueuer) Requeue(_ context.Context, u *workflow.Unit) error {
	f.requeued = append(f.requeued, u)
	return nil
}

func (f *fakeEnqueuer) TryAcquireSlot(context.Context, string, int) bool { return !f.denySlot }
func (f *fakeEnqueuer) ReleaseSlot(context.Context, string)              {}

func register(t *testing.T, name string, tasks []*workflow.Task, opts ...workflow.WorkflowOption) *workflow.Workflow {
	t.Helper()
	wf, err := workflow.New(name, tasks, opts...)
	if err != nil {
		t.Fatalf("workflow.New: %v", err)
	}
	workflow.Register(wf)
	t.Cleanup(workflow.Reset)
	return wf
}

func TestRunSimpleDAG(t *testing.T) {
	store := memory.New()
	runner := workflow.NewRunner(store)

	var order []string
	register(t, "sum", []*workflow.Task{
		workflow.NewTask("a", func(ctx *workflow.Context) (map[string]any, error) {
			order = append(order, "a")
			return map[string]any{"v": 1}, nil
		}),
		workflow.NewTask("b", func(ctx *workflow.Context) (map[string]any, error) {
			order = append(order, "b")
			return map[string]any{"v": 2}, nil
		}),
		workflow.NewTask("c", func(ctx *workflow.Context) (map[string]any, error) {
			order = append(order, "c")
			ao, _ := ctx.Output("a")
			bo, _ := ctx.Output("b")
			return map[string]any{"sum": ao.Data["v"].(int) + bo.Data["v"].(int)}, nil
		}, workflow.WithDependsOn("a", "b")),
	})

	run, err := runner.Start(context.Background(), "sum", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.State != workflow.RunStateSucceeded {
		t.Fatalf("State = %q", run.State)
	}
	if len(order) != 3 || order[2] != "c" {
		t.Fatalf("execution order = %v", order)
	}

	outs, err := store.ListOutputs(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, o := range outs {
		if o.TaskName == "c" && o.Data["sum"] != 3 {
			t.Errorf("c.sum = %v, want 3", o.Data["sum"])
		}
	}
}

func TestRunEachLocal(t *testing.T) {
	store := memory.New()
	runner := workflow.NewRunner(store)

	register(t, "double", []*workflow.Task{
		workflow.NewTask("d", func(ctx *workflow.Context) (map[string]any, error) {
			v, err := ctx.EachValue()
			if err != nil {
				return nil, err
			}
			return map[string]any{"doubled": v.(int) * 2}, nil
		}, workflow.WithEach(func(*workflow.Context) ([]any, error) {
			return []any{10, 20, 30}, nil
		})),
		workflow.NewTask("total", func(ctx *workflow.Context) (map[string]any, error) {
			sum := 0
			for _, o := range ctx.AllOutputs("d") {
				sum += o.Data["doubled"].(int)
			}
			return map[string]any{"sum": sum}, nil
		}, workflow.WithDependsOn("d")),
	})

	run, err := runner.Start(context.Background(), "double", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	outs, _ := store.ListOutputs(context.Background(), run.ID)
	byIndex := map[int]any{}
	var total any
	for _, o := range outs {
		switch o.TaskName {
		case "d":
			byIndex[o.Index()] = o.Data["doubled"]
		case "total":
			total = o.Data["sum"]
		}
	}
	for i, want := range []int{20, 40, 60} {
		if byIndex[i] != want {
			t.Errorf("d[%d] = %v, want %d", i, byIndex[i], want)
		}
	}
	if total != 120 {
		t.Errorf("total = %v, want 120", total)
	}
}

func TestConditionSkip(t *testing.T) {
	store := memory.New()
	runner := workflow.NewRunner(store)

	bodyRan := false
	register(t, "gated", []*workflow.Task{
		workflow.NewTask("skipped", func(ctx *workflow.Context) (map[string]any, error) {
			bodyRan = true
			return map[string]any{"v": 1}, nil
		}, workflow.WithCondition(func(*workflow.Context) (bool, error) { return false, nil })),
		workflow.NewTask("after", func(ctx *workflow.Context) (map[string]any, error) {
			if _, ok := ctx.Output("skipped"); ok {
				return nil, errors.New("skipped task has output")
			}
			return map[string]any{"ok": true}, nil
		}, workflow.WithDependsOn("skipped")),
	})

	run, err := runner.Start(context.Background(), "gated", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if bodyRan {
		t.Error("skipped task's body executed")
	}
	if run.State != workflow.RunStateSucceeded {
		t.Errorf("State = %q", run.State)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	store := memory.New()
	runner := workflow.NewRunner(store)

	attempts := 0
	register(t, "flaky", []*workflow.Task{
		workflow.NewTask("t", func(ctx *workflow.Context) (map[string]any, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("transient")
			}
			return map[string]any{"attempts": attempts}, nil
		}, workflow.WithRetry(workflow.RetryPolicy{
			Count:     5,
			Strategy:  workflow.RetryLinear,
			BaseDelay: time.Millisecond,
		})),
	})

	run, err := runner.Start(context.Background(), "flaky", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.State != workflow.RunStateSucceeded {
		t.Fatalf("State = %q", run.State)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryExhaustedFailsRun(t *testing.T) {
	store := memory.New()
	runner := workflow.NewRunner(store)

	attempts := 0
	register(t, "doomed", []*workflow.Task{
		workflow.NewTask("good", func(*workflow.Context) (map[string]any, error) {
			return map[string]any{"v": 1}, nil
		}),
		workflow.NewTask("bad", func(*workflow.Context) (map[string]any, error) {
			attempts++
			return nil, errors.New("boom")
		}, workflow.WithRetry(workflow.RetryPolicy{
			Count:     2,
			Strategy:  workflow.RetryLinear,
			BaseDelay: time.Millisecond,
		}), workflow.WithDependsOn("good")),
	})

	run, err := runner.Start(context.Background(), "doomed", nil)
	if err == nil {
		t.Fatal("Start returned nil error")
	}
	var te *conduct.TaskError
	if !errors.As(err, &te) {
		t.Fatalf("err = %T, want TaskError", err)
	}
	if te.Task != "bad" || te.Attempt != 2 {
		t.Errorf("TaskError = %+v", te)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want initial + 2 retries", attempts)
	}
	if run.State != workflow.RunStateFailed || run.Error == "" {
		t.Errorf("run = %q / %q", run.State, run.Error)
	}

	// Partial outputs stay queryable after failure.
	outs, _ := store.ListOutputs(context.Background(), run.ID)
	if len(outs) != 1 || outs[0].TaskName != "good" {
		t.Errorf("partial outputs = %+v", outs)
	}
}

func TestHookOrdering(t *testing.T) {
	store := memory.New()
	runner := workflow.NewRunner(store)

	var seq []string
	mark := func(s string) { seq = append(seq, s) }

	var global workflow.Hooks
	global.OnBefore(func(*workflow.Context, *workflow.Task) error { mark("global before"); return nil })
	global.OnAfter(func(*workflow.Context, *workflow.Task) error { mark("global after"); return nil })
	global.OnAround(func(ctx *workflow.Context, task *workflow.Task, body func() error) error {
		mark("global around-pre")
		err := body()
		mark("global around-post")
		return err
	})

	register(t, "hooked", []*workflow.Task{
		workflow.NewTask("t", func(*workflow.Context) (map[string]any, error) {
			mark("body")
			return nil, nil
		},
			workflow.WithTaskBefore(func(*workflow.Context, *workflow.Task) error { mark("task before"); return nil }),
			workflow.WithTaskAfter(func(*workflow.Context, *workflow.Task) error { mark("task after"); return nil }),
			workflow.WithTaskAround(func(ctx *workflow.Context, task *workflow.Task, body func() error) error {
				mark("task around-pre")
				err := body()
				mark("task around-post")
				return err
			}),
		),
	}, workflow.WithWorkflowHooks(global))

	if _, err := runner.Start(context.Background(), "hooked", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := []string{
		"global before", "task before",
		"global around-pre", "task around-pre",
		"body",
		"task around-post", "global around-post",
		"task after", "global after",
	}
	if len(seq) != len(want) {
		t.Fatalf("seq = %v", seq)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("seq[%d] = %q, want %q (full: %v)", i, seq[i], want[i], seq)
		}
	}
}

func TestErrorHooksObserveButNeverSuppress(t *testing.T) {
	store := memory.New()
	runner := workflow.NewRunner(store)

	var notified []string
	var global workflow.Hooks
	global.OnFailure(func(_ *workflow.Context, _ *workflow.Task, err error) {
		notified = append(notified, "global:"+err.Error())
	})

	register(t, "failing", []*workflow.Task{
		workflow.NewTask("t", func(*workflow.Context) (map[string]any, error) {
			return nil, errors.New("boom")
		}, workflow.WithTaskOnError(func(_ *workflow.Context, _ *workflow.Task, err error) {
			notified = append(notified, "task:"+err.Error())
		})),
	}, workflow.WithWorkflowHooks(global))

	_, err := runner.Start(context.Background(), "failing", nil)
	if err == nil {
		t.Fatal("error suppressed")
	}
	if len(notified) != 2 || notified[0] != "global:boom" || notified[1] != "task:boom" {
		t.Errorf("notified = %v, want global then task", notified)
	}
}

func TestAroundContractBodyNeverCalled(t *testing.T) {
	store := memory.New()
	runner := workflow.NewRunner(store)

	attempts := 0
	register(t, "lazy", []*workflow.Task{
		workflow.NewTask("t", func(*workflow.Context) (map[string]any, error) {
			attempts++
			return nil, nil
		},
			workflow.WithTaskAround(func(*workflow.Context, *workflow.Task, func() error) error {
				return nil // never invokes body
			}),
			// A protocol violation must not consume the retry budget.
			workflow.WithRetry(workflow.RetryPolicy{Count: 3, Strategy: workflow.RetryLinear, BaseDelay: time.Millisecond}),
		),
	})

	_, err := runner.Start(context.Background(), "lazy", nil)
	var pe *conduct.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProtocolError", err)
	}
	if attempts != 0 {
		t.Errorf("body ran %d times", attempts)
	}
}

func TestAroundContractBodyCalledTwice(t *testing.T) {
	store := memory.New()
	runner := workflow.NewRunner(store)

	calls := 0
	register(t, "eager", []*workflow.Task{
		workflow.NewTask("t", func(*workflow.Context) (map[string]any, error) {
			calls++
			return nil, nil
		}, workflow.WithTaskAround(func(_ *workflow.Context, _ *workflow.Task, body func() error) error {
			if err := body(); err != nil {
				return err
			}
			return body()
		})),
	})

	_, err := runner.Start(context.Background(), "eager", nil)
	var pe *conduct.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProtocolError", err)
	}
	if calls != 1 {
		t.Errorf("body executed %d times, want 1", calls)
	}
}

func TestDryRunPropagation(t *testing.T) {
	store := memory.New()
	runner := workflow.NewRunner(store)

	var executed, observedDry []string
	body := func(name string) workflow.BodyFunc {
		return func(ctx *workflow.Context) (map[string]any, error) {
			if ctx.DryRun() {
				observedDry = append(observedDry, name)
			}
			v, err := ctx.SkipIfDryRun("fallback", func() (any, error) {
				executed = append(executed, name)
				return "real", nil
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"v": v}, nil
		}
	}

	register(t, "dry", []*workflow.Task{
		workflow.NewTask("wet", body("wet")),
		workflow.NewTask("dry", body("dry"), workflow.WithDryRun(true)),
	})

	// Task-level only: just the marked task observes dry-run.
	if _, err := runner.Start(context.Background(), "dry", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(observedDry) != 1 || observedDry[0] != "dry" {
		t.Errorf("observedDry = %v, want [dry]", observedDry)
	}
	if len(executed) != 1 || executed[0] != "wet" {
		t.Errorf("executed = %v, want [wet]", executed)
	}

	// Run-level: every task observes dry-run regardless of its setting.
	executed, observedDry = nil, nil
	if _, err := runner.Start(context.Background(), "dry", nil, workflow.RunDryRun()); err != nil {
		t.Fatalf("Start dry: %v", err)
	}
	if len(observedDry) != 2 {
		t.Errorf("observedDry = %v, want both tasks", observedDry)
	}
	if len(executed) != 0 {
		t.Errorf("executed = %v, want none", executed)
	}
}

func TestResumeSkipsCompletedTasks(t *testing.T) {
	store := memory.New()
	runner := workflow.NewRunner(store)

	var aRuns atomic.Int32
	fail := true
	register(t, "resumable", []*workflow.Task{
		workflow.NewTask("a", func(*workflow.Context) (map[string]any, error) {
			aRuns.Add(1)
			return map[string]any{"v": 1}, nil
		}),
		workflow.NewTask("b", func(ctx *workflow.Context) (map[string]any, error) {
			if fail {
				return nil, errors.New("first attempt fails")
			}
			ao, _ := ctx.Output("a")
			return map[string]any{"v": ao.Data["v"].(int) + 1}, nil
		}, workflow.WithDependsOn("a")),
	})

	run, err := runner.Start(context.Background(), "resumable", nil)
	if err == nil {
		t.Fatal("first attempt succeeded unexpectedly")
	}
	if run.State != workflow.RunStateFailed {
		t.Fatalf("State = %q", run.State)
	}

	fail = false
	resumed, err := runner.Resume(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.State != workflow.RunStateSucceeded {
		t.Fatalf("resumed State = %q", resumed.State)
	}
	if aRuns.Load() != 1 {
		t.Errorf("a executed %d times, want 1 (completed tasks skip on resume)", aRuns.Load())
	}

	outs, _ := store.ListOutputs(context.Background(), resumed.ID)
	found := false
	for _, o := range outs {
		if o.TaskName == "b" && o.Data["v"] == 2 {
			found = true
		}
	}
	if !found {
		t.Errorf("b output missing after resume: %+v", outs)
	}
}

func TestFanOutDispatch(t *testing.T) {
	store := memory.New()
	enq := &fakeEnqueuer{}
	runner := workflow.NewRunner(store, workflow.WithEnqueuer(enq))
	enq.exec = func(u *workflow.Unit) error {
		return runner.ExecuteUnit(context.Background(), u)
	}

	register(t, "fanout", []*workflow.Task{
		workflow.NewTask("shard", func(ctx *workflow.Context) (map[string]any, error) {
			v, err := ctx.EachValue()
			if err != nil {
				return nil, err
			}
			return map[string]any{"doubled": toInt(v) * 2}, nil
		},
			workflow.WithEach(func(*workflow.Context) ([]any, error) {
				return []any{10, 20, 30}, nil
			}),
			workflow.WithEnqueue(workflow.EnqueuePolicy{Queue: "shards"}),
		),
		workflow.NewTask("gather", func(ctx *workflow.Context) (map[string]any, error) {
			sum := 0
			for _, o := range ctx.AllOutputs("shard") {
				sum += toInt(o.Data["doubled"])
			}
			return map[string]any{"sum": sum}, nil
		},
			workflow.WithDependsOn("shard"),
			workflow.WithWait(workflow.WaitPolicy{PollInterval: time.Millisecond}),
		),
	})

	run, err := runner.Start(context.Background(), "fanout", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.State != workflow.RunStateSucceeded {
		t.Fatalf("State = %q", run.State)
	}
	if len(enq.units) != 3 {
		t.Fatalf("dispatched %d units, want 3", len(enq.units))
	}
	for _, u := range enq.units {
		if u.TaskName != "shard" || u.Queue != "shards" || u.ParentJobID.IsNil() {
			t.Errorf("unit = %+v", u)
		}
	}

	sts, _ := store.ListStatuses(context.Background(), run.ID)
	if len(sts) != 3 {
		t.Fatalf("statuses = %d, want 3", len(sts))
	}
	for _, st := range sts {
		if st.Status != workflow.StatusSucceeded {
			t.Errorf("status[%d] = %q", st.EachIndex, st.Status)
		}
	}

	outs, _ := store.ListOutputs(context.Background(), run.ID)
	for _, o := range outs {
		if o.TaskName == "gather" && toInt(o.Data["sum"]) != 120 {
			t.Errorf("gather.sum = %v, want 120", o.Data["sum"])
		}
	}
}

func TestDependencyWaitReschedulesRun(t *testing.T) {
	store := memory.New()
	enq := &fakeEnqueuer{} // records units without executing them
	runner := workflow.NewRunner(store, workflow.WithEnqueuer(enq))

	register(t, "deferred", []*workflow.Task{
		workflow.NewTask("shard", func(ctx *workflow.Context) (map[string]any, error) {
			v, err := ctx.EachValue()
			if err != nil {
				return nil, err
			}
			return map[string]any{"v": toInt(v)}, nil
		},
			workflow.WithEach(func(*workflow.Context) ([]any, error) {
				return []any{1, 2}, nil
			}),
			workflow.WithEnqueue(workflow.EnqueuePolicy{}),
		),
		workflow.NewTask("gather", func(ctx *workflow.Context) (map[string]any, error) {
			sum := 0
			for _, o := range ctx.AllOutputs("shard") {
				sum += toInt(o.Data["v"])
			}
			return map[string]any{"sum": sum}, nil
		},
			workflow.WithDependsOn("shard"),
			workflow.WithWait(workflow.WaitPolicy{
				PollTimeout:     5 * time.Millisecond,
				PollInterval:    time.Millisecond,
				RescheduleDelay: time.Minute,
			}),
		),
	})

	run, err := runner.Start(context.Background(), "deferred", nil)
	if err != nil {
		t.Fatalf("Start: %v (reschedule must not surface as an error)", err)
	}
	if run.State != workflow.RunStateRescheduled {
		t.Fatalf("State = %q, want rescheduled", run.State)
	}
	if run.ResumeAt == nil || time.Until(*run.ResumeAt) <= 0 {
		t.Fatalf("ResumeAt = %v", run.ResumeAt)
	}
	if len(enq.requeued) != 1 {
		t.Fatalf("requeued %d units, want 1", len(enq.requeued))
	}
	if !enq.requeued[0].RunAt.Equal(*run.ResumeAt) {
		t.Errorf("requeue RunAt = %v, ResumeAt = %v", enq.requeued[0].RunAt, run.ResumeAt)
	}

	// Drain the dispatched sub-units, then resume: the run re-enters at
	// the same task, finds the dependency finished, and completes.
	for _, u := range enq.units {
		if err := runner.ExecuteUnit(context.Background(), u); err != nil {
			t.Fatalf("ExecuteUnit: %v", err)
		}
	}
	resumed, err := runner.Resume(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.State != workflow.RunStateSucceeded {
		t.Fatalf("resumed State = %q", resumed.State)
	}
	outs, _ := store.ListOutputs(context.Background(), run.ID)
	for _, o := range outs {
		if o.TaskName == "gather" && toInt(o.Data["sum"]) != 3 {
			t.Errorf("gather.sum = %v, want 3", o.Data["sum"])
		}
	}
}

func TestFailedSubUnitFailsDependent(t *testing.T) {
	store := memory.New()
	enq := &fakeEnqueuer{}
	runner := workflow.NewRunner(store, workflow.WithEnqueuer(enq))
	enq.exec = func(u *workflow.Unit) error {
		_ = runner.ExecuteUnit(context.Background(), u) // queue swallows unit errors
		return nil
	}

	register(t, "brokenshard", []*workflow.Task{
		workflow.NewTask("shard", func(ctx *workflow.Context) (map[string]any, error) {
			idx, err := ctx.EachIndex()
			if err != nil {
				return nil, err
			}
			if idx == 1 {
				return nil, errors.New("shard 1 broke")
			}
			return map[string]any{"ok": true}, nil
		},
			workflow.WithEach(func(*workflow.Context) ([]any, error) {
				return []any{0, 1}, nil
			}),
			workflow.WithEnqueue(workflow.EnqueuePolicy{}),
		),
		workflow.NewTask("gather", func(*workflow.Context) (map[string]any, error) {
			return nil, nil
		},
			workflow.WithDependsOn("shard"),
			workflow.WithWait(workflow.WaitPolicy{PollInterval: time.Millisecond}),
		),
	})

	run, err := runner.Start(context.Background(), "brokenshard", nil)
	if err == nil {
		t.Fatal("run succeeded with a failed sub-unit")
	}
	if run.State != workflow.RunStateFailed {
		t.Errorf("State = %q", run.State)
	}
}

func TestSubUnitRetryKeepsRescheduledRunIntact(t *testing.T) {
	store := memory.New()
	runner := workflow.NewRunner(store)

	attempts := 0
	register(t, "shards", []*workflow.Task{
		workflow.NewTask("shard", func(*workflow.Context) (map[string]any, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("transient")
			}
			return map[string]any{"ok": true}, nil
		}, workflow.WithRetry(workflow.RetryPolicy{
			Count:     2,
			Strategy:  workflow.RetryLinear,
			BaseDelay: time.Millisecond,
		})),
	})

	// The parent rescheduled the run while this sub-unit was queued.
	resumeAt := time.Now().UTC().Add(time.Minute).Truncate(time.Second)
	run := &workflow.Run{
		Entity:    conduct.NewEntity(),
		ID:        id.NewRunID(),
		Workflow:  "shards",
		State:     workflow.RunStateRescheduled,
		ResumeAt:  &resumeAt,
		StartedAt: time.Now().UTC(),
	}
	if err := store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	unit := &workflow.Unit{
		JobID:       id.NewJobID(),
		RunID:       run.ID,
		Workflow:    "shards",
		TaskName:    "shard",
		Index:       0,
		ParentJobID: id.NewJobID(),
	}
	if err := runner.ExecuteUnit(context.Background(), unit); err != nil {
		t.Fatalf("ExecuteUnit: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}

	// The sub-unit's retry checkpoint must not write back its stale run
	// copy: the run stays rescheduled and resumable.
	persisted, err := store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if persisted.State != workflow.RunStateRescheduled {
		t.Fatalf("State = %q, want %q", persisted.State, workflow.RunStateRescheduled)
	}
	if persisted.ResumeAt == nil || !persisted.ResumeAt.Equal(resumeAt) {
		t.Fatalf("ResumeAt = %v, want %v", persisted.ResumeAt, resumeAt)
	}

	n, err := runner.ResumeDue(context.Background(), resumeAt.Add(time.Second))
	if err != nil {
		t.Fatalf("ResumeDue: %v", err)
	}
	if n != 1 {
		t.Fatalf("ResumeDue resumed %d runs, want 1", n)
	}
}

func TestDispatchMarksSlotHeld(t *testing.T) {
	store := memory.New()
	enq := &fakeEnqueuer{}
	runner := workflow.NewRunner(store, workflow.WithEnqueuer(enq))
	enq.exec = func(u *workflow.Unit) error {
		return runner.ExecuteUnit(context.Background(), u)
	}

	register(t, "mixed", []*workflow.Task{
		workflow.NewTask("limited", func(*workflow.Context) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		}, workflow.WithEnqueue(workflow.EnqueuePolicy{ConcurrencyLimit: 2})),
		workflow.NewTask("unlimited", func(*workflow.Context) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		}, workflow.WithEnqueue(workflow.EnqueuePolicy{})),
	})

	if _, err := runner.Start(context.Background(), "mixed", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(enq.units) != 2 {
		t.Fatalf("dispatched units = %d, want 2", len(enq.units))
	}
	for _, u := range enq.units {
		want := u.TaskName == "limited"
		if u.SlotHeld != want {
			t.Errorf("%s: SlotHeld = %v, want %v", u.TaskName, u.SlotHeld, want)
		}
	}
}

func TestEnqueueSlotDeniedRunsLocally(t *testing.T) {
	store := memory.New()
	enq := &fakeEnqueuer{denySlot: true}
	runner := workflow.NewRunner(store, workflow.WithEnqueuer(enq))

	local := 0
	register(t, "denied", []*workflow.Task{
		workflow.NewTask("t", func(*workflow.Context) (map[string]any, error) {
			local++
			return map[string]any{"ok": true}, nil
		},
			workflow.WithEach(func(*workflow.Context) ([]any, error) { return []any{1, 2}, nil }),
			workflow.WithEnqueue(workflow.EnqueuePolicy{ConcurrencyLimit: 1}),
		),
	})

	run, err := runner.Start(context.Background(), "denied", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.State != workflow.RunStateSucceeded {
		t.Fatalf("State = %q", run.State)
	}
	if len(enq.units) != 0 {
		t.Errorf("units dispatched despite denied slot: %d", len(enq.units))
	}
	if local != 2 {
		t.Errorf("local executions = %d, want 2", local)
	}
}

func TestTaskTimeout(t *testing.T) {
	store := memory.New()
	runner := workflow.NewRunner(store)

	register(t, "slow", []*workflow.Task{
		workflow.NewTask("t", func(ctx *workflow.Context) (map[string]any, error) {
			select {
			case <-time.After(time.Second):
				return map[string]any{"done": true}, nil
			case <-ctx.Context().Done():
				return nil, ctx.Context().Err()
			}
		}, workflow.WithTimeout(10*time.Millisecond)),
	})

	run, err := runner.Start(context.Background(), "slow", nil)
	if err == nil {
		t.Fatal("timeout not enforced")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded in chain", err)
	}
	if run.State != workflow.RunStateFailed {
		t.Errorf("State = %q", run.State)
	}
}

func TestThrottledTaskReleasesLease(t *testing.T) {
	store := memory.New()
	runner := workflow.NewRunner(store, workflow.WithLeaseStore(store))

	register(t, "throttled", []*workflow.Task{
		workflow.NewTask("t", func(*workflow.Context) (map[string]any, error) {
			if store.Held("tenant-42") != 1 {
				return nil, fmt.Errorf("held = %d inside body, want 1", store.Held("tenant-42"))
			}
			return nil, nil
		}, workflow.WithThrottle(workflow.ThrottlePolicy{Key: "tenant-42", Limit: 1, TTL: time.Minute})),
	})

	if _, err := runner.Start(context.Background(), "throttled", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if store.Held("tenant-42") != 0 {
		t.Errorf("lease leaked: held = %d", store.Held("tenant-42"))
	}
}

func TestIterationScopedAccessOutsideEach(t *testing.T) {
	store := memory.New()
	runner := workflow.NewRunner(store)

	register(t, "misuse", []*workflow.Task{
		workflow.NewTask("t", func(ctx *workflow.Context) (map[string]any, error) {
			_, err := ctx.EachValue()
			return nil, err
		}),
	})

	_, err := runner.Start(context.Background(), "misuse", nil)
	var ce *conduct.ContextUsageError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ContextUsageError", err)
	}
}

func TestResumeDue(t *testing.T) {
	store := memory.New()

	// A stalled queue keeps dispatched units pending, so the downstream
	// wait times out and the run lands in rescheduled.
	stalled := &fakeEnqueuer{}
	stalledRunner := workflow.NewRunner(store, workflow.WithEnqueuer(stalled))
	register(t, "due", []*workflow.Task{
		workflow.NewTask("shard", func(ctx *workflow.Context) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		},
			workflow.WithEach(func(*workflow.Context) ([]any, error) { return []any{1}, nil }),
			workflow.WithEnqueue(workflow.EnqueuePolicy{}),
		),
		workflow.NewTask("gather", func(*workflow.Context) (map[string]any, error) { return nil, nil },
			workflow.WithDependsOn("shard"),
			workflow.WithWait(workflow.WaitPolicy{
				PollTimeout:     2 * time.Millisecond,
				PollInterval:    time.Millisecond,
				RescheduleDelay: time.Millisecond,
			}),
		),
	})

	run, err := stalledRunner.Start(context.Background(), "due", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.State != workflow.RunStateRescheduled {
		t.Fatalf("State = %q", run.State)
	}

	for _, u := range stalled.units {
		if err := stalledRunner.ExecuteUnit(context.Background(), u); err != nil {
			t.Fatalf("ExecuteUnit: %v", err)
		}
	}

	time.Sleep(2 * time.Millisecond)
	resumed, err := stalledRunner.ResumeDue(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("ResumeDue: %v", err)
	}
	if resumed != 1 {
		t.Errorf("resumed = %d, want 1", resumed)
	}
	final, _ := store.GetRun(context.Background(), run.ID)
	if final.State != workflow.RunStateSucceeded {
		t.Errorf("final State = %q", final.State)
	}
}

// toInt bridges numeric values that crossed a JSON boundary.
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
