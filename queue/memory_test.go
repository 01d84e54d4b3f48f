package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conductkit/conduct/id"
	"github.com/conductkit/conduct/workflow"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func newUnit(queue string) *workflow.Unit {
	return &workflow.Unit{
		JobID:    id.NewJobID(),
		RunID:    id.NewRunID(),
		Workflow: "orders/sync",
		Queue:    queue,
	}
}

// ---------------------------------------------------------------------------
// Delivery
// ---------------------------------------------------------------------------

func TestMemory_DeliversUnits(t *testing.T) {
	q := NewMemory(WithConcurrency(2))

	var delivered atomic.Int64
	if err := q.Start(context.Background(), func(context.Context, *workflow.Unit) error {
		delivered.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop(context.Background())

	for range 3 {
		if err := q.Enqueue(context.Background(), newUnit("default")); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	waitFor(t, func() bool { return delivered.Load() == 3 })
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d pending", q.Len())
	}
}

func TestMemory_HoldsUnitsUntilDue(t *testing.T) {
	q := NewMemory(WithConcurrency(1))

	var delivered atomic.Int64
	if err := q.Start(context.Background(), func(context.Context, *workflow.Unit) error {
		delivered.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop(context.Background())

	u := newUnit("default")
	u.RunAt = time.Now().Add(80 * time.Millisecond)
	if err := q.Enqueue(context.Background(), u); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if delivered.Load() != 0 {
		t.Fatal("unit delivered before its RunAt")
	}

	waitFor(t, func() bool { return delivered.Load() == 1 })
}

func TestMemory_RequeueDelivers(t *testing.T) {
	q := NewMemory(WithConcurrency(1))

	got := make(chan *workflow.Unit, 1)
	if err := q.Start(context.Background(), func(_ context.Context, u *workflow.Unit) error {
		got <- u
		return nil
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop(context.Background())

	u := newUnit("default")
	if err := q.Requeue(context.Background(), u); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	select {
	case d := <-got:
		if d.JobID != u.JobID {
			t.Fatalf("delivered wrong unit: %s", d.JobID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unit not delivered")
	}
}

// ---------------------------------------------------------------------------
// Admission
// ---------------------------------------------------------------------------

func TestMemory_AdmissionLimitsConcurrency(t *testing.T) {
	m := NewManager(Config{Name: "narrow", MaxConcurrency: 1})
	q := NewMemory(WithManager(m), WithConcurrency(4))

	var inFlight, maxInFlight atomic.Int64
	release := make(chan struct{})
	var once sync.Once

	if err := q.Start(context.Background(), func(context.Context, *workflow.Unit) error {
		n := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if n <= prev || maxInFlight.CompareAndSwap(prev, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return nil
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop(context.Background())

	for range 4 {
		if err := q.Enqueue(context.Background(), newUnit("narrow")); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	waitFor(t, func() bool { return inFlight.Load() == 1 })
	time.Sleep(50 * time.Millisecond)
	once.Do(func() { close(release) })

	waitFor(t, func() bool { return q.Len() == 0 && inFlight.Load() == 0 })
	if maxInFlight.Load() != 1 {
		t.Fatalf("expected max 1 in flight, got %d", maxInFlight.Load())
	}
}

func TestMemory_HeldSlotReleasedOnCompletion(t *testing.T) {
	q := NewMemory(WithConcurrency(1))

	if !q.TryAcquireSlot(context.Background(), "shards", 1) {
		t.Fatal("slot should be granted")
	}
	if q.TryAcquireSlot(context.Background(), "shards", 1) {
		t.Fatal("second slot should be denied at limit 1")
	}

	if err := q.Start(context.Background(), func(context.Context, *workflow.Unit) error {
		return nil
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop(context.Background())

	u := newUnit("shards")
	u.TaskName = "fan/out"
	u.Index = 2
	u.SlotHeld = true
	if err := q.Enqueue(context.Background(), u); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, func() bool { return q.Manager().SlotCount("shards") == 0 })
	if !q.TryAcquireSlot(context.Background(), "shards", 1) {
		t.Fatal("slot should be free after the sub-unit completed")
	}
}

func TestMemory_UnheldSubUnitKeepsSlotsIntact(t *testing.T) {
	q := NewMemory(WithConcurrency(1))

	// Two grants held by a limited task sharing the queue.
	for i := 0; i < 2; i++ {
		if !q.TryAcquireSlot(context.Background(), "shared", 2) {
			t.Fatalf("grant %d should succeed", i)
		}
	}
	if q.TryAcquireSlot(context.Background(), "shared", 2) {
		t.Fatal("third grant should be denied at limit 2")
	}

	delivered := make(chan struct{})
	if err := q.Start(context.Background(), func(context.Context, *workflow.Unit) error {
		close(delivered)
		return nil
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop(context.Background())

	// A no-limit sub-unit on the same queue holds no slot and must not
	// return one when it finishes.
	u := newUnit("shared")
	u.TaskName = "audit/log"
	if err := q.Enqueue(context.Background(), u); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("sub-unit was never delivered")
	}
	// ActiveCount reaching zero means the worker finished
	// post-processing the unit.
	waitFor(t, func() bool { return q.Manager().ActiveCount("shared") == 0 })

	if got := q.Manager().SlotCount("shared"); got != 2 {
		t.Fatalf("slots held = %d, want 2", got)
	}
	if q.TryAcquireSlot(context.Background(), "shared", 2) {
		t.Fatal("limited task must still be capped at 2 outstanding slots")
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestMemory_StopWaitsForWorkers(t *testing.T) {
	q := NewMemory(WithConcurrency(2))

	var delivered atomic.Int64
	if err := q.Start(context.Background(), func(context.Context, *workflow.Unit) error {
		time.Sleep(20 * time.Millisecond)
		delivered.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := q.Enqueue(context.Background(), newUnit("default")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool { return q.Len() == 0 })

	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if delivered.Load() != 1 {
		t.Fatalf("expected in-flight unit to finish before Stop returned, delivered=%d", delivered.Load())
	}
}

func TestMemory_StopIdempotent(t *testing.T) {
	q := NewMemory()
	if err := q.Start(context.Background(), func(context.Context, *workflow.Unit) error { return nil }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
