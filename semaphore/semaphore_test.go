package semaphore_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conductkit/conduct/semaphore"
	"github.com/conductkit/conduct/store/memory"
)

func TestWithMutualExclusion(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem := semaphore.New(store, "excl",
				semaphore.WithLimit(1),
				semaphore.WithPollInterval(time.Millisecond),
			)
			err := sem.With(ctx, func() error {
				n := inside.Add(1)
				defer inside.Add(-1)
				for {
					cur := maxInside.Load()
					if n <= cur || maxInside.CompareAndSwap(cur, n) {
						break
					}
				}
				if held := store.Held("excl"); held > 1 {
					t.Errorf("held = %d inside critical section", held)
				}
				time.Sleep(2 * time.Millisecond)
				return nil
			})
			if err != nil {
				t.Errorf("With: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInside.Load() != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside.Load())
	}
	if store.Held("excl") != 0 {
		t.Errorf("leases leaked: %d", store.Held("excl"))
	}
}

func TestWithReleasesOnError(t *testing.T) {
	store := memory.New()
	sem := semaphore.New(store, "err-key")

	wantErr := errors.New("body failed")
	err := sem.With(context.Background(), func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v", err)
	}
	if store.Held("err-key") != 0 {
		t.Errorf("lease held after error: %d", store.Held("err-key"))
	}
}

func TestWaitPollsUntilAcquired(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	holder := semaphore.New(store, "busy", semaphore.WithLimit(1))
	if ok, err := holder.Wait(ctx); !ok || err != nil {
		t.Fatalf("initial Wait = %v, %v", ok, err)
	}

	released := make(chan struct{})
	go func() {
		time.Sleep(5 * time.Millisecond)
		if _, err := holder.Signal(ctx); err != nil {
			t.Errorf("Signal: %v", err)
		}
		close(released)
	}()

	waiter := semaphore.New(store, "busy",
		semaphore.WithLimit(1),
		semaphore.WithPollInterval(time.Millisecond),
	)
	start := time.Now()
	ok, err := waiter.Wait(ctx)
	if !ok || err != nil {
		t.Fatalf("Wait = %v, %v", ok, err)
	}
	<-released
	if time.Since(start) < 4*time.Millisecond {
		t.Errorf("Wait returned before the holder released")
	}
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	store := memory.New()
	ctx, cancel := context.WithCancel(context.Background())

	holder := semaphore.New(store, "stuck")
	if _, err := holder.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(2 * time.Millisecond)
		cancel()
	}()

	waiter := semaphore.New(store, "stuck", semaphore.WithPollInterval(time.Millisecond))
	ok, err := waiter.Wait(ctx)
	if ok || !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v, %v; want canceled", ok, err)
	}
}

func TestNilStoreDegradesToNoop(t *testing.T) {
	sem := semaphore.New(nil, "anything", semaphore.WithLimit(1))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := sem.Wait(ctx)
		if !ok || err != nil {
			t.Fatalf("Wait #%d = %v, %v", i, ok, err)
		}
	}
	if err := sem.With(ctx, func() error { return nil }); err != nil {
		t.Fatalf("With: %v", err)
	}
}

func TestClosedStoreDegradesToNoop(t *testing.T) {
	store := memory.New()
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	sem := semaphore.New(store, "k", semaphore.WithLimit(1))
	ok, err := sem.Wait(context.Background())
	if !ok || err != nil {
		t.Fatalf("Wait on unavailable store = %v, %v; want no-op success", ok, err)
	}
}

func TestLimitAllowsNConcurrentHolders(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	sem := semaphore.New(store, "pool", semaphore.WithLimit(2))

	if ok, _ := sem.Wait(ctx); !ok {
		t.Fatal("first acquire denied")
	}
	if ok, _ := sem.Wait(ctx); !ok {
		t.Fatal("second acquire denied under limit 2")
	}
	if ok, err := store.TryAcquire(ctx, "pool", 2, time.Minute); ok || err != nil {
		t.Fatalf("third acquire = %v, %v; want denied", ok, err)
	}
}
