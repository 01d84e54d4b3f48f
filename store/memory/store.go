// Package memory is a fully in-memory store backend. Safe for concurrent
// access. Intended for unit testing and development; nothing survives the
// process.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/conductkit/conduct"
	"github.com/conductkit/conduct/id"
	"github.com/conductkit/conduct/semaphore"
	"github.com/conductkit/conduct/workflow"
)

var (
	_ workflow.Store       = (*Store)(nil)
	_ semaphore.LeaseStore = (*Store)(nil)
)

// Store holds runs, outputs, statuses, continuation markers, and
// semaphore leases in process memory.
type Store struct {
	mu sync.RWMutex

	runs      map[string]*workflow.Run
	outputs   map[string][]*workflow.TaskOutput // key: run ID
	statuses  map[string][]*workflow.TaskStatus // key: run ID
	completed map[string][]string               // key: run ID, ordered task names

	leases map[string][]time.Time // key: semaphore key, lease expiries

	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		runs:      make(map[string]*workflow.Run),
		outputs:   make(map[string][]*workflow.TaskOutput),
		statuses:  make(map[string][]*workflow.TaskStatus),
		completed: make(map[string][]string),
		leases:    make(map[string][]time.Time),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is open.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return conduct.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data is dropped with the process.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Runs
// ──────────────────────────────────────────────────

// CreateRun persists a new run.
func (m *Store) CreateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID.String()] = &cp
	return nil
}

// GetRun retrieves a run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID.String()]
	if !ok {
		return nil, conduct.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

// UpdateRun persists changes to an existing run.
func (m *Store) UpdateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID.String()]; !ok {
		return conduct.ErrRunNotFound
	}
	cp := *run
	m.runs[run.ID.String()] = &cp
	return nil
}

// ListRuns returns runs matching opts, newest first.
func (m *Store) ListRuns(_ context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]*workflow.Run, 0, len(m.runs))
	for _, run := range m.runs {
		if opts.State != "" && run.State != opts.State {
			continue
		}
		cp := *run
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[opts.Offset:]
	}
	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// ──────────────────────────────────────────────────
// Outputs
// ──────────────────────────────────────────────────

// SaveOutput upserts one output at its (task, index) key.
func (m *Store) SaveOutput(_ context.Context, runID id.RunID, out *workflow.TaskOutput) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := runID.String()
	cp := *out
	for i, existing := range m.outputs[key] {
		if existing.TaskName == out.TaskName && existing.Index() == out.Index() {
			m.outputs[key][i] = &cp
			return nil
		}
	}
	m.outputs[key] = append(m.outputs[key], &cp)
	return nil
}

// ListOutputs returns every output recorded for the run.
func (m *Store) ListOutputs(_ context.Context, runID id.RunID) ([]*workflow.TaskOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.outputs[runID.String()]
	out := make([]*workflow.TaskOutput, len(src))
	for i, o := range src {
		cp := *o
		out[i] = &cp
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Statuses
// ──────────────────────────────────────────────────

// UpsertStatus records the state of one dispatched unit.
func (m *Store) UpsertStatus(_ context.Context, runID id.RunID, st *workflow.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := runID.String()
	cp := *st
	for i, existing := range m.statuses[key] {
		if existing.TaskName == st.TaskName && existing.EachIndex == st.EachIndex {
			m.statuses[key][i] = &cp
			return nil
		}
	}
	m.statuses[key] = append(m.statuses[key], &cp)
	return nil
}

// ListStatuses returns every dispatched-unit status for the run.
func (m *Store) ListStatuses(_ context.Context, runID id.RunID) ([]*workflow.TaskStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.statuses[runID.String()]
	out := make([]*workflow.TaskStatus, len(src))
	for i, st := range src {
		cp := *st
		out[i] = &cp
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Continuation markers
// ──────────────────────────────────────────────────

// MarkTaskComplete records one task as fully completed for the run.
func (m *Store) MarkTaskComplete(_ context.Context, runID id.RunID, taskName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := runID.String()
	for _, name := range m.completed[key] {
		if name == taskName {
			return nil
		}
	}
	m.completed[key] = append(m.completed[key], taskName)
	return nil
}

// CompletedTasks returns the names of tasks already marked complete, in
// completion order.
func (m *Store) CompletedTasks(_ context.Context, runID id.RunID) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.completed[runID.String()]
	out := make([]string, len(src))
	copy(out, src)
	return out, nil
}

// ──────────────────────────────────────────────────
// Semaphore leases
// ──────────────────────────────────────────────────

// TryAcquire takes one lease on key if fewer than limit unexpired leases
// are held.
func (m *Store) TryAcquire(_ context.Context, key string, limit int, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	held := m.leases[key][:0]
	for _, exp := range m.leases[key] {
		if exp.After(now) {
			held = append(held, exp)
		}
	}

	if len(held) >= limit {
		m.leases[key] = held
		return false, nil
	}
	m.leases[key] = append(held, now.Add(ttl))
	return true, nil
}

// Release gives back one lease on key.
func (m *Store) Release(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held := m.leases[key]
	if len(held) == 0 {
		return false, nil
	}
	m.leases[key] = held[:len(held)-1]
	return true, nil
}

// Available reports whether the store is usable as a lease backend.
func (m *Store) Available(_ context.Context) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

// Held returns the number of unexpired leases on key. Test helper.
func (m *Store) Held(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	n := 0
	for _, exp := range m.leases[key] {
		if exp.After(now) {
			n++
		}
	}
	return n
}
