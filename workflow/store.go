package workflow

import (
	"context"

	"github.com/conductkit/conduct/id"
)

// ListOpts controls pagination and filtering for run list queries.
type ListOpts struct {
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
	// State filters by run state. Empty means all states.
	State RunState
}

// Store defines the persistence contract for workflow runs. Backends live
// in the store subpackages (memory, redis, bun); one backend typically
// also implements semaphore.LeaseStore.
//
// Outputs and statuses are persisted individually (not only inside the
// run snapshot) because dispatched sub-units executing in other processes
// report through the store: the parent run polls ListStatuses and merges
// ListOutputs when a fan-out completes.
type Store interface {
	// CreateRun persists a new run.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID. Returns conduct.ErrRunNotFound when
	// no run exists under the ID.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun persists changes to an existing run.
	UpdateRun(ctx context.Context, run *Run) error

	// ListRuns returns runs matching the given options.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// SaveOutput upserts one task output at its (task, index) key.
	SaveOutput(ctx context.Context, runID id.RunID, out *TaskOutput) error

	// ListOutputs returns every output recorded for the run.
	ListOutputs(ctx context.Context, runID id.RunID) ([]*TaskOutput, error)

	// UpsertStatus records the state of one dispatched unit, replacing
	// any earlier record for the same (task, index).
	UpsertStatus(ctx context.Context, runID id.RunID, st *TaskStatus) error

	// ListStatuses returns every dispatched-unit status for the run.
	ListStatuses(ctx context.Context, runID id.RunID) ([]*TaskStatus, error)

	// MarkTaskComplete records the run's continuation marker for one
	// task, so a resumed run skips it.
	MarkTaskComplete(ctx context.Context, runID id.RunID, taskName string) error

	// CompletedTasks returns the names of tasks already marked complete.
	CompletedTasks(ctx context.Context, runID id.RunID) ([]string, error)

	// Migrate prepares backend schema. No-op for schemaless backends.
	Migrate(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
