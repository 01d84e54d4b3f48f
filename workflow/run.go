package workflow

import (
	"time"

	"github.com/conductkit/conduct"
	"github.com/conductkit/conduct/id"
)

// RunState is the lifecycle state of a workflow run.
type RunState string

const (
	// RunStatePending means the run is created but not yet executing.
	RunStatePending RunState = "pending"
	// RunStateRunning means the run is currently executing.
	RunStateRunning RunState = "running"
	// RunStateSucceeded means every task completed or was skipped.
	RunStateSucceeded RunState = "succeeded"
	// RunStateFailed means a task exhausted its retries and the failure
	// propagated.
	RunStateFailed RunState = "failed"
	// RunStateRescheduled means the run released its worker slot while
	// waiting on incomplete fan-out work; the host collaborator
	// re-dispatches it at ResumeAt. A rescheduled run is neither
	// complete nor failed.
	RunStateRescheduled RunState = "rescheduled"
)

// Finished reports whether s is a terminal state.
func (s RunState) Finished() bool {
	return s == RunStateSucceeded || s == RunStateFailed
}

// Run is a single execution of a workflow. Its Snapshot field carries the
// serialized execution context at the last persistence checkpoint,
// enabling resume-from-failure and the dependency-wait reschedule
// protocol.
//
// Callers of Runner.Start must treat RunStateRescheduled as "not finished":
// conduct does not guarantee synchronous waiting through a child run's own
// reschedule-driven dependency wait; the host queue re-dispatches the run
// and only then does it reach a terminal state.
type Run struct {
	conduct.Entity

	ID          id.RunID   `json:"id"`
	Workflow    string     `json:"workflow"`
	State       RunState   `json:"state"`
	Arguments   Arguments  `json:"arguments,omitempty"`
	Snapshot    []byte     `json:"snapshot,omitempty"`
	Error       string     `json:"error,omitempty"`
	DryRun      bool       `json:"dry_run,omitempty"`
	ResumeAt    *time.Time `json:"resume_at,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
