package workflow

import (
	"context"
	"time"

	"github.com/conductkit/conduct/id"
)

// Unit is a self-contained execution request handed to an Enqueuer. A
// root unit carries only the run reference; a sub-unit additionally
// names the task, the iteration index, and the parent job so the
// worker can rebuild a trimmed Context around the single iteration.
type Unit struct {
	JobID       id.JobID  `json:"jobId"    msgpack:"jobId"`
	RunID       id.RunID  `json:"runId"    msgpack:"runId"`
	Workflow    string    `json:"workflow" msgpack:"workflow"`
	TaskName    string    `json:"taskName,omitempty" msgpack:"taskName,omitempty"`
	Index       int       `json:"index"    msgpack:"index"`
	Value       any       `json:"value,omitempty" msgpack:"value,omitempty"`
	ParentJobID id.JobID  `json:"parentJobId,omitempty" msgpack:"parentJobId,omitempty"`
	Queue       string    `json:"queue,omitempty" msgpack:"queue,omitempty"`
	RunAt       time.Time `json:"runAt,omitempty" msgpack:"runAt,omitempty"`
	Snapshot    []byte    `json:"snapshot,omitempty" msgpack:"snapshot,omitempty"`

	// SlotHeld marks units dispatched under an enqueue-policy
	// concurrency grant; the delivery queue returns the slot when the
	// unit finishes. Units dispatched without a limit hold no slot.
	SlotHeld bool `json:"slotHeld,omitempty" msgpack:"slotHeld,omitempty"`
}

// SubUnit reports whether the unit targets a single task iteration
// rather than a whole run.
func (u *Unit) SubUnit() bool { return u.TaskName != "" }

// Enqueuer dispatches units to background execution. The queue package
// provides the reference implementation; the engine adapts it into the
// runner.
type Enqueuer interface {
	// Enqueue schedules a unit for execution. Units with a RunAt in
	// the future are held until due.
	Enqueue(ctx context.Context, unit *Unit) error

	// Requeue re-schedules an already-persisted run for a later
	// traversal pass, typically after a dependency-wait timeout.
	Requeue(ctx context.Context, unit *Unit) error

	// TryAcquireSlot asks for an execution slot on the named queue
	// under the given concurrency limit. When it returns false the
	// caller runs the work inline instead of enqueueing.
	TryAcquireSlot(ctx context.Context, queue string, limit int) bool

	// ReleaseSlot returns a slot previously granted by TryAcquireSlot.
	ReleaseSlot(ctx context.Context, queue string)
}
