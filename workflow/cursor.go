package workflow

import "github.com/conductkit/conduct/id"

// Cursor is the per-run mutable position marker: where execution currently
// is inside one task's iteration when a fan-out is active, including a
// nested invocation for a single iteration dispatched as its own unit of
// work (identified by ParentJobID + Index).
type Cursor struct {
	// TaskName is the task whose iteration is active, empty otherwise.
	TaskName string
	// ParentJobID identifies the dispatching unit when this context
	// executes a single dispatched iteration.
	ParentJobID id.JobID
	// Index is the active iteration index.
	Index int
	// Value is the active iteration element from the each sequence.
	Value any
	// RetryCount is the number of retries already consumed at Index.
	RetryCount int
	// DryRun marks the active iteration as a dry run.
	DryRun bool

	// active tracks whether an iteration is currently open.
	active bool
}

// Active reports whether an iteration is currently open.
func (c *Cursor) Active() bool { return c.active }

// SubUnit reports whether this cursor identifies a dispatched single-index
// execution.
func (c *Cursor) SubUnit() bool {
	return c.TaskName != "" && !c.ParentJobID.IsNil()
}

// reset clears everything except the sub-unit identity, which survives
// for the life of a dispatched unit's context.
func (c *Cursor) reset() {
	c.Index = 0
	c.Value = nil
	c.RetryCount = 0
	c.DryRun = false
	c.active = false
	if c.ParentJobID.IsNil() {
		c.TaskName = ""
	}
}
