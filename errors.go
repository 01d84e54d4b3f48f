package conduct

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("conduct: no store configured")
	ErrStoreClosed = errors.New("conduct: store closed")

	// Not found errors.
	ErrRunNotFound      = errors.New("conduct: run not found")
	ErrTaskNotFound     = errors.New("conduct: task not found")
	ErrWorkflowNotFound = errors.New("conduct: workflow not found")
	ErrJobNotFound      = errors.New("conduct: job not found")

	// State errors.
	ErrInvalidState       = errors.New("conduct: invalid state transition")
	ErrMaxRetriesExceeded = errors.New("conduct: max retries exceeded")

	// Queue errors.
	ErrQueueStopped = errors.New("conduct: queue stopped")
)

// DefinitionError reports an invalid workflow definition: a task depending
// on a name not present in the graph, or a dependency cycle. It is raised
// at graph-traversal time, is fatal, and is never retried.
type DefinitionError struct {
	Workflow string
	Task     string // dependent task, empty for cycle errors
	Missing  string // missing dependency name, empty for cycle errors
	Reason   string
}

func (e *DefinitionError) Error() string {
	if e.Missing != "" {
		return fmt.Sprintf("conduct: invalid workflow %q: task %q depends on unknown task %q", e.Workflow, e.Task, e.Missing)
	}
	return fmt.Sprintf("conduct: invalid workflow %q: %s", e.Workflow, e.Reason)
}

// ProtocolError reports misuse of the around-hook contract: the wrapped
// body was never invoked, or was invoked more than once. It signals a
// programming error in the workflow definition and is never retried.
type ProtocolError struct {
	Task   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("conduct: around hook protocol violation in task %q: %s", e.Task, e.Reason)
}

// ContextUsageError reports calling an iteration-scoped Context operation
// outside an active iteration, or nesting iterations. It signals a
// programming error and is never retried.
type ContextUsageError struct {
	Op     string
	Reason string
}

func (e *ContextUsageError) Error() string {
	return fmt.Sprintf("conduct: %s: %s", e.Op, e.Reason)
}

// TaskError wraps an error raised by a task body, hook, or per-attempt
// timeout. It records where the failure occurred; the retry budget is
// applied to it before it propagates and fails the run.
type TaskError struct {
	Workflow string
	Task     string
	Index    int // each-iteration index, -1 for non-each tasks
	Attempt  int // retry count at the time of failure
	Err      error
}

func (e *TaskError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("conduct: workflow %q task %q index %d (attempt %d): %v", e.Workflow, e.Task, e.Index, e.Attempt, e.Err)
	}
	return fmt.Sprintf("conduct: workflow %q task %q (attempt %d): %v", e.Workflow, e.Task, e.Attempt, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// IsFatal reports whether err is one of the never-retried error kinds:
// DefinitionError, ProtocolError, or ContextUsageError.
func IsFatal(err error) bool {
	var de *DefinitionError
	var pe *ProtocolError
	var ce *ContextUsageError
	return errors.As(err, &de) || errors.As(err, &pe) || errors.As(err, &ce)
}
