package workflow

import "github.com/conductkit/conduct/id"

// JobStatus is the lifecycle state of one dispatched unit of work.
type JobStatus string

const (
	// StatusPending means the unit is enqueued but not yet running.
	StatusPending JobStatus = "pending"
	// StatusRunning means the unit is currently executing.
	StatusRunning JobStatus = "running"
	// StatusSucceeded means the unit finished successfully.
	StatusSucceeded JobStatus = "succeeded"
	// StatusFailed means the unit failed terminally.
	StatusFailed JobStatus = "failed"
)

// TaskStatus tracks, for a fan-out task whose iterations run as
// independently scheduled units, whether one such unit has finished.
type TaskStatus struct {
	TaskName  string    `json:"taskName"`
	JobID     id.JobID  `json:"jobId"`
	EachIndex int       `json:"eachIndex"`
	Status    JobStatus `json:"status"`
}

// Finished reports whether the unit reached a terminal state.
func (s *TaskStatus) Finished() bool {
	return s.Status == StatusSucceeded || s.Status == StatusFailed
}

// StatusSet holds TaskStatus records keyed by (task, index). It is owned
// by one Context; cross-process visibility goes through the Store.
type StatusSet struct {
	list []*TaskStatus
}

// NewStatusSet creates an empty status set.
func NewStatusSet() *StatusSet {
	return &StatusSet{}
}

// Upsert records the status of one dispatched unit, replacing any earlier
// record for the same (task, index).
func (s *StatusSet) Upsert(st *TaskStatus) {
	for i, existing := range s.list {
		if existing.TaskName == st.TaskName && existing.EachIndex == st.EachIndex {
			s.list[i] = st
			return
		}
	}
	s.list = append(s.list, st)
}

// ForTask returns the statuses recorded for one task, in dispatch order.
func (s *StatusSet) ForTask(task string) []*TaskStatus {
	var out []*TaskStatus
	for _, st := range s.list {
		if st.TaskName == task {
			out = append(out, st)
		}
	}
	return out
}

// Dispatched reports whether any unit was dispatched for the task.
func (s *StatusSet) Dispatched(task string) bool {
	return len(s.ForTask(task)) > 0
}

// AllFinished reports whether every dispatched unit of the task reached a
// terminal state. A task with no dispatched units counts as finished.
func (s *StatusSet) AllFinished(task string) bool {
	for _, st := range s.ForTask(task) {
		if !st.Finished() {
			return false
		}
	}
	return true
}

// AnyFailed reports whether any dispatched unit of the task failed.
func (s *StatusSet) AnyFailed(task string) bool {
	for _, st := range s.ForTask(task) {
		if st.Status == StatusFailed {
			return true
		}
	}
	return false
}

// List returns all records in dispatch order.
func (s *StatusSet) List() []*TaskStatus { return s.list }

// Replace swaps the set's contents, used when refreshing from the Store.
func (s *StatusSet) Replace(list []*TaskStatus) {
	s.list = list
}

// Len returns the number of records.
func (s *StatusSet) Len() int { return len(s.list) }
