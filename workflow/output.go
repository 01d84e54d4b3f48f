package workflow

import "sort"

// TaskOutput is the result record of one task iteration. EachIndex is nil
// for a non-iterating task's single result; a present index denotes one
// iteration of a fan-out task.
type TaskOutput struct {
	TaskName  string         `json:"taskName"`
	EachIndex *int           `json:"eachIndex,omitempty"`
	Data      map[string]any `json:"data"`
}

// Index returns the iteration index, or -1 for a non-iterating result.
func (o *TaskOutput) Index() int {
	if o.EachIndex == nil {
		return -1
	}
	return *o.EachIndex
}

// OutputSet accumulates TaskOutputs keyed by task name. A non-each task
// holds a single record; an each-task holds an ordered array indexed by
// EachIndex, with gaps allowed until filled. Writes are idempotent
// upserts: a later write for the same (task, index) replaces the earlier
// one.
//
// An OutputSet is owned by one Context and is not safe for concurrent use.
type OutputSet struct {
	single  map[string]*TaskOutput
	indexed map[string][]*TaskOutput
}

// NewOutputSet creates an empty output set.
func NewOutputSet() *OutputSet {
	return &OutputSet{
		single:  make(map[string]*TaskOutput),
		indexed: make(map[string][]*TaskOutput),
	}
}

// Put upserts one output record at its (task, index) key.
func (s *OutputSet) Put(o *TaskOutput) {
	if o.EachIndex == nil {
		s.single[o.TaskName] = o
		return
	}
	idx := *o.EachIndex
	arr := s.indexed[o.TaskName]
	for len(arr) <= idx {
		arr = append(arr, nil)
	}
	arr[idx] = o
	s.indexed[o.TaskName] = arr
}

// Get returns a non-each task's single output record.
func (s *OutputSet) Get(task string) (*TaskOutput, bool) {
	o, ok := s.single[task]
	return o, ok
}

// All returns an each-task's outputs in index order. Unfilled indices
// appear as nil entries until their iteration completes.
func (s *OutputSet) All(task string) []*TaskOutput {
	return s.indexed[task]
}

// At returns the each-task output at one iteration index.
func (s *OutputSet) At(task string, index int) (*TaskOutput, bool) {
	arr := s.indexed[task]
	if index < 0 || index >= len(arr) || arr[index] == nil {
		return nil, false
	}
	return arr[index], true
}

// Merge upserts every record of other into s. Merging is idempotent and
// commutative per (task, index) key: each index is produced by exactly
// one unit of work, so last-write-wins is safe.
func (s *OutputSet) Merge(other *OutputSet) {
	for _, o := range other.List() {
		s.Put(o)
	}
}

// List returns every stored record in a deterministic order: task names
// sorted, single record before indexed records, indices ascending.
func (s *OutputSet) List() []*TaskOutput {
	names := make([]string, 0, len(s.single)+len(s.indexed))
	seen := make(map[string]bool)
	for name := range s.single {
		names = append(names, name)
		seen[name] = true
	}
	for name := range s.indexed {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []*TaskOutput
	for _, name := range names {
		if o, ok := s.single[name]; ok {
			out = append(out, o)
		}
		for _, o := range s.indexed[name] {
			if o != nil {
				out = append(out, o)
			}
		}
	}
	return out
}

// Len returns the number of stored records.
func (s *OutputSet) Len() int {
	n := len(s.single)
	for _, arr := range s.indexed {
		for _, o := range arr {
			if o != nil {
				n++
			}
		}
	}
	return n
}

// intPtr is a small helper for building indexed outputs.
func intPtr(i int) *int { return &i }
