package workflow

import "fmt"

// Workflow is a named, immutable task graph. Build one with New at
// process start and register it; runs reference workflows by name so a
// resumed run can be rebound to the same definition.
type Workflow struct {
	Name   string
	Graph  *Graph
	Hooks  Hooks
	DryRun bool

	codec string
	queue string
}

// WorkflowOption configures a Workflow at construction time.
type WorkflowOption func(*Workflow)

// WithWorkflowHooks installs global hooks that bracket every task in
// the workflow.
func WithWorkflowHooks(h Hooks) WorkflowOption {
	return func(w *Workflow) { w.Hooks = h }
}

// WithWorkflowDryRun marks every run of the workflow as a dry run
// unless the caller overrides it per run.
func WithWorkflowDryRun() WorkflowOption {
	return func(w *Workflow) { w.DryRun = true }
}

// WithCodec selects the codec used to persist run snapshots. Defaults
// to JSON.
func WithCodec(name string) WorkflowOption {
	return func(w *Workflow) { w.codec = name }
}

// WithDefaultQueue sets the queue that enqueued sub-units land on when
// a task's enqueue policy names none.
func WithDefaultQueue(name string) WorkflowOption {
	return func(w *Workflow) { w.queue = name }
}

// New builds a workflow from tasks. Task order is preserved and used
// to break scheduling ties. Dependency validation happens lazily on
// the first traversal so definitions can be assembled incrementally.
func New(name string, tasks []*Task, opts ...WorkflowOption) (*Workflow, error) {
	if name == "" {
		return nil, fmt.Errorf("conduct/workflow: workflow name must not be empty")
	}
	w := &Workflow{Name: name}
	for _, opt := range opts {
		opt(w)
	}
	w.Graph = NewGraph(name)
	for _, t := range tasks {
		w.Graph.Add(t)
	}
	return w, nil
}

// Codec returns the snapshot codec name, defaulting to "json".
func (w *Workflow) Codec() string {
	if w.codec == "" {
		return "json"
	}
	return w.codec
}

// Queue returns the default queue name for enqueued sub-units.
func (w *Workflow) Queue() string { return w.queue }
