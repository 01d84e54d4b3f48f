package workflow

import (
	"fmt"
	"sync"

	"github.com/conductkit/conduct"
)

// Registry maps workflow names to definitions. Runs persist only the
// workflow name, so resuming a run requires the definition to be
// registered again in the new process.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{workflows: make(map[string]*Workflow)}
}

// Register adds a workflow, replacing any previous definition under
// the same name.
func (r *Registry) Register(w *Workflow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[w.Name] = w
}

// Lookup returns the workflow registered under name.
func (r *Registry) Lookup(name string) (*Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workflows[name]
	if !ok {
		return nil, fmt.Errorf("conduct/workflow: lookup %q: %w", name, conduct.ErrWorkflowNotFound)
	}
	return w, nil
}

// Names returns the registered workflow names in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	return names
}

// Reset removes every registration. Intended for tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows = make(map[string]*Workflow)
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Register adds a workflow to the process-wide registry.
func Register(w *Workflow) { defaultRegistry.Register(w) }

// Lookup resolves a workflow name against the process-wide registry.
func Lookup(name string) (*Workflow, error) { return defaultRegistry.Lookup(name) }

// Reset clears the process-wide registry. Intended for tests.
func Reset() { defaultRegistry.Reset() }
