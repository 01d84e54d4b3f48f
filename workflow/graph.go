package workflow

import (
	"fmt"

	"github.com/conductkit/conduct"
)

// Graph owns an insertion-ordered collection of tasks plus a name index.
// It is built once at workflow-definition time and read-only during
// execution. Validation (missing dependencies, cycles) is deferred to
// Iterate so batch construction can freely forward-reference.
type Graph struct {
	workflow string
	tasks    []*Task
	index    map[string]*Task
}

// NewGraph creates an empty graph for the named workflow.
func NewGraph(workflow string) *Graph {
	return &Graph{
		workflow: workflow,
		index:    make(map[string]*Task),
	}
}

// Add inserts a task. No validation is performed here; a task added twice
// under the same qualified name replaces the earlier definition but keeps
// its original position.
func (g *Graph) Add(t *Task) {
	name := t.QualifiedName()
	if old, exists := g.index[name]; exists {
		for i, cur := range g.tasks {
			if cur == old {
				g.tasks[i] = t
				break
			}
		}
	} else {
		g.tasks = append(g.tasks, t)
	}
	g.index[name] = t
}

// Fetch returns the task registered under name.
func (g *Graph) Fetch(name string) (*Task, error) {
	t, ok := g.index[name]
	if !ok {
		return nil, fmt.Errorf("conduct: workflow %q: fetch %q: %w", g.workflow, name, conduct.ErrTaskNotFound)
	}
	return t, nil
}

// Len returns the number of registered tasks.
func (g *Graph) Len() int { return len(g.tasks) }

// Tasks returns the tasks in insertion order.
func (g *Graph) Tasks() []*Task { return g.tasks }

// Iterate computes a topological order: for every task, all of its
// dependencies appear strictly earlier. Tasks with no relative ordering
// constraint keep their insertion order, so execution order is
// deterministic across runs.
//
// It fails with a DefinitionError naming both sides when a dependency does
// not resolve, and with a DefinitionError when the dependency relation
// contains a cycle.
func (g *Graph) Iterate() ([]*Task, error) {
	// Validate every dependency reference up front.
	indegree := make(map[string]int, len(g.tasks))
	dependents := make(map[string][]string, len(g.tasks))

	for _, t := range g.tasks {
		name := t.QualifiedName()
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, dep := range t.DependsOn {
			if _, ok := g.index[dep]; !ok {
				return nil, &conduct.DefinitionError{
					Workflow: g.workflow,
					Task:     name,
					Missing:  dep,
				}
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	// Kahn's algorithm over an insertion-ordered ready list. The ready
	// list is rebuilt by scanning g.tasks each round, never a map, so
	// ties break by insertion order.
	order := make([]*Task, 0, len(g.tasks))
	done := make(map[string]bool, len(g.tasks))

	for len(order) < len(g.tasks) {
		progressed := false
		for _, t := range g.tasks {
			name := t.QualifiedName()
			if done[name] || indegree[name] > 0 {
				continue
			}
			done[name] = true
			order = append(order, t)
			for _, dep := range dependents[name] {
				indegree[dep]--
			}
			progressed = true
		}
		if !progressed {
			return nil, &conduct.DefinitionError{
				Workflow: g.workflow,
				Reason:   "dependency cycle detected",
			}
		}
	}

	return order, nil
}
