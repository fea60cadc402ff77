// Package dependency implements the dependency resolver described in
// spec.md §4.8: a directed task graph with forward and reverse edges,
// three-colour DFS topological sort and cycle detection, execution
// batching, and cross-agent dependency detection. Grounded closely on
// orchestration/workflow_dag.go's adjacency-map graph and its DFS
// traversal, generalized from workflow steps to tasks.
package dependency

// TaskSpec is one task's input to the resolver (§4.8).
type TaskSpec struct {
	TaskID          string
	Dependencies    []string
	AgentAssignment string
	Phase           string
}

// Graph is the resolved dependency graph for a set of tasks.
type Graph struct {
	tasks     map[string]TaskSpec
	forward   map[string][]string // task -> its dependencies
	reverse   map[string][]string // task -> tasks that depend on it
}

// Build constructs a Graph from tasks, keyed by taskId.
func Build(tasks map[string]TaskSpec) *Graph {
	g := &Graph{
		tasks:   make(map[string]TaskSpec, len(tasks)),
		forward: make(map[string][]string, len(tasks)),
		reverse: make(map[string][]string, len(tasks)),
	}
	for id, spec := range tasks {
		spec.TaskID = id
		g.tasks[id] = spec
		g.forward[id] = append([]string(nil), spec.Dependencies...)
	}
	for id, spec := range tasks {
		for _, dep := range spec.Dependencies {
			g.reverse[dep] = append(g.reverse[dep], id)
		}
	}
	return g
}

// RootTasks returns tasks with no dependencies.
func (g *Graph) RootTasks() []string {
	var out []string
	for id := range g.tasks {
		if len(g.forward[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// LeafTasks returns tasks with no dependents.
func (g *Graph) LeafTasks() []string {
	var out []string
	for id := range g.tasks {
		if len(g.reverse[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Dependencies returns taskID's direct dependencies.
func (g *Graph) Dependencies(taskID string) []string {
	return g.forward[taskID]
}

// Dependents returns the tasks that directly depend on taskID.
func (g *Graph) Dependents(taskID string) []string {
	return g.reverse[taskID]
}

// Task returns taskID's spec and whether it exists.
func (g *Graph) Task(taskID string) (TaskSpec, bool) {
	t, ok := g.tasks[taskID]
	return t, ok
}

// CrossAgentDependency is one (task, dependency) pair whose two tasks carry
// different agentAssignment values (§4.8).
type CrossAgentDependency struct {
	Task           string
	DependencyTask string
	TaskAgent      string
	DependencyAgent string
}

// CrossAgentDependencies enumerates every cross-agent (task, dep) edge.
func (g *Graph) CrossAgentDependencies() []CrossAgentDependency {
	var out []CrossAgentDependency
	for id, spec := range g.tasks {
		for _, dep := range spec.Dependencies {
			depSpec, ok := g.tasks[dep]
			if !ok || depSpec.AgentAssignment == spec.AgentAssignment {
				continue
			}
			out = append(out, CrossAgentDependency{
				Task: id, DependencyTask: dep,
				TaskAgent: spec.AgentAssignment, DependencyAgent: depSpec.AgentAssignment,
			})
		}
	}
	return out
}
