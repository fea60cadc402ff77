package dependency

import "sort"

// ExecutionBatches repeatedly collects every not-yet-completed task whose
// dependencies are all in the completed set, records it as a batch, marks
// it completed, and repeats until no tasks remain or no batch can be
// formed (a stall, which happens when the graph has a cycle or a task
// depends on an id that is not in the graph) (§4.8).
func (g *Graph) ExecutionBatches() [][]string {
	completed := make(map[string]bool, len(g.tasks))
	var batches [][]string

	for len(completed) < len(g.tasks) {
		var batch []string
		for id := range g.tasks {
			if completed[id] {
				continue
			}
			if g.depsSatisfied(id, completed) {
				batch = append(batch, id)
			}
		}
		if len(batch) == 0 {
			break
		}
		sort.Strings(batch)
		batches = append(batches, batch)
		for _, id := range batch {
			completed[id] = true
		}
	}
	return batches
}

func (g *Graph) depsSatisfied(taskID string, completed map[string]bool) bool {
	for _, dep := range g.forward[taskID] {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// GetReadyTasks returns every task not in completed or inProgress whose
// dependencies are all in completed (§4.8, for live scheduling).
func (g *Graph) GetReadyTasks(completed, inProgress map[string]bool) []string {
	var ready []string
	for id := range g.tasks {
		if completed[id] || inProgress[id] {
			continue
		}
		if g.depsSatisfied(id, completed) {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

// IsTaskReady reports whether taskID's dependencies are all in completed.
func (g *Graph) IsTaskReady(taskID string, completed map[string]bool) bool {
	if _, ok := g.tasks[taskID]; !ok {
		return false
	}
	return g.depsSatisfied(taskID, completed)
}
