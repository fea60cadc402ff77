package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func scenarioS5Tasks() map[string]TaskSpec {
	return map[string]TaskSpec{
		"A": {Dependencies: nil, AgentAssignment: "AgentX"},
		"B": {Dependencies: []string{"A"}, AgentAssignment: "AgentY"},
		"C": {Dependencies: []string{"A"}, AgentAssignment: "AgentY"},
	}
}

func TestBuildRootAndLeafTasks(t *testing.T) {
	g := Build(scenarioS5Tasks())

	assert.ElementsMatch(t, []string{"A"}, g.RootTasks())
	assert.ElementsMatch(t, []string{"B", "C"}, g.LeafTasks())
}

func TestDependenciesAndDependents(t *testing.T) {
	g := Build(scenarioS5Tasks())

	assert.ElementsMatch(t, []string{"A"}, g.Dependencies("B"))
	assert.ElementsMatch(t, []string{"B", "C"}, g.Dependents("A"))
}

func TestTaskLookup(t *testing.T) {
	g := Build(scenarioS5Tasks())

	spec, ok := g.Task("B")
	assert.True(t, ok)
	assert.Equal(t, "AgentY", spec.AgentAssignment)

	_, ok = g.Task("missing")
	assert.False(t, ok)
}

func TestCrossAgentDependenciesMatchesScenario(t *testing.T) {
	g := Build(scenarioS5Tasks())

	deps := g.CrossAgentDependencies()
	seen := make(map[string]bool)
	for _, d := range deps {
		seen[d.Task+"->"+d.DependencyTask] = true
		assert.Equal(t, "A", d.DependencyTask)
		assert.Equal(t, "AgentX", d.DependencyAgent)
	}
	assert.True(t, seen["B->A"])
	assert.True(t, seen["C->A"])
	assert.Len(t, deps, 2)
}

func TestCrossAgentDependenciesExcludesSameAgentEdges(t *testing.T) {
	tasks := map[string]TaskSpec{
		"A": {AgentAssignment: "AgentX"},
		"B": {Dependencies: []string{"A"}, AgentAssignment: "AgentX"},
	}
	g := Build(tasks)
	assert.Empty(t, g.CrossAgentDependencies())
}
