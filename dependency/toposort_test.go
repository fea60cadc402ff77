package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestTopologicalSortOrdersDependenciesFirst(t *testing.T) {
	g := Build(scenarioS5Tasks())

	res := g.TopologicalSort()
	require.False(t, res.HasCircularDependencies)
	require.Len(t, res.ExecutionOrder, 3)
	assert.Less(t, indexOf(res.ExecutionOrder, "A"), indexOf(res.ExecutionOrder, "B"))
	assert.Less(t, indexOf(res.ExecutionOrder, "A"), indexOf(res.ExecutionOrder, "C"))
}

func TestTopologicalSortDetectsCycle(t *testing.T) {
	tasks := map[string]TaskSpec{
		"A": {Dependencies: []string{"B"}},
		"B": {Dependencies: []string{"C"}},
		"C": {Dependencies: []string{"A"}},
	}
	g := Build(tasks)

	res := g.TopologicalSort()
	assert.True(t, res.HasCircularDependencies)
	assert.Empty(t, res.ExecutionOrder)
	require.NotEmpty(t, res.Cycles)
}

func TestTopologicalSortNoCycleInDiamond(t *testing.T) {
	tasks := map[string]TaskSpec{
		"A": {},
		"B": {Dependencies: []string{"A"}},
		"C": {Dependencies: []string{"A"}},
		"D": {Dependencies: []string{"B", "C"}},
	}
	g := Build(tasks)

	res := g.TopologicalSort()
	assert.False(t, res.HasCircularDependencies)
	require.Len(t, res.ExecutionOrder, 4)
	assert.Less(t, indexOf(res.ExecutionOrder, "A"), indexOf(res.ExecutionOrder, "D"))
	assert.Less(t, indexOf(res.ExecutionOrder, "B"), indexOf(res.ExecutionOrder, "D"))
	assert.Less(t, indexOf(res.ExecutionOrder, "C"), indexOf(res.ExecutionOrder, "D"))
}

func TestTopologicalSortSelfDependencyIsACycle(t *testing.T) {
	tasks := map[string]TaskSpec{
		"A": {Dependencies: []string{"A"}},
	}
	g := Build(tasks)

	res := g.TopologicalSort()
	assert.True(t, res.HasCircularDependencies)
}
