package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionBatchesMatchesScenarioS5(t *testing.T) {
	g := Build(scenarioS5Tasks())

	batches := g.ExecutionBatches()
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"A"}, batches[0])
	assert.ElementsMatch(t, []string{"B", "C"}, batches[1])
}

func TestExecutionBatchesStopsOnCycle(t *testing.T) {
	tasks := map[string]TaskSpec{
		"A": {Dependencies: []string{"B"}},
		"B": {Dependencies: []string{"A"}},
	}
	g := Build(tasks)

	batches := g.ExecutionBatches()
	assert.Empty(t, batches, "a cycle means no batch can ever be formed")
}

func TestGetReadyTasksExcludesCompletedAndInProgress(t *testing.T) {
	g := Build(scenarioS5Tasks())

	completed := map[string]bool{"A": true}
	inProgress := map[string]bool{"B": true}

	ready := g.GetReadyTasks(completed, inProgress)
	assert.Equal(t, []string{"C"}, ready)
}

func TestGetReadyTasksOnlyRootsWhenNothingCompleted(t *testing.T) {
	g := Build(scenarioS5Tasks())

	ready := g.GetReadyTasks(nil, nil)
	assert.Equal(t, []string{"A"}, ready)
}

func TestIsTaskReady(t *testing.T) {
	g := Build(scenarioS5Tasks())

	assert.True(t, g.IsTaskReady("A", nil))
	assert.False(t, g.IsTaskReady("B", nil))
	assert.True(t, g.IsTaskReady("B", map[string]bool{"A": true}))
	assert.False(t, g.IsTaskReady("missing", nil))
}
