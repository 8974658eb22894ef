package kanban

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/daemon/internal/eventbus"
	"github.com/kandev/daemon/internal/store"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

func newTestModel(t *testing.T) *Model {
	t.Helper()
	st := store.NewMemoryStore()
	bus := eventbus.NewMemoryBus(nil)
	t.Cleanup(func() { bus.Close() })
	return New(st, bus, nil, nil)
}

// TestKanban_ToggleInheritance covers scenario S2 from spec §8: an
// explicit task-level toggle survives, and an unset toggle inherits the
// lane default at creation time.
func TestKanban_ToggleInheritance(t *testing.T) {
	m := newTestModel(t)
	ctx := context.Background()

	lane, err := m.CreateLane(ctx, &v1.SwimLane{
		Name:           "L",
		DefaultToggles: v1.ToggleSet{v1.ToggleAutoStart: v1.ToggleTrue, v1.ToggleAutoClose: v1.ToggleTrue},
	})
	require.NoError(t, err)

	task, err := m.CreateTask(ctx, &v1.Task{
		Description: "x",
		SwimLaneID:  lane.ID,
		Toggles:     v1.ToggleSet{v1.ToggleAutoClose: v1.ToggleFalse},
	})
	require.NoError(t, err)

	assert.Equal(t, v1.ToggleTrue, task.Toggles.Get(v1.ToggleAutoStart), "autoStart inherited from lane")
	assert.Equal(t, v1.ToggleFalse, task.Toggles.Get(v1.ToggleAutoClose), "explicit false preserved, not overridden")
}

func TestKanban_EffectiveToggleFallsThroughAtReadTime(t *testing.T) {
	m := newTestModel(t)
	ctx := context.Background()

	lane, err := m.CreateLane(ctx, &v1.SwimLane{Name: "L"})
	require.NoError(t, err)

	task, err := m.CreateTask(ctx, &v1.Task{Description: "x", SwimLaneID: lane.ID})
	require.NoError(t, err)

	lane.DefaultToggles = v1.ToggleSet{v1.ToggleUseWorktree: v1.ToggleTrue}
	_, err = m.EditLane(ctx, lane)
	require.NoError(t, err)

	effective, err := m.EffectiveToggle(ctx, task.ID, v1.ToggleUseWorktree)
	require.NoError(t, err)
	assert.True(t, effective, "unset toggle falls through to current lane default at read time")
}

func TestKanban_MoveToDoneForcesTerminalStatus(t *testing.T) {
	m := newTestModel(t)
	ctx := context.Background()

	task, err := m.CreateTask(ctx, &v1.Task{Description: "x", Status: v1.TaskInProgress})
	require.NoError(t, err)

	moved, err := m.MoveTask(ctx, task.ID, v1.ColumnDone)
	require.NoError(t, err)
	assert.Contains(t, []v1.TaskStatus{v1.TaskCompleted, v1.TaskFailed}, moved.Status)
	assert.NotNil(t, moved.DoneAt)
}

func TestKanban_MoveAwayFromDoneResetsStatus(t *testing.T) {
	m := newTestModel(t)
	ctx := context.Background()

	task, err := m.CreateTask(ctx, &v1.Task{Description: "x"})
	require.NoError(t, err)
	task.AssignedAgentID = "agent-1"

	_, err = m.MoveTask(ctx, task.ID, v1.ColumnDone)
	require.NoError(t, err)

	moved, err := m.MoveTask(ctx, task.ID, v1.ColumnTodo)
	require.NoError(t, err)
	assert.Equal(t, v1.TaskPending, moved.Status)
	assert.Empty(t, moved.AssignedAgentID)
}

func TestKanban_DependsOnRejectsCycle(t *testing.T) {
	m := newTestModel(t)
	ctx := context.Background()

	a, err := m.CreateTask(ctx, &v1.Task{Description: "a"})
	require.NoError(t, err)
	b, err := m.CreateTask(ctx, &v1.Task{Description: "b", DependsOn: []string{a.ID}})
	require.NoError(t, err)

	a.DependsOn = []string{b.ID}
	_, err = m.CreateTask(ctx, &v1.Task{ID: a.ID, Description: "a-cycle", DependsOn: []string{b.ID}})
	assert.Error(t, err)
}

func TestKanban_MoveTwiceIsIdempotent(t *testing.T) {
	m := newTestModel(t)
	ctx := context.Background()

	task, err := m.CreateTask(ctx, &v1.Task{Description: "x"})
	require.NoError(t, err)

	first, err := m.MoveTask(ctx, task.ID, v1.ColumnInReview)
	require.NoError(t, err)
	second, err := m.MoveTask(ctx, task.ID, v1.ColumnInReview)
	require.NoError(t, err)
	assert.Equal(t, first.KanbanColumn, second.KanbanColumn)
	assert.Equal(t, first.Status, second.Status)
}
