package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/daemon/internal/eventbus"
	"github.com/kandev/daemon/internal/store"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// fakeMaterializer records every task handed to it and hands back a
// created copy with a generated ID, without touching the Orchestrator.
type fakeMaterializer struct {
	created []*v1.Task
	seq     int
}

func (f *fakeMaterializer) CreateTask(_ context.Context, t *v1.Task) (*v1.Task, error) {
	f.seq++
	t.ID = "task-" + string(rune('a'+f.seq-1))
	f.created = append(f.created, t)
	return t, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeMaterializer) {
	t.Helper()
	st := store.NewMemoryStore()
	bus := eventbus.NewMemoryBus(nil)
	t.Cleanup(func() { bus.Close() })
	mat := &fakeMaterializer{}
	return New(st, bus, mat, nil), mat
}

func TestPipelineEngine_SequentialStagesRunInOrder(t *testing.T) {
	e, mat := newTestEngine(t)
	ctx := context.Background()

	p, err := e.CreatePipeline(ctx, &v1.Pipeline{
		Name: "seq",
		Stages: []v1.Stage{
			{ID: "s1", Type: v1.StageSequential, TaskDescription: "first"},
			{ID: "s2", Type: v1.StageSequential, TaskDescription: "second", DependsOn: []string{"s1"}},
		},
	})
	require.NoError(t, err)

	run, err := e.Run(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.RunRunning, run.Status)
	require.Len(t, mat.created, 1, "only the first stage should materialize before its dependency completes")

	err = e.OnStageResult(ctx, run.ID, "s1", false, "done")
	require.NoError(t, err)
	require.Len(t, mat.created, 2, "second stage materializes once its dependency completes")

	err = e.OnStageResult(ctx, run.ID, "s2", false, "done")
	require.NoError(t, err)

	final, err := e.GetStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.RunCompleted, final.Status)
	assert.NotNil(t, final.CompletedAt)
}

// TestPipelineEngine_FanOutMaterializesCount covers the fan-out part of
// scenario S3 from spec §8: a fan_out stage with fanOutCount=N
// materializes N sibling Tasks and records all N task IDs on its stage
// result.
func TestPipelineEngine_FanOutMaterializesCount(t *testing.T) {
	e, mat := newTestEngine(t)
	ctx := context.Background()

	p, err := e.CreatePipeline(ctx, &v1.Pipeline{
		Name: "fanout",
		Stages: []v1.Stage{
			{ID: "s1", Type: v1.StageFanOut, FanOutCount: 4, TaskDescription: "explore", AgentRole: v1.RoleResearcher},
		},
	})
	require.NoError(t, err)

	run, err := e.Run(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, mat.created, 4)

	status, err := e.GetStatus(ctx, run.ID)
	require.NoError(t, err)
	sr := status.StageResults["s1"]
	assert.Len(t, sr.TaskIDs, 4)
	for _, tid := range sr.TaskIDs {
		assert.NotEmpty(t, tid)
	}
}

func TestPipelineEngine_StageFailureFailsRun(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	p, err := e.CreatePipeline(ctx, &v1.Pipeline{
		Name: "fails",
		Stages: []v1.Stage{
			{ID: "s1", Type: v1.StageSequential, TaskDescription: "first"},
			{ID: "s2", Type: v1.StageSequential, TaskDescription: "second", DependsOn: []string{"s1"}},
		},
	})
	require.NoError(t, err)

	run, err := e.Run(ctx, p.ID)
	require.NoError(t, err)

	err = e.OnStageResult(ctx, run.ID, "s1", true, "boom")
	require.NoError(t, err)

	final, err := e.GetStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.RunFailed, final.Status)
	assert.Equal(t, v1.StageFailed, final.StageResults["s1"].Status)
	assert.Equal(t, v1.StagePending, final.StageResults["s2"].Status, "downstream stage never materializes after a failed dependency")
}

func TestPipelineEngine_ConditionalStageSkipsWhenConditionFalse(t *testing.T) {
	e, mat := newTestEngine(t)
	ctx := context.Background()

	p, err := e.CreatePipeline(ctx, &v1.Pipeline{
		Name: "cond",
		Stages: []v1.Stage{
			{ID: "s1", Type: v1.StageSequential, TaskDescription: "probe"},
			{ID: "s2", Type: v1.StageConditional, TaskDescription: "react", Condition: "retry needed", DependsOn: []string{"s1"}},
		},
	})
	require.NoError(t, err)

	run, err := e.Run(ctx, p.ID)
	require.NoError(t, err)

	require.NoError(t, e.OnStageResult(ctx, run.ID, "s1", false, "all clear"))

	final, err := e.GetStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.StageSkipped, final.StageResults["s2"].Status)
	assert.Equal(t, v1.RunCompleted, final.Status)
	assert.Len(t, mat.created, 1, "the skipped conditional stage never materializes a task")
}

func TestPipelineEngine_PauseSuppressesMaterialization(t *testing.T) {
	e, mat := newTestEngine(t)
	ctx := context.Background()

	p, err := e.CreatePipeline(ctx, &v1.Pipeline{
		Name: "pause",
		Stages: []v1.Stage{
			{ID: "s1", Type: v1.StageSequential, TaskDescription: "first"},
			{ID: "s2", Type: v1.StageSequential, TaskDescription: "second", DependsOn: []string{"s1"}},
		},
	})
	require.NoError(t, err)

	run, err := e.Run(ctx, p.ID)
	require.NoError(t, err)

	require.NoError(t, e.Pause(ctx, run.ID))
	require.NoError(t, e.OnStageResult(ctx, run.ID, "s1", false, "done"))
	assert.Len(t, mat.created, 1, "paused run does not materialize newly-ready stages")

	require.NoError(t, e.Resume(ctx, run.ID))
	assert.Len(t, mat.created, 2, "resuming re-evaluates ready stages")
}
