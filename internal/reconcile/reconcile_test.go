package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/daemon/internal/eventbus"
	"github.com/kandev/daemon/internal/runtime"
	"github.com/kandev/daemon/internal/store"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

type fakeAdapter struct {
	id    string
	alive map[string]bool
}

func (f *fakeAdapter) ID() string   { return f.id }
func (f *fakeAdapter) Kind() string { return "fake" }
func (f *fakeAdapter) Probe(context.Context) runtime.Health {
	return runtime.Health{Status: runtime.HealthHealthy}
}
func (f *fakeAdapter) SpawnAgent(context.Context, v1.AgentTemplate, string) (v1.Location, error) {
	return v1.Location{}, nil
}
func (f *fakeAdapter) SendKeys(context.Context, v1.Location, string) error { return nil }
func (f *fakeAdapter) Paste(context.Context, v1.Location, string) error    { return nil }
func (f *fakeAdapter) Capture(context.Context, v1.Location, int) (string, error) {
	return "", nil
}
func (f *fakeAdapter) IsAlive(_ context.Context, loc v1.Location) bool {
	return f.alive[loc.SessionName]
}
func (f *fakeAdapter) Kill(context.Context, v1.Location) error { return nil }

type fakeRegistrar struct {
	registered []*v1.AgentInstance
}

func (r *fakeRegistrar) Register(a *v1.AgentInstance) { r.registered = append(r.registered, a) }

func newTestReconciler(t *testing.T, adapter *fakeAdapter) (*Reconciler, store.Store, *fakeRegistrar) {
	t.Helper()
	st := store.NewMemoryStore()
	bus := eventbus.NewMemoryBus(nil)
	t.Cleanup(func() { bus.Close() })
	rm := runtime.NewManager(map[string]runtime.Adapter{"runtime-1": adapter}, "runtime-1", time.Hour, nil)
	t.Cleanup(rm.Stop)
	reg := &fakeRegistrar{}
	return New(st, bus, rm, reg, nil), st, reg
}

func TestReconciler_ReconnectsLiveAgent(t *testing.T) {
	adapter := &fakeAdapter{id: "runtime-1", alive: map[string]bool{"sess-alive": true}}
	r, st, reg := newTestReconciler(t, adapter)
	ctx := context.Background()

	agent := &v1.AgentInstance{ID: "a1", ServerID: "runtime-1", State: v1.AgentWorking, Location: v1.Location{SessionName: "sess-alive"}, CurrentTaskID: "t1"}
	require.NoError(t, st.SaveAgent(ctx, agent))

	summary, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Reconnected)
	assert.Equal(t, 0, summary.Lost)
	assert.Len(t, reg.registered, 1)

	got, err := st.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, v1.AgentIdle, got.State)
}

// TestReconciler_LosesDeadAgent covers scenario S4 from spec §8: a dead
// agent is marked error, its pointed-to task reverts to pending.
func TestReconciler_LosesDeadAgent(t *testing.T) {
	adapter := &fakeAdapter{id: "runtime-1", alive: map[string]bool{}}
	r, st, _ := newTestReconciler(t, adapter)
	ctx := context.Background()

	agent := &v1.AgentInstance{ID: "a1", ServerID: "runtime-1", State: v1.AgentWorking, Location: v1.Location{SessionName: "sess-dead"}, CurrentTaskID: "t1"}
	require.NoError(t, st.SaveAgent(ctx, agent))
	task := &v1.Task{ID: "t1", Description: "x", Status: v1.TaskInProgress, AssignedAgentID: "a1"}
	require.NoError(t, st.SaveTask(ctx, task))

	summary, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Lost)
	assert.Equal(t, 0, summary.Reconnected)

	gotAgent, err := st.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, v1.AgentError, gotAgent.State)
	assert.Empty(t, gotAgent.CurrentTaskID)

	gotTask, err := st.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, v1.TaskPending, gotTask.Status)
	assert.Empty(t, gotTask.AssignedAgentID)
}

func TestReconciler_UnknownRuntimeMarksError(t *testing.T) {
	adapter := &fakeAdapter{id: "runtime-1", alive: map[string]bool{}}
	r, st, _ := newTestReconciler(t, adapter)
	ctx := context.Background()

	agent := &v1.AgentInstance{ID: "a1", ServerID: "runtime-gone", State: v1.AgentIdle}
	require.NoError(t, st.SaveAgent(ctx, agent))

	summary, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Lost)

	got, err := st.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, v1.AgentError, got.State)
	assert.Contains(t, got.ErrorMessage, "runtime no longer configured")
}

func TestReconciler_IsIdempotent(t *testing.T) {
	adapter := &fakeAdapter{id: "runtime-1", alive: map[string]bool{"sess-alive": true}}
	r, st, _ := newTestReconciler(t, adapter)
	ctx := context.Background()

	agent := &v1.AgentInstance{ID: "a1", ServerID: "runtime-1", State: v1.AgentWorking, Location: v1.Location{SessionName: "sess-alive"}}
	require.NoError(t, st.SaveAgent(ctx, agent))

	first, err := r.Run(ctx)
	require.NoError(t, err)
	second, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
