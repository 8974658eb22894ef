package orchestrator

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

// fakeAdapter is an in-memory Runtime Adapter used only by tests.
type fakeAdapter struct {
	id      string
	seq     int
	killed  map[string]bool
}

func newFakeAdapter(id string) *fakeAdapter { return &fakeAdapter{id: id, killed: map[string]bool{}} }

func (f *fakeAdapter) ID() string   { return f.id }
func (f *fakeAdapter) Kind() string { return "fake" }
func (f *fakeAdapter) Probe(context.Context) runtime.Health {
	return runtime.Health{Status: runtime.HealthHealthy}
}
func (f *fakeAdapter) SpawnAgent(_ context.Context, _ v1.AgentTemplate, _ string) (v1.Location, error) {
	f.seq++
	return v1.Location{SessionName: "fake", WindowIndex: f.seq}, nil
}
func (f *fakeAdapter) SendKeys(context.Context, v1.Location, string) error { return nil }
func (f *fakeAdapter) Paste(context.Context, v1.Location, string) error    { return nil }
func (f *fakeAdapter) Capture(context.Context, v1.Location, int) (string, error) {
	return "done", nil
}
func (f *fakeAdapter) IsAlive(context.Context, v1.Location) bool { return true }
func (f *fakeAdapter) Kill(_ context.Context, loc v1.Location) error {
	f.killed[loc.SessionName] = true
	return nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeAdapter) {
	t.Helper()
	adapter := newFakeAdapter("fake-1")
	rm := runtime.NewManager(map[string]runtime.Adapter{"fake-1": adapter}, "fake-1", time.Hour, nil)
	t.Cleanup(rm.Stop)

	st := store.NewMemoryStore()
	bus := eventbus.NewMemoryBus(nil)
	t.Cleanup(func() { bus.Close() })

	o := New(st, bus, rm, nil, nil)
	t.Cleanup(o.Stop)
	return o, adapter
}

func TestOrchestrator_SpawnPublishesEvent(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	received := make(chan v1.Event, 1)
	_, err := o.bus.Subscribe("agent.spawned", func(_ context.Context, evt v1.Event) error {
		received <- evt
		return nil
	})
	require.NoError(t, err)

	agent, err := o.Spawn(context.Background(), SpawnParams{Role: v1.RoleCoder})
	require.NoError(t, err)
	assert.Equal(t, v1.AgentSpawning, agent.State)

	select {
	case evt := <-received:
		assert.Equal(t, agent.ID, evt.Payload["id"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for agent.spawned")
	}
}

func TestOrchestrator_AssignmentLoopMatchesRole(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	agent, err := o.Spawn(ctx, SpawnParams{Role: v1.RoleCoder})
	require.NoError(t, err)

	// Assignment only considers idle agents; mark this one idle as the
	// reconciler or a real backend would once spawning completes.
	o.mutate(func() {
		o.mu.Lock()
		o.agents[agent.ID].State = v1.AgentIdle
		o.mu.Unlock()
	})

	task := &v1.Task{ID: "t1", Description: "write hello", Priority: 1, TargetRole: v1.RoleCoder}
	require.NoError(t, o.EnqueueTask(ctx, task))

	require.Eventually(t, func() bool {
		got, err := o.store.GetTask(ctx, "t1")
		return err == nil && got.Status == v1.TaskInProgress
	}, 2*time.Second, 20*time.Millisecond)

	got, err := o.store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, agent.ID, got.AssignedAgentID)
}

func TestOrchestrator_SpawnReachesIdleWithinTwoSeconds(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	agent, err := o.Spawn(ctx, SpawnParams{Role: v1.RoleCoder})
	require.NoError(t, err)
	assert.Equal(t, v1.AgentSpawning, agent.State)

	require.Eventually(t, func() bool {
		got, err := o.GetAgent(agent.ID)
		if err != nil {
			return false
		}
		return got.State == v1.AgentIdle || got.State == v1.AgentWorking
	}, 2*time.Second, 20*time.Millisecond)
}

func TestOrchestrator_KillIsIdempotent(t *testing.T) {
	o, adapter := newTestOrchestrator(t)
	ctx := context.Background()

	agent, err := o.Spawn(ctx, SpawnParams{Role: v1.RoleCoder})
	require.NoError(t, err)

	require.NoError(t, o.Kill(ctx, agent.ID))
	require.NoError(t, o.Kill(ctx, agent.ID))

	got, err := o.GetAgent(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.AgentTerminated, got.State)
	assert.True(t, adapter.killed["fake"])
}

func TestOrchestrator_FanoutSpawnsResearchers(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	ids, err := o.FanoutRun(context.Background(), "investigate X", 3, v1.ProviderClaude, "fake-1")
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	for _, id := range ids {
		a, err := o.GetAgent(id)
		require.NoError(t, err)
		assert.Equal(t, v1.RoleResearcher, a.Role)
	}
}
