package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/daemon/internal/eventbus"
	"github.com/kandev/daemon/internal/kanban"
	"github.com/kandev/daemon/internal/orchestrator"
	"github.com/kandev/daemon/internal/pipeline"
	"github.com/kandev/daemon/internal/platform/config"
	"github.com/kandev/daemon/internal/runtime"
	"github.com/kandev/daemon/internal/store"
	"github.com/kandev/daemon/internal/team"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

type stubAdapter struct{ id string }

func (a *stubAdapter) ID() string   { return a.id }
func (a *stubAdapter) Kind() string { return "stub" }
func (a *stubAdapter) Probe(context.Context) runtime.Health {
	return runtime.Health{Status: runtime.HealthHealthy}
}
func (a *stubAdapter) SpawnAgent(context.Context, v1.AgentTemplate, string) (v1.Location, error) {
	return v1.Location{SessionName: "stub"}, nil
}
func (a *stubAdapter) SendKeys(context.Context, v1.Location, string) error { return nil }
func (a *stubAdapter) Paste(context.Context, v1.Location, string) error    { return nil }
func (a *stubAdapter) Capture(context.Context, v1.Location, int) (string, error) {
	return "ok", nil
}
func (a *stubAdapter) IsAlive(context.Context, v1.Location) bool      { return true }
func (a *stubAdapter) Kill(context.Context, v1.Location) error        { return nil }

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	st := store.NewMemoryStore()
	bus := eventbus.NewMemoryBus(nil)
	t.Cleanup(func() { bus.Close() })
	rm := runtime.NewManager(map[string]runtime.Adapter{"stub-1": &stubAdapter{id: "stub-1"}}, "stub-1", time.Hour, nil)
	t.Cleanup(rm.Stop)

	o := orchestrator.New(st, bus, rm, nil, nil)
	t.Cleanup(o.Stop)
	k := kanban.New(st, bus, o, nil)
	p := pipeline.New(st, bus, k, nil)
	tm := team.New(st, bus, nil)

	router := NewRouter(nil)
	srv := NewServer(o, k, p, tm, rm, st, &config.Config{Runtimes: map[string]config.RuntimeEntry{"stub-1": {Type: "local-tmux", Default: true}}}, nil, nil, nil)
	srv.RegisterAll(router)
	return router
}

func call(t *testing.T, r *Router, method string, params interface{}) Response {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return r.Handle(context.Background(), Request{JSONRPC: "2.0", ID: 1, Method: method, Params: raw})
}

func TestRPC_AgentSpawnAndGet(t *testing.T) {
	r := newTestRouter(t)

	resp := call(t, r, "agent.spawn", agentSpawnParams{Role: v1.RoleCoder})
	require.Nil(t, resp.Error)
	var spawned agentSpawnResult
	require.NoError(t, json.Unmarshal(resp.Result, &spawned))
	assert.NotEmpty(t, spawned.ID)

	getResp := call(t, r, "agent.get", idParams{ID: spawned.ID})
	require.Nil(t, getResp.Error)
	var agent v1.AgentInstance
	require.NoError(t, json.Unmarshal(getResp.Result, &agent))
	assert.Equal(t, v1.RoleCoder, agent.Role)
}

func TestRPC_TaskSubmitAndMove(t *testing.T) {
	r := newTestRouter(t)

	resp := call(t, r, "task.submit", v1.Task{Description: "write docs"})
	require.Nil(t, resp.Error)
	var task v1.Task
	require.NoError(t, json.Unmarshal(resp.Result, &task))
	require.NotEmpty(t, task.ID)

	moveResp := call(t, r, "task.move", taskMoveParams{ID: task.ID, Column: v1.ColumnDone})
	require.Nil(t, moveResp.Error)
	var moved v1.Task
	require.NoError(t, json.Unmarshal(moveResp.Result, &moved))
	assert.Contains(t, []v1.TaskStatus{v1.TaskCompleted, v1.TaskFailed}, moved.Status)
}

func TestRPC_DaemonHealthReportsRuntimes(t *testing.T) {
	r := newTestRouter(t)
	resp := call(t, r, "daemon.health", struct{}{})
	require.Nil(t, resp.Error)
	var report healthReport
	require.NoError(t, json.Unmarshal(resp.Result, &report))
	assert.Contains(t, report.Runtimes, "stub-1")
}

func TestRPC_TeamQuickCodeSpawnsAgent(t *testing.T) {
	r := newTestRouter(t)
	resp := call(t, r, "team.quickCode", teamQuickParams{Name: "alpha"})
	require.Nil(t, resp.Error)
	var team v1.Team
	require.NoError(t, json.Unmarshal(resp.Result, &team))
	assert.Len(t, team.AgentIDs, 1)
}

func TestRPC_UnknownAgentGetReportsServerError(t *testing.T) {
	r := newTestRouter(t)
	resp := call(t, r, "agent.get", idParams{ID: "nonexistent"})
	require.NotNil(t, resp.Error)
}
