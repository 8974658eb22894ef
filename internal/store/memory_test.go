package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/kandev/daemon/pkg/api/v1"
)

func TestMemoryStore_AgentRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := &v1.AgentInstance{ID: "a1", Role: v1.RoleCoder, State: v1.AgentIdle, CreatedAt: time.Now()}
	require.NoError(t, s.SaveAgent(ctx, a))

	got, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, v1.RoleCoder, got.Role)

	got.Role = v1.RoleTester
	reread, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, v1.RoleCoder, reread.Role, "mutating a returned copy must not affect stored state")

	require.NoError(t, s.DeleteAgent(ctx, "a1"))
	_, err = s.GetAgent(ctx, "a1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListAgentsFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SaveAgent(ctx, &v1.AgentInstance{ID: "a1", Role: v1.RoleCoder, State: v1.AgentIdle}))
	require.NoError(t, s.SaveAgent(ctx, &v1.AgentInstance{ID: "a2", Role: v1.RoleTester, State: v1.AgentWorking}))

	coders, err := s.ListAgents(ctx, AgentFilter{Role: v1.RoleCoder})
	require.NoError(t, err)
	require.Len(t, coders, 1)
	assert.Equal(t, "a1", coders[0].ID)
}

func TestMemoryStore_TaskToggleRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	task := &v1.Task{
		ID:       "t1",
		Toggles:  v1.ToggleSet{v1.ToggleAutoClose: v1.ToggleFalse},
		DependsOn: []string{"t0"},
	}
	require.NoError(t, s.SaveTask(ctx, task))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, v1.ToggleFalse, got.Toggles.Get(v1.ToggleAutoClose))
	assert.Equal(t, []string{"t0"}, got.DependsOn)
}
