package team

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
	return New(st, bus, nil)
}

func TestTeam_CreateListDelete(t *testing.T) {
	m := newTestModel(t)
	ctx := context.Background()

	created, err := m.Create(ctx, &v1.Team{Name: "strike team"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	teams, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, teams, 1)

	require.NoError(t, m.Delete(ctx, created.ID))
	teams, err = m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, teams)
}

func TestTeam_AddRemoveAgentIsIdempotent(t *testing.T) {
	m := newTestModel(t)
	ctx := context.Background()

	team, err := m.Create(ctx, &v1.Team{Name: "t"})
	require.NoError(t, err)

	team, err = m.AddAgent(ctx, team.ID, "a1")
	require.NoError(t, err)
	team, err = m.AddAgent(ctx, team.ID, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, team.AgentIDs)

	team, err = m.RemoveAgent(ctx, team.ID, "a1")
	require.NoError(t, err)
	assert.Empty(t, team.AgentIDs)
}
