// Package team implements CRUD over the supplemented Team entity: a named
// group of Agent Instances sharing a SwimLane, per SPEC_FULL.md §4.2's
// team.* RPC namespace.
package team

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kandev/daemon/internal/eventbus"
	"github.com/kandev/daemon/internal/platform/apperr"
	"github.com/kandev/daemon/internal/platform/logger"
	"github.com/kandev/daemon/internal/store"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// Model owns Teams.
type Model struct {
	store store.Store
	bus   eventbus.Bus
	log   *logger.Logger
}

// New constructs a team Model.
func New(st store.Store, bus eventbus.Bus, log *logger.Logger) *Model {
	if log == nil {
		log = logger.Default()
	}
	return &Model{store: st, bus: bus, log: log}
}

func (m *Model) publish(ctx context.Context, name string, payload map[string]interface{}) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, name, payload); err != nil {
		m.log.Error("team: publish %s failed: %v", name, err)
	}
}

// Create persists a new Team.
func (m *Model) Create(ctx context.Context, t *v1.Team) (*v1.Team, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if err := m.store.SaveTeam(ctx, t); err != nil {
		return nil, apperr.Internal(err)
	}
	m.publish(ctx, "team.created", map[string]interface{}{"id": t.ID})
	return t, nil
}

// List returns every Team.
func (m *Model) List(ctx context.Context) ([]*v1.Team, error) {
	teams, err := m.store.ListTeams(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return teams, nil
}

// Delete removes a Team. Agents referencing it keep their teamId; team
// membership is advisory, not a foreign-key invariant.
func (m *Model) Delete(ctx context.Context, id string) error {
	if err := m.store.DeleteTeam(ctx, id); err != nil {
		return apperr.Internal(err)
	}
	m.publish(ctx, "team.deleted", map[string]interface{}{"id": id})
	return nil
}

// AddAgent appends agentID to the team's roster if not already present.
func (m *Model) AddAgent(ctx context.Context, teamID, agentID string) (*v1.Team, error) {
	t, err := m.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, apperr.NotFound("team", teamID)
	}
	for _, id := range t.AgentIDs {
		if id == agentID {
			return t, nil
		}
	}
	t.AgentIDs = append(t.AgentIDs, agentID)
	if err := m.store.SaveTeam(ctx, t); err != nil {
		return nil, apperr.Internal(err)
	}
	m.publish(ctx, "team.agentAdded", map[string]interface{}{"id": teamID, "agentId": agentID})
	return t, nil
}

// RemoveAgent drops agentID from the team's roster.
func (m *Model) RemoveAgent(ctx context.Context, teamID, agentID string) (*v1.Team, error) {
	t, err := m.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, apperr.NotFound("team", teamID)
	}
	out := t.AgentIDs[:0]
	for _, id := range t.AgentIDs {
		if id != agentID {
			out = append(out, id)
		}
	}
	t.AgentIDs = out
	if err := m.store.SaveTeam(ctx, t); err != nil {
		return nil, apperr.Internal(err)
	}
	m.publish(ctx, "team.agentRemoved", map[string]interface{}{"id": teamID, "agentId": agentID})
	return t, nil
}
