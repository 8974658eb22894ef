package rpc

import (
	"context"
	"encoding/json"

	"github.com/kandev/daemon/internal/orchestrator"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

func (s *Server) registerTeamMethods(r *Router) {
	r.Register("team.list", s.teamList)
	r.Register("team.create", s.teamCreate)
	r.Register("team.delete", s.teamDelete)
	r.Register("team.addAgent", s.teamAddAgent)
	r.Register("team.removeAgent", s.teamRemoveAgent)
	r.Register("team.quickCode", s.teamQuickCode)
	r.Register("team.quickResearch", s.teamQuickResearch)
}

func (s *Server) teamList(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return s.Team.List(ctx)
}

func (s *Server) teamCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var t v1.Team
	if err := decodeParams(params, &t); err != nil {
		return nil, err
	}
	if t.Name == "" {
		return nil, BadParams("name is required")
	}
	return s.Team.Create(ctx, &t)
}

func (s *Server) teamDelete(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return nil, s.Team.Delete(ctx, p.ID)
}

type teamAgentParams struct {
	TeamID  string `json:"teamId"`
	AgentID string `json:"agentId"`
}

func (s *Server) teamAddAgent(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p teamAgentParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return s.Team.AddAgent(ctx, p.TeamID, p.AgentID)
}

func (s *Server) teamRemoveAgent(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p teamAgentParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return s.Team.RemoveAgent(ctx, p.TeamID, p.AgentID)
}

type teamQuickParams struct {
	Name     string      `json:"name"`
	Prompt   string      `json:"prompt,omitempty"`
	Count    int         `json:"count,omitempty"`
	Provider v1.Provider `json:"provider,omitempty"`
	Runtime  string      `json:"runtime,omitempty"`
}

// teamQuickCode creates a team and spawns one coder agent into it, per
// SPEC_FULL.md §4.2's team.quickCode convenience method.
func (s *Server) teamQuickCode(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.teamQuick(ctx, params, v1.RoleCoder)
}

// teamQuickResearch creates a team and spawns count researcher agents
// sharing a prompt, per SPEC_FULL.md §4.2's team.quickResearch.
func (s *Server) teamQuickResearch(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.teamQuick(ctx, params, v1.RoleResearcher)
}

func (s *Server) teamQuick(ctx context.Context, params json.RawMessage, role v1.AgentRole) (interface{}, error) {
	var p teamQuickParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, BadParams("name is required")
	}
	if p.Count <= 0 {
		p.Count = 1
	}

	t, err := s.Team.Create(ctx, &v1.Team{Name: p.Name})
	if err != nil {
		return nil, err
	}

	for i := 0; i < p.Count; i++ {
		sp := orchestrator.SpawnParams{Role: role, RuntimeID: p.Runtime, TeamID: t.ID}
		if p.Provider != "" {
			sp.Template = &v1.AgentTemplate{Role: role, Provider: p.Provider}
		}
		if p.Prompt != "" {
			sp.Task = &v1.Task{Description: p.Prompt}
		}
		agent, err := s.Orchestrator.Spawn(ctx, sp)
		if err != nil {
			return nil, err
		}
		t, err = s.Team.AddAgent(ctx, t.ID, agent.ID)
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}
