package rpc

import (
	"context"
	"encoding/json"

	"github.com/kandev/daemon/internal/orchestrator"
	"github.com/kandev/daemon/internal/store"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

func (s *Server) registerAgentMethods(r *Router) {
	r.Register("agent.list", s.agentList)
	r.Register("agent.get", s.agentGet)
	r.Register("agent.spawn", s.agentSpawn)
	r.Register("agent.kill", s.agentKill)
	r.Register("agent.sendPrompt", s.agentSendPrompt)
	r.Register("agent.getOutput", s.agentGetOutput)
	r.Register("agent.getAttachCommand", s.agentGetAttachCommand)
}

type agentListParams struct {
	Status  v1.AgentState `json:"status"`
	Role    v1.AgentRole  `json:"role"`
	Team    string        `json:"team"`
	Runtime string        `json:"runtime"`
}

func (s *Server) agentList(_ context.Context, params json.RawMessage) (interface{}, error) {
	var p agentListParams
	if len(params) > 0 {
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
	}
	return s.Orchestrator.ListAgents(store.AgentFilter{Status: p.Status, Role: p.Role, TeamID: p.Team, Runtime: p.Runtime}), nil
}

type idParams struct {
	ID string `json:"id"`
}

func (s *Server) agentGet(_ context.Context, params json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, BadParams("id is required")
	}
	return s.Orchestrator.GetAgent(p.ID)
}

type agentSpawnParams struct {
	Role     v1.AgentRole `json:"role"`
	Task     string       `json:"task,omitempty"`
	Provider v1.Provider  `json:"provider,omitempty"`
	Runtime  string       `json:"runtime,omitempty"`
	Workdir  string       `json:"workdir,omitempty"`
	Team     string       `json:"team,omitempty"`
}

type agentSpawnResult struct {
	ID    string        `json:"id"`
	State v1.AgentState `json:"state"`
}

func (s *Server) agentSpawn(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p agentSpawnParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Role == "" {
		return nil, BadParams("role is required")
	}

	sp := orchestrator.SpawnParams{Role: p.Role, RuntimeID: p.Runtime, Workdir: p.Workdir, TeamID: p.Team}
	if p.Provider != "" {
		sp.Template = &v1.AgentTemplate{Role: p.Role, Provider: p.Provider, WorkingDirectory: p.Workdir}
	}
	if p.Task != "" {
		sp.Task = &v1.Task{Description: p.Task}
	}

	agent, err := s.Orchestrator.Spawn(ctx, sp)
	if err != nil {
		return nil, err
	}
	return agentSpawnResult{ID: agent.ID, State: agent.State}, nil
}

func (s *Server) agentKill(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return nil, s.Orchestrator.Kill(ctx, p.ID)
}

type sendPromptParams struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Wait   bool   `json:"wait,omitempty"`
}

func (s *Server) agentSendPrompt(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p sendPromptParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" || p.Prompt == "" {
		return nil, BadParams("id and prompt are required")
	}
	output, err := s.Orchestrator.SendPrompt(ctx, p.ID, p.Prompt, p.Wait)
	if err != nil {
		return nil, err
	}
	return output, nil
}

type getOutputParams struct {
	ID    string `json:"id"`
	Lines int    `json:"lines,omitempty"`
}

func (s *Server) agentGetOutput(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p getOutputParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Lines <= 0 {
		p.Lines = 100
	}
	return s.Orchestrator.GetOutput(ctx, p.ID, p.Lines)
}

func (s *Server) agentGetAttachCommand(_ context.Context, params json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	agent, err := s.Orchestrator.GetAgent(p.ID)
	if err != nil {
		return nil, err
	}
	return attachCommand(agent), nil
}

// attachCommand builds a human-runnable shell command to attach to an
// agent's backing process, keyed on runtime kind.
func attachCommand(a *v1.AgentInstance) string {
	switch {
	case a.Location.ContainerID != "":
		return "docker exec -it " + a.Location.ContainerID + " sh"
	case a.Location.PodName != "":
		return "kubectl exec -it -n " + a.Location.Namespace + " " + a.Location.PodName + " -- sh"
	default:
		return "tmux attach -t " + a.Location.SessionName
	}
}
