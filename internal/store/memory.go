package store

import (
	"context"
	"sync"

	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// MemoryStore is an in-memory Store used by tests; the worker itself always
// opens a SQLiteStore. All entities are deep-copied in and out so callers
// can never observe or corrupt another caller's mutation-in-flight.
type MemoryStore struct {
	mu        sync.RWMutex
	agents    map[string]*v1.AgentInstance
	tasks     map[string]*v1.Task
	lanes     map[string]*v1.SwimLane
	teams     map[string]*v1.Team
	pipelines map[string]*v1.Pipeline
	runs      map[string]*v1.PipelineRun
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:    make(map[string]*v1.AgentInstance),
		tasks:     make(map[string]*v1.Task),
		lanes:     make(map[string]*v1.SwimLane),
		teams:     make(map[string]*v1.Team),
		pipelines: make(map[string]*v1.Pipeline),
		runs:      make(map[string]*v1.PipelineRun),
	}
}

func cloneAgent(a *v1.AgentInstance) *v1.AgentInstance { cp := *a; return &cp }
func cloneTask(t *v1.Task) *v1.Task {
	cp := *t
	cp.SubtaskIDs = append([]string(nil), t.SubtaskIDs...)
	cp.DependsOn = append([]string(nil), t.DependsOn...)
	cp.Tags = append([]string(nil), t.Tags...)
	cp.Toggles = t.Toggles.Clone()
	cp.StatusHistory = append([]v1.StatusHistoryEntry(nil), t.StatusHistory...)
	cp.Comments = append([]v1.Comment(nil), t.Comments...)
	return &cp
}
func cloneLane(l *v1.SwimLane) *v1.SwimLane {
	cp := *l
	cp.DefaultToggles = l.DefaultToggles.Clone()
	return &cp
}
func cloneTeam(tm *v1.Team) *v1.Team {
	cp := *tm
	cp.AgentIDs = append([]string(nil), tm.AgentIDs...)
	return &cp
}
func clonePipeline(p *v1.Pipeline) *v1.Pipeline {
	cp := *p
	cp.Stages = append([]v1.Stage(nil), p.Stages...)
	return &cp
}
func cloneRun(r *v1.PipelineRun) *v1.PipelineRun {
	cp := *r
	cp.StageResults = make(map[string]*v1.StageResult, len(r.StageResults))
	for k, v := range r.StageResults {
		sr := *v
		cp.StageResults[k] = &sr
	}
	return &cp
}

func (s *MemoryStore) SaveAgent(_ context.Context, a *v1.AgentInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = cloneAgent(a)
	return nil
}

func (s *MemoryStore) GetAgent(_ context.Context, id string) (*v1.AgentInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgent(a), nil
}

func (s *MemoryStore) ListAgents(_ context.Context, filter AgentFilter) ([]*v1.AgentInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*v1.AgentInstance, 0, len(s.agents))
	for _, a := range s.agents {
		if filter.Status != "" && a.State != filter.Status {
			continue
		}
		if filter.Role != "" && a.Role != filter.Role {
			continue
		}
		if filter.TeamID != "" && a.TeamID != filter.TeamID {
			continue
		}
		if filter.Runtime != "" && a.ServerID != filter.Runtime {
			continue
		}
		out = append(out, cloneAgent(a))
	}
	return out, nil
}

func (s *MemoryStore) DeleteAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, id)
	return nil
}

func (s *MemoryStore) SaveTask(_ context.Context, t *v1.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = cloneTask(t)
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*v1.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(t), nil
}

func (s *MemoryStore) ListTasks(_ context.Context, swimLaneID string) ([]*v1.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*v1.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if swimLaneID != "" && t.SwimLaneID != swimLaneID {
			continue
		}
		out = append(out, cloneTask(t))
	}
	return out, nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) SaveLane(_ context.Context, l *v1.SwimLane) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lanes[l.ID] = cloneLane(l)
	return nil
}

func (s *MemoryStore) GetLane(_ context.Context, id string) (*v1.SwimLane, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lanes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneLane(l), nil
}

func (s *MemoryStore) ListLanes(_ context.Context) ([]*v1.SwimLane, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*v1.SwimLane, 0, len(s.lanes))
	for _, l := range s.lanes {
		out = append(out, cloneLane(l))
	}
	return out, nil
}

func (s *MemoryStore) DeleteLane(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lanes, id)
	return nil
}

func (s *MemoryStore) SaveTeam(_ context.Context, tm *v1.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams[tm.ID] = cloneTeam(tm)
	return nil
}

func (s *MemoryStore) GetTeam(_ context.Context, id string) (*v1.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tm, ok := s.teams[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTeam(tm), nil
}

func (s *MemoryStore) ListTeams(_ context.Context) ([]*v1.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*v1.Team, 0, len(s.teams))
	for _, tm := range s.teams {
		out = append(out, cloneTeam(tm))
	}
	return out, nil
}

func (s *MemoryStore) DeleteTeam(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.teams, id)
	return nil
}

func (s *MemoryStore) SavePipeline(_ context.Context, p *v1.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines[p.ID] = clonePipeline(p)
	return nil
}

func (s *MemoryStore) GetPipeline(_ context.Context, id string) (*v1.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pipelines[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePipeline(p), nil
}

func (s *MemoryStore) ListPipelines(_ context.Context) ([]*v1.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*v1.Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		out = append(out, clonePipeline(p))
	}
	return out, nil
}

func (s *MemoryStore) SaveRun(_ context.Context, r *v1.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = cloneRun(r)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*v1.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(r), nil
}

func (s *MemoryStore) ListActiveRuns(_ context.Context) ([]*v1.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*v1.PipelineRun, 0)
	for _, r := range s.runs {
		if r.Status == v1.RunRunning || r.Status == v1.RunPaused {
			out = append(out, cloneRun(r))
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
