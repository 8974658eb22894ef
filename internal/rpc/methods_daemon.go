package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kandev/daemon/internal/store"
)

func (s *Server) registerDaemonMethods(r *Router) {
	r.Register("daemon.health", s.daemonHealth)
	r.Register("daemon.config", s.daemonConfig)
	r.Register("daemon.reload", s.daemonReload)
	r.Register("daemon.stats", s.daemonStats)
	r.Register("daemon.shutdown", s.daemonShutdown)
}

// healthReport is the canonical component-level health signal, per spec
// §7's "health endpoint reports component-level status".
type healthReport struct {
	Status   string                 `json:"status"` // healthy|degraded|unhealthy
	Uptime   string                 `json:"uptime"`
	Runtimes map[string]interface{} `json:"runtimes"`
}

func (s *Server) daemonHealth(_ context.Context, _ json.RawMessage) (interface{}, error) {
	runtimes := make(map[string]interface{})
	status := "healthy"
	for id, h := range s.Runtimes.AllHealth() {
		runtimes[id] = h.Status
		if h.Status != "healthy" {
			status = "degraded"
		}
	}
	return healthReport{Status: status, Uptime: time.Since(s.startedAt).String(), Runtimes: runtimes}, nil
}

func (s *Server) daemonConfig(_ context.Context, _ json.RawMessage) (interface{}, error) {
	return s.Config, nil
}

func (s *Server) daemonReload(_ context.Context, _ json.RawMessage) (interface{}, error) {
	cfg, err := s.Config.Reload()
	if err != nil {
		return nil, err
	}
	*s.Config = *cfg
	return s.Config, nil
}

type statsReport struct {
	AgentCount   int `json:"agentCount"`
	TaskCount    int `json:"taskCount"`
	ActiveRuns   int `json:"activeRuns"`
	RuntimeCount int `json:"runtimeCount"`
}

func (s *Server) daemonStats(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	agents := s.Orchestrator.ListAgents(store.AgentFilter{})
	tasks, err := s.Kanban.ListTasks(ctx, "")
	if err != nil {
		return nil, err
	}
	runs, err := s.Pipeline.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	return statsReport{
		AgentCount:   len(agents),
		TaskCount:    len(tasks),
		ActiveRuns:   len(runs),
		RuntimeCount: len(s.Runtimes.List()),
	}, nil
}

func (s *Server) daemonShutdown(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	if s.shutdown == nil {
		return nil, nil
	}
	go func() {
		_ = s.shutdown(ctx)
	}()
	return nil, nil
}
