package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kandev/daemon/internal/platform/config"
)

func (s *Server) registerRuntimeMethods(r *Router) {
	r.Register("runtime.list", s.runtimeList)
	r.Register("runtime.add", s.runtimeAdd)
	r.Register("runtime.remove", s.runtimeRemove)
	r.Register("runtime.ping", s.runtimePing)
}

type runtimeInfo struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Status  string `json:"status"`
	Default bool   `json:"default"`
}

func (s *Server) runtimeList(_ context.Context, _ json.RawMessage) (interface{}, error) {
	health := s.Runtimes.AllHealth()
	out := make([]runtimeInfo, 0, len(health))
	for id, h := range health {
		entry := s.Config.Runtimes[id]
		out = append(out, runtimeInfo{ID: id, Status: string(h.Status), Default: entry.Default, Kind: entry.Type})
	}
	return out, nil
}

type runtimeAddParams struct {
	ID      string            `json:"id"`
	Type    string            `json:"type"`
	Options map[string]string `json:"options,omitempty"`
}

func (s *Server) runtimeAdd(_ context.Context, params json.RawMessage) (interface{}, error) {
	var p runtimeAddParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" || p.Type == "" {
		return nil, BadParams("id and type are required")
	}
	if s.RuntimeFactory == nil {
		return nil, BadParams("runtime.add is not supported by this daemon build")
	}
	entry := config.RuntimeEntry{Type: p.Type, Options: p.Options}
	adapter, err := s.RuntimeFactory(p.ID, entry)
	if err != nil {
		return nil, err
	}
	s.Runtimes.Add(adapter)
	s.Config.Runtimes[p.ID] = entry
	return nil, nil
}

func (s *Server) runtimeRemove(_ context.Context, params json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	s.Runtimes.Remove(p.ID)
	delete(s.Config.Runtimes, p.ID)
	return nil, nil
}

type pingResult struct {
	OK        bool  `json:"ok"`
	LatencyMs int64 `json:"latency"`
}

func (s *Server) runtimePing(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	adapter, ok := s.Runtimes.Get(p.ID)
	if !ok {
		return nil, BadParams("unknown runtime: " + p.ID)
	}
	start := time.Now()
	health := adapter.Probe(ctx)
	latency := time.Since(start)
	return pingResult{OK: health.Status == "healthy", LatencyMs: latency.Milliseconds()}, nil
}
