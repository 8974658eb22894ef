package rpc

import (
	"context"
	"encoding/json"

	v1 "github.com/kandev/daemon/pkg/api/v1"
)

func (s *Server) registerFanoutMethods(r *Router) {
	r.Register("fanout.run", s.fanoutRun)
}

type fanoutRunParams struct {
	Prompt   string      `json:"prompt"`
	Count    int         `json:"count"`
	Provider v1.Provider `json:"provider,omitempty"`
	Runtime  string      `json:"runtime,omitempty"`
}

func (s *Server) fanoutRun(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p fanoutRunParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Prompt == "" || p.Count <= 0 {
		return nil, BadParams("prompt and a positive count are required")
	}
	return s.Orchestrator.FanoutRun(ctx, p.Prompt, p.Count, p.Provider, p.Runtime)
}
