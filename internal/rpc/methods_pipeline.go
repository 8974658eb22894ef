package rpc

import (
	"context"
	"encoding/json"

	v1 "github.com/kandev/daemon/pkg/api/v1"
)

func (s *Server) registerPipelineMethods(r *Router) {
	r.Register("pipeline.list", s.pipelineList)
	r.Register("pipeline.create", s.pipelineCreate)
	r.Register("pipeline.run", s.pipelineRun)
	r.Register("pipeline.getStatus", s.pipelineGetStatus)
	r.Register("pipeline.getActive", s.pipelineGetActive)
	r.Register("pipeline.pause", s.pipelinePause)
	r.Register("pipeline.resume", s.pipelineResume)
	r.Register("pipeline.cancel", s.pipelineCancel)
}

func (s *Server) pipelineList(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return s.Pipeline.ListPipelines(ctx)
}

func (s *Server) pipelineCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p v1.Pipeline
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" || len(p.Stages) == 0 {
		return nil, BadParams("name and at least one stage are required")
	}
	return s.Pipeline.CreatePipeline(ctx, &p)
}

type pipelineIDParams struct {
	PipelineID string `json:"pipelineId"`
}

func (s *Server) pipelineRun(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p pipelineIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return s.Pipeline.Run(ctx, p.PipelineID)
}

type runIDParams struct {
	RunID string `json:"runId"`
}

func (s *Server) pipelineGetStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p runIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return s.Pipeline.GetStatus(ctx, p.RunID)
}

func (s *Server) pipelineGetActive(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return s.Pipeline.GetActive(ctx)
}

func (s *Server) pipelinePause(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p runIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return nil, s.Pipeline.Pause(ctx, p.RunID)
}

func (s *Server) pipelineResume(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p runIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return nil, s.Pipeline.Resume(ctx, p.RunID)
}

func (s *Server) pipelineCancel(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p runIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return nil, s.Pipeline.Cancel(ctx, p.RunID)
}
