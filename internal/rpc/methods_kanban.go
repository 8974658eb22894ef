package rpc

import (
	"context"
	"encoding/json"

	v1 "github.com/kandev/daemon/pkg/api/v1"
)

func (s *Server) registerKanbanMethods(r *Router) {
	r.Register("kanban.listLanes", s.kanbanListLanes)
	r.Register("kanban.createLane", s.kanbanCreateLane)
	r.Register("kanban.editLane", s.kanbanEditLane)
	r.Register("kanban.deleteLane", s.kanbanDeleteLane)
	r.Register("kanban.getBoard", s.kanbanGetBoard)
	r.Register("kanban.startTask", s.kanbanStartTask)
	r.Register("kanban.stopTask", s.kanbanStopTask)
}

func (s *Server) kanbanListLanes(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return s.Kanban.ListLanes(ctx)
}

func (s *Server) kanbanCreateLane(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var l v1.SwimLane
	if err := decodeParams(params, &l); err != nil {
		return nil, err
	}
	if l.Name == "" {
		return nil, BadParams("name is required")
	}
	return s.Kanban.CreateLane(ctx, &l)
}

func (s *Server) kanbanEditLane(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var l v1.SwimLane
	if err := decodeParams(params, &l); err != nil {
		return nil, err
	}
	if l.ID == "" {
		return nil, BadParams("id is required")
	}
	return s.Kanban.EditLane(ctx, &l)
}

func (s *Server) kanbanDeleteLane(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return nil, s.Kanban.DeleteLane(ctx, p.ID)
}

type getBoardParams struct {
	SwimLaneID string `json:"swimLaneId,omitempty"`
}

func (s *Server) kanbanGetBoard(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p getBoardParams
	if len(params) > 0 {
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
	}
	return s.Kanban.GetBoard(ctx, p.SwimLaneID)
}

func (s *Server) kanbanStartTask(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return s.Kanban.StartTask(ctx, p.ID)
}

func (s *Server) kanbanStopTask(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return s.Kanban.StopTask(ctx, p.ID)
}
