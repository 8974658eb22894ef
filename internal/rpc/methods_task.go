package rpc

import (
	"context"
	"encoding/json"

	v1 "github.com/kandev/daemon/pkg/api/v1"
)

func (s *Server) registerTaskMethods(r *Router) {
	r.Register("task.list", s.taskList)
	r.Register("task.get", s.taskGet)
	r.Register("task.submit", s.taskSubmit)
	r.Register("task.move", s.taskMove)
	r.Register("task.cancel", s.taskCancel)
	r.Register("task.delete", s.taskDelete)
	r.Register("task.update", s.taskUpdate)
}

type taskListParams struct {
	SwimLaneID string `json:"swimLaneId,omitempty"`
}

func (s *Server) taskList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p taskListParams
	if len(params) > 0 {
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
	}
	return s.Kanban.ListTasks(ctx, p.SwimLaneID)
}

func (s *Server) taskGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return s.Kanban.GetTask(ctx, p.ID)
}

func (s *Server) taskSubmit(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var t v1.Task
	if err := decodeParams(params, &t); err != nil {
		return nil, err
	}
	if t.Description == "" {
		return nil, BadParams("description is required")
	}
	created, err := s.Kanban.CreateTask(ctx, &t)
	if err != nil {
		return nil, err
	}
	if err := s.Orchestrator.EnqueueTask(ctx, created); err != nil {
		s.Log.Error("rpc: task.submit enqueue %s: %v", created.ID, err)
	}
	return created, nil
}

type taskMoveParams struct {
	ID     string          `json:"id"`
	Column v1.KanbanColumn `json:"column"`
}

func (s *Server) taskMove(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p taskMoveParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" || p.Column == "" {
		return nil, BadParams("id and column are required")
	}
	return s.Kanban.MoveTask(ctx, p.ID, p.Column)
}

func (s *Server) taskCancel(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	t, err := s.Kanban.GetTask(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	t.Status = v1.TaskCancelled
	return s.Kanban.UpdateTask(ctx, t)
}

func (s *Server) taskDelete(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return nil, s.Kanban.DeleteTask(ctx, p.ID)
}

func (s *Server) taskUpdate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var t v1.Task
	if err := decodeParams(params, &t); err != nil {
		return nil, err
	}
	if t.ID == "" {
		return nil, BadParams("id is required")
	}
	return s.Kanban.UpdateTask(ctx, &t)
}
