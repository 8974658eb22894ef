// Package store defines the persistence contract for agents, tasks, lanes,
// pipelines, and runs, and provides an in-memory implementation for tests
// plus a SQLite-backed implementation for production use.
package store

import (
	"context"

	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// AgentFilter narrows agent.list results.
type AgentFilter struct {
	Status  v1.AgentState
	Role    v1.AgentRole
	TeamID  string
	Runtime string
}

// Store is the narrow persistence interface every component depends on.
// Each call is a self-contained transaction; implementations must be safe
// for concurrent use from multiple goroutines.
type Store interface {
	// Agents
	SaveAgent(ctx context.Context, a *v1.AgentInstance) error
	GetAgent(ctx context.Context, id string) (*v1.AgentInstance, error)
	ListAgents(ctx context.Context, filter AgentFilter) ([]*v1.AgentInstance, error)
	DeleteAgent(ctx context.Context, id string) error

	// Tasks
	SaveTask(ctx context.Context, t *v1.Task) error
	GetTask(ctx context.Context, id string) (*v1.Task, error)
	ListTasks(ctx context.Context, swimLaneID string) ([]*v1.Task, error)
	DeleteTask(ctx context.Context, id string) error

	// SwimLanes
	SaveLane(ctx context.Context, l *v1.SwimLane) error
	GetLane(ctx context.Context, id string) (*v1.SwimLane, error)
	ListLanes(ctx context.Context) ([]*v1.SwimLane, error)
	DeleteLane(ctx context.Context, id string) error

	// Teams
	SaveTeam(ctx context.Context, tm *v1.Team) error
	GetTeam(ctx context.Context, id string) (*v1.Team, error)
	ListTeams(ctx context.Context) ([]*v1.Team, error)
	DeleteTeam(ctx context.Context, id string) error

	// Pipelines
	SavePipeline(ctx context.Context, p *v1.Pipeline) error
	GetPipeline(ctx context.Context, id string) (*v1.Pipeline, error)
	ListPipelines(ctx context.Context) ([]*v1.Pipeline, error)

	// Pipeline Runs
	SaveRun(ctx context.Context, r *v1.PipelineRun) error
	GetRun(ctx context.Context, id string) (*v1.PipelineRun, error)
	ListActiveRuns(ctx context.Context) ([]*v1.PipelineRun, error)

	Close() error
}

// ErrNotFound is returned by Get* methods when no row matches the ID.
var ErrNotFound = newNotFoundErr()

type notFoundErr struct{}

func (notFoundErr) Error() string { return "store: not found" }
func newNotFoundErr() error       { return notFoundErr{} }
