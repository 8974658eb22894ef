package kanban

import (
	"context"
	"time"

	"github.com/kandev/daemon/internal/runtime"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// AutoCloseSweeper periodically kills the runtime location of tasks whose
// effective autoClose toggle is true and which have sat in done past a
// grace window, per spec §4.5.
type AutoCloseSweeper struct {
	model    *Model
	runtimes *runtime.Manager
	agentGet func(ctx context.Context, agentID string) (*v1.AgentInstance, error)
	grace    time.Duration
	interval time.Duration
	stop     chan struct{}
}

// NewAutoCloseSweeper constructs a sweeper. agentGet resolves an agent's
// current runtime location; it is supplied by the composition root to
// avoid an import cycle with the orchestrator package.
func NewAutoCloseSweeper(model *Model, runtimes *runtime.Manager, agentGet func(context.Context, string) (*v1.AgentInstance, error), grace time.Duration) *AutoCloseSweeper {
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	return &AutoCloseSweeper{model: model, runtimes: runtimes, agentGet: agentGet, grace: grace, interval: 30 * time.Second, stop: make(chan struct{})}
}

// Start runs the sweep loop until Stop is called.
func (s *AutoCloseSweeper) Start() {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep loop.
func (s *AutoCloseSweeper) Stop() { close(s.stop) }

func (s *AutoCloseSweeper) sweep() {
	ctx := context.Background()
	lanes, err := s.model.ListLanes(ctx)
	if err != nil {
		return
	}
	laneByID := make(map[string]*v1.SwimLane, len(lanes))
	for _, l := range lanes {
		laneByID[l.ID] = l
	}

	tasks, err := s.model.ListTasks(ctx, "")
	if err != nil {
		return
	}
	for _, t := range tasks {
		if t.KanbanColumn != v1.ColumnDone || t.DoneAt == nil {
			continue
		}
		var lane *v1.SwimLane
		if t.SwimLaneID != "" {
			lane = laneByID[t.SwimLaneID]
		}
		if !t.EffectiveToggle(v1.ToggleAutoClose, lane) {
			continue
		}
		if time.Since(*t.DoneAt) < s.grace {
			continue
		}
		if t.AssignedAgentID == "" || s.agentGet == nil {
			continue
		}
		agent, err := s.agentGet(ctx, t.AssignedAgentID)
		if err != nil {
			continue
		}
		if adapter, ok := s.runtimes.Get(agent.ServerID); ok {
			_ = adapter.Kill(ctx, agent.Location)
		}
	}
}
