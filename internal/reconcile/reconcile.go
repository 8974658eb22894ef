// Package reconcile implements the on-start reconciliation sweep: for
// every agent instance that survived a prior daemon process, probe its
// runtime location and either re-register it as idle or mark it lost
// (state error) and return its current task to pending, per spec §4.8.
package reconcile

import (
	"context"

	"github.com/kandev/daemon/internal/eventbus"
	"github.com/kandev/daemon/internal/platform/apperr"
	"github.com/kandev/daemon/internal/platform/logger"
	"github.com/kandev/daemon/internal/runtime"
	"github.com/kandev/daemon/internal/store"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// Registrar is the narrow interface the Reconciler uses to put recovered
// agents back into the Orchestrator's in-memory registry, avoiding a
// dependency on the orchestrator package's full surface.
type Registrar interface {
	Register(a *v1.AgentInstance)
}

// Summary is the result of one reconciliation pass.
type Summary struct {
	Total       int      `json:"total"`
	Reconnected int      `json:"reconnected"`
	Lost        int      `json:"lost"`
	Errors      []string `json:"errors,omitempty"`
}

// Reconciler owns the startup sweep.
type Reconciler struct {
	store     store.Store
	bus       eventbus.Bus
	runtimes  *runtime.Manager
	registrar Registrar
	log       *logger.Logger
}

// New constructs a Reconciler.
func New(st store.Store, bus eventbus.Bus, rm *runtime.Manager, registrar Registrar, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Default()
	}
	return &Reconciler{store: st, bus: bus, runtimes: rm, registrar: registrar, log: log}
}

var nonTerminalStates = []v1.AgentState{
	v1.AgentSpawning, v1.AgentIdle, v1.AgentWorking, v1.AgentError,
}

// Run performs the reconciliation sweep. It is idempotent: running it
// twice in a row against the same persisted state produces the same
// Summary and leaves every agent in the same state. A second run still
// re-saves live agents, re-registers them and publishes agent.reconnected
// again.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	var agents []*v1.AgentInstance
	for _, state := range nonTerminalStates {
		found, err := r.store.ListAgents(ctx, store.AgentFilter{Status: state})
		if err != nil {
			return summary, apperr.Internal(err)
		}
		agents = append(agents, found...)
	}
	summary.Total = len(agents)

	for _, a := range agents {
		if err := r.reconcileOne(ctx, a, &summary); err != nil {
			summary.Errors = append(summary.Errors, err.Error())
		}
	}

	r.log.Info("reconcile: total=%d reconnected=%d lost=%d errors=%d", summary.Total, summary.Reconnected, summary.Lost, len(summary.Errors))
	return summary, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, a *v1.AgentInstance, summary *Summary) error {
	adapter, ok := r.runtimes.Get(a.ServerID)
	if !ok {
		a.State = v1.AgentError
		a.ErrorMessage = "runtime no longer configured"
		a.CurrentTaskID = ""
		if err := r.store.SaveAgent(ctx, a); err != nil {
			return apperr.Internal(err)
		}
		summary.Lost++
		return nil
	}

	if adapter.IsAlive(ctx, a.Location) {
		a.State = v1.AgentIdle
		a.ErrorMessage = ""
		if err := r.store.SaveAgent(ctx, a); err != nil {
			return apperr.Internal(err)
		}
		if r.registrar != nil {
			r.registrar.Register(a)
		}
		if r.bus != nil {
			_ = r.bus.Publish(ctx, "agent.reconnected", map[string]interface{}{"id": a.ID})
		}
		summary.Reconnected++
		return nil
	}

	a.State = v1.AgentError
	a.ErrorMessage = "lost during reconciliation"
	lostTaskID := a.CurrentTaskID
	a.CurrentTaskID = ""
	if err := r.store.SaveAgent(ctx, a); err != nil {
		return apperr.Internal(err)
	}

	if lostTaskID != "" {
		if task, err := r.store.GetTask(ctx, lostTaskID); err == nil {
			task.Status = v1.TaskPending
			task.AssignedAgentID = ""
			if err := r.store.SaveTask(ctx, task); err != nil {
				return apperr.Internal(err)
			}
		}
	}

	summary.Lost++
	return nil
}
