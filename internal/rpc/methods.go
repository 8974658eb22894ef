package rpc

import (
	"context"
	"time"

	"github.com/kandev/daemon/internal/kanban"
	"github.com/kandev/daemon/internal/orchestrator"
	"github.com/kandev/daemon/internal/pipeline"
	"github.com/kandev/daemon/internal/platform/config"
	"github.com/kandev/daemon/internal/platform/logger"
	"github.com/kandev/daemon/internal/reconcile"
	"github.com/kandev/daemon/internal/runtime"
	"github.com/kandev/daemon/internal/store"
	"github.com/kandev/daemon/internal/team"
)

// Server holds every component the method table needs and registers its
// handlers on a Router. It is the composition root's single entry point
// into this package.
type Server struct {
	Orchestrator *orchestrator.Orchestrator
	Kanban       *kanban.Model
	Pipeline     *pipeline.Engine
	Team         *team.Model
	Runtimes     *runtime.Manager
	Store        store.Store
	Config       *config.Config
	Reconciler   *reconcile.Reconciler
	Log          *logger.Logger

	// RuntimeFactory constructs a new Adapter from a config entry. It is
	// supplied by the composition root, which is the only package allowed
	// to import every backend (local/container/pod/remoteshell); wiring it
	// here instead of importing those backends directly avoids a cycle
	// back through the runtime package's own Adapter interface.
	RuntimeFactory func(id string, entry config.RuntimeEntry) (runtime.Adapter, error)

	startedAt time.Time
	shutdown  func(context.Context) error
}

// NewServer constructs a Server. shutdown is invoked by daemon.shutdown.
func NewServer(o *orchestrator.Orchestrator, k *kanban.Model, p *pipeline.Engine, tm *team.Model, rm *runtime.Manager, st store.Store, cfg *config.Config, rc *reconcile.Reconciler, log *logger.Logger, shutdown func(context.Context) error) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{Orchestrator: o, Kanban: k, Pipeline: p, Team: tm, Runtimes: rm, Store: st, Config: cfg, Reconciler: rc, Log: log, shutdown: shutdown, startedAt: time.Now()}
}

// RegisterAll registers the full spec §6 method table onto router.
func (s *Server) RegisterAll(router *Router) {
	s.registerAgentMethods(router)
	s.registerTaskMethods(router)
	s.registerTeamMethods(router)
	s.registerPipelineMethods(router)
	s.registerKanbanMethods(router)
	s.registerRuntimeMethods(router)
	s.registerDaemonMethods(router)
	s.registerFanoutMethods(router)
}
