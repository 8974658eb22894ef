// Package worker is the composition root for the daemon's worker process:
// it wires Config, Logger, Store, Event Bus, Runtime Manager, Orchestrator,
// Kanban Model, Pipeline Engine, Team Model, Reconciler, RPC Router/Server,
// and Transport Server together, mirroring the teacher's cmd/kandev/main.go
// unified-mode wiring.
package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kandev/daemon/internal/eventbus"
	"github.com/kandev/daemon/internal/kanban"
	"github.com/kandev/daemon/internal/orchestrator"
	"github.com/kandev/daemon/internal/pipeline"
	"github.com/kandev/daemon/internal/platform/config"
	"github.com/kandev/daemon/internal/platform/logger"
	"github.com/kandev/daemon/internal/reconcile"
	"github.com/kandev/daemon/internal/rpc"
	"github.com/kandev/daemon/internal/runtime"
	"github.com/kandev/daemon/internal/runtime/container"
	"github.com/kandev/daemon/internal/runtime/local"
	"github.com/kandev/daemon/internal/runtime/pod"
	"github.com/kandev/daemon/internal/runtime/remoteshell"
	"github.com/kandev/daemon/internal/store"
	"github.com/kandev/daemon/internal/team"
	"github.com/kandev/daemon/internal/transport"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// Worker owns every long-lived component started inside the worker
// process. Only the composition root is allowed to import all four
// runtime backend packages: each of them imports internal/runtime for the
// Adapter interface, so internal/runtime itself cannot import them back.
type Worker struct {
	cfg *config.Config
	log *logger.Logger

	store      store.Store
	bus        eventbus.Bus
	runtimes   *runtime.Manager
	orch       *orchestrator.Orchestrator
	kanban     *kanban.Model
	sweeper    *kanban.AutoCloseSweeper
	pipeline   *pipeline.Engine
	team       *team.Model
	reconciler *reconcile.Reconciler
	router     *rpc.Router
	rpcServer  *rpc.Server
	transport  *transport.Server
}

// buildAdapter constructs a runtime.Adapter from a config.RuntimeEntry.
// This is the one place in the module allowed to know about every backend
// package; it is injected into rpc.Server as RuntimeFactory so the RPC
// layer can add runtimes at request time without importing the backends
// itself.
func buildAdapter(id string, entry config.RuntimeEntry) (runtime.Adapter, error) {
	switch entry.Type {
	case "local-tmux", "":
		return local.New(id), nil
	case "docker":
		return container.New(id, container.Config{
			Host:  entry.Options["host"],
			Image: entry.Options["image"],
		})
	case "k8s":
		return pod.New(id, pod.Config{
			APIServer: entry.Options["apiServer"],
			Token:     entry.Options["token"],
			Namespace: entry.Options["namespace"],
			Image:     entry.Options["image"],
		}), nil
	case "ssh":
		return remoteshell.New(id, remoteshell.Config{
			Host:       entry.Options["host"],
			User:       entry.Options["user"],
			Password:   entry.Options["password"],
			KeyPEM:     []byte(entry.Options["keyPEM"]),
			RemoteSpec: entry.Options["remoteSpec"],
		})
	default:
		return nil, fmt.Errorf("unknown runtime type %q", entry.Type)
	}
}

// New constructs every component from cfg but starts nothing.
func New(cfg *config.Config) (*Worker, error) {
	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.LogLevel,
		Format:     cfg.Logging.LogFormat,
		ToStdout:   cfg.Logging.LogToStdout,
		FilePath:   cfg.Daemon.LogFile,
		MaxSizeMB:  cfg.Logging.MaxLogFileSize,
		MaxBackups: cfg.Logging.MaxLogFiles,
		Component:  "worker",
	})
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger.SetDefault(log)

	st, err := store.NewSQLiteStore(cfg.Daemon.DBFile)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	var bus eventbus.Bus
	if cfg.NATS.URL != "" {
		log.Info("worker: connecting to NATS at %s", cfg.NATS.URL)
		natsBus, err := eventbus.NewNATSBus(cfg.NATS.URL, log)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		bus = natsBus
	} else {
		bus = eventbus.NewMemoryBus(log)
	}

	adapters := make(map[string]runtime.Adapter, len(cfg.Runtimes))
	defaultID := ""
	for id, entry := range cfg.Runtimes {
		a, err := buildAdapter(id, entry)
		if err != nil {
			log.Error("worker: skipping runtime %q: %v", id, err)
			continue
		}
		adapters[id] = a
		if entry.Default || defaultID == "" {
			defaultID = id
		}
	}
	healthInterval := time.Duration(cfg.Worker.HealthCheckIntervalS) * time.Second
	if healthInterval <= 0 {
		healthInterval = 15 * time.Second
	}
	rm := runtime.NewManager(adapters, defaultID, healthInterval, log)

	orch := orchestrator.New(st, bus, rm, nil, log)
	kb := kanban.New(st, bus, orch, log)
	sweeper := kanban.NewAutoCloseSweeper(kb, rm, func(_ context.Context, id string) (*v1.AgentInstance, error) {
		return orch.GetAgent(id)
	}, 30*time.Second)
	pl := pipeline.New(st, bus, kb, log)
	tm := team.New(st, bus, log)
	rc := reconcile.New(st, bus, rm, orch, log)

	router := rpc.NewRouter(log)

	w := &Worker{
		cfg:        cfg,
		log:        log,
		store:      st,
		bus:        bus,
		runtimes:   rm,
		orch:       orch,
		kanban:     kb,
		sweeper:    sweeper,
		pipeline:   pl,
		team:       tm,
		reconciler: rc,
		router:     router,
	}

	rpcServer := rpc.NewServer(orch, kb, pl, tm, rm, st, cfg, rc, log, w.Shutdown)
	rpcServer.RuntimeFactory = buildAdapter
	rpcServer.RegisterAll(router)
	w.rpcServer = rpcServer

	w.transport = transport.New(transport.Config{
		HTTPHost:         cfg.Server.HTTPHost,
		HTTPPort:         cfg.Server.HTTPPort,
		EnableHTTP:       cfg.Server.EnableHTTP,
		EnableWebSocket:  cfg.Server.EnableWebSocket,
		EnableUnixSocket: cfg.Server.EnableUnixSocket,
		SocketPath:       cfg.Daemon.SocketPath,
	}, router, bus, log)

	return w, nil
}

// Start brings every component online: the reconciliation sweep runs
// before the transport layer starts accepting connections (spec §4.8), so
// no RPC client can observe an agent mid-reconciliation.
func (w *Worker) Start(ctx context.Context) error {
	if w.cfg.Worker.ReconcileOnStart {
		summary, err := w.reconciler.Run(ctx)
		if err != nil {
			return fmt.Errorf("reconciliation sweep: %w", err)
		}
		w.log.Info("worker: reconciliation complete total=%d reconnected=%d lost=%d errors=%d",
			summary.Total, summary.Reconnected, summary.Lost, summary.Errors)
	}

	w.sweeper.Start()

	if err := w.transport.Start(); err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}

	_ = w.bus.Publish(ctx, "daemon.started", map[string]interface{}{"pid": os.Getpid()})
	return nil
}

// Shutdown stops every component, waiting up to 30s for in-flight work to
// drain. It is also the function injected as rpc.Server's shutdown hook
// for the daemon.shutdown RPC method.
func (w *Worker) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := w.transport.Shutdown(shutdownCtx); err != nil {
		w.log.Error("worker: transport shutdown: %v", err)
	}
	w.sweeper.Stop()
	w.runtimes.Stop()
	w.orch.Stop()
	if err := w.store.Close(); err != nil {
		w.log.Error("worker: store close: %v", err)
	}
	if err := w.bus.Close(); err != nil {
		w.log.Error("worker: event bus close: %v", err)
	}
	return nil
}

// Config returns the worker's live configuration, mutated in place by
// daemon.reload.
func (w *Worker) Config() *config.Config { return w.cfg }
