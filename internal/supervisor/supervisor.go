// Package supervisor implements the parent process described in spec §4.1:
// it forks the worker binary, watches for exit, restarts it under a
// rate-limited circuit breaker, and owns the PID/log/socket file lifecycle.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kandev/daemon/internal/platform/logger"
)

// State is one position in the supervisor's state machine:
// idle -> starting -> running -> (running <-> restarting) -> stopping -> stopped,
// with a side-state circuit_open entered from running when a worker exit
// trips the breaker; after the backoff it moves on to restarting.
type State string

const (
	StateIdle        State = "idle"
	StateStarting    State = "starting"
	StateRunning     State = "running"
	StateRestarting  State = "restarting"
	StateCircuitOpen State = "circuit_open"
	StateStopping    State = "stopping"
	StateStopped     State = "stopped"
)

// killGrace is how long the supervisor waits after forwarding a
// termination signal to the child before escalating to a forced kill.
const killGrace = 5 * time.Second

// ChildProcess abstracts a running worker child so the restart loop can be
// exercised without forking a real process in tests.
type ChildProcess interface {
	Wait() error
	Signal(os.Signal) error
	Pid() int
}

// Launcher starts a new worker child process.
type Launcher func() (ChildProcess, error)

// execChild adapts *exec.Cmd to ChildProcess.
type execChild struct{ cmd *exec.Cmd }

func (c *execChild) Wait() error            { return c.cmd.Wait() }
func (c *execChild) Signal(sig os.Signal) error { return c.cmd.Process.Signal(sig) }
func (c *execChild) Pid() int                { return c.cmd.Process.Pid }

// Config controls restart policy and file locations.
type Config struct {
	PIDFile        string
	LogFile        string
	SocketPath     string
	MaxRestarts    int
	RestartWindow  time.Duration
	RestartBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRestarts == 0 {
		c.MaxRestarts = 5
	}
	if c.RestartWindow == 0 {
		c.RestartWindow = 30 * time.Second
	}
	if c.RestartBackoff == 0 {
		c.RestartBackoff = 60 * time.Second
	}
	return c
}

// Supervisor owns the worker child's lifecycle.
type Supervisor struct {
	cfg     Config
	launch  Launcher
	breaker *CircuitBreaker
	log     *logger.Logger
	pidLock *pidLock

	mu       sync.Mutex
	state    State
	child    ChildProcess
	stopping bool
}

// New constructs a Supervisor. launch is called each time a worker process
// needs to be started (initially, and on every restart).
func New(cfg Config, launch Launcher, log *logger.Logger) *Supervisor {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.Default()
	}
	return &Supervisor{
		cfg:     cfg,
		launch:  launch,
		breaker: NewCircuitBreaker(cfg.MaxRestarts, cfg.RestartWindow, cfg.RestartBackoff),
		log:     log,
		pidLock: newPIDLock(cfg.PIDFile),
		state:   StateIdle,
	}
}

// State returns the supervisor's current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run starts the worker and watches it until ctx is cancelled or a fatal
// error occurs, forwarding termination/reload signals and applying the
// restart circuit breaker on unexpected exits. It does not daemonize; the
// caller's `start` verb handles detachment before invoking Run.
func (s *Supervisor) Run(ctx context.Context, onReload func() error) error {
	if err := s.pidLock.TryAcquire(); err != nil {
		return fmt.Errorf("fatal: %w", err)
	}
	defer s.pidLock.Release()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	s.setState(StateStarting)
	if err := s.startChild(); err != nil {
		return fmt.Errorf("fatal: starting worker: %w", err)
	}
	s.setState(StateRunning)

	exitCh := s.watchChild()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil

		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				s.log.Info("supervisor: received reload signal")
				if onReload != nil {
					if err := onReload(); err != nil {
						s.log.Error("supervisor: reload failed: %v", err)
					}
				}
				s.forwardReload()
				continue
			}
			s.log.Info("supervisor: received %v, shutting down", sig)
			s.shutdown()
			return nil

		case err := <-exitCh:
			if s.stopping {
				return nil
			}
			s.log.Error("supervisor: worker exited unexpectedly: %v", err)
			now := time.Now()
			if s.breaker.Open(now) || !s.breaker.RecordExit(now) {
				s.setState(StateCircuitOpen)
				s.log.Error("supervisor: circuit breaker open, suppressing restarts for %v", s.cfg.RestartBackoff)
				s.waitForBackoff(ctx)
				if ctx.Err() != nil {
					return nil
				}
			}
			s.setState(StateRestarting)
			if err := s.startChild(); err != nil {
				return fmt.Errorf("fatal: restarting worker: %w", err)
			}
			s.setState(StateRunning)
			exitCh = s.watchChild()
		}
	}
}

func (s *Supervisor) waitForBackoff(ctx context.Context) {
	t := time.NewTimer(s.cfg.RestartBackoff)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (s *Supervisor) startChild() error {
	child, err := s.launch()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.child = child
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) watchChild() <-chan error {
	s.mu.Lock()
	child := s.child
	s.mu.Unlock()

	ch := make(chan error, 1)
	go func() {
		ch <- child.Wait()
	}()
	return ch
}

func (s *Supervisor) forwardReload() {
	s.mu.Lock()
	child := s.child
	s.mu.Unlock()
	if child == nil {
		return
	}
	if err := child.Signal(syscall.SIGHUP); err != nil {
		s.log.Error("supervisor: forwarding reload to worker: %v", err)
	}
}

func (s *Supervisor) shutdown() {
	s.setState(StateStopping)
	s.mu.Lock()
	s.stopping = true
	child := s.child
	s.mu.Unlock()

	if child != nil {
		_ = child.Signal(syscall.SIGTERM)
		done := make(chan struct{})
		go func() {
			_ = child.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(killGrace):
			_ = child.Signal(syscall.SIGKILL)
			<-done
		}
	}
	s.breaker.Reset()
	s.setState(StateStopped)
}

// DefaultLauncher builds a Launcher that execs binPath with args, appending
// the child's stdout/stderr to logFile.
func DefaultLauncher(binPath string, args []string, logFile string) Launcher {
	return func() (ChildProcess, error) {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cmd := exec.Command(binPath, args...)
		cmd.Stdout = f
		cmd.Stderr = f
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
		if err := cmd.Start(); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("starting worker: %w", err)
		}
		return &execChild{cmd: cmd}, nil
	}
}
