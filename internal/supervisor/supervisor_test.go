package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChild is a ChildProcess whose exit is driven entirely by the test.
type fakeChild struct {
	exit     chan error
	mu       sync.Mutex
	signaled []os.Signal
}

func newFakeChild() *fakeChild {
	return &fakeChild{exit: make(chan error, 1)}
}

func (c *fakeChild) Wait() error { return <-c.exit }
func (c *fakeChild) Signal(sig os.Signal) error {
	c.mu.Lock()
	c.signaled = append(c.signaled, sig)
	c.mu.Unlock()
	if sig == syscall.SIGTERM || sig == syscall.SIGKILL {
		select {
		case c.exit <- nil:
		default:
		}
	}
	return nil
}
func (c *fakeChild) Pid() int { return 1234 }

func newTestSupervisor(t *testing.T, cfg Config, children <-chan *fakeChild) *Supervisor {
	t.Helper()
	dir := t.TempDir()
	if cfg.PIDFile == "" {
		cfg.PIDFile = filepath.Join(dir, "daemon.pid")
	}
	launch := func() (ChildProcess, error) {
		return <-children, nil
	}
	return New(cfg, launch, nil)
}

// TestSupervisor_RestartsOnUnexpectedExit verifies a single unexpected
// child exit triggers exactly one restart while the breaker stays closed.
func TestSupervisor_RestartsOnUnexpectedExit(t *testing.T) {
	children := make(chan *fakeChild, 4)
	first := newFakeChild()
	second := newFakeChild()
	children <- first
	children <- second

	s := newTestSupervisor(t, Config{MaxRestarts: 5, RestartWindow: 30 * time.Second, RestartBackoff: time.Second}, children)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, nil) }()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateRunning, s.State())

	first.exit <- assert.AnError
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateRunning, s.State())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateStopped, s.State())
}

// TestSupervisor_GracefulShutdownForwardsSIGTERM verifies Run forwards a
// termination signal to the child and reaches StateStopped without
// restarting.
func TestSupervisor_GracefulShutdownForwardsSIGTERM(t *testing.T) {
	children := make(chan *fakeChild, 1)
	child := newFakeChild()
	children <- child

	s := newTestSupervisor(t, Config{}, children)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, nil) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, StateStopped, s.State())
	child.mu.Lock()
	defer child.mu.Unlock()
	assert.Contains(t, child.signaled, syscall.SIGTERM)
}

// TestSupervisor_ReloadCallbackInvokedOnSIGHUP verifies the reload hook
// runs and the reload signal is forwarded to the child, without the
// supervisor shutting down.
func TestSupervisor_ReloadCallbackInvokedOnSIGHUP(t *testing.T) {
	children := make(chan *fakeChild, 1)
	child := newFakeChild()
	children <- child

	s := newTestSupervisor(t, Config{}, children)

	ctx, cancel := context.WithCancel(context.Background())
	reloaded := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, func() error { reloaded <- struct{}{}; return nil }) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGHUP))

	select {
	case <-reloaded:
	case <-time.After(time.Second):
		t.Fatal("reload callback was not invoked")
	}
	assert.Equal(t, StateRunning, s.State())

	cancel()
	<-done
}

func TestIsRunning_FalseWhenNoPIDFile(t *testing.T) {
	dir := t.TempDir()
	running, pid, err := IsRunning(filepath.Join(dir, "daemon.pid"))
	require.NoError(t, err)
	assert.False(t, running)
	assert.Equal(t, 0, pid)
}

func TestPIDLock_SecondAcquireFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.pid")

	l1 := newPIDLock(path)
	require.NoError(t, l1.TryAcquire())
	defer l1.Release()

	l2 := newPIDLock(path)
	assert.Error(t, l2.TryAcquire())
}
