package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
)

// pidLock guards a PID file (and, by convention, the log file and unix
// socket that live alongside it in the same data directory) with an
// exclusive advisory lock, so a second `daemon.start` against the same
// dataDir fails fast instead of corrupting state (spec §4.1, grounded on
// gastown's internal/daemon/daemon.go Run()).
type pidLock struct {
	path string
	lock *flock.Flock
}

func newPIDLock(path string) *pidLock {
	return &pidLock{path: path, lock: flock.New(path + ".lock")}
}

// TryAcquire attempts a non-blocking exclusive lock, writes the current
// process PID to path, and returns an error if another daemon already
// holds the lock.
func (p *pidLock) TryAcquire() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("creating pid file directory: %w", err)
	}
	locked, err := p.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring pid lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("daemon already running (lock held by another process)")
	}
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		_ = p.lock.Unlock()
		return fmt.Errorf("writing pid file: %w", err)
	}
	return nil
}

// Release unlocks and removes the PID file.
func (p *pidLock) Release() {
	_ = os.Remove(p.path)
	_ = p.lock.Unlock()
}

// readPID reads a PID from the given PID file path. It returns (0, nil) if
// the file does not exist.
func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, nil
	}
	return pid, nil
}

// IsRunning checks whether the daemon identified by the PID file at path is
// alive, cleaning up a stale PID file if the process is gone.
func IsRunning(path string) (bool, int, error) {
	pid, err := readPID(path)
	if err != nil || pid == 0 {
		return false, 0, err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0, nil
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(path)
		return false, 0, nil
	}
	return true, pid, nil
}

// StopProcess sends SIGTERM to the PID in path and escalates to SIGKILL
// after gracePeriod if the process has not exited (spec §4.1 termination).
func StopProcess(path string, gracePeriod time.Duration) error {
	running, pid, err := IsRunning(path)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	time.Sleep(gracePeriod)

	if err := process.Signal(syscall.Signal(0)); err == nil {
		_ = process.Signal(syscall.SIGKILL)
	}
	_ = os.Remove(path)
	return nil
}
