// Command kandevd is the supervisor described in spec §4.1: it forks the
// kandev-worker binary, watches it, restarts it under a circuit breaker,
// and owns the PID/log/socket file lifecycle. Four verbs: start, run,
// stop, status.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/kandev/daemon/internal/platform/config"
	"github.com/kandev/daemon/internal/platform/logger"
	"github.com/kandev/daemon/internal/supervisor"
)

var rootCmd = &cobra.Command{
	Use:   "kandevd",
	Short: "Supervisor for the kandev agent-orchestration daemon",
}

func main() {
	rootCmd.AddCommand(startCmd, runCmd, stopCmd, statusCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Daemonize and fork the worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		running, pid, err := supervisor.IsRunning(cfg.Daemon.PIDFile)
		if err != nil {
			return fmt.Errorf("checking daemon status: %w", err)
		}
		if running {
			return fmt.Errorf("daemon already running (PID %d)", pid)
		}

		exePath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("finding executable: %w", err)
		}
		child := exec.Command(exePath, "run")
		child.Stdin = nil
		child.Stdout = nil
		child.Stderr = nil
		if err := child.Start(); err != nil {
			return fmt.Errorf("starting supervisor: %w", err)
		}
		_ = child.Process.Release()

		time.Sleep(200 * time.Millisecond)
		running, pid, err = supervisor.IsRunning(cfg.Daemon.PIDFile)
		if err != nil {
			return fmt.Errorf("checking daemon status: %w", err)
		}
		if !running {
			return fmt.Errorf("daemon failed to start")
		}
		fmt.Printf("daemon started (PID %d)\n", pid)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the supervisor in the foreground",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		log, err := logger.New(logger.Config{
			Level:      cfg.Logging.LogLevel,
			Format:     cfg.Logging.LogFormat,
			ToStdout:   cfg.Logging.LogToStdout,
			FilePath:   cfg.Daemon.LogFile,
			MaxSizeMB:  cfg.Logging.MaxLogFileSize,
			MaxBackups: cfg.Logging.MaxLogFiles,
			Component:  "supervisor",
		})
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}

		workerPath, err := workerBinaryPath()
		if err != nil {
			return err
		}

		sup := supervisor.New(supervisor.Config{
			PIDFile:        cfg.Daemon.PIDFile,
			LogFile:        cfg.Daemon.LogFile,
			SocketPath:     cfg.Daemon.SocketPath,
			MaxRestarts:    cfg.Supervisor.MaxRestarts,
			RestartWindow:  time.Duration(cfg.Supervisor.RestartWindowS) * time.Second,
			RestartBackoff: time.Duration(cfg.Supervisor.RestartBackoffS) * time.Second,
		}, supervisor.DefaultLauncher(workerPath, nil, cfg.Daemon.LogFile), log)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		return sup.Run(ctx, func() error {
			_, err := cfg.Reload()
			return err
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		running, pid, err := supervisor.IsRunning(cfg.Daemon.PIDFile)
		if err != nil {
			return fmt.Errorf("checking daemon status: %w", err)
		}
		if !running {
			return fmt.Errorf("daemon is not running")
		}

		if err := supervisor.StopProcess(cfg.Daemon.PIDFile, 5*time.Second); err != nil {
			return fmt.Errorf("stopping daemon: %w", err)
		}
		fmt.Printf("daemon stopped (was PID %d)\n", pid)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		running, pid, err := supervisor.IsRunning(cfg.Daemon.PIDFile)
		if err != nil {
			return fmt.Errorf("checking daemon status: %w", err)
		}
		if running {
			fmt.Printf("daemon running (PID %d)\n", pid)
		} else {
			fmt.Println("daemon not running")
		}
		return nil
	},
}

// workerBinaryPath locates the kandev-worker binary next to this one.
func workerBinaryPath() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("finding executable: %w", err)
	}
	dir := exePath[:len(exePath)-len("kandevd")]
	candidate := dir + "kandev-worker"
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	return "kandev-worker", nil
}
