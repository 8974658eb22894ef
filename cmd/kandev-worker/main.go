// Command kandev-worker is the worker process forked by kandevd. It loads
// configuration, wires every kernel component via internal/worker, and
// runs until a termination signal arrives. A reload signal (SIGHUP)
// reloads the configuration and the worker keeps running.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kandev/daemon/internal/platform/config"
	"github.com/kandev/daemon/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "kandev-worker: loading config: %v\n", err)
		os.Exit(1)
	}

	w, err := worker.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kandev-worker: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "kandev-worker: starting: %v\n", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if reloaded, err := w.Config().Reload(); err != nil {
				fmt.Fprintf(os.Stderr, "kandev-worker: reload failed: %v\n", err)
			} else {
				*w.Config() = *reloaded
			}
			continue
		}
		break
	}

	shutdownCtx := context.Background()
	if err := w.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "kandev-worker: shutdown: %v\n", err)
		os.Exit(1)
	}
}
