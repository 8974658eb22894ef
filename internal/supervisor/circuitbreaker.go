package supervisor

import (
	"sync"
	"time"
)

// CircuitBreaker enforces the supervisor's restart-rate policy: once more
// than maxRestarts child exits land inside restartWindow, restarts are
// suppressed for restartBackoff before the window resets (spec §4.1).
//
// This is a flat sliding-window variant rather than gastown's exponential
// backoff (internal/daemon/restart_tracker.go) — the supervisor's contract
// names a literal exit count and window, not a decaying multiplier.
type CircuitBreaker struct {
	maxRestarts    int
	restartWindow  time.Duration
	restartBackoff time.Duration

	mu        sync.Mutex
	exits     []time.Time
	openUntil time.Time
}

// NewCircuitBreaker constructs a breaker with the given policy.
func NewCircuitBreaker(maxRestarts int, restartWindow, restartBackoff time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxRestarts:    maxRestarts,
		restartWindow:  restartWindow,
		restartBackoff: restartBackoff,
	}
}

// RecordExit records a non-graceful child exit at now and reports whether a
// restart is permitted. Once the exit count within restartWindow exceeds
// maxRestarts, the breaker opens for restartBackoff and the window resets.
func (b *CircuitBreaker) RecordExit(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-b.restartWindow)
	kept := b.exits[:0]
	for _, t := range b.exits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	b.exits = kept

	if len(b.exits) > b.maxRestarts {
		b.openUntil = now.Add(b.restartBackoff)
		b.exits = nil
		return false
	}
	return true
}

// Open reports whether the breaker is currently suppressing restarts.
func (b *CircuitBreaker) Open(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Before(b.openUntil)
}

// Reset clears restart history and any open backoff, used after a graceful
// shutdown (graceful exits do not count toward the breaker per spec §4.1).
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exits = nil
	b.openUntil = time.Time{}
}
