// Package runtime defines the Runtime Adapter contract (probe, spawnAgent,
// sendKeys, capture, kill, isAlive) and the Runtime Manager that holds one
// adapter per configured runtime ID.
package runtime

import (
	"context"
	"time"

	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// HealthStatus is the outcome of Adapter.Probe.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Health is the detailed result of a probe.
type Health struct {
	Status  HealthStatus
	Detail  string
	Latency time.Duration
}

// Adapter abstracts one execution backend. Every method takes a context
// whose deadline bounds the call; on deadline expiry the adapter must
// return a timeout error rather than block.
//
// Probe never returns an error: backend unreachability is reported as
// HealthUnhealthy, not as a Go error, so the health-probe loop can run
// unconditionally.
type Adapter interface {
	ID() string
	Kind() string // local-tmux|docker|k8s|ssh

	Probe(ctx context.Context) Health
	SpawnAgent(ctx context.Context, tmpl v1.AgentTemplate, workdir string) (v1.Location, error)
	SendKeys(ctx context.Context, loc v1.Location, text string) error
	// Paste delivers multi-line or special-character text via the
	// backend's own paste primitive rather than shell-interpolating it.
	Paste(ctx context.Context, loc v1.Location, text string) error
	Capture(ctx context.Context, loc v1.Location, lineCount int) (string, error)
	IsAlive(ctx context.Context, loc v1.Location) bool
	Kill(ctx context.Context, loc v1.Location) error
}

// NeedsPaste reports whether text must go through Paste rather than
// SendKeys, per the "ad-hoc shell-quoting of prompts" re-architecture:
// anything with a newline or shell-special character uses the backend's
// buffer/paste primitive.
func NeedsPaste(text string) bool {
	for _, r := range text {
		switch r {
		case '\n', '\r', '`', '$', '"', '\'', '\\', ';', '|', '&':
			return true
		}
	}
	return false
}
