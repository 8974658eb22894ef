// Package local implements the local-terminal Runtime Adapter, addressing
// agents by a (sessionName, windowIndex, paneIndex) triple over an
// in-process table of real PTYs. One PTY backs each logical pane, which
// keeps the adapter testable without depending on a system tmux binary
// while preserving the location triple's shape.
package local

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/kandev/daemon/internal/runtime"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

type pane struct {
	cmd    *exec.Cmd
	file   *ptyFile
	mu     sync.Mutex
	buf    []byte
	maxBuf int
}

// ptyFile narrows the pty handle to what this adapter needs, so tests can
// substitute a fake.
type ptyFile struct {
	f interface {
		Write([]byte) (int, error)
		Read([]byte) (int, error)
		Close() error
	}
}

// Adapter is the local-terminal Runtime Adapter.
type Adapter struct {
	id    string
	mu    sync.Mutex
	panes map[string]*pane // "session/window/pane" -> pane
	seq   int
}

// New constructs a local-terminal adapter identified by id.
func New(id string) *Adapter {
	return &Adapter{id: id, panes: make(map[string]*pane)}
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Kind() string { return "local-tmux" }

func key(loc v1.Location) string {
	return fmt.Sprintf("%s/%d/%d", loc.SessionName, loc.WindowIndex, loc.PaneIndex)
}

func (a *Adapter) Probe(_ context.Context) runtime.Health {
	return runtime.Health{Status: runtime.HealthHealthy, Detail: "local pty backend"}
}

func (a *Adapter) SpawnAgent(ctx context.Context, tmpl v1.AgentTemplate, workdir string) (v1.Location, error) {
	a.mu.Lock()
	a.seq++
	idx := a.seq
	a.mu.Unlock()

	loc := v1.Location{SessionName: "kandev-" + string(tmpl.Role), WindowIndex: idx, PaneIndex: 0}

	cmdName, args := providerCommand(tmpl)
	cmd := exec.CommandContext(ctx, cmdName, args...)
	if workdir != "" {
		cmd.Dir = workdir
	}
	for k, v := range tmpl.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	f, err := pty.Start(cmd)
	if err != nil {
		return v1.Location{}, fmt.Errorf("runtime/local: spawn: %w", err)
	}

	p := &pane{cmd: cmd, file: &ptyFile{f: f}, maxBuf: 64 * 1024}

	a.mu.Lock()
	a.panes[key(loc)] = p
	a.mu.Unlock()

	go p.drain()

	return loc, nil
}

func providerCommand(tmpl v1.AgentTemplate) (string, []string) {
	switch tmpl.Provider {
	case v1.ProviderClaude:
		return "claude", nil
	case v1.ProviderGemini:
		return "gemini", nil
	case v1.ProviderCodex:
		return "codex", nil
	default:
		return "bash", nil
	}
}

func (p *pane) drain() {
	buf := make([]byte, 4096)
	for {
		n, err := p.file.f.Read(buf)
		if n > 0 {
			p.mu.Lock()
			p.buf = append(p.buf, buf[:n]...)
			if len(p.buf) > p.maxBuf {
				p.buf = p.buf[len(p.buf)-p.maxBuf:]
			}
			p.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (a *Adapter) lookup(loc v1.Location) (*pane, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.panes[key(loc)]
	return p, ok
}

func (a *Adapter) SendKeys(_ context.Context, loc v1.Location, text string) error {
	p, ok := a.lookup(loc)
	if !ok {
		return fmt.Errorf("runtime/local: no such pane %s", key(loc))
	}
	_, err := p.file.f.Write([]byte(text + "\n"))
	return err
}

func (a *Adapter) Paste(ctx context.Context, loc v1.Location, text string) error {
	// A real tmux backend would use `tmux load-buffer`/`paste-buffer`; the
	// in-process PTY has no separate paste buffer, so writing the raw
	// bytes directly already avoids shell interpolation.
	p, ok := a.lookup(loc)
	if !ok {
		return fmt.Errorf("runtime/local: no such pane %s", key(loc))
	}
	_, err := p.file.f.Write([]byte(text))
	return err
}

func (a *Adapter) Capture(_ context.Context, loc v1.Location, lineCount int) (string, error) {
	p, ok := a.lookup(loc)
	if !ok {
		return "", nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return tailLines(string(p.buf), lineCount), nil
}

func tailLines(s string, lineCount int) string {
	if lineCount <= 0 {
		return s
	}
	lines := splitLines(s)
	if len(lines) <= lineCount {
		return s
	}
	start := len(lines) - lineCount
	out := ""
	for i, l := range lines[start:] {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

func (a *Adapter) IsAlive(_ context.Context, loc v1.Location) bool {
	p, ok := a.lookup(loc)
	if !ok {
		return false
	}
	if p.cmd.ProcessState != nil {
		return false
	}
	return p.cmd.Process != nil
}

func (a *Adapter) Kill(_ context.Context, loc v1.Location) error {
	p, ok := a.lookup(loc)
	if !ok {
		return nil // idempotent
	}
	a.mu.Lock()
	delete(a.panes, key(loc))
	a.mu.Unlock()

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.file.f.Close()

	done := make(chan struct{})
	go func() { p.cmd.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
	}
	return nil
}
