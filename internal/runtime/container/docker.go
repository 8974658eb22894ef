// Package container implements the container Runtime Adapter on top of the
// Docker Engine API, grounded on the teacher's internal/agent/docker client
// wrapper.
package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/kandev/daemon/internal/runtime"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// Adapter is the Docker-backed Runtime Adapter; location is a container ID.
type Adapter struct {
	id     string
	cli    *client.Client
	image  string
}

// Config carries the Docker-specific options for this runtime entry.
type Config struct {
	Host  string // empty uses the environment default
	Image string // default image for spawned agent containers
}

// New constructs a Docker adapter identified by id.
func New(id string, cfg Config) (*Adapter, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("runtime/container: new docker client: %w", err)
	}
	img := cfg.Image
	if img == "" {
		img = "kandev/agent-runtime:latest"
	}
	return &Adapter{id: id, cli: cli, image: img}, nil
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Kind() string { return "docker" }

func (a *Adapter) Probe(ctx context.Context) runtime.Health {
	start := time.Now()
	_, err := a.cli.Ping(ctx)
	lat := time.Since(start)
	if err != nil {
		return runtime.Health{Status: runtime.HealthUnhealthy, Detail: err.Error(), Latency: lat}
	}
	return runtime.Health{Status: runtime.HealthHealthy, Detail: "docker daemon reachable", Latency: lat}
}

func (a *Adapter) ensureImage(ctx context.Context) error {
	reader, err := a.cli.ImagePull(ctx, a.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("runtime/container: pull image %s: %w", a.image, err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func (a *Adapter) SpawnAgent(ctx context.Context, tmpl v1.AgentTemplate, workdir string) (v1.Location, error) {
	if err := a.ensureImage(ctx); err != nil {
		return v1.Location{}, err
	}

	env := make([]string, 0, len(tmpl.Env))
	for k, v := range tmpl.Env {
		env = append(env, k+"="+v)
	}

	cmd, args := providerCommand(tmpl)

	containerCfg := &container.Config{
		Image:      a.image,
		Env:        env,
		Cmd:        append([]string{cmd}, args...),
		WorkingDir: workdir,
		Tty:        true,
		OpenStdin:  true,
	}

	resp, err := a.cli.ContainerCreate(ctx, containerCfg, &container.HostConfig{AutoRemove: false}, nil, nil, "")
	if err != nil {
		return v1.Location{}, fmt.Errorf("runtime/container: create: %w", err)
	}
	if err := a.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return v1.Location{}, fmt.Errorf("runtime/container: start: %w", err)
	}

	return v1.Location{ContainerID: resp.ID}, nil
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

func (a *Adapter) SendKeys(ctx context.Context, loc v1.Location, text string) error {
	return a.exec(ctx, loc.ContainerID, []string{"sh", "-c", "printf '%s\\n' " + shellQuote(text) + " >/proc/1/fd/0"})
}

// Paste writes text to a temp file inside the container and cats it into
// the agent's stdin, avoiding shell interpolation of arbitrary content.
func (a *Adapter) Paste(ctx context.Context, loc v1.Location, text string) error {
	execResp, err := a.cli.ContainerExecCreate(ctx, loc.ContainerID, container.ExecOptions{
		Cmd:          []string{"sh", "-c", "cat > /tmp/kandev_paste && cat /tmp/kandev_paste >/proc/1/fd/0"},
		AttachStdin:  true,
		AttachStdout: true,
	})
	if err != nil {
		return fmt.Errorf("runtime/container: exec create: %w", err)
	}
	hijacked, err := a.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("runtime/container: exec attach: %w", err)
	}
	defer hijacked.Close()
	_, err = hijacked.Conn.Write([]byte(text))
	return err
}

func shellQuote(s string) string {
	return "'" + bytesReplaceAll(s, "'", "'\\''") + "'"
}

func bytesReplaceAll(s, old, new string) string {
	var buf bytes.Buffer
	for i := 0; i < len(s); {
		if i+len(old) <= len(s) && s[i:i+len(old)] == old {
			buf.WriteString(new)
			i += len(old)
			continue
		}
		buf.WriteByte(s[i])
		i++
	}
	return buf.String()
}

func (a *Adapter) exec(ctx context.Context, containerID string, cmd []string) error {
	execResp, err := a.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{Cmd: cmd})
	if err != nil {
		return fmt.Errorf("runtime/container: exec create: %w", err)
	}
	return a.cli.ContainerExecStart(ctx, execResp.ID, container.ExecStartOptions{})
}

func (a *Adapter) Capture(ctx context.Context, loc v1.Location, lineCount int) (string, error) {
	out, err := a.cli.ContainerLogs(ctx, loc.ContainerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", lineCount),
	})
	if err != nil {
		return "", nil
	}
	defer out.Close()
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, out)
	return buf.String(), nil
}

func (a *Adapter) IsAlive(ctx context.Context, loc v1.Location) bool {
	info, err := a.cli.ContainerInspect(ctx, loc.ContainerID)
	if err != nil {
		return false
	}
	return info.State != nil && info.State.Running
}

func (a *Adapter) Kill(ctx context.Context, loc v1.Location) error {
	timeout := 5
	_ = a.cli.ContainerStop(ctx, loc.ContainerID, container.StopOptions{Timeout: &timeout})
	_ = a.cli.ContainerRemove(ctx, loc.ContainerID, container.RemoveOptions{Force: true})
	return nil
}
