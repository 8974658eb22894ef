// Package remoteshell implements the remote-shell Runtime Adapter: the same
// (sessionName, windowIndex, paneIndex) addressing as the local-terminal
// adapter, delivered over an SSH session built from the remote spec.
package remoteshell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/kandev/daemon/internal/runtime"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// Config carries the SSH connection parameters for one remote-shell
// runtime entry.
type Config struct {
	Host       string // "host:port"
	User       string
	Password   string // used only if KeyPEM is empty
	KeyPEM     []byte
	RemoteSpec string // label recorded on ServerIdentity.remoteSpec
}

type remoteSession struct {
	session     *ssh.Session
	stdinWriter io.WriteCloser
	mu          sync.Mutex
	buf         []byte
}

// Adapter is the SSH-backed remote-shell Runtime Adapter.
type Adapter struct {
	id       string
	cfg      Config
	client   *ssh.Client
	mu       sync.Mutex
	sessions map[string]*remoteSession
}

func key(loc v1.Location) string {
	return fmt.Sprintf("%s/%d/%d", loc.SessionName, loc.WindowIndex, loc.PaneIndex)
}

// New dials cfg.Host and returns a remote-shell adapter identified by id.
func New(id string, cfg Config) (*Adapter, error) {
	var auth []ssh.AuthMethod
	if len(cfg.KeyPEM) > 0 {
		signer, err := ssh.ParsePrivateKey(cfg.KeyPEM)
		if err != nil {
			return nil, fmt.Errorf("runtime/remoteshell: parse key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	} else {
		auth = append(auth, ssh.Password(cfg.Password))
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: accept known_hosts path via config
		Timeout:         10 * time.Second,
	}

	client, err := ssh.Dial("tcp", cfg.Host, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("runtime/remoteshell: dial %s: %w", cfg.Host, err)
	}

	return &Adapter{id: id, cfg: cfg, client: client, sessions: make(map[string]*remoteSession)}, nil
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Kind() string { return "ssh" }

func (a *Adapter) Probe(_ context.Context) runtime.Health {
	sess, err := a.client.NewSession()
	if err != nil {
		return runtime.Health{Status: runtime.HealthUnhealthy, Detail: err.Error()}
	}
	defer sess.Close()
	return runtime.Health{Status: runtime.HealthHealthy, Detail: "ssh session reachable"}
}

func providerCommand(tmpl v1.AgentTemplate) string {
	switch tmpl.Provider {
	case v1.ProviderClaude:
		return "claude"
	case v1.ProviderGemini:
		return "gemini"
	case v1.ProviderCodex:
		return "codex"
	default:
		return "bash"
	}
}

func (a *Adapter) SpawnAgent(ctx context.Context, tmpl v1.AgentTemplate, workdir string) (v1.Location, error) {
	a.mu.Lock()
	idx := len(a.sessions) + 1
	a.mu.Unlock()

	loc := v1.Location{SessionName: "kandev-remote-" + string(tmpl.Role), WindowIndex: idx, PaneIndex: 0}

	sess, err := a.client.NewSession()
	if err != nil {
		return v1.Location{}, fmt.Errorf("runtime/remoteshell: new session: %w", err)
	}
	if err := sess.RequestPty("xterm", 40, 120, ssh.TerminalModes{}); err != nil {
		sess.Close()
		return v1.Location{}, fmt.Errorf("runtime/remoteshell: request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return v1.Location{}, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return v1.Location{}, err
	}

	rs := &remoteSession{session: sess, stdinWriter: stdin}
	a.mu.Lock()
	a.sessions[key(loc)] = rs
	a.mu.Unlock()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				rs.mu.Lock()
				rs.buf = append(rs.buf, buf[:n]...)
				if len(rs.buf) > 64*1024 {
					rs.buf = rs.buf[len(rs.buf)-64*1024:]
				}
				rs.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()

	cmd := providerCommand(tmpl)
	if workdir != "" {
		cmd = fmt.Sprintf("cd %q && %s", workdir, cmd)
	}
	if err := sess.Start(cmd); err != nil {
		sess.Close()
		return v1.Location{}, fmt.Errorf("runtime/remoteshell: start: %w", err)
	}

	return loc, nil
}

func (a *Adapter) lookup(loc v1.Location) (*remoteSession, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rs, ok := a.sessions[key(loc)]
	return rs, ok
}

func (a *Adapter) SendKeys(_ context.Context, loc v1.Location, text string) error {
	rs, ok := a.lookup(loc)
	if !ok {
		return fmt.Errorf("runtime/remoteshell: no such session %s", key(loc))
	}
	_, err := rs.stdinWriter.Write([]byte(text + "\n"))
	return err
}

// Paste writes text directly to the remote pty's stdin, the SSH analogue
// of the local adapter's paste primitive.
func (a *Adapter) Paste(_ context.Context, loc v1.Location, text string) error {
	rs, ok := a.lookup(loc)
	if !ok {
		return fmt.Errorf("runtime/remoteshell: no such session %s", key(loc))
	}
	_, err := rs.stdinWriter.Write([]byte(text))
	return err
}

func (a *Adapter) Capture(_ context.Context, loc v1.Location, lineCount int) (string, error) {
	rs, ok := a.lookup(loc)
	if !ok {
		return "", nil
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return tailLines(string(rs.buf), lineCount), nil
}

func tailLines(s string, n int) string {
	if n <= 0 {
		return s
	}
	lines := bytes.Split([]byte(s), []byte("\n"))
	if len(lines) <= n {
		return s
	}
	out := lines[len(lines)-n:]
	return string(bytes.Join(out, []byte("\n")))
}

func (a *Adapter) IsAlive(_ context.Context, loc v1.Location) bool {
	_, ok := a.lookup(loc)
	return ok
}

func (a *Adapter) Kill(_ context.Context, loc v1.Location) error {
	rs, ok := a.lookup(loc)
	if !ok {
		return nil
	}
	a.mu.Lock()
	delete(a.sessions, key(loc))
	a.mu.Unlock()
	_ = rs.session.Signal(ssh.SIGTERM)
	return rs.session.Close()
}

// Close tears down the underlying SSH connection.
func (a *Adapter) Close() error {
	return a.client.Close()
}
