// Package pod implements the pod Runtime Adapter over the Kubernetes REST
// API directly, rather than depending on client-go, keeping the adapter's
// footprint small since the daemon only needs exec/logs/delete primitives
// against a single namespace.
package pod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kandev/daemon/internal/runtime"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// Config carries the pod runtime's connection details.
type Config struct {
	APIServer string // base URL, e.g. https://10.0.0.1:6443
	Token     string // bearer token
	Namespace string
	Image     string
	client    *http.Client
}

// Adapter is the pod Runtime Adapter; location is (podName, namespace).
type Adapter struct {
	id  string
	cfg Config
}

// New constructs a pod adapter identified by id.
func New(id string, cfg Config) *Adapter {
	if cfg.client == nil {
		cfg.client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	return &Adapter{id: id, cfg: cfg}
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Kind() string { return "k8s" }

func (a *Adapter) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.cfg.APIServer+path, body)
	if err != nil {
		return nil, err
	}
	if a.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.cfg.client.Do(req)
}

func (a *Adapter) Probe(ctx context.Context) runtime.Health {
	start := time.Now()
	resp, err := a.do(ctx, http.MethodGet, "/healthz", nil)
	lat := time.Since(start)
	if err != nil {
		return runtime.Health{Status: runtime.HealthUnhealthy, Detail: err.Error(), Latency: lat}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return runtime.Health{Status: runtime.HealthDegraded, Detail: fmt.Sprintf("apiserver returned %d", resp.StatusCode), Latency: lat}
	}
	return runtime.Health{Status: runtime.HealthHealthy, Detail: "apiserver reachable", Latency: lat}
}

type podSpec struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
	Metadata   struct {
		Name      string `json:"name"`
		Namespace string `json:"namespace"`
	} `json:"metadata"`
	Spec struct {
		Containers []podContainer `json:"containers"`
	} `json:"spec"`
}

type podContainer struct {
	Name       string   `json:"name"`
	Image      string   `json:"image"`
	Command    []string `json:"command,omitempty"`
	WorkingDir string   `json:"workingDir,omitempty"`
	Env        []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"env,omitempty"`
	TTY   bool `json:"tty"`
	Stdin bool `json:"stdin"`
}

func providerCommand(tmpl v1.AgentTemplate) []string {
	switch tmpl.Provider {
	case v1.ProviderClaude:
		return []string{"claude"}
	case v1.ProviderGemini:
		return []string{"gemini"}
	case v1.ProviderCodex:
		return []string{"codex"}
	default:
		return []string{"bash"}
	}
}

func (a *Adapter) SpawnAgent(ctx context.Context, tmpl v1.AgentTemplate, workdir string) (v1.Location, error) {
	image := a.cfg.Image
	if image == "" {
		image = "kandev/agent-runtime:latest"
	}
	name := fmt.Sprintf("kandev-agent-%d", time.Now().UnixNano())

	spec := podSpec{APIVersion: "v1", Kind: "Pod"}
	spec.Metadata.Name = name
	spec.Metadata.Namespace = a.cfg.Namespace
	pc := podContainer{Name: "agent", Image: image, Command: providerCommand(tmpl), WorkingDir: workdir, TTY: true, Stdin: true}
	for k, v := range tmpl.Env {
		pc.Env = append(pc.Env, struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		}{Name: k, Value: v})
	}
	spec.Spec.Containers = []podContainer{pc}

	data, err := json.Marshal(spec)
	if err != nil {
		return v1.Location{}, err
	}

	path := fmt.Sprintf("/api/v1/namespaces/%s/pods", a.cfg.Namespace)
	resp, err := a.do(ctx, http.MethodPost, path, bytes.NewReader(data))
	if err != nil {
		return v1.Location{}, fmt.Errorf("runtime/pod: create pod: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return v1.Location{}, fmt.Errorf("runtime/pod: create pod: status %d: %s", resp.StatusCode, string(body))
	}

	return v1.Location{PodName: name, Namespace: a.cfg.Namespace}, nil
}

func (a *Adapter) SendKeys(ctx context.Context, loc v1.Location, text string) error {
	return a.execStdin(ctx, loc, text+"\n")
}

func (a *Adapter) Paste(ctx context.Context, loc v1.Location, text string) error {
	return a.execStdin(ctx, loc, text)
}

// execStdin posts to the pod's attach/exec subresource with the given
// stdin payload, rather than interpolating text into an exec command line.
func (a *Adapter) execStdin(ctx context.Context, loc v1.Location, payload string) error {
	path := fmt.Sprintf("/api/v1/namespaces/%s/pods/%s/exec?container=agent&stdin=true&command=sh",
		loc.Namespace, loc.PodName)
	resp, err := a.do(ctx, http.MethodPost, path, bytes.NewReader([]byte(payload)))
	if err != nil {
		return fmt.Errorf("runtime/pod: exec stdin: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

func (a *Adapter) Capture(ctx context.Context, loc v1.Location, lineCount int) (string, error) {
	path := fmt.Sprintf("/api/v1/namespaces/%s/pods/%s/log?container=agent&tailLines=%d",
		loc.Namespace, loc.PodName, lineCount)
	resp, err := a.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", nil
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return string(data), nil
}

func (a *Adapter) IsAlive(ctx context.Context, loc v1.Location) bool {
	path := fmt.Sprintf("/api/v1/namespaces/%s/pods/%s", loc.Namespace, loc.PodName)
	resp, err := a.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (a *Adapter) Kill(ctx context.Context, loc v1.Location) error {
	path := fmt.Sprintf("/api/v1/namespaces/%s/pods/%s", loc.Namespace, loc.PodName)
	resp, err := a.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return nil // idempotent
	}
	resp.Body.Close()
	return nil
}
