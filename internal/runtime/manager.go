package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kandev/daemon/internal/platform/logger"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// Manager holds one Adapter per configured runtime ID and maintains a
// health cache refreshed by a periodic probe loop.
type Manager struct {
	mu          sync.RWMutex
	adapters    map[string]Adapter
	health      map[string]Health
	defaultID   string
	log         *logger.Logger
	probeEvery  time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewManager constructs a Manager with the given adapters (keyed by ID) and
// starts its health-probe loop at probeEvery (clamped to a 1s minimum).
func NewManager(adapters map[string]Adapter, defaultID string, probeEvery time.Duration, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	if probeEvery < time.Second {
		probeEvery = time.Second
	}
	m := &Manager{
		adapters:   adapters,
		health:     make(map[string]Health, len(adapters)),
		defaultID:  defaultID,
		log:        log,
		probeEvery: probeEvery,
		stop:       make(chan struct{}),
	}
	for id := range adapters {
		m.health[id] = Health{Status: HealthDegraded, Detail: "not yet probed"}
	}
	go m.probeLoop()
	return m
}

func (m *Manager) probeLoop() {
	m.probeAll()
	ticker := time.NewTicker(m.probeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.probeAll()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) probeAll() {
	m.mu.RLock()
	adapters := make(map[string]Adapter, len(m.adapters))
	for id, a := range m.adapters {
		adapters[id] = a
	}
	m.mu.RUnlock()

	for id, a := range adapters {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		h := a.Probe(ctx)
		cancel()
		m.mu.Lock()
		m.health[id] = h
		m.mu.Unlock()
		if h.Status != HealthHealthy {
			m.log.Warn("runtime %s probe status=%s detail=%s", id, h.Status, h.Detail)
		}
	}
}

// Stop halts the probe loop.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Get returns the adapter for id.
func (m *Manager) Get(id string) (Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[id]
	return a, ok
}

// Health returns the cached health for id.
func (m *Manager) Health(id string) (Health, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.health[id]
	return h, ok
}

// AllHealth returns a snapshot of the full health cache, for daemon.health.
func (m *Manager) AllHealth() map[string]Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Health, len(m.health))
	for k, v := range m.health {
		out[k] = v
	}
	return out
}

// Add registers a new adapter at runtime (runtime.add RPC method).
func (m *Manager) Add(a Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[a.ID()] = a
	m.health[a.ID()] = Health{Status: HealthDegraded, Detail: "not yet probed"}
}

// Remove unregisters an adapter (runtime.remove RPC method).
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.adapters, id)
	delete(m.health, id)
}

// List returns the IDs of every configured adapter.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.adapters))
	for id := range m.adapters {
		out = append(out, id)
	}
	return out
}

// Select resolves which adapter to use for a new spawn, following
// §4.7's precedence: explicit runtimeId -> template's preferred server ->
// configured default -> first healthy.
func (m *Manager) Select(explicit string, tmpl v1.AgentTemplate) (Adapter, error) {
	if explicit != "" {
		if a, ok := m.Get(explicit); ok {
			return a, nil
		}
		return nil, fmt.Errorf("runtime: no such runtime %q", explicit)
	}
	if tmpl.PreferredServer != "" {
		if a, ok := m.Get(tmpl.PreferredServer); ok {
			return a, nil
		}
	}
	if m.defaultID != "" {
		if a, ok := m.Get(m.defaultID); ok {
			return a, nil
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, a := range m.adapters {
		if h, ok := m.health[id]; ok && h.Status == HealthHealthy {
			return a, nil
		}
	}
	return nil, fmt.Errorf("runtime: no healthy runtime available")
}
