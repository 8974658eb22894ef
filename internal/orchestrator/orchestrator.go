// Package orchestrator implements the agent registry, priority task queue,
// role-to-agent matching, and prompt dispatch described in spec §4.4. All
// agent-registry and task-queue mutations are funneled through a single
// actor goroutine so RPC handlers never race each other.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kandev/daemon/internal/eventbus"
	"github.com/kandev/daemon/internal/platform/apperr"
	"github.com/kandev/daemon/internal/platform/logger"
	"github.com/kandev/daemon/internal/runtime"
	"github.com/kandev/daemon/internal/store"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// TemplateResolver resolves a default AgentTemplate for a role when the
// caller of Spawn does not supply one explicitly.
type TemplateResolver interface {
	DefaultTemplate(role v1.AgentRole) v1.AgentTemplate
}

// mutation is one unit of work submitted to the actor goroutine.
type mutation struct {
	fn    func()
	reply chan struct{}
}

// Orchestrator owns every AgentInstance and the pending-task priority
// queue. Reads of the registry take the read lock on mu and return
// copies; they are not lock-free. All writes are serialised through run().
type Orchestrator struct {
	store     store.Store
	bus       eventbus.Bus
	runtimes  *runtime.Manager
	templates TemplateResolver
	log       *logger.Logger

	mu     sync.RWMutex
	agents map[string]*v1.AgentInstance

	queue *taskQueue

	requests chan mutation
	stop     chan struct{}
	stopOnce sync.Once

	captureCeiling time.Duration
}

// New constructs an Orchestrator and starts its actor goroutine and
// assignment tick loop.
func New(st store.Store, bus eventbus.Bus, rm *runtime.Manager, templates TemplateResolver, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Default()
	}
	o := &Orchestrator{
		store:          st,
		bus:            bus,
		runtimes:       rm,
		templates:      templates,
		log:            log,
		agents:         make(map[string]*v1.AgentInstance),
		queue:          newTaskQueue(0),
		requests:       make(chan mutation, 64),
		stop:           make(chan struct{}),
		captureCeiling: 10 * time.Second,
	}
	go o.run()
	go o.tickLoop()
	return o
}

func (o *Orchestrator) run() {
	for {
		select {
		case m := <-o.requests:
			m.fn()
			if m.reply != nil {
				close(m.reply)
			}
		case <-o.stop:
			return
		}
	}
}

// mutate submits fn to the actor goroutine and blocks until it has run.
func (o *Orchestrator) mutate(fn func()) {
	reply := make(chan struct{})
	o.requests <- mutation{fn: fn, reply: reply}
	<-reply
}

func (o *Orchestrator) tickLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.mutate(o.promoteSpawning)
			o.mutate(o.tryAssign)
		case <-o.stop:
			return
		}
	}
}

// Stop halts the actor and tick goroutines.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
}

func (o *Orchestrator) publish(ctx context.Context, name string, payload map[string]interface{}) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(ctx, name, payload); err != nil {
		o.log.Error("orchestrator: publish %s failed: %v", name, err)
	}
}

// snapshotAgent returns a defensive copy of the registered agent, or nil.
func (o *Orchestrator) snapshotAgent(id string) *v1.AgentInstance {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.agents[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// GetAgent returns a snapshot of the agent with id.
func (o *Orchestrator) GetAgent(id string) (*v1.AgentInstance, error) {
	a := o.snapshotAgent(id)
	if a == nil {
		return nil, apperr.NotFound("agent", id)
	}
	return a, nil
}

// ListAgents returns snapshots of every registered agent matching filter.
func (o *Orchestrator) ListAgents(filter store.AgentFilter) []*v1.AgentInstance {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*v1.AgentInstance, 0, len(o.agents))
	for _, a := range o.agents {
		if filter.Status != "" && a.State != filter.Status {
			continue
		}
		if filter.Role != "" && a.Role != filter.Role {
			continue
		}
		if filter.TeamID != "" && a.TeamID != filter.TeamID {
			continue
		}
		if filter.Runtime != "" && a.ServerID != filter.Runtime {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// Register inserts a into the in-memory registry without invoking a
// runtime call; used by the Reconciler to restore persisted agents.
func (o *Orchestrator) Register(a *v1.AgentInstance) {
	o.mutate(func() {
		o.mu.Lock()
		o.agents[a.ID] = a
		o.mu.Unlock()
	})
}

// SpawnParams are the inputs to Spawn.
type SpawnParams struct {
	Role     v1.AgentRole
	Template *v1.AgentTemplate
	Workdir  string
	RuntimeID string
	TeamID   string
	Task     *v1.Task
}

// Spawn resolves a template and runtime, calls the runtime adapter to
// create the backing process, persists and registers the new instance, and
// optionally enqueues an initial task. See spec §4.4.
func (o *Orchestrator) Spawn(ctx context.Context, p SpawnParams) (*v1.AgentInstance, error) {
	if p.Role == "" {
		return nil, apperr.Validation("role is required")
	}

	tmpl := v1.AgentTemplate{Role: p.Role}
	if p.Template != nil {
		tmpl = *p.Template
	} else if o.templates != nil {
		tmpl = o.templates.DefaultTemplate(p.Role)
	}
	if p.Workdir != "" {
		tmpl.WorkingDirectory = p.Workdir
	}

	adapter, err := o.runtimes.Select(p.RuntimeID, tmpl)
	if err != nil {
		return nil, apperr.Unavailable("%v", err)
	}

	id := uuid.NewString()
	loc, err := adapter.SpawnAgent(ctx, tmpl, tmpl.WorkingDirectory)
	if err != nil {
		return nil, apperr.Unavailable("spawn agent on runtime %s: %v", adapter.ID(), err)
	}

	now := time.Now()
	agent := &v1.AgentInstance{
		ID:             id,
		TemplateID:     tmpl.ID,
		Name:           tmpl.Name,
		Role:           p.Role,
		Provider:       tmpl.Provider,
		State:          v1.AgentSpawning,
		ServerID:       adapter.ID(),
		Location:       loc,
		TeamID:         p.TeamID,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	if err := o.store.SaveAgent(ctx, agent); err != nil {
		return nil, apperr.Internal(fmt.Errorf("persist agent: %w", err))
	}

	o.mutate(func() {
		o.mu.Lock()
		o.agents[agent.ID] = agent
		o.mu.Unlock()
	})

	o.publish(ctx, "agent.spawned", map[string]interface{}{"id": agent.ID, "role": string(agent.Role)})

	if p.Task != nil {
		p.Task.TargetRole = p.Role
		if err := o.EnqueueTask(ctx, p.Task); err != nil {
			o.log.Error("orchestrator: enqueue initial task for agent %s: %v", agent.ID, err)
		}
	}

	out := *agent
	return &out, nil
}

// Kill calls the runtime's kill primitive regardless of outcome, then
// marks the agent terminated. Idempotent: killing an unknown or already
// terminated agent succeeds.
func (o *Orchestrator) Kill(ctx context.Context, agentID string) error {
	agent := o.snapshotAgent(agentID)
	if agent == nil {
		stored, err := o.store.GetAgent(ctx, agentID)
		if err != nil {
			return nil // idempotent: nothing to kill
		}
		agent = stored
	}

	if adapter, ok := o.runtimes.Get(agent.ServerID); ok {
		if err := adapter.Kill(ctx, agent.Location); err != nil {
			o.log.Warn("orchestrator: kill agent %s on runtime %s: %v", agentID, agent.ServerID, err)
		}
	}

	agent.State = v1.AgentTerminated
	agent.CurrentTaskID = ""
	_ = o.store.SaveAgent(ctx, agent)

	o.mutate(func() {
		o.mu.Lock()
		o.agents[agentID] = agent
		o.mu.Unlock()
	})

	o.publish(ctx, "agent.terminated", map[string]interface{}{"id": agentID})
	return nil
}

// SendPrompt delivers prompt via the agent's runtime adapter. If wait is
// set, it polls capture with exponential backoff up to captureCeiling and
// returns the captured tail.
func (o *Orchestrator) SendPrompt(ctx context.Context, agentID, prompt string, wait bool) (string, error) {
	agent := o.snapshotAgent(agentID)
	if agent == nil {
		return "", apperr.NotFound("agent", agentID)
	}
	adapter, ok := o.runtimes.Get(agent.ServerID)
	if !ok {
		return "", apperr.Unavailable("runtime %s not configured", agent.ServerID)
	}

	var sendErr error
	if runtime.NeedsPaste(prompt) {
		sendErr = adapter.Paste(ctx, agent.Location, prompt)
	} else {
		sendErr = adapter.SendKeys(ctx, agent.Location, prompt)
	}
	if sendErr != nil {
		return "", apperr.Unavailable("send prompt to agent %s: %v", agentID, sendErr)
	}

	if !wait {
		return "", nil
	}

	backoff := 100 * time.Millisecond
	deadline := time.Now().Add(o.captureCeiling)
	for {
		text, err := adapter.Capture(ctx, agent.Location, 200)
		if err == nil && text != "" {
			return text, nil
		}
		if time.Now().After(deadline) {
			return text, nil
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		backoff *= 2
		if backoff > 2*time.Second {
			backoff = 2 * time.Second
		}
	}
}

// GetOutput returns the tail of the agent's terminal/log content.
func (o *Orchestrator) GetOutput(ctx context.Context, agentID string, lines int) (string, error) {
	agent := o.snapshotAgent(agentID)
	if agent == nil {
		return "", apperr.NotFound("agent", agentID)
	}
	adapter, ok := o.runtimes.Get(agent.ServerID)
	if !ok {
		return "", apperr.Unavailable("runtime %s not configured", agent.ServerID)
	}
	if lines <= 0 {
		lines = 100
	}
	return adapter.Capture(ctx, agent.Location, lines)
}

// EnqueueTask adds t to the pending-task priority queue and triggers an
// immediate assignment attempt.
func (o *Orchestrator) EnqueueTask(ctx context.Context, t *v1.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.Status = v1.TaskPending

	if err := o.store.SaveTask(ctx, t); err != nil {
		return apperr.Internal(fmt.Errorf("persist task: %w", err))
	}
	var qerr error
	o.mutate(func() {
		if qerr = o.queue.Enqueue(t); qerr == nil {
			o.tryAssign()
		}
	})
	if qerr != nil {
		return apperr.Invariant("%v", qerr)
	}
	return nil
}

// dependenciesSatisfied reports whether every task in dependsOn is
// completed, consulting the Store directly (cheap reads, no actor needed).
func (o *Orchestrator) dependenciesSatisfied(t *v1.Task) bool {
	for _, depID := range t.DependsOn {
		dep, err := o.store.GetTask(context.Background(), depID)
		if err != nil || dep.Status != v1.TaskCompleted {
			return false
		}
	}
	return true
}

// promoteSpawning runs on the actor goroutine: any agent still in the
// spawning state whose backend reports alive moves to idle. Runs before
// tryAssign each tick so a freshly spawned agent can pick up its initial
// task in the same tick it comes alive.
func (o *Orchestrator) promoteSpawning() {
	o.mu.Lock()
	var ready []*v1.AgentInstance
	for _, a := range o.agents {
		if a.State != v1.AgentSpawning {
			continue
		}
		adapter, ok := o.runtimes.Get(a.ServerID)
		if !ok || !adapter.IsAlive(context.Background(), a.Location) {
			continue
		}
		a.State = v1.AgentIdle
		ready = append(ready, a)
	}
	o.mu.Unlock()

	for _, a := range ready {
		o.publish(context.Background(), "agent.state-changed", map[string]interface{}{
			"id": a.ID, "state": string(v1.AgentIdle),
		})
	}
}

// tryAssign runs on the actor goroutine: it looks for an idle agent
// matching the head ready task's targetRole and assigns it. Must only be
// called from within run().
func (o *Orchestrator) tryAssign() {
	task := o.queue.PeekReady(o.dependenciesSatisfied)
	if task == nil {
		return
	}

	var candidate *v1.AgentInstance
	o.mu.Lock()
	for _, a := range o.agents {
		if a.State != v1.AgentIdle {
			continue
		}
		if task.TargetRole != "" && a.Role != task.TargetRole {
			continue
		}
		candidate = a
		break
	}
	if candidate != nil {
		candidate.CurrentTaskID = task.ID
		candidate.State = v1.AgentWorking
	}
	o.mu.Unlock()
	if candidate == nil {
		return
	}

	o.queue.Remove(task.ID)

	task.AssignedAgentID = candidate.ID
	task.Status = v1.TaskAssigned

	ctx := context.Background()
	_ = o.store.SaveAgent(ctx, candidate)
	_ = o.store.SaveTask(ctx, task)

	prompt := task.Description
	if task.Input != "" {
		prompt = task.Input
	}
	go func(agentID, prompt, taskID string) {
		if _, err := o.SendPrompt(context.Background(), agentID, prompt, false); err != nil {
			o.log.Error("orchestrator: dispatch prompt for task %s to agent %s: %v", taskID, agentID, err)
		}
	}(candidate.ID, prompt, task.ID)

	task.Status = v1.TaskInProgress
	_ = o.store.SaveTask(ctx, task)

	o.publish(ctx, "task.assigned", map[string]interface{}{"task_id": task.ID, "agent_id": candidate.ID})
	o.publish(ctx, "agent.state-changed", map[string]interface{}{"id": candidate.ID, "state": string(candidate.State)})
}

// CompleteTask is invoked on external signal (RPC, or a terminal-content
// detector) that an agent finished its current task.
func (o *Orchestrator) CompleteTask(ctx context.Context, taskID string, failed bool, output string) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return apperr.NotFound("task", taskID)
	}

	if failed {
		task.Status = v1.TaskFailed
	} else {
		task.Status = v1.TaskCompleted
	}
	task.Output = output
	now := time.Now()
	task.DoneAt = &now
	task.UpdatedAt = now
	if err := o.store.SaveTask(ctx, task); err != nil {
		return apperr.Internal(err)
	}

	if task.AssignedAgentID != "" {
		o.mutate(func() {
			o.mu.Lock()
			if a, ok := o.agents[task.AssignedAgentID]; ok {
				a.CurrentTaskID = ""
				a.State = v1.AgentIdle
				a.LastActivityAt = now
				_ = o.store.SaveAgent(ctx, a)
			}
			o.mu.Unlock()
		})
	}

	o.publish(ctx, "task.completed", map[string]interface{}{"task_id": taskID, "status": string(task.Status)})
	if task.AssignedAgentID != "" {
		o.publish(ctx, "agent.state-changed", map[string]interface{}{"id": task.AssignedAgentID, "state": string(v1.AgentIdle)})
	}

	if task.EffectiveToggle(v1.ToggleAutoClose, nil) && task.AssignedAgentID != "" {
		agentID := task.AssignedAgentID
		go func() {
			time.Sleep(30 * time.Second)
			_ = o.Kill(context.Background(), agentID)
		}()
	}
	return nil
}

// FanoutRun spawns count agents of role=researcher with the same prompt,
// returning the list of agent IDs (spec §4.4 fanout.run).
func (o *Orchestrator) FanoutRun(ctx context.Context, prompt string, count int, provider v1.Provider, runtimeID string) ([]string, error) {
	if count <= 0 {
		return nil, apperr.Validation("count must be positive")
	}
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		tmpl := &v1.AgentTemplate{Role: v1.RoleResearcher, Provider: provider}
		agent, err := o.Spawn(ctx, SpawnParams{Role: v1.RoleResearcher, Template: tmpl, RuntimeID: runtimeID})
		if err != nil {
			return ids, err
		}
		if _, err := o.SendPrompt(ctx, agent.ID, prompt, false); err != nil {
			o.log.Error("orchestrator: fanout prompt to agent %s: %v", agent.ID, err)
		}
		ids = append(ids, agent.ID)
	}
	return ids, nil
}
