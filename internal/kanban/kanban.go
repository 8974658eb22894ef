// Package kanban implements the SwimLane/Task model: CRUD, toggle
// inheritance stamping and resolution, and column<->status coupling, per
// spec §4.5.
package kanban

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kandev/daemon/internal/eventbus"
	"github.com/kandev/daemon/internal/platform/apperr"
	"github.com/kandev/daemon/internal/platform/logger"
	"github.com/kandev/daemon/internal/store"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// TaskStarter is the narrow interface the Kanban model uses to hand a task
// to the Orchestrator without depending on its package, preserving the
// dependency order from spec §9 (Kanban holds Tasks, Orchestrator reads the
// queue but does not know about Kanban).
type TaskStarter interface {
	EnqueueTask(ctx context.Context, t *v1.Task) error
}

// Model owns SwimLanes and Tasks.
type Model struct {
	store   store.Store
	bus     eventbus.Bus
	starter TaskStarter
	log     *logger.Logger
}

// New constructs a Kanban Model.
func New(st store.Store, bus eventbus.Bus, starter TaskStarter, log *logger.Logger) *Model {
	if log == nil {
		log = logger.Default()
	}
	return &Model{store: st, bus: bus, starter: starter, log: log}
}

func (m *Model) publish(ctx context.Context, name string, payload map[string]interface{}) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, name, payload); err != nil {
		m.log.Error("kanban: publish %s failed: %v", name, err)
	}
}

// CreateLane persists a new SwimLane.
func (m *Model) CreateLane(ctx context.Context, l *v1.SwimLane) (*v1.SwimLane, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	if err := m.store.SaveLane(ctx, l); err != nil {
		return nil, apperr.Internal(err)
	}
	m.publish(ctx, "kanban.lane.created", map[string]interface{}{"id": l.ID})
	return l, nil
}

// EditLane persists changes to an existing lane. Changing defaultToggles
// never mutates already-stamped tasks (spec §4.5): stamping happens only at
// task creation.
func (m *Model) EditLane(ctx context.Context, l *v1.SwimLane) (*v1.SwimLane, error) {
	if _, err := m.store.GetLane(ctx, l.ID); err != nil {
		return nil, apperr.NotFound("lane", l.ID)
	}
	if err := m.store.SaveLane(ctx, l); err != nil {
		return nil, apperr.Internal(err)
	}
	m.publish(ctx, "kanban.lane.edited", map[string]interface{}{"id": l.ID})
	return l, nil
}

// DeleteLane removes a SwimLane. Tasks referencing it keep their stamped
// toggles; only the read-time resolver fallback for unset toggles is lost.
func (m *Model) DeleteLane(ctx context.Context, id string) error {
	if err := m.store.DeleteLane(ctx, id); err != nil {
		return apperr.Internal(err)
	}
	m.publish(ctx, "kanban.lane.deleted", map[string]interface{}{"id": id})
	return nil
}

// ListLanes returns every configured SwimLane.
func (m *Model) ListLanes(ctx context.Context) ([]*v1.SwimLane, error) {
	lanes, err := m.store.ListLanes(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return lanes, nil
}

// stampToggles fills every unset toggle on t from lane.DefaultToggles at
// creation time, per spec §4.5's "stamped only for toggles left unset".
func stampToggles(t *v1.Task, lane *v1.SwimLane) {
	if lane == nil {
		return
	}
	if t.Toggles == nil {
		t.Toggles = v1.ToggleSet{}
	}
	for _, name := range v1.AllToggles {
		if t.Toggles.Get(name) != v1.ToggleUnset {
			continue
		}
		if v := lane.DefaultToggles.Get(name); v != v1.ToggleUnset {
			t.Toggles[name] = v
		}
	}
}

// CreateTask validates dependsOn against cycles, stamps lane-default
// toggles, and persists the new Task.
func (m *Model) CreateTask(ctx context.Context, t *v1.Task) (*v1.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.KanbanColumn == "" {
		t.KanbanColumn = v1.ColumnBacklog
	}
	if t.Status == "" {
		t.Status = v1.TaskPending
	}

	if len(t.DependsOn) > 0 {
		if err := m.checkAcyclic(ctx, t.ID, t.DependsOn); err != nil {
			return nil, err
		}
	}

	if t.SwimLaneID != "" {
		lane, err := m.store.GetLane(ctx, t.SwimLaneID)
		if err == nil {
			stampToggles(t, lane)
		}
	}

	if err := m.store.SaveTask(ctx, t); err != nil {
		return nil, apperr.Internal(err)
	}
	m.publish(ctx, "task.created", map[string]interface{}{"id": t.ID})
	return t, nil
}

// checkAcyclic walks the dependency graph from each of newDeps and fails if
// any path reaches taskID, which would close a cycle.
func (m *Model) checkAcyclic(ctx context.Context, taskID string, newDeps []string) error {
	visited := map[string]bool{}
	var walk func(id string) error
	walk = func(id string) error {
		if id == taskID {
			return apperr.Invariant("dependsOn would introduce a cycle through %s", id)
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		dep, err := m.store.GetTask(ctx, id)
		if err != nil {
			return nil // unknown dependency is not this function's concern
		}
		for _, next := range dep.DependsOn {
			if err := walk(next); err != nil {
				return err
			}
		}
		return nil
	}
	for _, d := range newDeps {
		if err := walk(d); err != nil {
			return err
		}
	}
	return nil
}

// GetTask returns the task with id.
func (m *Model) GetTask(ctx context.Context, id string) (*v1.Task, error) {
	t, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, apperr.NotFound("task", id)
	}
	return t, nil
}

// ListTasks returns every task, optionally filtered by swim lane.
func (m *Model) ListTasks(ctx context.Context, swimLaneID string) ([]*v1.Task, error) {
	tasks, err := m.store.ListTasks(ctx, swimLaneID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return tasks, nil
}

// UpdateTask persists arbitrary field changes to an existing task.
func (m *Model) UpdateTask(ctx context.Context, t *v1.Task) (*v1.Task, error) {
	if _, err := m.store.GetTask(ctx, t.ID); err != nil {
		return nil, apperr.NotFound("task", t.ID)
	}
	t.UpdatedAt = time.Now()
	if err := m.store.SaveTask(ctx, t); err != nil {
		return nil, apperr.Internal(err)
	}
	m.publish(ctx, "task.updated", map[string]interface{}{"id": t.ID})
	return t, nil
}

// DeleteTask removes a task.
func (m *Model) DeleteTask(ctx context.Context, id string) error {
	if err := m.store.DeleteTask(ctx, id); err != nil {
		return apperr.Internal(err)
	}
	m.publish(ctx, "task.deleted", map[string]interface{}{"id": id})
	return nil
}

// MoveTask implements the column<->status coupling from spec §4.5: moving
// to done forces status into {completed, failed}; moving away from done
// forces status=pending and clears assignedAgentId; moving to in_progress
// triggers assignment if an agent is available.
func (m *Model) MoveTask(ctx context.Context, taskID string, column v1.KanbanColumn) (*v1.Task, error) {
	t, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, apperr.NotFound("task", taskID)
	}
	prevColumn := t.KanbanColumn
	t.KanbanColumn = column
	t.UpdatedAt = time.Now()

	switch column {
	case v1.ColumnDone:
		if t.Status != v1.TaskCompleted && t.Status != v1.TaskFailed {
			if t.Status == v1.TaskCancelled {
				t.Status = v1.TaskFailed
			} else {
				t.Status = v1.TaskCompleted
			}
		}
		now := time.Now()
		t.DoneAt = &now
	default:
		if prevColumn == v1.ColumnDone {
			t.Status = v1.TaskPending
			t.AssignedAgentID = ""
			t.DoneAt = nil
		}
	}

	if err := m.store.SaveTask(ctx, t); err != nil {
		return nil, apperr.Internal(err)
	}
	m.publish(ctx, "task.moved", map[string]interface{}{"id": taskID, "column": string(column)})

	if column == v1.ColumnInProgress && m.starter != nil && t.AssignedAgentID == "" {
		if err := m.starter.EnqueueTask(ctx, t); err != nil {
			m.log.Error("kanban: enqueue task %s on move to in_progress: %v", taskID, err)
		}
	}
	return t, nil
}

// StartTask moves a task to in_progress and hands it to the Orchestrator.
func (m *Model) StartTask(ctx context.Context, taskID string) (*v1.Task, error) {
	return m.MoveTask(ctx, taskID, v1.ColumnInProgress)
}

// StopTask moves a task back to todo and cancels its assignment.
func (m *Model) StopTask(ctx context.Context, taskID string) (*v1.Task, error) {
	t, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, apperr.NotFound("task", taskID)
	}
	t.KanbanColumn = v1.ColumnTodo
	t.Status = v1.TaskPending
	t.AssignedAgentID = ""
	t.UpdatedAt = time.Now()
	if err := m.store.SaveTask(ctx, t); err != nil {
		return nil, apperr.Internal(err)
	}
	m.publish(ctx, "task.moved", map[string]interface{}{"id": taskID, "column": string(v1.ColumnTodo)})
	return t, nil
}

// GetBoard groups every task for swimLaneID by its Kanban column.
func (m *Model) GetBoard(ctx context.Context, swimLaneID string) (map[v1.KanbanColumn][]*v1.Task, error) {
	tasks, err := m.store.ListTasks(ctx, swimLaneID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	board := map[v1.KanbanColumn][]*v1.Task{
		v1.ColumnBacklog: {}, v1.ColumnTodo: {}, v1.ColumnInProgress: {},
		v1.ColumnInReview: {}, v1.ColumnDone: {},
	}
	for _, t := range tasks {
		board[t.KanbanColumn] = append(board[t.KanbanColumn], t)
	}
	return board, nil
}

// EffectiveToggle resolves toggle for taskID, consulting its lane if one
// is set.
func (m *Model) EffectiveToggle(ctx context.Context, taskID string, name v1.ToggleName) (bool, error) {
	t, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return false, apperr.NotFound("task", taskID)
	}
	var lane *v1.SwimLane
	if t.SwimLaneID != "" {
		lane, _ = m.store.GetLane(ctx, t.SwimLaneID)
	}
	return t.EffectiveToggle(name, lane), nil
}
