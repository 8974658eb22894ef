// Package v1 defines the wire-level data model shared by every component of
// the daemon: the Orchestrator, the Kanban model, the Pipeline Engine, the
// Runtime Manager, the Store, and the RPC Router. Types here are plain data;
// behavior (toggle resolution, column transitions, DAG scheduling) lives in
// the owning component's package.
package v1

import "time"

// ServerIdentity identifies the daemon process (local) or a remote peer
// fronted through a remote-shell runtime.
type ServerIdentity struct {
	ID         string `json:"id"` // "local" or "remote:<label>"
	Label      string `json:"label"`
	IsLocal    bool   `json:"is_local"`
	RemoteSpec string `json:"remote_spec,omitempty"`
}

// AgentRole is the functional role an Agent Template / Instance plays.
type AgentRole string

const (
	RoleCoder      AgentRole = "coder"
	RoleReviewer   AgentRole = "reviewer"
	RoleTester     AgentRole = "tester"
	RoleDevOps     AgentRole = "devops"
	RoleResearcher AgentRole = "researcher"
	RoleCustom     AgentRole = "custom"
)

// Provider identifies the AI CLI tool an agent wraps.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderGemini Provider = "gemini"
	ProviderCodex  Provider = "codex"
)

// AgentTemplate is pure configuration: it is never itself a runnable process.
type AgentTemplate struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Role             AgentRole         `json:"role"`
	Provider         Provider          `json:"provider"`
	SystemPrompt     string            `json:"system_prompt,omitempty"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	PreferredServer  string            `json:"preferred_server,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
}

// AgentState is the lifecycle state of an Agent Instance.
type AgentState string

const (
	AgentSpawning   AgentState = "spawning"
	AgentIdle       AgentState = "idle"
	AgentWorking    AgentState = "working"
	AgentError      AgentState = "error"
	AgentCompleted  AgentState = "completed"
	AgentTerminated AgentState = "terminated"
)

// Location is the backend-specific handle identifying where an agent lives.
// Exactly one of the fields is populated, depending on the runtime kind.
type Location struct {
	// Local-terminal / remote-shell triple.
	SessionName string `json:"session_name,omitempty"`
	WindowIndex int    `json:"window_index,omitempty"`
	PaneIndex   int    `json:"pane_index,omitempty"`

	// Container runtime.
	ContainerID string `json:"container_id,omitempty"`

	// Pod runtime.
	PodName   string `json:"pod_name,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// AgentInstance is a running (or terminated) instance of an AgentTemplate.
//
// Invariants:
//   - State == AgentWorking implies CurrentTaskID != "".
//   - State in {AgentTerminated, AgentCompleted} implies CurrentTaskID == "".
//   - An instance owns its Location exclusively for its lifetime.
type AgentInstance struct {
	ID                string     `json:"id"`
	TemplateID        string     `json:"template_id"`
	Name              string     `json:"name"`
	Role              AgentRole  `json:"role"`
	Provider          Provider   `json:"provider"`
	State             AgentState `json:"state"`
	ServerID          string     `json:"server_id"`
	Location          Location   `json:"location"`
	TeamID            string     `json:"team_id,omitempty"`
	CurrentTaskID     string     `json:"current_task_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	LastActivityAt    time.Time  `json:"last_activity_at"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	LastOutputSnippet string     `json:"last_output_snippet,omitempty"`
}

// Toggle is a tri-state behavioural flag. The zero value is Unset.
type Toggle int

const (
	ToggleUnset Toggle = iota
	ToggleTrue
	ToggleFalse
)

// Resolve returns the effective bool value of the toggle given a fallback
// (typically the lane default, or false if there is no lane).
func (t Toggle) Resolve(fallback bool) bool {
	switch t {
	case ToggleTrue:
		return true
	case ToggleFalse:
		return false
	default:
		return fallback
	}
}

// ToggleName enumerates the behavioural toggles a Task or SwimLane carries.
type ToggleName string

const (
	ToggleAutoStart  ToggleName = "autoStart"
	ToggleAutoPilot  ToggleName = "autoPilot"
	ToggleAutoClose  ToggleName = "autoClose"
	ToggleUseWorktree ToggleName = "useWorktree"
	ToggleUseMemory  ToggleName = "useMemory"
)

// AllToggles is the fixed set of toggle names the system understands.
var AllToggles = []ToggleName{
	ToggleAutoStart, ToggleAutoPilot, ToggleAutoClose, ToggleUseWorktree, ToggleUseMemory,
}

// ToggleSet is a sparse map of toggle name to tri-state value, used on both
// Task and SwimLane.defaultToggles.
type ToggleSet map[ToggleName]Toggle

// Get returns ToggleUnset for a toggle that has no explicit entry.
func (s ToggleSet) Get(name ToggleName) Toggle {
	if s == nil {
		return ToggleUnset
	}
	return s[name]
}

// Clone returns a shallow copy safe to mutate independently.
func (s ToggleSet) Clone() ToggleSet {
	out := make(ToggleSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// SwimLane groups tasks sharing a workspace, provider, and default toggles.
type SwimLane struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	ServerID            string    `json:"server_id"`
	WorkingDirectory    string    `json:"working_directory"`
	SessionName         string    `json:"session_name"`
	Provider            Provider  `json:"provider,omitempty"`
	Model               string    `json:"model,omitempty"`
	DefaultToggles      ToggleSet `json:"default_toggles,omitempty"`
	ContextInstructions string    `json:"context_instructions,omitempty"`
	MemoryPath          string    `json:"memory_path,omitempty"`
	Position            int       `json:"position"`
	CreatedAt           time.Time `json:"created_at"`
}

// TaskStatus is the task's execution status, distinct from its Kanban column.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// KanbanColumn is the board column a task currently sits in.
type KanbanColumn string

const (
	ColumnBacklog    KanbanColumn = "backlog"
	ColumnTodo       KanbanColumn = "todo"
	ColumnInProgress KanbanColumn = "in_progress"
	ColumnInReview   KanbanColumn = "in_review"
	ColumnDone       KanbanColumn = "done"
)

// StatusHistoryEntry records one status transition for audit/debugging.
type StatusHistoryEntry struct {
	Status    TaskStatus `json:"status"`
	At        time.Time  `json:"at"`
	Reason    string     `json:"reason,omitempty"`
}

// Comment is a free-text note attached to a Task.
type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is the unit of work the Orchestrator assigns to Agent Instances.
//
// Invariants:
//   - Status == TaskAssigned implies AssignedAgentID != "".
//   - KanbanColumn == ColumnDone implies Status in {TaskCompleted, TaskFailed}.
//   - DependsOn forms a DAG: insert and move operations reject cycles.
type Task struct {
	ID                       string       `json:"id"`
	Description              string       `json:"description"`
	TargetRole               AgentRole    `json:"target_role,omitempty"`
	AssignedAgentID          string       `json:"assigned_agent_id,omitempty"`
	Status                   TaskStatus   `json:"status"`
	Priority                 int          `json:"priority"`
	Input                    string       `json:"input,omitempty"`
	Output                   string       `json:"output,omitempty"`
	KanbanColumn             KanbanColumn `json:"kanban_column"`
	ColumnID                 string       `json:"column_id,omitempty"`
	SwimLaneID               string       `json:"swim_lane_id,omitempty"`
	ParentTaskID             string       `json:"parent_task_id,omitempty"`
	SubtaskIDs               []string     `json:"subtask_ids,omitempty"`
	DependsOn                []string     `json:"depends_on,omitempty"`
	Toggles                  ToggleSet    `json:"toggles,omitempty"`
	AIProvider               Provider     `json:"ai_provider,omitempty"`
	AIModel                  string       `json:"ai_model,omitempty"`
	ServerOverride           string       `json:"server_override,omitempty"`
	WorkingDirectoryOverride string       `json:"working_directory_override,omitempty"`
	StatusHistory            []StatusHistoryEntry `json:"status_history,omitempty"`
	Comments                 []Comment    `json:"comments,omitempty"`
	Tags                     []string     `json:"tags,omitempty"`
	PipelineRunID            string       `json:"pipeline_run_id,omitempty"`
	PipelineStageID          string       `json:"pipeline_stage_id,omitempty"`
	DoneAt                   *time.Time   `json:"done_at,omitempty"`
	CreatedAt                time.Time    `json:"created_at"`
	UpdatedAt                time.Time    `json:"updated_at"`
}

// EffectiveToggle resolves toggle t for this task given an optional lane.
// An explicit task-level value (true or false) always wins; only an unset
// task toggle falls through to the lane default (or false with no lane).
func (t *Task) EffectiveToggle(name ToggleName, lane *SwimLane) bool {
	v := t.Toggles.Get(name)
	if v != ToggleUnset {
		return v == ToggleTrue
	}
	if lane == nil {
		return false
	}
	return lane.DefaultToggles.Get(name) == ToggleTrue
}

// StageType is the scheduling discipline for a Pipeline Stage.
type StageType string

const (
	StageSequential StageType = "sequential"
	StageParallel   StageType = "parallel"
	StageConditional StageType = "conditional"
	StageFanOut     StageType = "fan_out"
)

// Stage is one DAG node of a Pipeline.
type Stage struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Type            StageType     `json:"type"`
	AgentRole       AgentRole     `json:"agent_role"`
	TaskDescription string        `json:"task_description"`
	DependsOn       []string      `json:"depends_on,omitempty"`
	Condition       string        `json:"condition,omitempty"`
	FanOutCount     int           `json:"fan_out_count,omitempty"`
	Timeout         time.Duration `json:"timeout,omitempty"`
}

// Pipeline is an immutable DAG of Stages. Editing a pipeline that a run
// already references produces a new Pipeline (new ID), never a mutation.
type Pipeline struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Version int     `json:"version"`
	Stages  []Stage `json:"stages"`
}

// RunStatus is the lifecycle state of a Pipeline Run.
type RunStatus string

const (
	RunDraft     RunStatus = "draft"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// StageStatus is the lifecycle state of one stage within a run.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageReady     StageStatus = "ready"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// StageResult is the materialized outcome of one stage within a run.
type StageResult struct {
	Status       StageStatus `json:"status"`
	AgentID      string      `json:"agent_id,omitempty"`
	TaskIDs      []string    `json:"task_ids,omitempty"`
	Output       string      `json:"output,omitempty"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// PipelineRun is one execution of a Pipeline.
type PipelineRun struct {
	ID           string                  `json:"id"`
	PipelineID   string                  `json:"pipeline_id"`
	Status       RunStatus               `json:"status"`
	StageResults map[string]*StageResult `json:"stage_results"`
	StartedAt    time.Time               `json:"started_at"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
}

// Team is a named group of Agent Instances sharing a SwimLane. Supplemented
// from the original system's team-shaped Agent Instance fields to give the
// team.* RPC namespace something concrete to operate on.
type Team struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SwimLaneID string    `json:"swim_lane_id,omitempty"`
	AgentIDs   []string  `json:"agent_ids,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event is one message published on the Event Bus.
type Event struct {
	Name      string                 `json:"name"` // dotted, e.g. "agent.spawned"
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}
