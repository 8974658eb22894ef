// Package pipeline implements the DAG-of-Stages Pipeline Engine: run
// scheduling, stage-type semantics, and materialisation of Stages into
// Orchestrator Tasks, per spec §4.6.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kandev/daemon/internal/eventbus"
	"github.com/kandev/daemon/internal/platform/apperr"
	"github.com/kandev/daemon/internal/platform/logger"
	"github.com/kandev/daemon/internal/store"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// TaskMaterializer is the narrow interface the Pipeline Engine uses to
// insert materialised Tasks into the Kanban model, preserving the
// dependency order from spec §9 (Pipeline materialises Tasks into Kanban
// via a narrow insert interface).
type TaskMaterializer interface {
	CreateTask(ctx context.Context, t *v1.Task) (*v1.Task, error)
}

// Engine owns Pipelines and Pipeline Runs.
type Engine struct {
	store   store.Store
	bus     eventbus.Bus
	tasks   TaskMaterializer
	log     *logger.Logger
}

// New constructs a Pipeline Engine.
func New(st store.Store, bus eventbus.Bus, tasks TaskMaterializer, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Default()
	}
	return &Engine{store: st, bus: bus, tasks: tasks, log: log}
}

func (e *Engine) publish(ctx context.Context, name string, payload map[string]interface{}) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, name, payload); err != nil {
		e.log.Error("pipeline: publish %s failed: %v", name, err)
	}
}

// CreatePipeline persists a new, immutable Pipeline definition.
func (e *Engine) CreatePipeline(ctx context.Context, p *v1.Pipeline) (*v1.Pipeline, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	if err := e.store.SavePipeline(ctx, p); err != nil {
		return nil, apperr.Internal(err)
	}
	return p, nil
}

// ListPipelines returns every stored Pipeline.
func (e *Engine) ListPipelines(ctx context.Context) ([]*v1.Pipeline, error) {
	pipelines, err := e.store.ListPipelines(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return pipelines, nil
}

// Run starts a new execution of pipelineID: draft -> running, and
// materialises the initially-ready stages.
func (e *Engine) Run(ctx context.Context, pipelineID string) (*v1.PipelineRun, error) {
	p, err := e.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, apperr.NotFound("pipeline", pipelineID)
	}

	run := &v1.PipelineRun{
		ID:           uuid.NewString(),
		PipelineID:   p.ID,
		Status:       v1.RunRunning,
		StageResults: make(map[string]*v1.StageResult, len(p.Stages)),
		StartedAt:    time.Now(),
	}
	for _, s := range p.Stages {
		run.StageResults[s.ID] = &v1.StageResult{Status: v1.StagePending}
	}
	if err := e.store.SaveRun(ctx, run); err != nil {
		return nil, apperr.Internal(err)
	}

	e.publish(ctx, "pipeline.run.started", map[string]interface{}{"run_id": run.ID, "pipeline_id": p.ID})
	if err := e.advance(ctx, p, run); err != nil {
		return nil, err
	}
	return run, nil
}

// GetStatus returns the current state of a run.
func (e *Engine) GetStatus(ctx context.Context, runID string) (*v1.PipelineRun, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, apperr.NotFound("run", runID)
	}
	return run, nil
}

// GetActive returns every run that is currently running or paused.
func (e *Engine) GetActive(ctx context.Context) ([]*v1.PipelineRun, error) {
	runs, err := e.store.ListActiveRuns(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return runs, nil
}

// Pause suppresses new task materialisation; in-flight tasks finish.
func (e *Engine) Pause(ctx context.Context, runID string) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return apperr.NotFound("run", runID)
	}
	if run.Status != v1.RunRunning {
		return apperr.Invariant("run %s is not running", runID)
	}
	run.Status = v1.RunPaused
	if err := e.store.SaveRun(ctx, run); err != nil {
		return apperr.Internal(err)
	}
	e.publish(ctx, "pipeline.run.paused", map[string]interface{}{"run_id": runID})
	return nil
}

// Resume resumes a paused run and re-evaluates ready stages.
func (e *Engine) Resume(ctx context.Context, runID string) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return apperr.NotFound("run", runID)
	}
	if run.Status != v1.RunPaused {
		return apperr.Invariant("run %s is not paused", runID)
	}
	run.Status = v1.RunRunning
	if err := e.store.SaveRun(ctx, run); err != nil {
		return apperr.Internal(err)
	}
	p, err := e.store.GetPipeline(ctx, run.PipelineID)
	if err != nil {
		return apperr.NotFound("pipeline", run.PipelineID)
	}
	e.publish(ctx, "pipeline.run.resumed", map[string]interface{}{"run_id": runID})
	return e.advance(ctx, p, run)
}

// Cancel cancels every in-flight stage of a run.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return apperr.NotFound("run", runID)
	}
	run.Status = v1.RunCancelled
	for _, sr := range run.StageResults {
		if sr.Status == v1.StageRunning || sr.Status == v1.StagePending || sr.Status == v1.StageReady {
			sr.Status = v1.StageSkipped
		}
	}
	if err := e.store.SaveRun(ctx, run); err != nil {
		return apperr.Internal(err)
	}
	e.publish(ctx, "pipeline.run.cancelled", map[string]interface{}{"run_id": runID})
	return nil
}

// OnStageResult is called (directly, or via an event subscription wired at
// the composition root) when a materialised task completes; it records the
// stage result and advances the run.
func (e *Engine) OnStageResult(ctx context.Context, runID, stageID string, failed bool, output string) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return apperr.NotFound("run", runID)
	}
	sr, ok := run.StageResults[stageID]
	if !ok {
		return apperr.NotFound("stage", stageID)
	}

	now := time.Now()
	sr.CompletedAt = &now
	sr.Output = output
	if failed {
		sr.Status = v1.StageFailed
	} else {
		sr.Status = v1.StageCompleted
	}

	if run.Status == v1.RunRunning {
		e.publish(ctx, "pipeline.stage.completed", map[string]interface{}{"run_id": runID, "stage_id": stageID, "status": string(sr.Status)})
	}

	if err := e.store.SaveRun(ctx, run); err != nil {
		return apperr.Internal(err)
	}

	p, err := e.store.GetPipeline(ctx, run.PipelineID)
	if err != nil {
		return apperr.NotFound("pipeline", run.PipelineID)
	}

	if failed && !hasRecoveryPath(p, stageID) {
		run.Status = v1.RunFailed
		return e.store.SaveRun(ctx, run)
	}

	return e.advance(ctx, p, run)
}

func hasRecoveryPath(_ *v1.Pipeline, _ string) bool {
	// v1 has no conditional-recovery stages beyond the "conditional" type
	// itself (see ready()); a failed stage always fails its run.
	return false
}

// ready reports whether every dependency of stage s is completed, treating
// a skipped stage as completed for downstream dependsOn resolution (spec
// §8 boundary behaviour on conditional stages).
func ready(s v1.Stage, run *v1.PipelineRun) bool {
	for _, dep := range s.DependsOn {
		sr, ok := run.StageResults[dep]
		if !ok {
			return false
		}
		if sr.Status != v1.StageCompleted && sr.Status != v1.StageSkipped {
			return false
		}
	}
	return true
}

// evaluateCondition implements the v1 conditional-stage grammar: a simple
// substring match of s.Condition against the concatenated output of all
// predecessor stages (spec §9 Open Questions).
func evaluateCondition(s v1.Stage, run *v1.PipelineRun) bool {
	if s.Condition == "" {
		return true
	}
	var combined strings.Builder
	for _, dep := range s.DependsOn {
		if sr, ok := run.StageResults[dep]; ok {
			combined.WriteString(sr.Output)
		}
	}
	return strings.Contains(combined.String(), s.Condition)
}

// advance recomputes ready stages and materialises one Task per stage (or
// fanOutCount Tasks for fan_out stages), per spec §4.6. It also checks for
// run completion.
func (e *Engine) advance(ctx context.Context, p *v1.Pipeline, run *v1.PipelineRun) error {
	if run.Status == v1.RunPaused {
		return nil
	}

	for _, s := range p.Stages {
		sr := run.StageResults[s.ID]
		if sr.Status != v1.StagePending {
			continue
		}
		if !ready(s, run) {
			continue
		}

		if s.Type == v1.StageConditional && !evaluateCondition(s, run) {
			sr.Status = v1.StageSkipped
			continue
		}

		sr.Status = v1.StageReady
		if err := e.materialize(ctx, run, s); err != nil {
			e.log.Error("pipeline: materialize stage %s: %v", s.ID, err)
			sr.Status = v1.StageFailed
			continue
		}
		sr.Status = v1.StageRunning
		now := time.Now()
		sr.StartedAt = &now
	}

	if err := e.store.SaveRun(ctx, run); err != nil {
		return apperr.Internal(err)
	}

	allDone := true
	for _, sr := range run.StageResults {
		if sr.Status != v1.StageCompleted && sr.Status != v1.StageFailed && sr.Status != v1.StageSkipped {
			allDone = false
			break
		}
	}

	if allDone {
		run.CompletedAt = timePtr(time.Now())
		if anyFailed(run) {
			run.Status = v1.RunFailed
		} else {
			run.Status = v1.RunCompleted
		}
		if err := e.store.SaveRun(ctx, run); err != nil {
			return apperr.Internal(err)
		}
		e.publish(ctx, "pipeline.run.completed", map[string]interface{}{"run_id": run.ID, "status": string(run.Status)})
	}
	return nil
}

func anyFailed(run *v1.PipelineRun) bool {
	for _, sr := range run.StageResults {
		if sr.Status == v1.StageFailed {
			return true
		}
	}
	return false
}

func timePtr(t time.Time) *time.Time { return &t }

// materialize creates one Task (or fanOutCount sibling Tasks for a fan_out
// stage) tagged with the run and stage IDs.
func (e *Engine) materialize(ctx context.Context, run *v1.PipelineRun, s v1.Stage) error {
	sr := run.StageResults[s.ID]
	count := 1
	if s.Type == v1.StageFanOut {
		count = s.FanOutCount
		if count <= 0 {
			count = 1
		}
	}

	for i := 0; i < count; i++ {
		task := &v1.Task{
			Description:      s.TaskDescription,
			TargetRole:       s.AgentRole,
			Priority:         0,
			PipelineRunID:    run.ID,
			PipelineStageID:  s.ID,
		}
		created, err := e.tasks.CreateTask(ctx, task)
		if err != nil {
			return err
		}
		sr.TaskIDs = append(sr.TaskIDs, created.ID)
	}
	return nil
}
