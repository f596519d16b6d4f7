package service

import (
	"context"
	"log/slog"

	"github.com/loomhq/loom/internal/store"
	"github.com/loomhq/loom/pkg/schema"
)

// DefaultMaxSteps caps how many steps a workflow may have at trigger time.
const DefaultMaxSteps = 20

// RunExecutor is the engine surface the run service hands execution to.
// Both calls absorb their own faults into the run record.
type RunExecutor interface {
	ExecuteRun(ctx context.Context, workflowID, runID, triggeredBy string)
	ContinueRun(ctx context.Context, workflowID, runID, triggeredBy string)
}

// RunService owns run triggering, inspection and the pause/resume cycle.
// Trigger and Resume are two-phase: they validate and write synchronously,
// then hand step execution to a background goroutine the caller does not
// wait on.
type RunService struct {
	workflows store.WorkflowStore
	runs      store.RunStore
	engine    RunExecutor
	logger    *slog.Logger
	maxSteps  int

	// spawn schedules background execution; tests replace it to run inline.
	spawn func(fn func())
}

func NewRunService(workflows store.WorkflowStore, runs store.RunStore, engine RunExecutor, logger *slog.Logger, maxSteps int) *RunService {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &RunService{
		workflows: workflows,
		runs:      runs,
		engine:    engine,
		logger:    logger,
		maxSteps:  maxSteps,
		spawn:     func(fn func()) { go fn() },
	}
}

// Trigger validates the workflow, creates the run record and returns it
// immediately; execution proceeds in the background.
func (s *RunService) Trigger(ctx context.Context, workflowID, triggeredBy string) (*schema.Run, error) {
	wf, err := s.getOwned(ctx, workflowID, triggeredBy)
	if err != nil {
		return nil, err
	}
	if len(wf.Steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has no steps to execute")
	}
	if len(wf.Steps) > s.maxSteps {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"workflow exceeds the maximum step limit (%d)", s.maxSteps)
	}

	run, err := s.runs.CreateRun(ctx, workflowID, triggeredBy)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "run triggered",
		slog.String("workflow_id", workflowID), slog.String("run_id", run.RunID))

	bgCtx := context.WithoutCancel(ctx)
	s.spawn(func() {
		s.engine.ExecuteRun(bgCtx, workflowID, run.RunID, triggeredBy)
	})
	return run, nil
}

// Resume injects the user's answer into the paused step, flips the run
// back to running and schedules the continuation. Resuming a run that is
// not paused is rejected without mutating state. The pause bookkeeping is
// retained so the continuation can read it from the run record.
func (s *RunService) Resume(ctx context.Context, workflowID, runID, requesterID string, answer any) (*schema.Run, error) {
	if _, err := s.getOwned(ctx, workflowID, requesterID); err != nil {
		return nil, err
	}

	run, err := s.runs.GetRun(ctx, workflowID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != schema.RunStatusWaiting {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"run is not paused (current status: %s)", run.Status)
	}

	results := make([]schema.StepResult, len(run.StepResults))
	copy(results, run.StepResults)
	for i := range results {
		if results[i].StepID != run.PendingStepID {
			continue
		}
		outputField := results[i].OutputField
		if outputField == "" {
			outputField = "answer"
		}
		results[i].Status = schema.StepStatusSuccess
		results[i].Output = map[string]any{outputField: answer}
		results[i].PendingQuestion = ""
		break
	}

	updated, err := s.runs.UpdateRunStatus(ctx, workflowID, runID, store.RunUpdate{
		Status:      schema.RunStatusRunning,
		StepResults: results,
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "run resumed",
		slog.String("workflow_id", workflowID), slog.String("run_id", runID))

	bgCtx := context.WithoutCancel(ctx)
	s.spawn(func() {
		s.engine.ContinueRun(bgCtx, workflowID, runID, requesterID)
	})
	return updated, nil
}

func (s *RunService) Get(ctx context.Context, workflowID, runID, requesterID string) (*schema.Run, error) {
	if _, err := s.getOwned(ctx, workflowID, requesterID); err != nil {
		return nil, err
	}
	return s.runs.GetRun(ctx, workflowID, runID)
}

func (s *RunService) List(ctx context.Context, workflowID, requesterID string, limit int) ([]*schema.Run, error) {
	if _, err := s.getOwned(ctx, workflowID, requesterID); err != nil {
		return nil, err
	}
	return s.runs.ListRunsByWorkflow(ctx, workflowID, limit)
}

func (s *RunService) getOwned(ctx context.Context, workflowID, requesterID string) (*schema.Workflow, error) {
	wf, err := s.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.AuthorID != requesterID {
		return nil, schema.NewError(schema.ErrCodeForbidden, "you do not own this workflow")
	}
	return wf, nil
}
