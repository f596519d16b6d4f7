package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/loomhq/loom/internal/expressions"
	"github.com/loomhq/loom/internal/invoke"
	"github.com/loomhq/loom/internal/llm"
	"github.com/loomhq/loom/internal/logging"
	"github.com/loomhq/loom/internal/store"
	"github.com/loomhq/loom/pkg/schema"
)

// Config tunes engine behavior.
type Config struct {
	// StepTimeout bounds a single step invocation. Zero disables the
	// per-step deadline.
	StepTimeout time.Duration
}

// Engine executes runs: it walks a workflow's steps in ascending order,
// persisting the full result list and run status after every step.
// Execution is single-threaded per run; many runs may execute concurrently.
type Engine struct {
	workflows store.WorkflowStore
	runs      store.RunStore
	agents    store.AgentDirectory
	invoker   invoke.AgentInvoker
	model     llm.Client
	logger    *slog.Logger
	cfg       Config
}

func New(workflows store.WorkflowStore, runs store.RunStore, agents store.AgentDirectory,
	invoker invoke.AgentInvoker, model llm.Client, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		workflows: workflows,
		runs:      runs,
		agents:    agents,
		invoker:   invoker,
		model:     model,
		logger:    logger,
		cfg:       cfg,
	}
}

// ExecuteRun executes all steps of a freshly triggered run. It is designed
// to run in its own goroutine: every fault is absorbed into the run record
// and never propagates to the caller.
func (e *Engine) ExecuteRun(ctx context.Context, workflowID, runID, triggeredBy string) {
	ctx = logging.WithRun(ctx, workflowID, runID)
	defer e.recoverFatal(ctx, workflowID, runID)

	wf, err := e.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		if store.IsNotFound(err) {
			return
		}
		e.markFatal(ctx, workflowID, runID, err)
		return
	}

	steps := sortedSteps(wf.Steps)
	runContext := expressions.ResolveContext(wf.Context, triggeredBy)
	e.executeSteps(ctx, workflowID, runID, steps, runContext, map[string]map[string]any{}, nil)
}

// ContinueRun resumes execution after a pause. The paused step's result has
// already been rewritten by the resume entry point; this pass re-derives
// step outputs from the successful results and runs only the steps whose
// order is strictly greater than the pending step's order.
func (e *Engine) ContinueRun(ctx context.Context, workflowID, runID, triggeredBy string) {
	ctx = logging.WithRun(ctx, workflowID, runID)
	defer e.recoverFatal(ctx, workflowID, runID)

	wf, err := e.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		if store.IsNotFound(err) {
			return
		}
		e.markFatal(ctx, workflowID, runID, err)
		return
	}
	run, err := e.runs.GetRun(ctx, workflowID, runID)
	if err != nil {
		if store.IsNotFound(err) {
			return
		}
		e.markFatal(ctx, workflowID, runID, err)
		return
	}

	stepOutputs := make(map[string]map[string]any, len(run.StepResults))
	for _, sr := range run.StepResults {
		if sr.Status == schema.StepStatusSuccess {
			stepOutputs[sr.StepID] = sr.Output
		}
	}

	var remaining []schema.Step
	for _, step := range wf.Steps {
		if step.Order > run.PendingStepOrder {
			remaining = append(remaining, step)
		}
	}
	remaining = sortedSteps(remaining)

	runContext := expressions.ResolveContext(wf.Context, triggeredBy)
	e.executeSteps(ctx, workflowID, runID, remaining, runContext, stepOutputs, run.StepResults)
}

// executeSteps is the core loop. existing carries already-completed results
// on resume. After every step the full result list and the run status are
// written in one store call before the loop proceeds.
func (e *Engine) executeSteps(ctx context.Context, workflowID, runID string, steps []schema.Step,
	runContext map[string]any, stepOutputs map[string]map[string]any, existing []schema.StepResult) {

	results := append([]schema.StepResult{}, existing...)

	for _, step := range steps {
		stepCtx := logging.WithStepID(ctx, step.StepID)
		started := time.Now()

		result := e.executeStep(stepCtx, step, runContext, stepOutputs)
		result.LatencyMs = time.Since(started).Milliseconds()
		results = append(results, result)

		switch result.Status {
		case schema.StepStatusFailed:
			e.logger.WarnContext(stepCtx, "step failed", slog.String("error", result.Error))
			if _, err := e.runs.UpdateRunStatus(ctx, workflowID, runID, store.RunUpdate{
				Status:      schema.RunStatusFailed,
				StepResults: results,
				Finished:    true,
			}); err != nil {
				e.markFatal(ctx, workflowID, runID, err)
			}
			return

		case schema.StepStatusWaiting:
			e.logger.InfoContext(stepCtx, "run paused for user input")
			pendingID := step.StepID
			pendingOrder := step.Order
			if _, err := e.runs.UpdateRunStatus(ctx, workflowID, runID, store.RunUpdate{
				Status:           schema.RunStatusWaiting,
				StepResults:      results,
				PendingStepID:    &pendingID,
				PendingStepOrder: &pendingOrder,
			}); err != nil {
				e.markFatal(ctx, workflowID, runID, err)
			}
			return

		default:
			stepOutputs[step.StepID] = result.Output
			if _, err := e.runs.UpdateRunStatus(ctx, workflowID, runID, store.RunUpdate{
				Status:      schema.RunStatusRunning,
				StepResults: results,
			}); err != nil {
				e.markFatal(ctx, workflowID, runID, err)
				return
			}
		}
	}

	if _, err := e.runs.UpdateRunStatus(ctx, workflowID, runID, store.RunUpdate{
		Status:      schema.RunStatusSuccess,
		StepResults: results,
		Finished:    true,
	}); err != nil {
		e.markFatal(ctx, workflowID, runID, err)
		return
	}
	e.logger.InfoContext(ctx, "run completed", slog.Int("steps", len(results)))
}

// executeStep dispatches on the step type and converts executor faults into
// failed results, so the loop's control flow stays error-free.
func (e *Engine) executeStep(ctx context.Context, step schema.Step, runContext map[string]any, stepOutputs map[string]map[string]any) schema.StepResult {
	if e.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.StepTimeout)
		defer cancel()
	}

	var (
		result schema.StepResult
		err    error
	)
	switch step.Type {
	case schema.StepTypeAgent:
		result, err = e.execAgent(ctx, step, runContext, stepOutputs)
	case schema.StepTypeLLM:
		result, err = e.execLLM(ctx, step, runContext, stepOutputs)
	case schema.StepTypeLogic:
		result, err = e.execLogic(ctx, step, runContext, stepOutputs)
	default:
		err = schema.NewErrorf(schema.ErrCodeExecution, "unknown step type %q", step.Type).WithStep(step.StepID)
	}
	if err != nil {
		return schema.StepResult{
			StepID: step.StepID,
			Type:   step.Type,
			Status: schema.StepStatusFailed,
			Input:  map[string]any{},
			Output: map[string]any{},
			Error:  err.Error(),
		}
	}
	return result
}

// recoverFatal is the last-resort safety net: a panic anywhere in the loop
// marks the run failed instead of crashing the background goroutine.
func (e *Engine) recoverFatal(ctx context.Context, workflowID, runID string) {
	if r := recover(); r != nil {
		e.markFatal(ctx, workflowID, runID, fmt.Errorf("panic: %v", r))
	}
}

func (e *Engine) markFatal(ctx context.Context, workflowID, runID string, cause error) {
	e.logger.ErrorContext(ctx, "run failed with fatal error", slog.String("error", cause.Error()))
	msg := cause.Error()
	if _, err := e.runs.UpdateRunStatus(ctx, workflowID, runID, store.RunUpdate{
		Status:     schema.RunStatusFailed,
		Finished:   true,
		FatalError: &msg,
	}); err != nil {
		e.logger.ErrorContext(ctx, "failed to persist fatal run state", slog.String("error", err.Error()))
	}
}

func sortedSteps(steps []schema.Step) []schema.Step {
	out := make([]schema.Step, len(steps))
	copy(out, steps)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
