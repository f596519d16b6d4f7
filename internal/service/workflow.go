package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/store"
	"github.com/loomhq/loom/internal/validation"
	"github.com/loomhq/loom/pkg/schema"
)

// WorkflowService owns the workflow lifecycle: CRUD, step management and
// compatibility validation. Every entry point re-checks ownership before
// touching state; not-found is reported before forbidden so probing an id
// does not reveal whether it exists.
type WorkflowService struct {
	store     store.WorkflowStore
	validator *validation.StructuralValidator
	analyzer  *validation.Analyzer
	logger    *slog.Logger
}

func NewWorkflowService(s store.WorkflowStore, validator *validation.StructuralValidator, analyzer *validation.Analyzer, logger *slog.Logger) *WorkflowService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkflowService{store: s, validator: validator, analyzer: analyzer, logger: logger}
}

// CreateWorkflowRequest carries the user-settable fields of a new workflow.
type CreateWorkflowRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
}

func (s *WorkflowService) Create(ctx context.Context, authorID string, req CreateWorkflowRequest) (*schema.Workflow, error) {
	wf := &schema.Workflow{
		Name:        req.Name,
		Description: req.Description,
		AuthorID:    authorID,
		Context:     req.Context,
		Status:      schema.WorkflowStatusDraft,
	}
	if err := s.validator.ValidateWorkflow(wf); err != nil {
		return nil, err
	}
	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "workflow created",
		slog.String("workflow_id", wf.ID), slog.String("author_id", authorID))
	return wf, nil
}

func (s *WorkflowService) Get(ctx context.Context, workflowID, requesterID string) (*schema.Workflow, error) {
	return s.getOwned(ctx, workflowID, requesterID)
}

// UpdateWorkflowRequest carries partial-update fields; nil means unchanged.
type UpdateWorkflowRequest struct {
	Name        *string                `json:"name,omitempty"`
	Description *string                `json:"description,omitempty"`
	Context     *map[string]string     `json:"context,omitempty"`
	Status      *schema.WorkflowStatus `json:"status,omitempty"`
}

func (s *WorkflowService) Update(ctx context.Context, workflowID, requesterID string, req UpdateWorkflowRequest) (*schema.Workflow, error) {
	wf, err := s.getOwned(ctx, workflowID, requesterID)
	if err != nil {
		return nil, err
	}

	update := store.WorkflowUpdate{
		Name:        req.Name,
		Description: req.Description,
		Context:     req.Context,
		Status:      req.Status,
	}
	if update.Empty() {
		return wf, nil
	}
	return s.store.UpdateWorkflow(ctx, workflowID, update)
}

func (s *WorkflowService) Delete(ctx context.Context, workflowID, requesterID string) error {
	if _, err := s.getOwned(ctx, workflowID, requesterID); err != nil {
		return err
	}
	if err := s.store.DeleteWorkflow(ctx, workflowID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "workflow deleted", slog.String("workflow_id", workflowID))
	return nil
}

func (s *WorkflowService) ListMine(ctx context.Context, authorID string) ([]*schema.Workflow, error) {
	return s.store.ListWorkflowsByAuthor(ctx, authorID)
}

// AddStep appends a step with a server-generated stepId; order is set by
// the caller.
func (s *WorkflowService) AddStep(ctx context.Context, workflowID, requesterID string, step schema.Step) (*schema.Workflow, error) {
	wf, err := s.getOwned(ctx, workflowID, requesterID)
	if err != nil {
		return nil, err
	}

	step.StepID = uuid.NewString()
	if err := s.validator.ValidateStep(step); err != nil {
		return nil, err
	}
	if err := checkStepConflicts(wf.Steps, step, ""); err != nil {
		return nil, err
	}
	return s.store.AddStep(ctx, workflowID, step)
}

// ReplaceStep fully replaces a step. The stepId from the call is
// authoritative; any id in the body is ignored. Full replacement prevents
// stale fields when the step type changes.
func (s *WorkflowService) ReplaceStep(ctx context.Context, workflowID, stepID, requesterID string, step schema.Step) (*schema.Workflow, error) {
	wf, err := s.getOwned(ctx, workflowID, requesterID)
	if err != nil {
		return nil, err
	}

	step.StepID = stepID
	if err := s.validator.ValidateStep(step); err != nil {
		return nil, err
	}
	if err := checkStepConflicts(wf.Steps, step, stepID); err != nil {
		return nil, err
	}
	return s.store.ReplaceStep(ctx, workflowID, stepID, step)
}

func (s *WorkflowService) DeleteStep(ctx context.Context, workflowID, stepID, requesterID string) (*schema.Workflow, error) {
	if _, err := s.getOwned(ctx, workflowID, requesterID); err != nil {
		return nil, err
	}
	return s.store.DeleteStep(ctx, workflowID, stepID)
}

// Validate runs the static compatibility analysis over the workflow.
func (s *WorkflowService) Validate(ctx context.Context, workflowID, requesterID string) (*schema.ValidationReport, error) {
	wf, err := s.getOwned(ctx, workflowID, requesterID)
	if err != nil {
		return nil, err
	}
	return s.analyzer.Analyze(ctx, wf)
}

func (s *WorkflowService) getOwned(ctx context.Context, workflowID, requesterID string) (*schema.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.AuthorID != requesterID {
		return nil, schema.NewError(schema.ErrCodeForbidden, "you do not own this workflow")
	}
	return wf, nil
}

// checkStepConflicts rejects a step whose order collides with another step.
// excludeID names the step being replaced, if any.
func checkStepConflicts(existing []schema.Step, step schema.Step, excludeID string) error {
	for _, other := range existing {
		if other.StepID == excludeID {
			continue
		}
		if other.Order == step.Order {
			return schema.NewErrorf(schema.ErrCodeConflict,
				"step order %d is already used by step %q", step.Order, other.StepID)
		}
	}
	return nil
}
