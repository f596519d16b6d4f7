package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loomhq/loom/internal/store"
	"github.com/loomhq/loom/pkg/schema"
)

// ScheduleService manages cron-triggered run jobs. Jobs run as their
// creator, so ownership of the target workflow is checked at write time.
type ScheduleService struct {
	workflows store.WorkflowStore
	jobs      store.ScheduleStore
	parser    cron.Parser
	logger    *slog.Logger
}

func NewScheduleService(workflows store.WorkflowStore, jobs store.ScheduleStore, logger *slog.Logger) *ScheduleService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleService{
		workflows: workflows,
		jobs:      jobs,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:    logger,
	}
}

// Create schedules recurring runs of a workflow. The cron expression is the
// standard five-field form; the first run happens at its next match.
func (s *ScheduleService) Create(ctx context.Context, workflowID, requesterID, cronExpr string) (*store.ScheduledJob, error) {
	if _, err := s.ownedWorkflow(ctx, workflowID, requesterID); err != nil {
		return nil, err
	}

	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid cron expression %q: %v", cronExpr, err)
	}
	next := schedule.Next(time.Now().UTC())

	job := &store.ScheduledJob{
		WorkflowID:     workflowID,
		CronExpression: cronExpr,
		TriggeredBy:    requesterID,
		Enabled:        true,
		NextRunAt:      &next,
	}
	if err := s.jobs.CreateScheduledJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "scheduled job created",
		slog.String("job_id", job.ID), slog.String("workflow_id", workflowID),
		slog.String("cron", cronExpr))
	return job, nil
}

// List returns the jobs scheduled for one of the requester's workflows.
func (s *ScheduleService) List(ctx context.Context, workflowID, requesterID string) ([]*store.ScheduledJob, error) {
	if _, err := s.ownedWorkflow(ctx, workflowID, requesterID); err != nil {
		return nil, err
	}
	return s.jobs.ListScheduledJobs(ctx, store.ScheduledJobFilter{WorkflowID: workflowID})
}

// SetEnabled pauses or resumes a job without deleting its history.
func (s *ScheduleService) SetEnabled(ctx context.Context, jobID, requesterID string, enabled bool) (*store.ScheduledJob, error) {
	job, err := s.ownedJob(ctx, jobID, requesterID)
	if err != nil {
		return nil, err
	}
	if err := s.jobs.UpdateScheduledJob(ctx, jobID, store.ScheduledJobUpdate{Enabled: &enabled}); err != nil {
		return nil, err
	}
	job.Enabled = enabled
	return job, nil
}

func (s *ScheduleService) Delete(ctx context.Context, jobID, requesterID string) error {
	if _, err := s.ownedJob(ctx, jobID, requesterID); err != nil {
		return err
	}
	return s.jobs.DeleteScheduledJob(ctx, jobID)
}

func (s *ScheduleService) ownedWorkflow(ctx context.Context, workflowID, requesterID string) (*schema.Workflow, error) {
	wf, err := s.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.AuthorID != requesterID {
		return nil, schema.NewError(schema.ErrCodeForbidden, "you do not own this workflow")
	}
	return wf, nil
}

func (s *ScheduleService) ownedJob(ctx context.Context, jobID, requesterID string) (*store.ScheduledJob, error) {
	job, err := s.jobs.GetScheduledJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedWorkflow(ctx, job.WorkflowID, requesterID); err != nil {
		return nil, err
	}
	return job, nil
}
