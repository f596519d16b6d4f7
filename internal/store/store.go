package store

import (
	"context"
	"errors"
	"time"

	"github.com/loomhq/loom/pkg/schema"
)

// WorkflowStore persists workflow records. Steps are an embedded ordered
// list on the workflow, so step-level operations are load-modify-write
// inside the store.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) (*schema.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
	ListWorkflowsByAuthor(ctx context.Context, authorID string) ([]*schema.Workflow, error)

	AddStep(ctx context.Context, workflowID string, step schema.Step) (*schema.Workflow, error)
	ReplaceStep(ctx context.Context, workflowID, stepID string, step schema.Step) (*schema.Workflow, error)
	DeleteStep(ctx context.Context, workflowID, stepID string) (*schema.Workflow, error)
}

// RunStore persists run records. UpdateRunStatus replaces the full
// stepResults list together with the status in one write, so a crash
// between steps leaves the run reflecting exactly the steps that completed.
type RunStore interface {
	CreateRun(ctx context.Context, workflowID, triggeredBy string) (*schema.Run, error)
	GetRun(ctx context.Context, workflowID, runID string) (*schema.Run, error)
	UpdateRunStatus(ctx context.Context, workflowID, runID string, update RunUpdate) (*schema.Run, error)
	ListRunsByWorkflow(ctx context.Context, workflowID string, limit int) ([]*schema.Run, error)
}

// AgentDirectory is the registry of invocable agents the engine and the
// analyzer read schemas from.
type AgentDirectory interface {
	RegisterAgent(ctx context.Context, agent *schema.Agent) error
	GetAgent(ctx context.Context, agentID, version string) (*schema.Agent, error)
	SearchAgents(ctx context.Context, keyword string, limit int) ([]*schema.Agent, error)

	// IncrementAgentUsage atomically bumps the agent's call counter.
	// Call sites treat failures as best-effort.
	IncrementAgentUsage(ctx context.Context, agentID, version string) error
}

// ScheduleStore persists cron-triggered run jobs.
type ScheduleStore interface {
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error
}

// Store is the full persistence contract. All implementations must be safe
// for concurrent use.
type Store interface {
	WorkflowStore
	RunStore
	AgentDirectory
	ScheduleStore

	Migrate(ctx context.Context) error
	Close() error
}

// WorkflowUpdate specifies mutable workflow fields; nil means unchanged.
type WorkflowUpdate struct {
	Name        *string
	Description *string
	Context     *map[string]string
	Steps       *[]schema.Step
	Status      *schema.WorkflowStatus
}

// Empty reports whether the update changes nothing.
func (u WorkflowUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.Context == nil && u.Steps == nil && u.Status == nil
}

// RunUpdate is one state transition of a run. Status is always written.
// StepResults, when non-nil, replaces the full list. Finished sets
// finishedAt to now. The pointer fields persist pause/fatal bookkeeping.
type RunUpdate struct {
	Status           schema.RunStatus
	StepResults      []schema.StepResult
	Finished         bool
	PendingStepID    *string
	PendingStepOrder *int
	FatalError       *string
}

// ScheduledJob is a cron-triggered run of a workflow, executed as the
// job's owner.
type ScheduledJob struct {
	ID             string     `json:"id"`
	WorkflowID     string     `json:"workflowId"`
	CronExpression string     `json:"cronExpression"`
	TriggeredBy    string     `json:"triggeredBy"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt      *time.Time `json:"nextRunAt,omitempty"`
	LastRunStatus  string     `json:"lastRunStatus,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool
	LastRunAt     *time.Time
	NextRunAt     *time.Time
	LastRunStatus string
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled    *bool
	WorkflowID string
	Limit      int
}

// NotFound builds the canonical not-found error for a store resource.
func NotFound(resource, id string) *schema.LoomError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

// IsNotFound reports whether err is a store not-found error.
func IsNotFound(err error) bool {
	var le *schema.LoomError
	return errors.As(err, &le) && le.Code == schema.ErrCodeNotFound
}
