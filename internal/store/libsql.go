package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/loomhq/loom/pkg/schema"
)

// LibSQLStore implements Store on a local libSQL database.
type LibSQLStore struct {
	db *sql.DB
}

var _ Store = (*LibSQLStore)(nil)

// NewLibSQLStore opens (or creates) the database at path.
func NewLibSQLStore(path string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer; libSQL local files do not tolerate concurrent
	// write connections.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		// go-libsql rejects Exec for statements that return rows, and
		// PRAGMA journal_mode reports the resulting mode as a row.
		rows, err := db.Query(pragma)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
		_ = rows.Close()
	}

	return &LibSQLStore{db: db}, nil
}

// Migrate applies pending schema migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Close releases the underlying database handle.
func (s *LibSQLStore) Close() error {
	return s.db.Close()
}

// --- workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	if wf.Status == "" {
		wf.Status = schema.WorkflowStatusDraft
	}
	if wf.Context == nil {
		wf.Context = map[string]string{}
	}
	if wf.Steps == nil {
		wf.Steps = []schema.Step{}
	}

	contextJSON, err := json.Marshal(wf.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	stepsJSON, err := json.Marshal(wf.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, author_id, context, steps, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, wf.Description, wf.AuthorID, string(contextJSON), string(stepsJSON), string(wf.Status), now, now)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, author_id, context, steps, status, created_at, updated_at
		FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("workflow", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) (*schema.Workflow, error) {
	if update.Empty() {
		return s.GetWorkflow(ctx, id)
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *update.Description)
	}
	if update.Context != nil {
		b, err := json.Marshal(*update.Context)
		if err != nil {
			return nil, fmt.Errorf("marshal context: %w", err)
		}
		sets = append(sets, "context = ?")
		args = append(args, string(b))
	}
	if update.Steps != nil {
		b, err := json.Marshal(*update.Steps)
		if err != nil {
			return nil, fmt.Errorf("marshal steps: %w", err)
		}
		sets = append(sets, "steps = ?")
		args = append(args, string(b))
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE workflows SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("update workflow: %w", err)
	}
	if err := checkRowsAffected(res, "workflow", id); err != nil {
		return nil, err
	}
	return s.GetWorkflow(ctx, id)
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) ListWorkflowsByAuthor(ctx context.Context, authorID string) ([]*schema.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, author_id, context, steps, status, created_at, updated_at
		FROM workflows WHERE author_id = ? ORDER BY created_at DESC`, authorID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []*schema.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) AddStep(ctx context.Context, workflowID string, step schema.Step) (*schema.Workflow, error) {
	return s.mutateSteps(ctx, workflowID, func(steps []schema.Step) ([]schema.Step, error) {
		return append(steps, step), nil
	})
}

func (s *LibSQLStore) ReplaceStep(ctx context.Context, workflowID, stepID string, step schema.Step) (*schema.Workflow, error) {
	return s.mutateSteps(ctx, workflowID, func(steps []schema.Step) ([]schema.Step, error) {
		for i := range steps {
			if steps[i].StepID == stepID {
				steps[i] = step
				return steps, nil
			}
		}
		return nil, NotFound("step", stepID)
	})
}

func (s *LibSQLStore) DeleteStep(ctx context.Context, workflowID, stepID string) (*schema.Workflow, error) {
	return s.mutateSteps(ctx, workflowID, func(steps []schema.Step) ([]schema.Step, error) {
		for i := range steps {
			if steps[i].StepID == stepID {
				return append(steps[:i], steps[i+1:]...), nil
			}
		}
		return nil, NotFound("step", stepID)
	})
}

// mutateSteps load-modify-writes the embedded step list. The single-writer
// connection serializes concurrent mutations.
func (s *LibSQLStore) mutateSteps(ctx context.Context, workflowID string, fn func([]schema.Step) ([]schema.Step, error)) (*schema.Workflow, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	steps, err := fn(wf.Steps)
	if err != nil {
		return nil, err
	}
	return s.UpdateWorkflow(ctx, workflowID, WorkflowUpdate{Steps: &steps})
}

// --- runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, workflowID, triggeredBy string) (*schema.Run, error) {
	run := &schema.Run{
		RunID:       uuid.NewString(),
		WorkflowID:  workflowID,
		TriggeredBy: triggeredBy,
		Status:      schema.RunStatusRunning,
		StepResults: []schema.StepResult{},
		StartedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, workflow_id, triggered_by, status, step_results, started_at)
		VALUES (?, ?, ?, ?, '[]', ?)`,
		run.RunID, run.WorkflowID, run.TriggeredBy, string(run.Status), run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

func (s *LibSQLStore) GetRun(ctx context.Context, workflowID, runID string) (*schema.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, workflow_id, triggered_by, status, step_results,
		       pending_step_id, pending_step_order, fatal_error, started_at, finished_at
		FROM runs WHERE workflow_id = ? AND run_id = ?`, workflowID, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("run", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *LibSQLStore) UpdateRunStatus(ctx context.Context, workflowID, runID string, update RunUpdate) (*schema.Run, error) {
	sets := []string{"status = ?"}
	args := []any{string(update.Status)}

	if update.StepResults != nil {
		b, err := json.Marshal(update.StepResults)
		if err != nil {
			return nil, fmt.Errorf("marshal step results: %w", err)
		}
		sets = append(sets, "step_results = ?")
		args = append(args, string(b))
	}
	if update.Finished {
		sets = append(sets, "finished_at = ?")
		args = append(args, time.Now().UTC())
	}
	if update.PendingStepID != nil {
		sets = append(sets, "pending_step_id = ?")
		args = append(args, nullableString(*update.PendingStepID))
	}
	if update.PendingStepOrder != nil {
		sets = append(sets, "pending_step_order = ?")
		args = append(args, *update.PendingStepOrder)
	}
	if update.FatalError != nil {
		sets = append(sets, "fatal_error = ?")
		args = append(args, nullableString(*update.FatalError))
	}
	args = append(args, workflowID, runID)

	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET "+strings.Join(sets, ", ")+" WHERE workflow_id = ? AND run_id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("update run: %w", err)
	}
	if err := checkRowsAffected(res, "run", runID); err != nil {
		return nil, err
	}
	return s.GetRun(ctx, workflowID, runID)
}

func (s *LibSQLStore) ListRunsByWorkflow(ctx context.Context, workflowID string, limit int) ([]*schema.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, workflow_id, triggered_by, status, step_results,
		       pending_step_id, pending_step_order, fatal_error, started_at, finished_at
		FROM runs WHERE workflow_id = ? ORDER BY started_at DESC LIMIT ?`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*schema.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// --- agents ---

func (s *LibSQLStore) RegisterAgent(ctx context.Context, agent *schema.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.Version == "" {
		agent.Version = schema.DefaultAgentVersion
	}
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	if agent.InputSchema == nil {
		agent.InputSchema = []schema.FieldSchema{}
	}
	if agent.OutputSchema == nil {
		agent.OutputSchema = []schema.FieldSchema{}
	}

	inputJSON, err := json.Marshal(agent.InputSchema)
	if err != nil {
		return fmt.Errorf("marshal input schema: %w", err)
	}
	outputJSON, err := json.Marshal(agent.OutputSchema)
	if err != nil {
		return fmt.Errorf("marshal output schema: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, version, name, description, author_id, system_prompt,
		                    input_schema, output_schema, visibility, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.Version, agent.Name, agent.Description, agent.AuthorID, agent.SystemPrompt,
		string(inputJSON), string(outputJSON), agent.Visibility, agent.Status, now, now)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetAgent(ctx context.Context, agentID, version string) (*schema.Agent, error) {
	if version == "" {
		version = schema.DefaultAgentVersion
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, version, name, description, author_id, system_prompt,
		       input_schema, output_schema, visibility, status, call_count, created_at, updated_at
		FROM agents WHERE id = ? AND version = ?`, agentID, version)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("agent", agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

func (s *LibSQLStore) SearchAgents(ctx context.Context, keyword string, limit int) ([]*schema.Agent, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + keyword + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, name, description, author_id, system_prompt,
		       input_schema, output_schema, visibility, status, call_count, created_at, updated_at
		FROM agents
		WHERE name LIKE ? OR description LIKE ?
		ORDER BY call_count DESC, name ASC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search agents: %w", err)
	}
	defer rows.Close()

	var out []*schema.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) IncrementAgentUsage(ctx context.Context, agentID, version string) error {
	if version == "" {
		version = schema.DefaultAgentVersion
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET call_count = call_count + 1 WHERE id = ? AND version = ?`,
		agentID, version)
	if err != nil {
		return fmt.Errorf("increment agent usage: %w", err)
	}
	return checkRowsAffected(res, "agent", agentID)
}

// --- scheduled jobs ---

func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, workflow_id, cron_expression, triggered_by, enabled, next_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.WorkflowID, job.CronExpression, job.TriggeredBy, job.Enabled, nullableTime(job.NextRunAt), job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert scheduled job: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, cron_expression, triggered_by, enabled,
		       last_run_at, next_run_at, last_run_status, created_at
		FROM scheduled_jobs WHERE id = ?`, id)
	job, err := scanScheduledJob(row)
	if err == sql.ErrNoRows {
		return nil, NotFound("scheduled job", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled job: %w", err)
	}
	return job, nil
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE scheduled_jobs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update scheduled job: %w", err)
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	query := `
		SELECT id, workflow_id, cron_expression, triggered_by, enabled,
		       last_run_at, next_run_at, last_run_status, created_at
		FROM scheduled_jobs`
	var conds []string
	var args []any
	if filter.Enabled != nil {
		conds = append(conds, "enabled = ?")
		args = append(args, *filter.Enabled)
	}
	if filter.WorkflowID != "" {
		conds = append(conds, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scheduled jobs: %w", err)
	}
	defer rows.Close()

	var out []*ScheduledJob
	for rows.Next() {
		job, err := scanScheduledJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete scheduled job: %w", err)
	}
	return checkRowsAffected(res, "scheduled job", id)
}

// --- scanning helpers ---

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*schema.Workflow, error) {
	var wf schema.Workflow
	var contextJSON, stepsJSON, status string
	if err := row.Scan(&wf.ID, &wf.Name, &wf.Description, &wf.AuthorID,
		&contextJSON, &stepsJSON, &status, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.Status = schema.WorkflowStatus(status)
	if err := json.Unmarshal([]byte(contextJSON), &wf.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	if err := json.Unmarshal([]byte(stepsJSON), &wf.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return &wf, nil
}

func scanRun(row rowScanner) (*schema.Run, error) {
	var run schema.Run
	var status, resultsJSON string
	var pendingStepID, fatalError sql.NullString
	var pendingOrder sql.NullInt64
	var finishedAt sql.NullTime
	if err := row.Scan(&run.RunID, &run.WorkflowID, &run.TriggeredBy, &status, &resultsJSON,
		&pendingStepID, &pendingOrder, &fatalError, &run.StartedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.Status = schema.RunStatus(status)
	if err := json.Unmarshal([]byte(resultsJSON), &run.StepResults); err != nil {
		return nil, fmt.Errorf("unmarshal step results: %w", err)
	}
	if pendingStepID.Valid {
		run.PendingStepID = pendingStepID.String
	}
	if pendingOrder.Valid {
		run.PendingStepOrder = int(pendingOrder.Int64)
	}
	if fatalError.Valid {
		run.FatalError = fatalError.String
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func scanAgent(row rowScanner) (*schema.Agent, error) {
	var agent schema.Agent
	var inputJSON, outputJSON string
	if err := row.Scan(&agent.ID, &agent.Version, &agent.Name, &agent.Description, &agent.AuthorID,
		&agent.SystemPrompt, &inputJSON, &outputJSON, &agent.Visibility, &agent.Status,
		&agent.CallCount, &agent.CreatedAt, &agent.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(inputJSON), &agent.InputSchema); err != nil {
		return nil, fmt.Errorf("unmarshal input schema: %w", err)
	}
	if err := json.Unmarshal([]byte(outputJSON), &agent.OutputSchema); err != nil {
		return nil, fmt.Errorf("unmarshal output schema: %w", err)
	}
	return &agent, nil
}

func scanScheduledJob(row rowScanner) (*ScheduledJob, error) {
	var job ScheduledJob
	var lastRunAt, nextRunAt sql.NullTime
	var lastRunStatus sql.NullString
	if err := row.Scan(&job.ID, &job.WorkflowID, &job.CronExpression, &job.TriggeredBy,
		&job.Enabled, &lastRunAt, &nextRunAt, &lastRunStatus, &job.CreatedAt); err != nil {
		return nil, err
	}
	if lastRunAt.Valid {
		t := lastRunAt.Time
		job.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t := nextRunAt.Time
		job.NextRunAt = &t
	}
	if lastRunStatus.Valid {
		job.LastRunStatus = lastRunStatus.String
	}
	return &job, nil
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return NotFound(resource, id)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
