package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedWorkflow(t *testing.T, s *LibSQLStore) *schema.Workflow {
	t.Helper()
	wf := &schema.Workflow{
		Name:     "morning briefing",
		AuthorID: "user-1",
		Context:  map[string]string{"topic": "weather"},
		Steps: []schema.Step{
			{StepID: "s1", Order: 1, Type: schema.StepTypeLLM, Prompt: "Summarize {{context.topic}}"},
		},
		Status: schema.WorkflowStatusDraft,
	}
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))
	return wf
}

// --- Workflow tests ---

func TestCreateAndGetWorkflow(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)
	require.NotEmpty(t, wf.ID)

	got, err := s.GetWorkflow(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.Name, got.Name)
	assert.Equal(t, "user-1", got.AuthorID)
	assert.Equal(t, map[string]string{"topic": "weather"}, got.Context)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "s1", got.Steps[0].StepID)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetWorkflowNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetWorkflow(context.Background(), uuid.NewString())
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestUpdateWorkflow(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)

	name := "evening briefing"
	status := schema.WorkflowStatusActive
	updated, err := s.UpdateWorkflow(context.Background(), wf.ID, WorkflowUpdate{
		Name:   &name,
		Status: &status,
	})
	require.NoError(t, err)
	assert.Equal(t, "evening briefing", updated.Name)
	assert.Equal(t, schema.WorkflowStatusActive, updated.Status)
	// untouched fields survive
	assert.Equal(t, map[string]string{"topic": "weather"}, updated.Context)
}

func TestUpdateWorkflowEmptyUpdate(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)

	got, err := s.UpdateWorkflow(context.Background(), wf.ID, WorkflowUpdate{})
	require.NoError(t, err)
	assert.Equal(t, wf.Name, got.Name)
}

func TestDeleteWorkflow(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)

	require.NoError(t, s.DeleteWorkflow(context.Background(), wf.ID))

	_, err := s.GetWorkflow(context.Background(), wf.ID)
	assert.True(t, IsNotFound(err))

	err = s.DeleteWorkflow(context.Background(), wf.ID)
	assert.True(t, IsNotFound(err))
}

func TestListWorkflowsByAuthor(t *testing.T) {
	s := newTestStore(t)
	seedWorkflow(t, s)
	seedWorkflow(t, s)

	other := &schema.Workflow{Name: "other", AuthorID: "user-2", Status: schema.WorkflowStatusDraft}
	require.NoError(t, s.CreateWorkflow(context.Background(), other))

	mine, err := s.ListWorkflowsByAuthor(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	theirs, err := s.ListWorkflowsByAuthor(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Len(t, theirs, 1)
}

func TestAddReplaceDeleteStep(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)

	updated, err := s.AddStep(context.Background(), wf.ID, schema.Step{
		StepID: "s2", Order: 2, Type: schema.StepTypeLogic, LogicType: schema.LogicUserInput,
	})
	require.NoError(t, err)
	require.Len(t, updated.Steps, 2)

	updated, err = s.ReplaceStep(context.Background(), wf.ID, "s2", schema.Step{
		StepID: "s2", Order: 2, Type: schema.StepTypeLLM, Prompt: "revised",
	})
	require.NoError(t, err)
	require.Len(t, updated.Steps, 2)
	assert.Equal(t, schema.StepTypeLLM, updated.Steps[1].Type)

	updated, err = s.DeleteStep(context.Background(), wf.ID, "s2")
	require.NoError(t, err)
	require.Len(t, updated.Steps, 1)

	_, err = s.DeleteStep(context.Background(), wf.ID, "s2")
	assert.True(t, IsNotFound(err))
}

// --- Run tests ---

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)

	run, err := s.CreateRun(context.Background(), wf.ID, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, run.RunID)
	assert.Equal(t, schema.RunStatusRunning, run.Status)

	got, err := s.GetRun(context.Background(), wf.ID, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, "user-1", got.TriggeredBy)
	assert.Empty(t, got.StepResults)
	assert.Nil(t, got.FinishedAt)
}

func TestGetRunWrongWorkflow(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)

	run, err := s.CreateRun(context.Background(), wf.ID, "user-1")
	require.NoError(t, err)

	_, err = s.GetRun(context.Background(), uuid.NewString(), run.RunID)
	assert.True(t, IsNotFound(err))
}

func TestUpdateRunStatusLifecycle(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)

	run, err := s.CreateRun(context.Background(), wf.ID, "user-1")
	require.NoError(t, err)

	// Pause with pending bookkeeping.
	pendingID := "s1"
	pendingOrder := 1
	paused, err := s.UpdateRunStatus(context.Background(), wf.ID, run.RunID, RunUpdate{
		Status: schema.RunStatusWaiting,
		StepResults: []schema.StepResult{
			{StepID: "s1", Type: schema.StepTypeLogic, Status: schema.StepStatusWaiting, PendingQuestion: "Which city?"},
		},
		PendingStepID:    &pendingID,
		PendingStepOrder: &pendingOrder,
	})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusWaiting, paused.Status)
	assert.Equal(t, "s1", paused.PendingStepID)
	assert.Equal(t, 1, paused.PendingStepOrder)
	require.Len(t, paused.StepResults, 1)
	assert.Equal(t, "Which city?", paused.StepResults[0].PendingQuestion)

	// Finish.
	done, err := s.UpdateRunStatus(context.Background(), wf.ID, run.RunID, RunUpdate{
		Status: schema.RunStatusSuccess,
		StepResults: []schema.StepResult{
			{StepID: "s1", Type: schema.StepTypeLogic, Status: schema.StepStatusSuccess, Output: map[string]any{"answer": "Valdivia"}},
		},
		Finished: true,
	})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuccess, done.Status)
	require.NotNil(t, done.FinishedAt)
	assert.WithinDuration(t, time.Now().UTC(), *done.FinishedAt, 5*time.Second)

	got, err := s.GetRun(context.Background(), wf.ID, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "Valdivia", got.StepResults[0].Output["answer"])
}

func TestUpdateRunStatusFatalError(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)

	run, err := s.CreateRun(context.Background(), wf.ID, "user-1")
	require.NoError(t, err)

	fatal := "panic: collaborator blew up"
	_, err = s.UpdateRunStatus(context.Background(), wf.ID, run.RunID, RunUpdate{
		Status:     schema.RunStatusFailed,
		Finished:   true,
		FatalError: &fatal,
	})
	require.NoError(t, err)

	got, err := s.GetRun(context.Background(), wf.ID, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, got.Status)
	assert.Equal(t, fatal, got.FatalError)
}

func TestListRunsByWorkflow(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)

	for range 3 {
		_, err := s.CreateRun(context.Background(), wf.ID, "user-1")
		require.NoError(t, err)
	}

	runs, err := s.ListRunsByWorkflow(context.Background(), wf.ID, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = s.ListRunsByWorkflow(context.Background(), wf.ID, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

// --- Agent directory tests ---

func TestRegisterAndGetAgent(t *testing.T) {
	s := newTestStore(t)
	agent := &schema.Agent{
		Version:     "1.0.0",
		Name:        "Weather Fetcher",
		Description: "fetches a city forecast",
		AuthorID:    "user-1",
		InputSchema: []schema.FieldSchema{
			{FieldName: "city", Type: "string", Required: true},
		},
		OutputSchema: []schema.FieldSchema{
			{FieldName: "forecast", Type: "string"},
		},
		Visibility: "private",
		Status:     "published",
	}
	require.NoError(t, s.RegisterAgent(context.Background(), agent))
	require.NotEmpty(t, agent.ID)

	got, err := s.GetAgent(context.Background(), agent.ID, "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "Weather Fetcher", got.Name)
	require.Len(t, got.InputSchema, 1)
	assert.True(t, got.InputSchema[0].Required)
}

func TestGetAgentNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetAgent(context.Background(), "nope", "1.0.0")
	assert.True(t, IsNotFound(err))
}

func TestSearchAgentsOrdersByUsage(t *testing.T) {
	s := newTestStore(t)
	popular := &schema.Agent{Version: "1.0.0", Name: "News Summarizer", AuthorID: "user-1"}
	niche := &schema.Agent{Version: "1.0.0", Name: "News Translator", AuthorID: "user-1"}
	require.NoError(t, s.RegisterAgent(context.Background(), popular))
	require.NoError(t, s.RegisterAgent(context.Background(), niche))

	for range 3 {
		require.NoError(t, s.IncrementAgentUsage(context.Background(), popular.ID, "1.0.0"))
	}

	results, err := s.SearchAgents(context.Background(), "News", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, popular.ID, results[0].ID)
	assert.Equal(t, int64(3), results[0].CallCount)
}

func TestIncrementAgentUsageUnknownAgent(t *testing.T) {
	s := newTestStore(t)
	err := s.IncrementAgentUsage(context.Background(), "nope", "1.0.0")
	assert.True(t, IsNotFound(err))
}

// --- Scheduled job tests ---

func TestScheduledJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)

	job := &ScheduledJob{
		WorkflowID:     wf.ID,
		CronExpression: "0 9 * * *",
		TriggeredBy:    "user-1",
		Enabled:        true,
	}
	require.NoError(t, s.CreateScheduledJob(context.Background(), job))
	require.NotEmpty(t, job.ID)

	got, err := s.GetScheduledJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * *", got.CronExpression)
	assert.True(t, got.Enabled)
	assert.Nil(t, got.NextRunAt)

	next := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, s.UpdateScheduledJob(context.Background(), job.ID, ScheduledJobUpdate{
		NextRunAt:     &next,
		LastRunStatus: "success",
	}))

	got, err = s.GetScheduledJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.WithinDuration(t, next, *got.NextRunAt, time.Second)
	assert.Equal(t, "success", got.LastRunStatus)

	require.NoError(t, s.DeleteScheduledJob(context.Background(), job.ID))
	_, err = s.GetScheduledJob(context.Background(), job.ID)
	assert.True(t, IsNotFound(err))
}

func TestListScheduledJobsFilter(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)

	enabled := &ScheduledJob{WorkflowID: wf.ID, CronExpression: "* * * * *", TriggeredBy: "user-1", Enabled: true}
	disabled := &ScheduledJob{WorkflowID: wf.ID, CronExpression: "* * * * *", TriggeredBy: "user-1", Enabled: false}
	require.NoError(t, s.CreateScheduledJob(context.Background(), enabled))
	require.NoError(t, s.CreateScheduledJob(context.Background(), disabled))

	on := true
	jobs, err := s.ListScheduledJobs(context.Background(), ScheduledJobFilter{Enabled: &on})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, enabled.ID, jobs[0].ID)

	jobs, err = s.ListScheduledJobs(context.Background(), ScheduledJobFilter{WorkflowID: wf.ID})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}
