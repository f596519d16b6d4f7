package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/llm"
	"github.com/loomhq/loom/internal/service"
	"github.com/loomhq/loom/internal/store"
	"github.com/loomhq/loom/internal/validation"
	"github.com/loomhq/loom/pkg/schema"
)

// --- Mock store ---

type mockStore struct {
	mu        sync.Mutex
	workflows map[string]*schema.Workflow
	runs      map[string]*schema.Run
	agents    map[string]*schema.Agent
	jobs      map[string]*store.ScheduledJob
}

func newMockStore() *mockStore {
	return &mockStore{
		workflows: make(map[string]*schema.Workflow),
		runs:      make(map[string]*schema.Run),
		agents:    make(map[string]*schema.Agent),
		jobs:      make(map[string]*store.ScheduledJob),
	}
}

func (m *mockStore) CreateWorkflow(_ context.Context, wf *schema.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	wf.CreatedAt = time.Now().UTC()
	m.workflows[wf.ID] = wf
	return nil
}

func (m *mockStore) GetWorkflow(_ context.Context, id string) (*schema.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, store.NotFound("workflow", id)
	}
	clone := *wf
	return &clone, nil
}

func (m *mockStore) UpdateWorkflow(_ context.Context, id string, update store.WorkflowUpdate) (*schema.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, store.NotFound("workflow", id)
	}
	if update.Name != nil {
		wf.Name = *update.Name
	}
	if update.Description != nil {
		wf.Description = *update.Description
	}
	if update.Context != nil {
		wf.Context = *update.Context
	}
	if update.Steps != nil {
		wf.Steps = *update.Steps
	}
	if update.Status != nil {
		wf.Status = *update.Status
	}
	wf.UpdatedAt = time.Now().UTC()
	clone := *wf
	return &clone, nil
}

func (m *mockStore) DeleteWorkflow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[id]; !ok {
		return store.NotFound("workflow", id)
	}
	delete(m.workflows, id)
	return nil
}

func (m *mockStore) ListWorkflowsByAuthor(_ context.Context, authorID string) ([]*schema.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.Workflow
	for _, wf := range m.workflows {
		if wf.AuthorID == authorID {
			clone := *wf
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *mockStore) AddStep(_ context.Context, workflowID string, step schema.Step) (*schema.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[workflowID]
	if !ok {
		return nil, store.NotFound("workflow", workflowID)
	}
	wf.Steps = append(wf.Steps, step)
	clone := *wf
	return &clone, nil
}

func (m *mockStore) ReplaceStep(_ context.Context, workflowID, stepID string, step schema.Step) (*schema.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[workflowID]
	if !ok {
		return nil, store.NotFound("workflow", workflowID)
	}
	for i := range wf.Steps {
		if wf.Steps[i].StepID == stepID {
			wf.Steps[i] = step
			clone := *wf
			return &clone, nil
		}
	}
	return nil, store.NotFound("step", stepID)
}

func (m *mockStore) DeleteStep(_ context.Context, workflowID, stepID string) (*schema.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[workflowID]
	if !ok {
		return nil, store.NotFound("workflow", workflowID)
	}
	for i := range wf.Steps {
		if wf.Steps[i].StepID == stepID {
			wf.Steps = append(wf.Steps[:i], wf.Steps[i+1:]...)
			clone := *wf
			return &clone, nil
		}
	}
	return nil, store.NotFound("step", stepID)
}

func (m *mockStore) CreateRun(_ context.Context, workflowID, triggeredBy string) (*schema.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := &schema.Run{
		RunID:       uuid.NewString(),
		WorkflowID:  workflowID,
		TriggeredBy: triggeredBy,
		Status:      schema.RunStatusRunning,
		StepResults: []schema.StepResult{},
		StartedAt:   time.Now().UTC(),
	}
	m.runs[run.RunID] = run
	clone := *run
	return &clone, nil
}

func (m *mockStore) GetRun(_ context.Context, workflowID, runID string) (*schema.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.WorkflowID != workflowID {
		return nil, store.NotFound("run", runID)
	}
	clone := *run
	return &clone, nil
}

func (m *mockStore) UpdateRunStatus(_ context.Context, workflowID, runID string, update store.RunUpdate) (*schema.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || run.WorkflowID != workflowID {
		return nil, store.NotFound("run", runID)
	}
	run.Status = update.Status
	run.StepResults = update.StepResults
	if update.Finished {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	if update.PendingStepID != nil {
		run.PendingStepID = *update.PendingStepID
	}
	if update.PendingStepOrder != nil {
		run.PendingStepOrder = *update.PendingStepOrder
	}
	if update.FatalError != nil {
		run.FatalError = *update.FatalError
	}
	clone := *run
	return &clone, nil
}

func (m *mockStore) ListRunsByWorkflow(_ context.Context, workflowID string, limit int) ([]*schema.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.Run
	for _, run := range m.runs {
		if run.WorkflowID != workflowID {
			continue
		}
		clone := *run
		out = append(out, &clone)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) RegisterAgent(_ context.Context, agent *schema.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	m.agents[agent.ID+"@"+agent.Version] = agent
	return nil
}

func (m *mockStore) GetAgent(_ context.Context, agentID, version string) (*schema.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if version == "" {
		version = schema.DefaultAgentVersion
	}
	agent, ok := m.agents[agentID+"@"+version]
	if !ok {
		return nil, store.NotFound("agent", agentID)
	}
	clone := *agent
	return &clone, nil
}

func (m *mockStore) SearchAgents(_ context.Context, keyword string, limit int) ([]*schema.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.Agent
	for _, agent := range m.agents {
		if strings.Contains(agent.Name, keyword) || strings.Contains(agent.Description, keyword) {
			clone := *agent
			out = append(out, &clone)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) IncrementAgentUsage(_ context.Context, agentID, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if agent, ok := m.agents[agentID+"@"+version]; ok {
		agent.CallCount++
	}
	return nil
}

func (m *mockStore) CreateScheduledJob(_ context.Context, job *store.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *mockStore) GetScheduledJob(_ context.Context, id string) (*store.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, store.NotFound("scheduled job", id)
	}
	clone := *job
	return &clone, nil
}

func (m *mockStore) UpdateScheduledJob(_ context.Context, id string, update store.ScheduledJobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return store.NotFound("scheduled job", id)
	}
	if update.Enabled != nil {
		job.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		job.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		job.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		job.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (m *mockStore) ListScheduledJobs(_ context.Context, filter store.ScheduledJobFilter) ([]*store.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ScheduledJob
	for _, job := range m.jobs {
		if filter.WorkflowID != "" && job.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Enabled != nil && job.Enabled != *filter.Enabled {
			continue
		}
		clone := *job
		out = append(out, &clone)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) DeleteScheduledJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return store.NotFound("scheduled job", id)
	}
	delete(m.jobs, id)
	return nil
}

// --- Stub executor ---

type stubExecutor struct{}

func (stubExecutor) ExecuteRun(context.Context, string, string, string) {}

func (stubExecutor) ContinueRun(context.Context, string, string, string) {}

// --- Helpers ---

func newTestServer(t *testing.T, ms *mockStore, model llm.Client) *LoomServer {
	t.Helper()
	validator, err := validation.NewStructuralValidator()
	require.NoError(t, err)

	if model == nil {
		model = llm.CompleteFunc(func(context.Context, llm.Request) (string, error) {
			return "{}", nil
		})
	}

	return NewLoomServer(LoomServerDeps{
		Workflows:    service.NewWorkflowService(ms, validator, validation.NewAnalyzer(ms), nil),
		Runs:         service.NewRunService(ms, ms, stubExecutor{}, nil, 0),
		Agents:       service.NewAgentService(ms, nil),
		Orchestrator: service.NewOrchestratorService(ms, model, nil),
		Schedules:    service.NewScheduleService(ms, ms, nil),
	})
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

func seedWorkflow(ms *mockStore, authorID string, steps ...schema.Step) *schema.Workflow {
	wf := &schema.Workflow{
		ID:       uuid.NewString(),
		Name:     "morning briefing",
		AuthorID: authorID,
		Context:  map[string]string{"topic": "weather"},
		Steps:    steps,
		Status:   schema.WorkflowStatusDraft,
	}
	ms.workflows[wf.ID] = wf
	return wf
}

// --- Tests ---

func TestWorkflowToolCreate(t *testing.T) {
	ms := newMockStore()
	s := newTestServer(t, ms, nil)

	req := buildRequest("loom.workflow", map[string]any{
		"action":  "create",
		"user_id": "user-1",
		"name":    "daily digest",
		"context": map[string]any{"topic": "tech", "retries": 3},
	})

	result, err := s.handleWorkflow(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var wf schema.Workflow
	unmarshalResult(t, result, &wf)
	assert.NotEmpty(t, wf.ID)
	assert.Equal(t, "daily digest", wf.Name)
	assert.Equal(t, "user-1", wf.AuthorID)
	assert.Equal(t, "3", wf.Context["retries"])
}

func TestWorkflowToolMissingUserID(t *testing.T) {
	s := newTestServer(t, newMockStore(), nil)

	req := buildRequest("loom.workflow", map[string]any{"action": "list"})
	result, err := s.handleWorkflow(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestWorkflowToolGetEnforcesOwnership(t *testing.T) {
	ms := newMockStore()
	wf := seedWorkflow(ms, "user-1")
	s := newTestServer(t, ms, nil)

	req := buildRequest("loom.workflow", map[string]any{
		"action":      "get",
		"user_id":     "user-2",
		"workflow_id": wf.ID,
	})

	result, err := s.handleWorkflow(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeForbidden)
}

func TestWorkflowToolUnknownAction(t *testing.T) {
	s := newTestServer(t, newMockStore(), nil)

	req := buildRequest("loom.workflow", map[string]any{
		"action":  "clone",
		"user_id": "user-1",
	})

	result, err := s.handleWorkflow(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestWorkflowToolDiagram(t *testing.T) {
	ms := newMockStore()
	wf := seedWorkflow(ms, "user-1", schema.Step{
		StepID: "s1", Order: 1, Type: schema.StepTypeLLM, Prompt: "Summarize",
	})
	s := newTestServer(t, ms, nil)

	req := buildRequest("loom.workflow", map[string]any{
		"action":      "diagram",
		"user_id":     "user-1",
		"workflow_id": wf.ID,
	})

	result, err := s.handleWorkflow(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "graph TD")
	assert.Contains(t, text, `s1{{"Summarize"}}`)
}

func TestStepToolAdd(t *testing.T) {
	ms := newMockStore()
	wf := seedWorkflow(ms, "user-1")
	s := newTestServer(t, ms, nil)

	req := buildRequest("loom.step", map[string]any{
		"action":      "add",
		"user_id":     "user-1",
		"workflow_id": wf.ID,
		"step": map[string]any{
			"order":  1,
			"type":   "LLM",
			"prompt": "Summarize {{context.topic}}",
		},
	})

	result, err := s.handleStep(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var updated schema.Workflow
	unmarshalResult(t, result, &updated)
	require.Len(t, updated.Steps, 1)
	assert.NotEmpty(t, updated.Steps[0].StepID)
	assert.Equal(t, schema.StepTypeLLM, updated.Steps[0].Type)
}

func TestStepToolAddRejectsInvalidStep(t *testing.T) {
	ms := newMockStore()
	wf := seedWorkflow(ms, "user-1")
	s := newTestServer(t, ms, nil)

	// AGENT step without agentId fails structural validation.
	req := buildRequest("loom.step", map[string]any{
		"action":      "add",
		"user_id":     "user-1",
		"workflow_id": wf.ID,
		"step": map[string]any{
			"order": 1,
			"type":  "AGENT",
		},
	})

	result, err := s.handleStep(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestValidateTool(t *testing.T) {
	ms := newMockStore()
	ms.agents["summarizer@1.0.0"] = &schema.Agent{
		ID:      "summarizer",
		Version: "1.0.0",
		Name:    "Summarizer",
		InputSchema: []schema.FieldSchema{
			{FieldName: "text", Type: "string", Required: true},
		},
	}
	wf := seedWorkflow(ms, "user-1", schema.Step{
		StepID:  "s1",
		Order:   1,
		Type:    schema.StepTypeAgent,
		AgentID: "summarizer",
	})
	s := newTestServer(t, ms, nil)

	req := buildRequest("loom.validate", map[string]any{
		"user_id":     "user-1",
		"workflow_id": wf.ID,
	})

	result, err := s.handleValidate(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var report schema.ValidationReport
	unmarshalResult(t, result, &report)
	assert.False(t, report.Compatible)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "text", report.Issues[0].Field)
}

func TestRunToolTriggerAndList(t *testing.T) {
	ms := newMockStore()
	wf := seedWorkflow(ms, "user-1", schema.Step{
		StepID: "s1", Order: 1, Type: schema.StepTypeLLM, Prompt: "hello",
	})
	s := newTestServer(t, ms, nil)

	result, err := s.handleRun(context.Background(), buildRequest("loom.run", map[string]any{
		"action":      "trigger",
		"user_id":     "user-1",
		"workflow_id": wf.ID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var run schema.Run
	unmarshalResult(t, result, &run)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, schema.RunStatusRunning, run.Status)

	result, err = s.handleRun(context.Background(), buildRequest("loom.run", map[string]any{
		"action":      "list",
		"user_id":     "user-1",
		"workflow_id": wf.ID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var listing struct {
		Runs  []schema.Run `json:"runs"`
		Count int          `json:"count"`
	}
	unmarshalResult(t, result, &listing)
	assert.Equal(t, 1, listing.Count)
}

func TestRunToolTriggerEmptyWorkflow(t *testing.T) {
	ms := newMockStore()
	wf := seedWorkflow(ms, "user-1")
	s := newTestServer(t, ms, nil)

	result, err := s.handleRun(context.Background(), buildRequest("loom.run", map[string]any{
		"action":      "trigger",
		"user_id":     "user-1",
		"workflow_id": wf.ID,
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeValidation)
}

func TestResumeTool(t *testing.T) {
	ms := newMockStore()
	wf := seedWorkflow(ms, "user-1",
		schema.Step{StepID: "s1", Order: 1, Type: schema.StepTypeLogic, LogicType: schema.LogicUserInput},
		schema.Step{StepID: "s2", Order: 2, Type: schema.StepTypeLLM, Prompt: "use {{s1.output.city}}"},
	)
	paused := &schema.Run{
		RunID:       "run-1",
		WorkflowID:  wf.ID,
		TriggeredBy: "user-1",
		Status:      schema.RunStatusWaiting,
		StepResults: []schema.StepResult{{
			StepID:          "s1",
			Status:          schema.StepStatusWaiting,
			PendingQuestion: "Which city?",
			OutputField:     "city",
		}},
		PendingStepID:    "s1",
		PendingStepOrder: 1,
	}
	ms.runs[paused.RunID] = paused
	s := newTestServer(t, ms, nil)

	result, err := s.handleResume(context.Background(), buildRequest("loom.resume", map[string]any{
		"user_id":     "user-1",
		"workflow_id": wf.ID,
		"run_id":      "run-1",
		"answer":      "Valdivia",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var run schema.Run
	unmarshalResult(t, result, &run)
	assert.Equal(t, schema.RunStatusRunning, run.Status)
	require.Len(t, run.StepResults, 1)
	assert.Equal(t, schema.StepStatusSuccess, run.StepResults[0].Status)
	assert.Equal(t, "Valdivia", run.StepResults[0].Output["city"])
}

func TestResumeToolNonStringAnswer(t *testing.T) {
	ms := newMockStore()
	wf := seedWorkflow(ms, "user-1",
		schema.Step{StepID: "s1", Order: 1, Type: schema.StepTypeLogic, LogicType: schema.LogicUserInput},
	)
	paused := &schema.Run{
		RunID:       "run-1",
		WorkflowID:  wf.ID,
		TriggeredBy: "user-1",
		Status:      schema.RunStatusWaiting,
		StepResults: []schema.StepResult{{
			StepID:          "s1",
			Status:          schema.StepStatusWaiting,
			PendingQuestion: "Proceed with the rollout?",
			OutputField:     "approved",
		}},
		PendingStepID:    "s1",
		PendingStepOrder: 1,
	}
	ms.runs[paused.RunID] = paused
	s := newTestServer(t, ms, nil)

	result, err := s.handleResume(context.Background(), buildRequest("loom.resume", map[string]any{
		"user_id":     "user-1",
		"workflow_id": wf.ID,
		"run_id":      "run-1",
		"answer":      true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var run schema.Run
	unmarshalResult(t, result, &run)
	require.Len(t, run.StepResults, 1)
	assert.Equal(t, true, run.StepResults[0].Output["approved"])
}

func TestResumeToolRunNotPaused(t *testing.T) {
	ms := newMockStore()
	wf := seedWorkflow(ms, "user-1", schema.Step{
		StepID: "s1", Order: 1, Type: schema.StepTypeLLM, Prompt: "hello",
	})
	run := &schema.Run{
		RunID:      "run-1",
		WorkflowID: wf.ID,
		Status:     schema.RunStatusSuccess,
	}
	ms.runs[run.RunID] = run
	s := newTestServer(t, ms, nil)

	result, err := s.handleResume(context.Background(), buildRequest("loom.resume", map[string]any{
		"user_id":     "user-1",
		"workflow_id": wf.ID,
		"run_id":      "run-1",
		"answer":      "too late",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeConflict)
}

func TestAgentToolRegisterAndSearch(t *testing.T) {
	ms := newMockStore()
	s := newTestServer(t, ms, nil)

	result, err := s.handleAgent(context.Background(), buildRequest("loom.agent", map[string]any{
		"action":  "register",
		"user_id": "user-1",
		"agent": map[string]any{
			"name":        "Weather Fetcher",
			"description": "fetches a city forecast",
			"outputSchema": []map[string]any{
				{"fieldName": "forecast", "type": "string"},
			},
		},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var agent schema.Agent
	unmarshalResult(t, result, &agent)
	assert.NotEmpty(t, agent.ID)
	assert.Equal(t, "private", agent.Visibility)

	result, err = s.handleAgent(context.Background(), buildRequest("loom.agent", map[string]any{
		"action":  "search",
		"user_id": "user-1",
		"keyword": "Weather",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var listing struct {
		Count int `json:"count"`
	}
	unmarshalResult(t, result, &listing)
	assert.Equal(t, 1, listing.Count)
}

func TestScheduleToolLifecycle(t *testing.T) {
	ms := newMockStore()
	wf := seedWorkflow(ms, "user-1", schema.Step{
		StepID: "s1", Order: 1, Type: schema.StepTypeLLM, Prompt: "hello",
	})
	s := newTestServer(t, ms, nil)

	result, err := s.handleSchedule(context.Background(), buildRequest("loom.schedule", map[string]any{
		"action":      "create",
		"user_id":     "user-1",
		"workflow_id": wf.ID,
		"cron":        "0 9 * * *",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var job store.ScheduledJob
	unmarshalResult(t, result, &job)
	assert.NotEmpty(t, job.ID)
	assert.True(t, job.Enabled)
	require.NotNil(t, job.NextRunAt)

	result, err = s.handleSchedule(context.Background(), buildRequest("loom.schedule", map[string]any{
		"action":  "disable",
		"user_id": "user-1",
		"job_id":  job.ID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var disabled store.ScheduledJob
	unmarshalResult(t, result, &disabled)
	assert.False(t, disabled.Enabled)

	result, err = s.handleSchedule(context.Background(), buildRequest("loom.schedule", map[string]any{
		"action":  "delete",
		"user_id": "user-1",
		"job_id":  job.ID,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestScheduleToolRejectsBadCron(t *testing.T) {
	ms := newMockStore()
	wf := seedWorkflow(ms, "user-1")
	s := newTestServer(t, ms, nil)

	result, err := s.handleSchedule(context.Background(), buildRequest("loom.schedule", map[string]any{
		"action":      "create",
		"user_id":     "user-1",
		"workflow_id": wf.ID,
		"cron":        "not a cron",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeValidation)
}

func TestDraftTool(t *testing.T) {
	ms := newMockStore()
	model := llm.CompleteFunc(func(_ context.Context, req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, "intent analyzer") {
			return `{"intent": "summarize news", "entities": {"topic": "news"}}`, nil
		}
		return `{"workflowName": "News digest", "summary": "Summarizes the news", "steps": [{"order": 1, "type": "LLM", "prompt": "Summarize today's news"}], "usedAgentIds": []}`, nil
	})
	s := newTestServer(t, ms, model)

	result, err := s.handleDraft(context.Background(), buildRequest("loom.draft", map[string]any{
		"message": "give me a daily news summary",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var draft service.WorkflowDraft
	unmarshalResult(t, result, &draft)
	assert.Equal(t, "News digest", draft.WorkflowName)
	require.Len(t, draft.Steps, 1)
}
