package schema

import "time"

// RunStatus is the execution state of a run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
	RunStatusWaiting RunStatus = "waiting_user_input"
)

// Terminal reports whether the status ends the run.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

// Run is one execution attempt of a workflow. It is the sole unit of
// execution state: stepResults is append-only except for the single
// in-place replacement of the paused step's result on resume.
type Run struct {
	RunID       string       `json:"runId"`
	WorkflowID  string       `json:"workflowId"`
	TriggeredBy string       `json:"triggeredBy"`
	Status      RunStatus    `json:"status"`
	StepResults []StepResult `json:"stepResults"`
	StartedAt   time.Time    `json:"startedAt"`
	FinishedAt  *time.Time   `json:"finishedAt,omitempty"`

	// Pause bookkeeping, present while status=waiting_user_input and
	// retained through resume so the continuation knows where to restart.
	PendingStepID    string `json:"pendingStepId,omitempty"`
	PendingStepOrder int    `json:"pendingStepOrder,omitempty"`

	// FatalError records a run-level fault the engine could not classify.
	FatalError string `json:"fatalError,omitempty"`
}

// StepStatus is the terminal status of a single step attempt.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusWaiting StepStatus = "waiting_user_input"
)

// StepResult records one step attempt: the resolved input actually sent,
// the resolved output, and wall-clock latency regardless of outcome.
type StepResult struct {
	StepID    string         `json:"stepId"`
	Type      StepType       `json:"type"`
	Status    StepStatus     `json:"status"`
	Input     map[string]any `json:"input"`
	Output    map[string]any `json:"output"`
	LatencyMs int64          `json:"latency_ms"`
	Error     string         `json:"error,omitempty"`

	// Set only when status=waiting_user_input.
	PendingQuestion string `json:"pendingQuestion,omitempty"`
	OutputField     string `json:"outputField,omitempty"`
}
