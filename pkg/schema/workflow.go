package schema

import "time"

// WorkflowStatus is the authoring lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft  WorkflowStatus = "draft"
	WorkflowStatusActive WorkflowStatus = "active"
)

// Workflow is a user-authored ordered list of steps plus shared context
// variables. Steps are embedded in the workflow record, not independent
// entities.
type Workflow struct {
	ID          string            `json:"workflowId"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	AuthorID    string            `json:"authorId"`
	Context     map[string]string `json:"context,omitempty"`
	Steps       []Step            `json:"steps,omitempty"`
	Status      WorkflowStatus    `json:"status,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// StepType discriminates the step variants.
type StepType string

const (
	StepTypeAgent StepType = "AGENT"
	StepTypeLLM   StepType = "LLM"
	StepTypeLogic StepType = "LOGIC"
)

// LogicType discriminates the LOGIC step sub-variants.
type LogicType string

const (
	LogicCondition LogicType = "condition"
	LogicTransform LogicType = "transform"
	LogicUserInput LogicType = "user_input"
)

// DefaultSentinel in an inputMapping value requests the field's
// schema-declared default instead of template substitution.
const DefaultSentinel = "{{default}}"

// Step is one unit of work within a workflow, tagged by Type.
// Variant-specific fields are only meaningful for their variant:
//
//	AGENT — AgentID, AgentVersion, InputMapping, MissingFields
//	LLM   — Prompt, OutputSchema
//	LOGIC — LogicType plus Condition (condition) or Question/OutputField (user_input)
type Step struct {
	StepID string   `json:"stepId"`
	Order  int      `json:"order"`
	Type   StepType `json:"type"`

	// AGENT
	AgentID       string                            `json:"agentId,omitempty"`
	AgentVersion  string                            `json:"agentVersion,omitempty"`
	InputMapping  map[string]string                 `json:"inputMapping,omitempty"`
	MissingFields map[string]MissingFieldResolution `json:"missingFieldsResolution,omitempty"`

	// LLM
	Prompt       string        `json:"prompt,omitempty"`
	OutputSchema *OutputSchema `json:"outputSchema,omitempty"`

	// LOGIC
	LogicType   LogicType  `json:"logicType,omitempty"`
	Condition   *Condition `json:"condition,omitempty"`
	Question    string     `json:"question,omitempty"`
	OutputField string     `json:"outputField,omitempty"`
}

// MissingFieldResolution says how to satisfy a required agent input field
// that is not covered by the step's inputMapping.
type MissingFieldResolution struct {
	Source string `json:"source"` // context | step | fixed
	Value  string `json:"value"`
}

// OutputSchema is the single-field output declaration of an LLM step.
// Nil means raw text output.
type OutputSchema struct {
	FieldName string `json:"fieldName"`
	Type      string `json:"type,omitempty"`
}

// Condition configures a condition LOGIC step. If holds the comparison
// expression (template references allowed); Then/Else name the step the
// branch would continue to. Execution stays linear regardless.
type Condition struct {
	If   string `json:"if"`
	Then string `json:"then,omitempty"`
	Else string `json:"else,omitempty"`
}
