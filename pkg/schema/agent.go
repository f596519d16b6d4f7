package schema

import "time"

// DefaultAgentVersion is assumed when a step omits agentVersion.
const DefaultAgentVersion = "1.0.0"

// FieldSchema is one field in an agent's input or output schema.
type FieldSchema struct {
	FieldName   string `json:"fieldName"`
	Type        string `json:"type"` // string | number | boolean | list<string> | object
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// Agent is a registered, versioned agent in the directory. The engine
// only reads its schemas and invocation config; authoring lives elsewhere.
type Agent struct {
	ID           string        `json:"agentId"`
	Version      string        `json:"version"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	AuthorID     string        `json:"authorId"`
	SystemPrompt string        `json:"systemPrompt,omitempty"`
	InputSchema  []FieldSchema `json:"inputSchema"`
	OutputSchema []FieldSchema `json:"outputSchema"`
	Visibility   string        `json:"visibility"` // public | private
	Status       string        `json:"status"`     // draft | published
	CallCount    int64         `json:"callCount"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}
