package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loomhq/loom/internal/llm"
	"github.com/loomhq/loom/internal/store"
	"github.com/loomhq/loom/pkg/schema"
)

const maxIntentKeywordLen = 50

// OrchestratorService drafts workflows from natural-language descriptions:
// it extracts an intent keyword, searches the agent directory for relevant
// agents, then asks the model to design a step sequence using them.
// Drafting never executes anything.
type OrchestratorService struct {
	agents store.AgentDirectory
	model  llm.Client
	logger *slog.Logger
}

func NewOrchestratorService(agents store.AgentDirectory, model llm.Client, logger *slog.Logger) *OrchestratorService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrchestratorService{agents: agents, model: model, logger: logger}
}

// DraftStep is one proposed step in a drafted workflow.
type DraftStep struct {
	Order       int    `json:"order"`
	Type        string `json:"type"`
	AgentID     string `json:"agentId,omitempty"`
	AgentName   string `json:"agentName,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	Description string `json:"description,omitempty"`
}

// WorkflowDraft is the orchestrator's answer: proposed steps for the
// authoring surface, not a persisted workflow.
type WorkflowDraft struct {
	WorkflowName string      `json:"workflowName"`
	Summary      string      `json:"summary"`
	Steps        []DraftStep `json:"draftSteps"`
	UsedAgentIDs []string    `json:"usedAgentIds"`
}

func (s *OrchestratorService) DraftWorkflow(ctx context.Context, message string) (*WorkflowDraft, error) {
	keyword := s.analyzeIntent(ctx, message)
	agents := s.searchAgents(ctx, keyword)

	text, err := s.model.Complete(ctx, llm.Request{Prompt: buildDraftPrompt(message, agents)})
	if err != nil {
		return nil, err
	}

	draft := &WorkflowDraft{
		WorkflowName: "New Workflow",
		Summary:      "Generated workflow",
		Steps:        []DraftStep{},
		UsedAgentIDs: []string{},
	}
	parsed, ok := llm.ExtractJSONObject(text)
	if !ok {
		s.logger.WarnContext(ctx, "draft response was not valid JSON, returning empty draft")
		return draft, nil
	}

	// Round-trip through JSON to map the loose object onto the draft type.
	raw, err := json.Marshal(parsed)
	if err != nil {
		return draft, nil
	}
	var decoded struct {
		WorkflowName string      `json:"workflowName"`
		Summary      string      `json:"summary"`
		Steps        []DraftStep `json:"steps"`
		UsedAgentIDs []string    `json:"usedAgentIds"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return draft, nil
	}
	if decoded.WorkflowName != "" {
		draft.WorkflowName = decoded.WorkflowName
	}
	draft.Summary = decoded.Summary
	if decoded.Steps != nil {
		draft.Steps = decoded.Steps
	}
	if decoded.UsedAgentIDs != nil {
		draft.UsedAgentIDs = decoded.UsedAgentIDs
	}
	return draft, nil
}

// analyzeIntent extracts a search keyword from the user's message. Falls
// back to the message itself when the model's answer is unusable.
func (s *OrchestratorService) analyzeIntent(ctx context.Context, message string) string {
	prompt := fmt.Sprintf(`You are an intent analyzer.

User input: %s

Decide what the user wants to do and respond with strict JSON:
{
  "intent": "string",
  "entities": {
    "topic": "string",
    "target": "string"
  }
}

Return only the JSON, no explanation.`, message)

	keyword := message
	if text, err := s.model.Complete(ctx, llm.Request{Prompt: prompt}); err == nil {
		if parsed, ok := llm.ExtractJSONObject(text); ok {
			if entities, ok := parsed["entities"].(map[string]any); ok {
				if topic, ok := entities["topic"].(string); ok && topic != "" {
					keyword = topic
				}
			} else if intent, ok := parsed["intent"].(string); ok && intent != "" {
				keyword = intent
			}
		}
	}
	if len(keyword) > maxIntentKeywordLen {
		keyword = keyword[:maxIntentKeywordLen]
	}
	return keyword
}

func (s *OrchestratorService) searchAgents(ctx context.Context, keyword string) []*schema.Agent {
	if keyword == "" {
		return nil
	}
	agents, err := s.agents.SearchAgents(ctx, keyword, 10)
	if err != nil {
		s.logger.WarnContext(ctx, "agent search failed", slog.String("error", err.Error()))
		return nil
	}
	return agents
}

func buildDraftPrompt(message string, agents []*schema.Agent) string {
	type agentSummary struct {
		AgentID      string               `json:"agentId"`
		Name         string               `json:"name"`
		Description  string               `json:"description"`
		InputSchema  []schema.FieldSchema `json:"inputSchema"`
		OutputSchema []schema.FieldSchema `json:"outputSchema"`
	}
	summaries := make([]agentSummary, 0, len(agents))
	for _, a := range agents {
		summaries = append(summaries, agentSummary{
			AgentID:      a.ID,
			Name:         a.Name,
			Description:  a.Description,
			InputSchema:  a.InputSchema,
			OutputSchema: a.OutputSchema,
		})
	}
	agentList, _ := json.MarshalIndent(summaries, "", "  ")

	return fmt.Sprintf(`You are a workflow designer. Design a complete workflow from the user's description.

User description: %s

Available directory agents:
%s

Design rules:
1. Prefer directory agents (AGENT steps) where one fits.
2. Use an LLM step to call the model directly when no agent fits.
3. Use 2-6 steps, arranged in logical order.
4. LLM step prompts may reference earlier outputs with {{stepN.output.fieldName}}.

Respond with strict JSON (only the JSON, no explanation):
{
  "workflowName": "concise workflow name",
  "summary": "one sentence describing what this workflow does",
  "steps": [
    {
      "order": 1,
      "type": "AGENT",
      "agentId": "an agentId from the list above, or null if none fits",
      "agentName": "agent name for display",
      "description": "what this step does"
    },
    {
      "order": 2,
      "type": "LLM",
      "prompt": "generate ... based on {{step1.output.content}}",
      "description": "what this step does"
    }
  ],
  "usedAgentIds": ["agentId1", "agentId2"]
}`, message, agentList)
}
