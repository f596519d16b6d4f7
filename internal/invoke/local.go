package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loomhq/loom/internal/llm"
	"github.com/loomhq/loom/pkg/schema"
)

// LocalInvoker executes agents in-process by prompting a model with the
// agent's system prompt. Useful for single-node deployments and local
// development where no remote executor exists.
type LocalInvoker struct {
	model llm.Client
}

var _ AgentInvoker = (*LocalInvoker)(nil)

func NewLocalInvoker(model llm.Client) *LocalInvoker {
	return &LocalInvoker{model: model}
}

func (i *LocalInvoker) Invoke(ctx context.Context, agent *schema.Agent, input map[string]any) (map[string]any, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeAgent, "marshal agent input").WithCause(err)
	}

	text, err := i.model.Complete(ctx, llm.Request{
		System: agent.SystemPrompt,
		Prompt: buildAgentPrompt(agent, string(inputJSON)),
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgent, "agent %q call failed", agent.ID).WithCause(err)
	}

	if output, ok := llm.ExtractJSONObject(text); ok {
		return output, nil
	}

	// Fall back to a single-field object when the agent declares exactly
	// one output field and the model answered in plain text.
	if len(agent.OutputSchema) == 1 {
		return map[string]any{agent.OutputSchema[0].FieldName: strings.TrimSpace(text)}, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeAgent, "agent %q returned non-JSON output", agent.ID)
}

func buildAgentPrompt(agent *schema.Agent, inputJSON string) string {
	var sb strings.Builder
	sb.WriteString("Input:\n")
	sb.WriteString(inputJSON)
	if len(agent.OutputSchema) > 0 {
		sb.WriteString("\n\nRespond with a JSON object containing exactly these fields:\n")
		for _, field := range agent.OutputSchema {
			fmt.Fprintf(&sb, "- %s (%s)", field.FieldName, field.Type)
			if field.Description != "" {
				sb.WriteString(": " + field.Description)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
