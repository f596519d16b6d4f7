package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loomhq/loom/internal/expressions"
	"github.com/loomhq/loom/internal/llm"
	"github.com/loomhq/loom/pkg/schema"
)

const (
	defaultPendingQuestion = "Please provide input"
	defaultOutputField     = "answer"
)

func (e *Engine) execAgent(ctx context.Context, step schema.Step, runContext map[string]any, stepOutputs map[string]map[string]any) (schema.StepResult, error) {
	agent, err := e.agents.GetAgent(ctx, step.AgentID, step.AgentVersion)
	if err != nil {
		return schema.StepResult{}, schema.NewErrorf(schema.ErrCodeAgent,
			"agent %q v%s not found", step.AgentID, step.AgentVersion).WithStep(step.StepID).WithCause(err)
	}

	input := resolveAgentInput(step, agent, runContext, stepOutputs)

	output, err := e.invoker.Invoke(ctx, agent, input)
	if err != nil {
		return schema.StepResult{}, err
	}

	// Best-effort usage counter; never fails the step.
	if err := e.agents.IncrementAgentUsage(ctx, agent.ID, agent.Version); err != nil {
		e.logger.WarnContext(ctx, "agent usage increment failed",
			slog.String("agent_id", agent.ID), slog.String("error", err.Error()))
	}

	return schema.StepResult{
		StepID: step.StepID,
		Type:   schema.StepTypeAgent,
		Status: schema.StepStatusSuccess,
		Input:  input,
		Output: output,
	}, nil
}

func (e *Engine) execLLM(ctx context.Context, step schema.Step, runContext map[string]any, stepOutputs map[string]map[string]any) (schema.StepResult, error) {
	prompt := expressions.ResolveTemplate(step.Prompt, runContext, stepOutputs)

	var system string
	if step.OutputSchema != nil && step.OutputSchema.FieldName != "" {
		hint, _ := json.Marshal(map[string]string{step.OutputSchema.FieldName: step.OutputSchema.Type})
		system = fmt.Sprintf("Respond with valid JSON: %s", hint)
	}

	text, err := e.model.Complete(ctx, llm.Request{System: system, Prompt: prompt})
	if err != nil {
		return schema.StepResult{}, err
	}

	var output map[string]any
	if step.OutputSchema != nil {
		if parsed, ok := llm.ExtractJSONObject(text); ok {
			output = parsed
		} else {
			output = map[string]any{"raw": text}
		}
	} else {
		output = map[string]any{"content": text}
	}

	return schema.StepResult{
		StepID: step.StepID,
		Type:   schema.StepTypeLLM,
		Status: schema.StepStatusSuccess,
		Input:  map[string]any{"prompt": prompt},
		Output: output,
	}, nil
}

func (e *Engine) execLogic(_ context.Context, step schema.Step, runContext map[string]any, stepOutputs map[string]map[string]any) (schema.StepResult, error) {
	switch step.LogicType {
	case schema.LogicUserInput:
		question := step.Question
		if question == "" {
			question = defaultPendingQuestion
		}
		outputField := step.OutputField
		if outputField == "" {
			outputField = defaultOutputField
		}
		return schema.StepResult{
			StepID:          step.StepID,
			Type:            schema.StepTypeLogic,
			Status:          schema.StepStatusWaiting,
			Input:           map[string]any{},
			Output:          map[string]any{},
			PendingQuestion: question,
			OutputField:     outputField,
		}, nil

	case schema.LogicCondition:
		var rawExpr string
		if step.Condition != nil {
			rawExpr = step.Condition.If
		}
		resolved := expressions.ResolveTemplate(rawExpr, runContext, stepOutputs)
		taken := expressions.EvalCondition(resolved)

		branch := "else"
		var nextStep string
		if step.Condition != nil {
			nextStep = step.Condition.Else
		}
		if taken {
			branch = "then"
			if step.Condition != nil {
				nextStep = step.Condition.Then
			}
		}
		// Branching metadata only; execution order stays linear.
		return schema.StepResult{
			StepID: step.StepID,
			Type:   schema.StepTypeLogic,
			Status: schema.StepStatusSuccess,
			Input:  map[string]any{"condition": rawExpr, "resolved": resolved},
			Output: map[string]any{"result": taken, "branch": branch, "nextStep": nextStep},
		}, nil

	default:
		// transform is a pass-through placeholder.
		return schema.StepResult{
			StepID: step.StepID,
			Type:   schema.StepTypeLogic,
			Status: schema.StepStatusSuccess,
			Input:  map[string]any{},
			Output: map[string]any{},
		}, nil
	}
}

// resolveAgentInput builds the call payload for an AGENT step. For each
// declared input field, in priority order: explicit inputMapping template
// (the {{default}} sentinel requests the schema default instead),
// missingFieldsResolution entry, then the schema default. Fields satisfied
// by none of these are omitted; the analyzer is responsible for surfacing
// them before execution.
func resolveAgentInput(step schema.Step, agent *schema.Agent, runContext map[string]any, stepOutputs map[string]map[string]any) map[string]any {
	input := make(map[string]any)

	for _, field := range agent.InputSchema {
		name := field.FieldName

		if tpl, ok := step.InputMapping[name]; ok {
			if tpl == schema.DefaultSentinel {
				input[name] = field.Default
			} else {
				input[name] = expressions.ResolveTemplate(tpl, runContext, stepOutputs)
			}
			continue
		}
		if res, ok := step.MissingFields[name]; ok {
			input[name] = expressions.ResolveTemplate(res.Value, runContext, stepOutputs)
			continue
		}
		if field.Default != nil {
			input[name] = field.Default
		}
	}
	return input
}
