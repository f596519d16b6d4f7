package validation

import (
	"context"
	"fmt"
	"sort"

	"github.com/loomhq/loom/internal/store"
	"github.com/loomhq/loom/pkg/schema"
)

const maxContextSuggestions = 3

// Analyzer performs static compatibility analysis of a workflow: it walks
// the steps in execution order and proves every required agent input will
// be satisfiable at runtime, without invoking any agent or model.
type Analyzer struct {
	agents store.AgentDirectory
}

func NewAnalyzer(agents store.AgentDirectory) *Analyzer {
	return &Analyzer{agents: agents}
}

// Analyze returns a report of every independent compatibility issue found.
// It never short-circuits on the first issue.
func (a *Analyzer) Analyze(ctx context.Context, wf *schema.Workflow) (*schema.ValidationReport, error) {
	report := &schema.ValidationReport{Compatible: true, Issues: []schema.ValidationIssue{}}

	// Field names known to be present when each step runs, seeded from
	// the workflow context and grown by step outputs.
	available := make(map[string]struct{}, len(wf.Context))
	for key := range wf.Context {
		available[key] = struct{}{}
	}

	steps := make([]schema.Step, len(wf.Steps))
	copy(steps, wf.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	for _, step := range steps {
		switch step.Type {
		case schema.StepTypeAgent:
			a.analyzeAgentStep(ctx, wf, step, available, report)

		case schema.StepTypeLLM:
			if step.OutputSchema != nil && step.OutputSchema.FieldName != "" {
				available[step.OutputSchema.FieldName] = struct{}{}
			}

		case schema.StepTypeLogic:
			// Logic steps contribute no fields to later steps.
		}
	}

	report.Compatible = len(report.Issues) == 0
	return report, nil
}

func (a *Analyzer) analyzeAgentStep(ctx context.Context, wf *schema.Workflow, step schema.Step, available map[string]struct{}, report *schema.ValidationReport) {
	agent, err := a.agents.GetAgent(ctx, step.AgentID, step.AgentVersion)
	if err != nil {
		if store.IsNotFound(err) {
			// Output fields cannot be registered for an unknown agent, so
			// downstream availability is reduced accordingly.
			report.AddIssue(step.StepID, "agentId",
				fmt.Sprintf("agent %q not found", step.AgentID), nil)
			return
		}
		report.AddIssue(step.StepID, "agentId",
			fmt.Sprintf("agent %q could not be loaded: %v", step.AgentID, err), nil)
		return
	}

	for _, field := range agent.InputSchema {
		if !field.Required || field.Default != nil {
			continue
		}
		if _, ok := step.InputMapping[field.FieldName]; ok {
			continue
		}
		if _, ok := step.MissingFields[field.FieldName]; ok {
			continue
		}
		if _, ok := available[field.FieldName]; ok {
			continue
		}
		report.AddIssue(step.StepID, field.FieldName,
			fmt.Sprintf("required input %q has no mapping, no resolution, and no upstream source", field.FieldName),
			buildSuggestions(wf.Context))
	}

	for _, field := range agent.OutputSchema {
		available[field.FieldName] = struct{}{}
	}
}

// buildSuggestions proposes up to three context references plus the generic
// fixed_value fallback, in stable key order.
func buildSuggestions(workflowContext map[string]string) []string {
	keys := make([]string, 0, len(workflowContext))
	for key := range workflowContext {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if len(keys) > maxContextSuggestions {
		keys = keys[:maxContextSuggestions]
	}

	suggestions := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		suggestions = append(suggestions, "context."+key)
	}
	return append(suggestions, "fixed_value")
}
