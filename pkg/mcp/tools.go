package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/loomhq/loom/internal/diagram"
	"github.com/loomhq/loom/internal/service"
	"github.com/loomhq/loom/pkg/schema"
)

const defaultRunListLimit = 20

func (s *LoomServer) handleWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	switch action {
	case "create":
		workflowContext := mcp.ParseStringMap(req, "context", nil)
		wf, err := s.workflows.Create(ctx, userID, service.CreateWorkflowRequest{
			Name:        req.GetString("name", ""),
			Description: req.GetString("description", ""),
			Context:     stringValues(workflowContext),
		})
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(wf)

	case "get":
		workflowID, err := req.RequireString("workflow_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		wf, err := s.workflows.Get(ctx, workflowID, userID)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(wf)

	case "update":
		workflowID, err := req.RequireString("workflow_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		update := service.UpdateWorkflowRequest{}
		if name := req.GetString("name", ""); name != "" {
			update.Name = &name
		}
		if desc := req.GetString("description", ""); desc != "" {
			update.Description = &desc
		}
		if status := req.GetString("status", ""); status != "" {
			st := schema.WorkflowStatus(status)
			update.Status = &st
		}
		if _, ok := req.GetArguments()["context"]; ok {
			values := stringValues(mcp.ParseStringMap(req, "context", nil))
			update.Context = &values
		}
		wf, err := s.workflows.Update(ctx, workflowID, userID, update)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(wf)

	case "delete":
		workflowID, err := req.RequireString("workflow_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.workflows.Delete(ctx, workflowID, userID); err != nil {
			return toolError(err), nil
		}
		return marshalResult(map[string]any{"deleted": workflowID})

	case "list":
		workflows, err := s.workflows.ListMine(ctx, userID)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(map[string]any{"workflows": workflows, "count": len(workflows)})

	case "diagram":
		workflowID, err := req.RequireString("workflow_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		wf, err := s.workflows.Get(ctx, workflowID, userID)
		if err != nil {
			return toolError(err), nil
		}
		var run *schema.Run
		if runID := req.GetString("run_id", ""); runID != "" {
			run, err = s.runs.Get(ctx, workflowID, runID, userID)
			if err != nil {
				return toolError(err), nil
			}
		}
		return mcp.NewToolResultText(diagram.RenderMermaid(diagram.Build(wf, run))), nil

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", action)), nil
	}
}

func (s *LoomServer) handleStep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	switch action {
	case "add":
		var step schema.Step
		if err := decodeArgument(req, "step", &step); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		wf, err := s.workflows.AddStep(ctx, workflowID, userID, step)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(wf)

	case "replace":
		stepID, err := req.RequireString("step_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		var step schema.Step
		if err := decodeArgument(req, "step", &step); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		wf, err := s.workflows.ReplaceStep(ctx, workflowID, stepID, userID, step)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(wf)

	case "delete":
		stepID, err := req.RequireString("step_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		wf, err := s.workflows.DeleteStep(ctx, workflowID, stepID, userID)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(wf)

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", action)), nil
	}
}

func (s *LoomServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := s.workflows.Validate(ctx, workflowID, userID)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(report)
}

func (s *LoomServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	switch action {
	case "trigger":
		run, err := s.runs.Trigger(ctx, workflowID, userID)
		if err != nil {
			return toolError(err), nil
		}
		s.logger.InfoContext(ctx, "run triggered via mcp",
			slog.String("workflow_id", workflowID), slog.String("run_id", run.RunID))
		return marshalResult(run)

	case "get":
		runID, err := req.RequireString("run_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		run, err := s.runs.Get(ctx, workflowID, runID, userID)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(run)

	case "list":
		limit := req.GetInt("limit", defaultRunListLimit)
		runs, err := s.runs.List(ctx, workflowID, userID, limit)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(map[string]any{"runs": runs, "count": len(runs)})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", action)), nil
	}
}

func (s *LoomServer) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	// The answer is any JSON value; user_input steps can feed booleans or
	// objects into later steps, so it is passed through untyped.
	answer, ok := req.GetArguments()["answer"]
	if !ok {
		return mcp.NewToolResultError("required argument \"answer\" not found"), nil
	}

	run, err := s.runs.Resume(ctx, workflowID, runID, userID, answer)
	if err != nil {
		return toolError(err), nil
	}
	s.logger.InfoContext(ctx, "run resumed via mcp",
		slog.String("workflow_id", workflowID), slog.String("run_id", runID))
	return marshalResult(run)
}

func (s *LoomServer) handleAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	switch action {
	case "register":
		var spec service.RegisterAgentRequest
		if err := decodeArgument(req, "agent", &spec); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		agent, err := s.agents.Register(ctx, userID, spec)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(agent)

	case "get":
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		agent, err := s.agents.Get(ctx, agentID, req.GetString("version", schema.DefaultAgentVersion))
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(agent)

	case "search":
		keyword, err := req.RequireString("keyword")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		agents, err := s.agents.Search(ctx, keyword, defaultRunListLimit)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(map[string]any{"agents": agents, "count": len(agents)})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", action)), nil
	}
}

func (s *LoomServer) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	switch action {
	case "create":
		workflowID, err := req.RequireString("workflow_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		cronExpr, err := req.RequireString("cron")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		job, err := s.schedules.Create(ctx, workflowID, userID, cronExpr)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(job)

	case "list":
		workflowID, err := req.RequireString("workflow_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		jobs, err := s.schedules.List(ctx, workflowID, userID)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(map[string]any{"jobs": jobs, "count": len(jobs)})

	case "enable", "disable":
		jobID, err := req.RequireString("job_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		job, err := s.schedules.SetEnabled(ctx, jobID, userID, action == "enable")
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(job)

	case "delete":
		jobID, err := req.RequireString("job_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.schedules.Delete(ctx, jobID, userID); err != nil {
			return toolError(err), nil
		}
		return marshalResult(map[string]any{"deleted": jobID})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", action)), nil
	}
}

func (s *LoomServer) handleDraft(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	draft, err := s.orchestrator.DraftWorkflow(ctx, message)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(draft)
}

// decodeArgument extracts a structured argument by JSON round-trip into dest.
func decodeArgument(req mcp.CallToolRequest, key string, dest any) error {
	raw, ok := req.GetArguments()[key]
	if !ok {
		return fmt.Errorf("required argument %q not found", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("argument %q is not valid JSON: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("argument %q has the wrong shape: %w", key, err)
	}
	return nil
}

// stringValues narrows a parsed string map to string values, stringifying
// anything else so callers sending numbers in context don't get rejected.
func stringValues(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

// toolError maps a domain error to a tool result so the client sees the
// error code instead of a transport failure.
func toolError(err error) *mcp.CallToolResult {
	var loomErr *schema.LoomError
	if errors.As(err, &loomErr) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", loomErr.Code, loomErr.Message))
	}
	return mcp.NewToolResultError(err.Error())
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
