package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loomhq/loom/internal/service"
)

// LoomServerDeps holds the dependencies for creating a LoomServer.
type LoomServerDeps struct {
	Workflows    *service.WorkflowService
	Runs         *service.RunService
	Agents       *service.AgentService
	Orchestrator *service.OrchestratorService
	Schedules    *service.ScheduleService
	Logger       *slog.Logger
}

// LoomServer wraps an MCP server with loom-specific tool handlers.
type LoomServer struct {
	workflows    *service.WorkflowService
	runs         *service.RunService
	agents       *service.AgentService
	orchestrator *service.OrchestratorService
	schedules    *service.ScheduleService
	logger       *slog.Logger
	mcpServer    *server.MCPServer
}

// NewLoomServer creates a new LoomServer with all tools registered.
func NewLoomServer(deps LoomServerDeps) *LoomServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &LoomServer{
		workflows:    deps.Workflows,
		runs:         deps.Runs,
		agents:       deps.Agents,
		orchestrator: deps.Orchestrator,
		schedules:    deps.Schedules,
		logger:       logger,
	}

	mcpSrv := server.NewMCPServer(
		"loom",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Loom assembles typed steps (AGENT, LLM, LOGIC) into workflows and executes them with pause/resume support. Use loom.workflow to manage workflows, loom.step to edit steps, loom.validate to check compatibility before running, loom.run to trigger and inspect runs, loom.resume to answer a paused run, loom.agent to manage the agent directory, loom.draft to design a workflow from a description, and loom.schedule for recurring runs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *LoomServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *LoomServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *LoomServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: workflowTool(), Handler: s.handleWorkflow},
		{Tool: stepTool(), Handler: s.handleStep},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: agentTool(), Handler: s.handleAgent},
		{Tool: draftTool(), Handler: s.handleDraft},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
	}
}

// --- Tool definitions ---

func workflowTool() mcp.Tool {
	return mcp.NewTool("loom.workflow",
		mcp.WithDescription("Manage workflows: create, get, update, delete, or list your workflows, or render one as a Mermaid diagram"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("create", "get", "update", "delete", "list", "diagram"),
			mcp.Description("Operation to perform")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user; workflows are owner-scoped")),
		mcp.WithString("workflow_id", mcp.Description("Target workflow (required for get/update/delete/diagram)")),
		mcp.WithString("run_id", mcp.Description("Overlay this run's step statuses on the diagram (diagram only)")),
		mcp.WithString("name", mcp.Description("Workflow name (create/update)")),
		mcp.WithString("description", mcp.Description("Workflow description (create/update)")),
		mcp.WithObject("context", mcp.Description("Workflow context: string keys to string values; {{current_user.id}} and {{now}} resolve at run start")),
		mcp.WithString("status", mcp.Description("Workflow status: draft or active (update only)")),
	)
}

func stepTool() mcp.Tool {
	return mcp.NewTool("loom.step",
		mcp.WithDescription("Edit workflow steps: add, replace, or delete a step"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("add", "replace", "delete"),
			mcp.Description("Operation to perform")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user")),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Target workflow")),
		mcp.WithString("step_id", mcp.Description("Target step (required for replace/delete)")),
		mcp.WithObject("step", mcp.Description("Step definition: {order, type: AGENT|LLM|LOGIC, ...variant fields} (required for add/replace)")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("loom.validate",
		mcp.WithDescription("Statically check that every required agent input in the workflow is satisfiable before triggering a run. Returns {compatible, issues}."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user")),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow to analyze")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("loom.run",
		mcp.WithDescription("Trigger or inspect workflow runs. trigger starts background execution and returns the run immediately; get/list inspect existing runs."),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("trigger", "get", "list"),
			mcp.Description("Operation to perform")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user")),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Target workflow")),
		mcp.WithString("run_id", mcp.Description("Target run (required for get)")),
		mcp.WithNumber("limit", mcp.Description("Max runs to return (list only, default 20)")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("loom.resume",
		mcp.WithDescription("Answer a paused run's pending question. The run continues from the step after the paused one."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user")),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Target workflow")),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Paused run")),
		mcp.WithString("answer", mcp.Required(), mcp.Description("Answer to the pending question; non-string JSON values are accepted and stored as-is")),
	)
}

func agentTool() mcp.Tool {
	return mcp.NewTool("loom.agent",
		mcp.WithDescription("Manage the agent directory: register a new agent, get one, or search by keyword"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("register", "get", "search"),
			mcp.Description("Operation to perform")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user")),
		mcp.WithString("agent_id", mcp.Description("Target agent (get)")),
		mcp.WithString("version", mcp.Description("Agent version (get, default 1.0.0)")),
		mcp.WithString("keyword", mcp.Description("Search keyword (search)")),
		mcp.WithObject("agent", mcp.Description("Agent definition: {name, description, systemPrompt, inputSchema, outputSchema, visibility} (register)")),
	)
}

func draftTool() mcp.Tool {
	return mcp.NewTool("loom.draft",
		mcp.WithDescription("Design a workflow from a natural-language description using directory agents. Returns proposed steps; nothing is persisted or executed."),
		mcp.WithString("message", mcp.Required(), mcp.Description("What the workflow should do")),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("loom.schedule",
		mcp.WithDescription("Manage recurring runs of a workflow on a cron schedule"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("create", "list", "enable", "disable", "delete"),
			mcp.Description("Operation to perform")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user; scheduled runs execute as this user")),
		mcp.WithString("workflow_id", mcp.Description("Target workflow (required for create/list)")),
		mcp.WithString("job_id", mcp.Description("Target job (required for enable/disable/delete)")),
		mcp.WithString("cron", mcp.Description("Five-field cron expression, e.g. \"0 9 * * *\" (create only)")),
	)
}
