package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/loomhq/loom/internal/engine"
	"github.com/loomhq/loom/internal/invoke"
	"github.com/loomhq/loom/internal/llm"
	"github.com/loomhq/loom/internal/logging"
	"github.com/loomhq/loom/internal/scheduler"
	"github.com/loomhq/loom/internal/service"
	"github.com/loomhq/loom/internal/store"
	"github.com/loomhq/loom/internal/validation"
	"github.com/loomhq/loom/pkg/mcp"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		printVersion()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "loom:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	db, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating store: %w", err)
	}

	model, err := llm.NewAnthropicClient(llm.AnthropicConfig{
		APIKey:  cfg.AnthropicAPIKey,
		BaseURL: cfg.AnthropicBaseURL,
		Model:   cfg.Model,
	})
	if err != nil {
		return fmt.Errorf("configuring model client: %w", err)
	}

	var invoker invoke.AgentInvoker
	if cfg.ExecutorURL != "" {
		invoker = invoke.NewHTTPInvoker(cfg.ExecutorURL, time.Duration(cfg.StepTimeoutSec)*time.Second)
		logger.Info("agent invocation via executor", slog.String("endpoint", cfg.ExecutorURL))
	} else {
		invoker = invoke.NewLocalInvoker(model)
		logger.Info("agent invocation via local model")
	}

	validator, err := validation.NewStructuralValidator()
	if err != nil {
		return fmt.Errorf("compiling workflow schema: %w", err)
	}
	analyzer := validation.NewAnalyzer(db)

	eng := engine.New(db, db, db, invoker, model, logger, engine.Config{
		StepTimeout: time.Duration(cfg.StepTimeoutSec) * time.Second,
	})

	workflowSvc := service.NewWorkflowService(db, validator, analyzer, logger)
	runSvc := service.NewRunService(db, db, eng, logger, cfg.MaxSteps)
	agentSvc := service.NewAgentService(db, logger)
	orchestratorSvc := service.NewOrchestratorService(db, model, logger)
	scheduleSvc := service.NewScheduleService(db, db, logger)

	if cfg.Scheduler {
		sched := scheduler.NewScheduler(db, runSvc, logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		defer func() { _ = sched.Stop() }()
	}

	srv := mcp.NewLoomServer(mcp.LoomServerDeps{
		Workflows:    workflowSvc,
		Runs:         runSvc,
		Agents:       agentSvc,
		Orchestrator: orchestratorSvc,
		Schedules:    scheduleSvc,
		Logger:       logger,
	})

	logger.Info("loom server starting",
		slog.String("db_path", cfg.DBPath), slog.String("version", version))
	return srv.Serve(ctx)
}

// newLogger builds the process logger. MCP uses stdout for the protocol,
// so logs go to stderr.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(logging.NewCorrelationHandler(inner))
	slog.SetDefault(logger)
	return logger
}
