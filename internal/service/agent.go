package service

import (
	"context"
	"log/slog"

	"github.com/loomhq/loom/internal/store"
	"github.com/loomhq/loom/pkg/schema"
)

// AgentService manages the agent directory: registration, lookup, search.
type AgentService struct {
	agents store.AgentDirectory
	logger *slog.Logger
}

func NewAgentService(agents store.AgentDirectory, logger *slog.Logger) *AgentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentService{agents: agents, logger: logger}
}

// RegisterAgentRequest carries the user-settable fields of a new agent.
type RegisterAgentRequest struct {
	Name         string               `json:"name"`
	Description  string               `json:"description,omitempty"`
	SystemPrompt string               `json:"systemPrompt,omitempty"`
	InputSchema  []schema.FieldSchema `json:"inputSchema,omitempty"`
	OutputSchema []schema.FieldSchema `json:"outputSchema,omitempty"`
	Visibility   string               `json:"visibility,omitempty"`
	Version      string               `json:"version,omitempty"`
}

func (s *AgentService) Register(ctx context.Context, authorID string, req RegisterAgentRequest) (*schema.Agent, error) {
	if req.Name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "agent name is required")
	}
	for _, field := range append(append([]schema.FieldSchema{}, req.InputSchema...), req.OutputSchema...) {
		if field.FieldName == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "schema field is missing fieldName")
		}
	}

	visibility := req.Visibility
	if visibility == "" {
		visibility = "private"
	}
	agent := &schema.Agent{
		Version:      req.Version,
		Name:         req.Name,
		Description:  req.Description,
		AuthorID:     authorID,
		SystemPrompt: req.SystemPrompt,
		InputSchema:  req.InputSchema,
		OutputSchema: req.OutputSchema,
		Visibility:   visibility,
		Status:       "published",
	}
	if err := s.agents.RegisterAgent(ctx, agent); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "agent registered",
		slog.String("agent_id", agent.ID), slog.String("author_id", authorID))
	return agent, nil
}

func (s *AgentService) Get(ctx context.Context, agentID, version string) (*schema.Agent, error) {
	return s.agents.GetAgent(ctx, agentID, version)
}

func (s *AgentService) Search(ctx context.Context, keyword string, limit int) ([]*schema.Agent, error) {
	return s.agents.SearchAgents(ctx, keyword, limit)
}
