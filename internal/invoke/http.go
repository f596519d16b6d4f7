package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/loomhq/loom/pkg/schema"
)

// executorRequest is the wire contract of the shared agent-executor service.
type executorRequest struct {
	AgentID      string               `json:"agentId"`
	Version      string               `json:"version"`
	SystemPrompt string               `json:"systemPrompt"`
	OutputSchema []schema.FieldSchema `json:"outputSchema"`
	Input        map[string]any       `json:"input"`
}

// executorResponse carries either output or an agent-level error, never both.
type executorResponse struct {
	Output map[string]any `json:"output"`
	Error  string         `json:"error"`
}

// HTTPInvoker calls a remote agent-executor endpoint.
type HTTPInvoker struct {
	endpoint string
	http     *http.Client
}

var _ AgentInvoker = (*HTTPInvoker)(nil)

func NewHTTPInvoker(endpoint string, timeout time.Duration) *HTTPInvoker {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPInvoker{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

func (i *HTTPInvoker) Invoke(ctx context.Context, agent *schema.Agent, input map[string]any) (map[string]any, error) {
	body, err := json.Marshal(executorRequest{
		AgentID:      agent.ID,
		Version:      agent.Version,
		SystemPrompt: agent.SystemPrompt,
		OutputSchema: agent.OutputSchema,
		Input:        input,
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeAgent, "marshal executor request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeAgent, "build executor request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.http.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgent, "agent %q call failed", agent.ID).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeAgent, "read executor response").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, schema.NewErrorf(schema.ErrCodeAgent, "agent %q executor returned status %d", agent.ID, resp.StatusCode)
	}

	var out executorResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgent, "agent %q returned malformed payload", agent.ID).WithCause(err)
	}
	if out.Error != "" {
		return nil, schema.NewErrorf(schema.ErrCodeAgent, "agent %q error: %s", agent.ID, out.Error)
	}
	if out.Output == nil {
		return map[string]any{}, nil
	}
	return out.Output, nil
}
