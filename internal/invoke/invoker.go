package invoke

import (
	"context"

	"github.com/loomhq/loom/pkg/schema"
)

// AgentInvoker executes one synchronous agent call. Implementations raise
// on agent-level or transport-level failure; no retries are performed here.
type AgentInvoker interface {
	Invoke(ctx context.Context, agent *schema.Agent, input map[string]any) (map[string]any, error)
}
