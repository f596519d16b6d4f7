package llm

import "context"

// Request is one completion call. System is optional.
type Request struct {
	System string
	Prompt string
}

// Client produces a free-text completion for a prompt. Implementations
// must be safe for concurrent use; the engine may run many runs at once.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleteFunc adapts a function to the Client interface.
type CompleteFunc func(ctx context.Context, req Request) (string, error)

func (f CompleteFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
