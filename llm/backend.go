package llm

import "context"

// Backend is the interface that all invocation backends must satisfy.
type Backend interface {
	Invoke(ctx context.Context, inv *Invocation) (*InvokeResponse, error)
	ListModels(ctx context.Context) (*ListModelsResponse, error)
}
