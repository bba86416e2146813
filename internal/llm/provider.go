// Package llm is the completion client used to summarize code nodes.
package llm

import "context"

// Provider sends chat completions to a model backend.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Name() string
}
