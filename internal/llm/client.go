// Package llm talks to language model providers. The only provider is
// a local Ollama endpoint; the Client interface keeps callers from
// depending on its wire format.
package llm

import "context"

// Client is implemented by every model provider.
type Client interface {
	// Chat sends a completion request and returns the full response.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping reports whether the provider is reachable.
	Ping(ctx context.Context) error
}
