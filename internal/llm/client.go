package llm

import "context"

// DefaultMaxTokens is used when a Request leaves MaxTokens unset.
const DefaultMaxTokens = 4096

// Client is the interface that all model providers implement.
type Client interface {
	// Chat sends one request and returns the complete response.
	Chat(ctx context.Context, req *Request) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
