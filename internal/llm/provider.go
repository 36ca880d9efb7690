// Package llm provides a unified interface over the labeling-oracle backends.
package llm

import (
	"context"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    Role
	Content string
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add accumulates usage from another call.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// CompletionRequest represents a request to the oracle.
type CompletionRequest struct {
	// Operation names the pipeline step issuing the call ("label_spans",
	// "repair_spans"). Used for logging and tool naming.
	Operation   string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// JSONMode asks the backend for JSON-only output.
	JSONMode bool
	// JSONSchema constrains the output shape on backends with native
	// structured output.
	JSONSchema map[string]any
}

// CompletionResponse represents the oracle response.
type CompletionResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
	Model        string
}

// Provider is the core abstraction over oracle backends. A Provider is a
// stateless handle, safe to share across concurrent calls.
type Provider interface {
	// Complete sends a completion request and returns the raw response.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// Name returns the provider identifier.
	Name() string

	// SupportsJSONSchema returns true if the provider has native
	// structured output.
	SupportsJSONSchema() bool
}

// ProviderConfig holds common configuration for providers.
type ProviderConfig struct {
	APIKey     string
	BaseURL    string // for OpenRouter or custom endpoints
	Model      string
	MaxRetries int
	Timeout    time.Duration
}

// DefaultProviderConfig returns sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		MaxRetries: 3,
		Timeout:    60 * time.Second,
	}
}
