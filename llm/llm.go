// Package llm provides LLM provider abstractions.
//
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Provider-specific error handling
// - Streaming event normalization into plain text deltas
package llm

import (
	"context"

	"github.com/richinex/skein/model"
)

// ToolDefinition defines a tool that the model can call.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// Request is a provider-agnostic chat completion request.
// Model, token budget and temperature are per-request so one provider
// instance can serve every model it supports.
type Request struct {
	Model       string
	Messages    []model.ChatMessage
	Tools       []ToolDefinition
	MaxTokens   uint32
	Temperature float32
}

// Response is a normalized response from any provider.
type Response struct {
	Content   string
	ToolCalls []model.ToolCall
	Usage     *model.TokenUsage
	Model     string
}

// Provider defines the abstract interface for LLM providers.
// Implementations hide provider-specific details while exposing
// a consistent interface for chat completions.
type Provider interface {
	// Name returns the provider name (for logging/routing).
	Name() string

	// SupportsModel reports whether this provider can serve a model.
	SupportsModel(modelName string) bool

	// Chat sends a chat completion request.
	Chat(ctx context.Context, req Request) (Response, error)

	// StreamChat streams a chat completion, sending text deltas to the
	// provided channel. The returned Response carries the accumulated
	// content plus any tool calls and token usage from the final events.
	StreamChat(ctx context.Context, req Request, chunks chan<- string) (Response, error)
}

// modelSet is a membership set over supported model names.
type modelSet map[string]struct{}

func newModelSet(models []string) modelSet {
	s := make(modelSet, len(models))
	for _, m := range models {
		s[m] = struct{}{}
	}
	return s
}

func (s modelSet) contains(m string) bool {
	_, ok := s[m]
	return ok
}
