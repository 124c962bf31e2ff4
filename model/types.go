// Package model provides domain types shared across packages.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage represents a single message in a conversation turn.
type ChatMessage struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // For assistant messages requesting tools
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool result messages
}

// SystemMessage creates a system message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// ToolResultMessage creates a tool result message paired to a tool call id.
func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, Content: content, ToolCallID: callID}
}

// ToolCall represents a model-issued request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Citation is a source reference accumulated from tool results.
// Duplicate URLs are allowed; deduplication is a presentation concern.
type Citation struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url"`
	Excerpt string `json:"excerpt,omitempty"`
}

// TokenUsage contains token accounting for one or more model calls.
type TokenUsage struct {
	PromptTokens     uint32 `json:"prompt_tokens"`
	CompletionTokens uint32 `json:"completion_tokens"`
	TotalTokens      uint32 `json:"total_tokens"`
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Mode governs the latency/quality/cost tradeoff for one request.
type Mode string

const (
	ModeFast     Mode = "fast"
	ModeAuto     Mode = "auto"
	ModeExtended Mode = "extended"
)

// ParseMode parses a mode string. Unrecognized values fall back to
// ModeAuto; mode selection never fails.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeFast:
		return ModeFast
	case ModeExtended:
		return ModeExtended
	default:
		return ModeAuto
	}
}

// String returns the string representation of the mode.
func (m Mode) String() string {
	return string(m)
}

// ChatRequest is one inbound chat request as seen by the orchestrator.
// The subject id is assumed already authenticated by the caller.
type ChatRequest struct {
	RequestID      string `json:"request_id"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Query          string `json:"query"`
	Mode           Mode   `json:"mode"`
}

// Validate checks the request for the fields the core requires.
func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if r.UserID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	return nil
}

// Answer is the terminal result of one completed request.
type Answer struct {
	MessageID      string     `json:"message_id"`
	ConversationID string     `json:"conversation_id"`
	Content        string     `json:"content"`
	Citations      []Citation `json:"citations,omitempty"`
	ToolsUsed      []string   `json:"tools_used,omitempty"`
	Model          string     `json:"model"`
	Mode           Mode       `json:"mode"`
	Cached         bool       `json:"cached"`
	Usage          TokenUsage `json:"usage"`
	Iterations     int        `json:"iterations"`
	TimedOut       bool       `json:"timed_out,omitempty"`
}
