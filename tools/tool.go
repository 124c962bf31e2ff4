// Package tools provides the tool system for agentic runs: the Tool
// interface, a registry, and the executor that applies retries and
// per-call timeouts.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/richinex/skein/llm"
	"github.com/richinex/skein/model"
)

// ToolParameter defines a parameter schema for a tool.
type ToolParameter struct {
	Name        string `json:"name"`
	ParamType   string `json:"param_type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolMetadata describes what a tool does and how to use it.
type ToolMetadata struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
}

// String returns a string representation of the tool metadata.
func (m ToolMetadata) String() string {
	return fmt.Sprintf("%s: %s", m.Name, m.Description)
}

// Definition converts the metadata to the provider-facing schema.
func (m ToolMetadata) Definition() llm.ToolDefinition {
	properties := make(map[string]interface{}, len(m.Parameters))
	var required []string
	for _, p := range m.Parameters {
		properties[p.Name] = map[string]interface{}{
			"type":        p.ParamType,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	params := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return llm.ToolDefinition{
		Name:        m.Name,
		Description: m.Description,
		Parameters:  params,
	}
}

// ToolResult represents the result of a tool execution. Success is
// determined by whether Error is nil. Citations record the sources a
// tool consulted so the final answer can attribute them.
type ToolResult struct {
	Output    string           `json:"output"`
	Citations []model.Citation `json:"citations,omitempty"`
	Error     error            `json:"-"`
}

// MarshalJSON implements custom JSON marshaling for ToolResult.
func (t ToolResult) MarshalJSON() ([]byte, error) {
	type wire struct {
		Success   bool             `json:"success"`
		Output    string           `json:"output"`
		Citations []model.Citation `json:"citations,omitempty"`
		Error     string           `json:"error,omitempty"`
	}
	w := wire{Success: t.Error == nil, Output: t.Output, Citations: t.Citations}
	if t.Error != nil {
		w.Error = t.Error.Error()
	}
	return json.Marshal(w)
}

// Success returns true if the tool execution succeeded.
func (t ToolResult) Success() bool {
	return t.Error == nil
}

// SuccessResult creates a successful tool result.
func SuccessResult(output string) ToolResult {
	return ToolResult{Output: output}
}

// CitedResult creates a successful result carrying source citations.
func CitedResult(output string, citations []model.Citation) ToolResult {
	return ToolResult{Output: output, Citations: citations}
}

// FailureResult creates a failed tool result.
func FailureResult(err error) ToolResult {
	return ToolResult{Error: err}
}

// FailureResultf creates a failed tool result with a formatted error message.
func FailureResultf(format string, args ...interface{}) ToolResult {
	return ToolResult{Error: fmt.Errorf(format, args...)}
}

// Tool is the interface that all tools must implement.
type Tool interface {
	// Metadata returns tool metadata (name, description, parameters).
	Metadata() ToolMetadata

	// Execute runs the tool with given arguments.
	Execute(ctx context.Context, args json.RawMessage) (ToolResult, error)

	// Validate validates arguments before execution (optional).
	Validate(args json.RawMessage) error
}

// BaseTool provides a default implementation for Validate.
type BaseTool struct{}

// Validate provides a default no-op validation.
func (BaseTool) Validate(args json.RawMessage) error {
	return nil
}

// ToolConfig holds tool execution configuration. The zero value is
// safe: timeout defaults to 10s, retries to 2.
type ToolConfig struct {
	TimeoutSecs uint64
	MaxRetries  uint32
}

// Timeout returns the configured timeout, defaulting to 10 seconds if zero.
func (c *ToolConfig) Timeout() uint64 {
	if c == nil || c.TimeoutSecs == 0 {
		return 10
	}
	return c.TimeoutSecs
}

// Retries returns the configured max retries, defaulting to 2 if zero.
func (c *ToolConfig) Retries() uint32 {
	if c == nil || c.MaxRetries == 0 {
		return 2
	}
	return c.MaxRetries
}

// DefaultToolConfig returns the default tool configuration.
func DefaultToolConfig() ToolConfig {
	return ToolConfig{
		TimeoutSecs: 10,
		MaxRetries:  2,
	}
}
