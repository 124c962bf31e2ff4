// Anthropic Provider implementation using official anthropic-sdk-go.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for Anthropic Messages API
// - Streaming tool_use block accumulation

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/richinex/skein/model"
)

// AnthropicProvider implements the Provider interface for Anthropic Claude.
type AnthropicProvider struct {
	client anthropic.Client
	models modelSet
}

// NewAnthropicProvider creates a new Anthropic provider serving the given models.
func NewAnthropicProvider(apiKey string, models []string) *AnthropicProvider {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &AnthropicProvider{
		client: client,
		models: newModelSet(models),
	}
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// SupportsModel reports whether the model is in this provider's set.
func (p *AnthropicProvider) SupportsModel(modelName string) bool {
	return p.models.contains(modelName)
}

// Chat sends a chat completion request.
func (p *AnthropicProvider) Chat(ctx context.Context, req Request) (Response, error) {
	message, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return Response{}, fmt.Errorf("chat completion failed: %w", err)
	}

	content := ""
	var toolCalls []model.ToolCall
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			content += variant.Text
		case anthropic.ToolUseBlock:
			inputJSON, _ := json.Marshal(variant.Input)
			toolCalls = append(toolCalls, model.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: inputJSON,
			})
		}
	}

	var usage *model.TokenUsage
	if message.Usage.InputTokens > 0 || message.Usage.OutputTokens > 0 {
		usage = &model.TokenUsage{
			PromptTokens:     uint32(message.Usage.InputTokens),
			CompletionTokens: uint32(message.Usage.OutputTokens),
			TotalTokens:      uint32(message.Usage.InputTokens + message.Usage.OutputTokens),
		}
	}

	return Response{Content: content, ToolCalls: toolCalls, Usage: usage, Model: req.Model}, nil
}

// StreamChat streams a chat completion.
func (p *AnthropicProvider) StreamChat(ctx context.Context, req Request, chunks chan<- string) (Response, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(req))

	var content strings.Builder
	var toolCalls []model.ToolCall
	var usage *model.TokenUsage

	// Current tool_use block under accumulation; input JSON arrives as
	// partial fragments across delta events.
	var curTool *model.ToolCall
	var curArgs strings.Builder

	for stream.Next() {
		event := stream.Current()

		switch eventVariant := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			if eventVariant.Message.Usage.InputTokens > 0 {
				usage = &model.TokenUsage{
					PromptTokens: uint32(eventVariant.Message.Usage.InputTokens),
				}
			}
		case anthropic.ContentBlockStartEvent:
			if block, ok := eventVariant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				curTool = &model.ToolCall{ID: block.ID, Name: block.Name}
				curArgs.Reset()
			}
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if deltaVariant.Text != "" {
					content.WriteString(deltaVariant.Text)
					select {
					case chunks <- deltaVariant.Text:
					case <-ctx.Done():
						return Response{}, ctx.Err()
					}
				}
			case anthropic.InputJSONDelta:
				curArgs.WriteString(deltaVariant.PartialJSON)
			}
		case anthropic.ContentBlockStopEvent:
			if curTool != nil {
				args := curArgs.String()
				if args == "" {
					args = "{}"
				}
				curTool.Arguments = []byte(args)
				toolCalls = append(toolCalls, *curTool)
				curTool = nil
			}
		case anthropic.MessageDeltaEvent:
			if eventVariant.Usage.OutputTokens > 0 {
				if usage == nil {
					usage = &model.TokenUsage{}
				}
				usage.CompletionTokens = uint32(eventVariant.Usage.OutputTokens)
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			}
		}
	}

	if stream.Err() != nil {
		return Response{}, fmt.Errorf("stream error: %w", stream.Err())
	}

	return Response{
		Content:   content.String(),
		ToolCalls: toolCalls,
		Usage:     usage,
		Model:     req.Model,
	}, nil
}

func (p *AnthropicProvider) buildParams(req Request) anthropic.MessageNewParams {
	messages, systemPrompt := convertToAnthropicMessages(req.Messages)

	// The Messages API rejects max_tokens below 1.
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   maxTokens,
		Messages:    messages,
		Temperature: anthropic.Float(float64(req.Temperature)),
		Tools:       convertToAnthropicTools(req.Tools),
	}

	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}
	return params
}

// convertToAnthropicMessages converts model.ChatMessage to the Anthropic
// format, handling tool calls and tool results. The system message is
// extracted and returned separately.
func convertToAnthropicMessages(messages []model.ChatMessage) ([]anthropic.MessageParam, string) {
	var anthropicMessages []anthropic.MessageParam
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			systemPrompt = msg.Content
		case model.RoleUser:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case model.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				content := &anthropic.MessageParam{
					Role: anthropic.MessageParamRoleAssistant,
				}
				if msg.Content != "" {
					content.Content = append(content.Content, anthropic.NewTextBlock(msg.Content))
				}
				for _, tc := range msg.ToolCalls {
					var input map[string]interface{}
					_ = json.Unmarshal(tc.Arguments, &input)
					content.Content = append(content.Content, anthropic.ContentBlockParamUnion{
						OfToolUse: &anthropic.ToolUseBlockParam{
							ID:    tc.ID,
							Name:  tc.Name,
							Input: input,
						},
					})
				}
				anthropicMessages = append(anthropicMessages, *content)
			} else {
				anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(
					anthropic.NewTextBlock(msg.Content),
				))
			}
		case model.RoleTool:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		}
	}

	return anthropicMessages, systemPrompt
}

// convertToAnthropicTools converts tool definitions to Anthropic format.
func convertToAnthropicTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	result := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		properties, _ := t.Parameters["properties"].(map[string]interface{})
		required, _ := t.Parameters["required"].([]string)

		toolParam := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   required,
			},
		}
		result[i] = anthropic.ToolUnionParam{OfTool: &toolParam}
	}
	return result
}

// Verify AnthropicProvider implements Provider
var _ Provider = (*AnthropicProvider)(nil)
