// OpenAI Provider implementation using go-openai library.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for OpenAI Chat Completions API
// - Streaming tool-call fragment reassembly

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/richinex/skein/model"
)

// OpenAIProvider implements the Provider interface for OpenAI.
type OpenAIProvider struct {
	client *openai.Client
	models modelSet
}

// NewOpenAIProvider creates a new OpenAI provider serving the given models.
func NewOpenAIProvider(apiKey string, models []string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		models: newModelSet(models),
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// SupportsModel reports whether the model is in this provider's set.
func (p *OpenAIProvider) SupportsModel(modelName string) bool {
	return p.models.contains(modelName)
}

// Chat sends a chat completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, req Request) (Response, error) {
	return chatCompletionsAPI(ctx, p.client, req)
}

// StreamChat streams a chat completion.
func (p *OpenAIProvider) StreamChat(ctx context.Context, req Request, chunks chan<- string) (Response, error) {
	return streamCompletionsAPI(ctx, p.client, req, chunks)
}

// chatCompletionsAPI performs a non-streaming call against any
// OpenAI-compatible Chat Completions endpoint. Shared with the DeepSeek
// provider, which speaks the same wire format.
func chatCompletionsAPI(ctx context.Context, client *openai.Client, req Request) (Response, error) {
	resp, err := client.CreateChatCompletion(ctx, buildCompletionsRequest(req, false))
	if err != nil {
		return Response{}, fmt.Errorf("chat completion failed: %w", err)
	}

	content := ""
	var toolCalls []model.ToolCall
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		for _, tc := range resp.Choices[0].Message.ToolCalls {
			toolCalls = append(toolCalls, model.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: []byte(tc.Function.Arguments),
			})
		}
	}

	return Response{
		Content:   content,
		ToolCalls: toolCalls,
		Usage: &model.TokenUsage{
			PromptTokens:     uint32(resp.Usage.PromptTokens),
			CompletionTokens: uint32(resp.Usage.CompletionTokens),
			TotalTokens:      uint32(resp.Usage.TotalTokens),
		},
		Model: req.Model,
	}, nil
}

// streamCompletionsAPI performs a streaming call against any
// OpenAI-compatible Chat Completions endpoint.
func streamCompletionsAPI(ctx context.Context, client *openai.Client, req Request, chunks chan<- string) (Response, error) {
	oaiReq := buildCompletionsRequest(req, true)
	oaiReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := client.CreateChatCompletionStream(ctx, oaiReq)
	if err != nil {
		return Response{}, fmt.Errorf("stream creation failed: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	var usage *model.TokenUsage
	toolBuf := newToolCallBuffer()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Response{}, fmt.Errorf("stream recv failed: %w", err)
		}

		// Usage arrives in the final chunk when IncludeUsage is set.
		if response.Usage != nil {
			usage = &model.TokenUsage{
				PromptTokens:     uint32(response.Usage.PromptTokens),
				CompletionTokens: uint32(response.Usage.CompletionTokens),
				TotalTokens:      uint32(response.Usage.TotalTokens),
			}
		}

		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			toolBuf.add(idx, tc.ID, tc.Function.Name, tc.Function.Arguments)
		}

		if delta.Content != "" {
			content.WriteString(delta.Content)
			select {
			case chunks <- delta.Content:
			case <-ctx.Done():
				return Response{}, ctx.Err()
			}
		}
	}

	return Response{
		Content:   content.String(),
		ToolCalls: toolBuf.calls(),
		Usage:     usage,
		Model:     req.Model,
	}, nil
}

func buildCompletionsRequest(req Request, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    convertToOpenAIMessages(req.Messages),
		MaxTokens:   int(req.MaxTokens),
		Temperature: req.Temperature,
		Tools:       convertToOpenAITools(req.Tools),
		Stream:      stream,
	}
}

// convertToOpenAIMessages converts model.ChatMessage to openai messages,
// including assistant tool calls and tool result messages.
func convertToOpenAIMessages(messages []model.ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}

		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}

		if msg.ToolCallID != "" {
			oaiMsg.ToolCallID = msg.ToolCallID
		}

		result[i] = oaiMsg
	}
	return result
}

// convertToOpenAITools converts tool definitions to OpenAI format.
func convertToOpenAITools(tools []ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return result
}

// toolCallBuffer reassembles tool-call fragments that arrive across
// multiple stream chunks, keyed by choice index.
type toolCallBuffer struct {
	order []int
	byIdx map[int]*bufferedCall
}

type bufferedCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallBuffer() *toolCallBuffer {
	return &toolCallBuffer{byIdx: make(map[int]*bufferedCall)}
}

func (b *toolCallBuffer) add(idx int, id, name, argsFragment string) {
	call, ok := b.byIdx[idx]
	if !ok {
		call = &bufferedCall{}
		b.byIdx[idx] = call
		b.order = append(b.order, idx)
	}
	if id != "" {
		call.id = id
	}
	if name != "" {
		call.name = name
	}
	call.args.WriteString(argsFragment)
}

func (b *toolCallBuffer) calls() []model.ToolCall {
	if len(b.order) == 0 {
		return nil
	}
	calls := make([]model.ToolCall, 0, len(b.order))
	for _, idx := range b.order {
		c := b.byIdx[idx]
		args := c.args.String()
		if args == "" {
			args = "{}"
		}
		calls = append(calls, model.ToolCall{
			ID:        c.id,
			Name:      c.name,
			Arguments: []byte(args),
		})
	}
	return calls
}

// Verify OpenAIProvider implements Provider
var _ Provider = (*OpenAIProvider)(nil)
