// DeepSeek Provider implementation using go-openai library.
//
// Information Hiding:
// - Uses OpenAI-compatible API with a different base URL
// - Delegates wire-format handling to the shared Chat Completions helpers

package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// DeepSeekProvider implements the Provider interface for DeepSeek.
type DeepSeekProvider struct {
	client *openai.Client
	models modelSet
}

// NewDeepSeekProvider creates a new DeepSeek provider serving the given models.
func NewDeepSeekProvider(apiKey string, models []string) *DeepSeekProvider {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = deepseekBaseURL

	return &DeepSeekProvider{
		client: openai.NewClientWithConfig(config),
		models: newModelSet(models),
	}
}

// Name returns the provider name.
func (p *DeepSeekProvider) Name() string {
	return "deepseek"
}

// SupportsModel reports whether the model is in this provider's set.
func (p *DeepSeekProvider) SupportsModel(modelName string) bool {
	return p.models.contains(modelName)
}

// Chat sends a chat completion request.
func (p *DeepSeekProvider) Chat(ctx context.Context, req Request) (Response, error) {
	return chatCompletionsAPI(ctx, p.client, req)
}

// StreamChat streams a chat completion.
func (p *DeepSeekProvider) StreamChat(ctx context.Context, req Request, chunks chan<- string) (Response, error) {
	return streamCompletionsAPI(ctx, p.client, req, chunks)
}

// Verify DeepSeekProvider implements Provider
var _ Provider = (*DeepSeekProvider)(nil)
