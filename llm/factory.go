// LLM provider factory.
//
// Providers are constructed from a spec naming the provider, its API key,
// and the models it is allowed to serve. The model list doubles as the
// whitelist consulted by SupportsModel.

package llm

import (
	"fmt"
	"os"
	"strings"
)

// ProviderSpec describes one provider to construct.
type ProviderSpec struct {
	Name   string   // openai, anthropic, deepseek, gemini
	APIKey string   // explicit key; falls back to the provider's env var
	Models []string // models this provider may serve
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

// apiKeyEnvVars maps canonical provider names to their API key env vars.
var apiKeyEnvVars = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"deepseek":  "DEEPSEEK_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// CanonicalName normalizes a provider name, resolving aliases.
func CanonicalName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := providerAliases[name]; ok {
		return canonical
	}
	return name
}

// NewProvider constructs a provider from its spec. When the spec carries
// no API key the provider's environment variable is consulted.
func NewProvider(spec ProviderSpec) (Provider, error) {
	name := CanonicalName(spec.Name)

	apiKey := spec.APIKey
	if apiKey == "" {
		envVar, ok := apiKeyEnvVars[name]
		if !ok {
			return nil, fmt.Errorf("unknown provider: %q", spec.Name)
		}
		apiKey = os.Getenv(envVar)
		if apiKey == "" {
			return nil, fmt.Errorf("%s: %s environment variable not set", name, envVar)
		}
	}

	if len(spec.Models) == 0 {
		return nil, fmt.Errorf("%s: no models configured", name)
	}

	switch name {
	case "openai":
		return NewOpenAIProvider(apiKey, spec.Models), nil
	case "anthropic":
		return NewAnthropicProvider(apiKey, spec.Models), nil
	case "deepseek":
		return NewDeepSeekProvider(apiKey, spec.Models), nil
	case "gemini":
		return NewGeminiProvider(apiKey, spec.Models), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", spec.Name)
	}
}

// SupportedProviders returns the canonical provider names.
func SupportedProviders() []string {
	return []string{"openai", "anthropic", "deepseek", "gemini"}
}

// Default model identifiers per provider.
const (
	ModelOpenAIGPT4o     = "gpt-4o"
	ModelOpenAIGPT4oMini = "gpt-4o-mini"
	ModelAnthropicSonnet = "claude-sonnet-4-20250514"
	ModelAnthropicHaiku  = "claude-haiku-4-20250514"
	ModelDeepSeekChat    = "deepseek-chat"
	ModelGeminiFlash     = "gemini-2.5-flash"
)
