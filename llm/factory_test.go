package llm

import (
	"strings"
	"testing"
)

func TestCanonicalName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"openai", "openai"},
		{"OpenAI", "openai"},
		{"claude", "anthropic"},
		{"google", "gemini"},
		{"gpt", "openai"},
		{" deepseek ", "deepseek"},
	}
	for _, tt := range tests {
		if got := CanonicalName(tt.in); got != tt.want {
			t.Errorf("CanonicalName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(ProviderSpec{Name: "mystery", APIKey: "k", Models: []string{"m"}})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !strings.Contains(err.Error(), "unknown provider") {
		t.Errorf("error = %v", err)
	}
}

func TestNewProviderRequiresModels(t *testing.T) {
	_, err := NewProvider(ProviderSpec{Name: "openai", APIKey: "k"})
	if err == nil {
		t.Fatal("expected error for empty model list")
	}
}

func TestNewProviderModelWhitelist(t *testing.T) {
	p, err := NewProvider(ProviderSpec{
		Name:   "openai",
		APIKey: "test-key",
		Models: []string{"gpt-4o", "gpt-4o-mini"},
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("name = %q", p.Name())
	}
	if !p.SupportsModel("gpt-4o") {
		t.Error("declared model rejected")
	}
	if p.SupportsModel("o3-large") {
		t.Error("undeclared model accepted")
	}
}
