package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	settings, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Server.Addr != ":8080" {
		t.Errorf("addr = %q, want :8080", settings.Server.Addr)
	}
	if settings.CacheTTL() != 24*time.Hour {
		t.Errorf("cache ttl = %v", settings.CacheTTL())
	}
	if len(settings.Routing.Fallback) == 0 {
		t.Error("default fallback chain is empty")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: ":9090"
  rate_limit: 5
providers:
  - name: openai
    models: [gpt-4o]
routing:
  fallback:
    - provider: openai
      model: gpt-4o
  model_by_mode:
    auto: gpt-4o
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	settings, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want :9090", settings.Server.Addr)
	}
	if settings.Server.RateLimit != 5 {
		t.Errorf("rate limit = %d, want 5", settings.Server.RateLimit)
	}
	if len(settings.Providers) != 1 || settings.Providers[0].Name != "openai" {
		t.Errorf("providers = %+v", settings.Providers)
	}
}

func TestLoadRejectsUndeclaredFallbackModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
providers:
  - name: openai
    models: [gpt-4o]
routing:
  fallback:
    - provider: openai
      model: gpt-9-ultra
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for fallback model missing from provider whitelist")
	}
}

func TestLoadRejectsUndeclaredModeModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
providers:
  - name: openai
    models: [gpt-4o]
routing:
  fallback:
    - provider: openai
      model: gpt-4o
  model_by_mode:
    fast: secret-model
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for mode model missing from provider whitelist")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SKEIN_ADDR", ":7070")
	t.Setenv("SKEIN_RATE_LIMIT", "3")
	t.Setenv("BRAVE_API_KEY", "brave-test")

	settings, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Server.Addr != ":7070" {
		t.Errorf("addr = %q", settings.Server.Addr)
	}
	if settings.Server.RateLimit != 3 {
		t.Errorf("rate limit = %d", settings.Server.RateLimit)
	}
	if settings.Search.BraveAPIKey != "brave-test" {
		t.Errorf("brave key = %q", settings.Search.BraveAPIKey)
	}
}

func TestLoadInvalidEnvValue(t *testing.T) {
	t.Setenv("SKEIN_RATE_LIMIT", "lots")

	if _, err := Load(""); err == nil {
		t.Error("expected error for non-numeric rate limit")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}
