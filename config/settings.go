// Package config provides application settings loaded from a YAML
// file with environment variable overrides.
//
// Settings are created via Load() which handles:
// - YAML parsing when a config file is present
// - Environment variable parsing with validation
// - Default value application
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/richinex/skein/llm"
)

// Settings holds all application configuration.
type Settings struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Providers []ProviderConfig `yaml:"providers"`
	Routing   RoutingConfig    `yaml:"routing"`
	Cache     CacheConfig      `yaml:"cache"`
	Search    SearchConfig     `yaml:"search"`
}

// ServerConfig holds the HTTP surface configuration.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	RateLimit       int    `yaml:"rate_limit"`
	RateWindowSecs  int    `yaml:"rate_window_secs"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_secs"`
}

// DatabaseConfig holds storage configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ProviderConfig declares one provider and the models requests may
// name. Models outside these lists are rejected before any network
// call.
type ProviderConfig struct {
	Name   string   `yaml:"name"`
	APIKey string   `yaml:"api_key"`
	Models []string `yaml:"models"`
}

// RoutingConfig controls model selection and fallback.
type RoutingConfig struct {
	// Fallback is the candidate order as provider/model pairs.
	Fallback []FallbackEntry `yaml:"fallback"`
	// ModelByMode picks the starting model per execution mode.
	ModelByMode map[string]string `yaml:"model_by_mode"`
	// CallTimeoutSecs is the per-provider-call hard timeout.
	CallTimeoutSecs int `yaml:"call_timeout_secs"`
}

// FallbackEntry is one step of the fallback chain.
type FallbackEntry struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// CacheConfig tunes the answer cache and checkpointing.
type CacheConfig struct {
	TTLHours          int `yaml:"ttl_hours"`
	PromoteAfter      int `yaml:"promote_after"`
	CheckpointTTLMins int `yaml:"checkpoint_ttl_mins"`
}

// SearchConfig holds web tool configuration.
type SearchConfig struct {
	BraveAPIKey      string   `yaml:"brave_api_key"`
	FetchDomains     []string `yaml:"fetch_domains"`
	FetchTimeoutSecs int      `yaml:"fetch_timeout_secs"`
}

// Defaults returns the settings used when no file or environment
// overrides are present.
func Defaults() Settings {
	return Settings{
		Server: ServerConfig{
			Addr:            ":8080",
			RateLimit:       30,
			RateWindowSecs:  60,
			ShutdownTimeout: 10,
		},
		Database: DatabaseConfig{
			Path: "skein.db",
		},
		Providers: []ProviderConfig{
			{Name: "openai", Models: []string{llm.ModelOpenAIGPT4o, llm.ModelOpenAIGPT4oMini}},
			{Name: "anthropic", Models: []string{llm.ModelAnthropicSonnet, llm.ModelAnthropicHaiku}},
			{Name: "deepseek", Models: []string{llm.ModelDeepSeekChat}},
			{Name: "gemini", Models: []string{llm.ModelGeminiFlash}},
		},
		Routing: RoutingConfig{
			Fallback: []FallbackEntry{
				{Provider: "openai", Model: llm.ModelOpenAIGPT4o},
				{Provider: "anthropic", Model: llm.ModelAnthropicSonnet},
			},
			ModelByMode: map[string]string{
				"fast":     llm.ModelOpenAIGPT4oMini,
				"auto":     llm.ModelOpenAIGPT4o,
				"extended": llm.ModelAnthropicSonnet,
			},
			CallTimeoutSecs: 30,
		},
		Cache: CacheConfig{
			TTLHours:          24,
			PromoteAfter:      3,
			CheckpointTTLMins: 60,
		},
		Search: SearchConfig{
			FetchTimeoutSecs: 8,
		},
	}
}

// Load reads settings from the given YAML file, then applies
// environment overrides. An empty path skips the file and uses
// defaults plus environment.
func Load(path string) (Settings, error) {
	settings := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &settings); err != nil {
			return Settings{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := settings.applyEnv(); err != nil {
		return Settings{}, err
	}
	if err := settings.validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// applyEnv overrides file values from the environment.
func (s *Settings) applyEnv() error {
	if addr := os.Getenv("SKEIN_ADDR"); addr != "" {
		s.Server.Addr = addr
	}
	if path := os.Getenv("SKEIN_DB_PATH"); path != "" {
		s.Database.Path = path
	}
	if key := os.Getenv("BRAVE_API_KEY"); key != "" {
		s.Search.BraveAPIKey = key
	}

	limit, err := getEnvInt("SKEIN_RATE_LIMIT", s.Server.RateLimit)
	if err != nil {
		return err
	}
	s.Server.RateLimit = limit

	window, err := getEnvInt("SKEIN_RATE_WINDOW_SECS", s.Server.RateWindowSecs)
	if err != nil {
		return err
	}
	s.Server.RateWindowSecs = window

	ttl, err := getEnvInt("SKEIN_CACHE_TTL_HOURS", s.Cache.TTLHours)
	if err != nil {
		return err
	}
	s.Cache.TTLHours = ttl

	return nil
}

func (s *Settings) validate() error {
	if len(s.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	if len(s.Routing.Fallback) == 0 {
		return fmt.Errorf("routing fallback chain cannot be empty")
	}
	for _, entry := range s.Routing.Fallback {
		if !s.providerDeclares(entry.Provider, entry.Model) {
			return fmt.Errorf("fallback entry %s/%s does not match any configured provider model", entry.Provider, entry.Model)
		}
	}
	for mode, modelName := range s.Routing.ModelByMode {
		if !s.anyProviderDeclares(modelName) {
			return fmt.Errorf("model %q for mode %q is not declared by any provider", modelName, mode)
		}
	}
	return nil
}

func (s *Settings) providerDeclares(provider, modelName string) bool {
	for _, p := range s.Providers {
		if p.Name != provider {
			continue
		}
		for _, m := range p.Models {
			if m == modelName {
				return true
			}
		}
	}
	return false
}

func (s *Settings) anyProviderDeclares(modelName string) bool {
	for _, p := range s.Providers {
		for _, m := range p.Models {
			if m == modelName {
				return true
			}
		}
	}
	return false
}

// RateWindow returns the limiter window as a duration.
func (s *Settings) RateWindow() time.Duration {
	return time.Duration(s.Server.RateWindowSecs) * time.Second
}

// CacheTTL returns the answer cache TTL as a duration.
func (s *Settings) CacheTTL() time.Duration {
	return time.Duration(s.Cache.TTLHours) * time.Hour
}

// CheckpointTTL returns the checkpoint TTL as a duration.
func (s *Settings) CheckpointTTL() time.Duration {
	return time.Duration(s.Cache.CheckpointTTLMins) * time.Minute
}

// CallTimeout returns the per-call router timeout as a duration.
func (s *Settings) CallTimeout() time.Duration {
	return time.Duration(s.Routing.CallTimeoutSecs) * time.Second
}

// Environment variable helpers with proper error handling

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}
