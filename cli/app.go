// Stack assembly for CLI commands.
//
// Every subcommand builds the same stack from settings: storage,
// providers, router, engine, orchestrator. The assembly lives here so
// serve and chat cannot drift apart.

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/richinex/skein/cache"
	"github.com/richinex/skein/checkpoint"
	"github.com/richinex/skein/config"
	"github.com/richinex/skein/engine"
	"github.com/richinex/skein/llm"
	"github.com/richinex/skein/model"
	"github.com/richinex/skein/orchestration"
	"github.com/richinex/skein/ratelimit"
	"github.com/richinex/skein/retrieval"
	"github.com/richinex/skein/router"
	"github.com/richinex/skein/storage"
	"github.com/richinex/skein/tools"
)

// Options holds CLI execution options.
type Options struct {
	ConfigPath  string
	CatalogPath string
	Verbose     bool
}

// App is the assembled stack behind every subcommand.
type App struct {
	Settings     config.Settings
	Store        *storage.SqliteStorage
	Orchestrator *orchestration.Orchestrator
	Limiter      *ratelimit.Limiter
	Logger       *slog.Logger
}

// NewApp loads settings and wires the full stack. The caller owns the
// returned App and must Close it.
func NewApp(opts Options) (*App, error) {
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := storage.OpenSqlite(settings.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	providers := make(map[string]llm.Provider)
	for _, pc := range settings.Providers {
		p, err := llm.NewProvider(llm.ProviderSpec{Name: pc.Name, APIKey: pc.APIKey, Models: pc.Models})
		if err != nil {
			logger.Warn("provider unavailable", "provider", pc.Name, "error", err)
			continue
		}
		providers[llm.CanonicalName(pc.Name)] = p
	}

	var candidates []router.Candidate
	for _, entry := range settings.Routing.Fallback {
		p, ok := providers[llm.CanonicalName(entry.Provider)]
		if !ok {
			logger.Warn("fallback entry skipped, provider unavailable",
				"provider", entry.Provider, "model", entry.Model)
			continue
		}
		candidates = append(candidates, router.Candidate{Provider: p, Model: entry.Model})
	}
	if len(candidates) == 0 {
		store.Close()
		return nil, fmt.Errorf("no usable providers: check API keys and the routing fallback chain")
	}

	routerConfig := router.DefaultConfig()
	if t := settings.CallTimeout(); t > 0 {
		routerConfig.CallTimeout = t
	}
	rt := router.New(candidates, router.DefaultBreakerConfig(), routerConfig, logger)

	retriever, err := loadCatalog(opts.CatalogPath)
	if err != nil {
		store.Close()
		return nil, err
	}

	checkpoints := checkpoint.NewManager(store, settings.CheckpointTTL(), logger)
	eng := engine.New(rt, nil, tools.NewDefaultExecutor(), checkpoints, logger)

	answerCache := cache.New(store, cache.Config{
		TTL:          settings.CacheTTL(),
		PromoteAfter: settings.Cache.PromoteAfter,
		// The knowledge collaborator consumes this feed out of band;
		// for now the event is surfaced in the log stream.
		OnPromote: func(ctx context.Context, entry cache.Entry) {
			logger.Info("answer promoted to shared knowledge",
				"hash", entry.Hash,
				"model", entry.Answer.Model,
				"upvotes", entry.Upvotes)
		},
	}, logger)

	limiter := ratelimit.New(store, ratelimit.Config{
		Limit:  settings.Server.RateLimit,
		Window: settings.RateWindow(),
	}, logger)

	orchConfig := orchestration.DefaultConfig()
	if len(settings.Routing.ModelByMode) > 0 {
		orchConfig.ModelByMode = make(map[model.Mode]string, len(settings.Routing.ModelByMode))
		for mode, modelName := range settings.Routing.ModelByMode {
			orchConfig.ModelByMode[model.ParseMode(mode)] = modelName
		}
	}
	orchConfig.BuildTools = toolBuilder(settings, store, retriever, logger)

	orch := orchestration.New(eng, store, answerCache, limiter, checkpoints, retriever, orchConfig, logger)

	return &App{
		Settings:     settings,
		Store:        store,
		Orchestrator: orch,
		Limiter:      limiter,
		Logger:       logger,
	}, nil
}

// Close releases the stack's resources.
func (a *App) Close() error {
	return a.Store.Close()
}

// toolBuilder returns the per-conversation registry factory. The
// artifact tool is bound to its conversation; everything else is
// stateless and rebuilt cheaply.
func toolBuilder(settings config.Settings, store *storage.SqliteStorage, retriever retrieval.Retriever, logger *slog.Logger) func(conversationID string) *tools.Registry {
	return func(conversationID string) *tools.Registry {
		registry := tools.NewRegistry()

		fetch := tools.NewFetchURLTool(uint64(settings.Search.FetchTimeoutSecs))
		if len(settings.Search.FetchDomains) > 0 {
			fetch = fetch.WithAllowedDomains(settings.Search.FetchDomains)
		}

		available := []tools.Tool{
			tools.NewWebSearchTool(settings.Search.BraveAPIKey),
			fetch,
			tools.NewCreateArtifactTool(store, conversationID),
		}
		if retriever != nil {
			available = append(available, tools.NewLookupPartTool(retriever))
		}

		for _, tool := range available {
			if err := registry.Register(tool); err != nil {
				logger.Warn("tool registration failed", "error", err)
			}
		}
		return registry
	}
}

// loadCatalog reads retrieval documents from a YAML file. An empty
// path means no catalog, which disables the lookup tool.
func loadCatalog(path string) (retrieval.Retriever, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var docs []retrieval.Doc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return retrieval.NewMemoryRetriever(docs), nil
}
