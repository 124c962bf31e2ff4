// Package orchestration ties the pipeline together: rate limiting,
// strategy selection, cache lookup, context assembly, the agentic
// engine, and persistence of everything the run produced.
package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/richinex/skein/budget"
	"github.com/richinex/skein/cache"
	"github.com/richinex/skein/checkpoint"
	"github.com/richinex/skein/engine"
	"github.com/richinex/skein/llm"
	"github.com/richinex/skein/model"
	"github.com/richinex/skein/ratelimit"
	"github.com/richinex/skein/retrieval"
	"github.com/richinex/skein/storage"
	"github.com/richinex/skein/strategy"
	"github.com/richinex/skein/stream"
	"github.com/richinex/skein/tools"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	EnsureConversation(ctx context.Context, conversationID, userID string) error
	UpsertMessage(ctx context.Context, msg storage.StoredMessage) error
	History(ctx context.Context, conversationID string, limit int) ([]model.ChatMessage, error)
	RecordFeedback(ctx context.Context, messageID string, positive bool, comment string) error
}

// Config selects models per mode and bounds context assembly.
type Config struct {
	// ModelByMode maps an execution mode to the model the router
	// should start from.
	ModelByMode map[model.Mode]string
	// SystemPrompt is prepended to every conversation.
	SystemPrompt string
	// HistoryLimit bounds how many stored messages are loaded.
	HistoryLimit int
	// ContextWait bounds how long the orchestrator waits for history
	// and retrieval before proceeding without them.
	ContextWait time.Duration
	// BuildTools, when set, supplies a per-conversation tool registry
	// so conversation-scoped tools see the right conversation.
	BuildTools func(conversationID string) *tools.Registry
}

func DefaultConfig() Config {
	return Config{
		ModelByMode: map[model.Mode]string{
			model.ModeFast:     llm.ModelOpenAIGPT4oMini,
			model.ModeAuto:     llm.ModelOpenAIGPT4o,
			model.ModeExtended: llm.ModelAnthropicSonnet,
		},
		SystemPrompt: "You are a precise assistant. Use the available tools when a question needs current or catalog information, and cite your sources.",
		HistoryLimit: 40,
		ContextWait:  2 * time.Second,
	}
}

// Orchestrator handles chat requests end to end.
type Orchestrator struct {
	engine      *engine.Engine
	store       Store
	answerCache *cache.Cache
	limiter     *ratelimit.Limiter
	checkpoints *checkpoint.Manager
	retriever   retrieval.Retriever
	config      Config
	logger      *slog.Logger
}

func New(eng *engine.Engine, store Store, answerCache *cache.Cache, limiter *ratelimit.Limiter, checkpoints *checkpoint.Manager, retriever retrieval.Retriever, config Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ModelByMode == nil {
		config.ModelByMode = DefaultConfig().ModelByMode
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = DefaultConfig().HistoryLimit
	}
	if config.ContextWait <= 0 {
		config.ContextWait = DefaultConfig().ContextWait
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultConfig().SystemPrompt
	}
	return &Orchestrator{
		engine:      eng,
		store:       store,
		answerCache: answerCache,
		limiter:     limiter,
		checkpoints: checkpoints,
		retriever:   retriever,
		config:      config,
		logger:      logger,
	}
}

// Chat runs one request, emitting progress, deltas and exactly one
// terminal event on the sink.
func (o *Orchestrator) Chat(ctx context.Context, req model.ChatRequest, sink stream.Sink) {
	if err := o.prepare(&req); err != nil {
		sink.Emit(stream.Errorf("invalid request: %v", err))
		return
	}

	logger := o.logger.With("request_id", req.RequestID, "conversation_id", req.ConversationID)

	strat := strategy.Derive(req)
	logger.Info("strategy selected",
		"mode", strat.Mode, "tools", strat.AllowTools, "max_iterations", strat.MaxIterations)

	// Quota is tracked per (user, model) so one expensive model cannot
	// starve a user's access to the others.
	if o.limiter != nil {
		res := o.limiter.Allow(ctx, req.UserID, o.config.ModelByMode[strat.Mode])
		if !res.Allowed {
			logger.Info("request rate limited", "user_id", req.UserID, "reset_at", res.ResetAt)
			sink.Emit(stream.Errorf("rate limit exceeded, retry after %s", res.ResetAt.UTC().Format(time.RFC3339)))
			return
		}
	}

	if o.answerCache != nil {
		if cached := o.answerCache.Lookup(ctx, req.Query, strat.Mode); cached != nil {
			logger.Info("cache hit", "mode", strat.Mode)
			// Cached answers travel the same event pipeline a fresh
			// one would, so consumers cannot tell them apart except
			// by the flag.
			sink.Emit(stream.Delta(cached.Content))
			sink.Emit(stream.Done(*cached))
			return
		}
	}

	o.run(ctx, req, strat, sink, nil, logger)
}

// Resume continues an interrupted request from its checkpoint. When no
// live checkpoint exists the request runs from scratch.
func (o *Orchestrator) Resume(ctx context.Context, req model.ChatRequest, sink stream.Sink) {
	if err := o.prepare(&req); err != nil {
		sink.Emit(stream.Errorf("invalid request: %v", err))
		return
	}
	logger := o.logger.With("request_id", req.RequestID, "conversation_id", req.ConversationID)

	var resume *checkpoint.Checkpoint
	if o.checkpoints != nil {
		cp, err := o.checkpoints.Restore(ctx, req.RequestID)
		if err != nil {
			logger.Warn("checkpoint restore failed, starting fresh", "error", err)
		} else {
			resume = cp
		}
	}
	if resume != nil {
		req.Mode = resume.Mode
	}

	strat := strategy.Derive(req)
	o.run(ctx, req, strat, sink, resume, logger)
}

// prepare fills in identifiers and validates.
func (o *Orchestrator) prepare(req *model.ChatRequest) error {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	return req.Validate()
}

// run executes the uncached path: assemble context, drive the engine,
// persist the result.
func (o *Orchestrator) run(ctx context.Context, req model.ChatRequest, strat strategy.ExecutionStrategy, sink stream.Sink, resume *checkpoint.Checkpoint, logger *slog.Logger) {
	if err := o.store.EnsureConversation(ctx, req.ConversationID, req.UserID); err != nil {
		sink.Emit(stream.Errorf("conversation setup failed: %v", err))
		return
	}

	sink.Emit(stream.Progress("assembling context"))
	messages := o.assembleContext(ctx, req, strat, logger)

	userMessageID := uuid.NewString()
	if err := o.store.UpsertMessage(ctx, storage.StoredMessage{
		ID:             userMessageID,
		ConversationID: req.ConversationID,
		Message:        model.UserMessage(req.Query),
	}); err != nil {
		logger.Warn("user message persist failed", "error", err)
	}

	modelName := o.config.ModelByMode[strat.Mode]
	answerID := uuid.NewString()

	// Deltas go to the caller immediately and to storage in batches.
	batcher := stream.NewBatcher(func(persistCtx context.Context, content string) error {
		return o.store.UpsertMessage(persistCtx, storage.StoredMessage{
			ID:             answerID,
			ConversationID: req.ConversationID,
			Message:        model.AssistantMessage(content),
			Model:          modelName,
			CreatedAt:      time.Now(),
		})
	}, logger)
	defer batcher.Close(context.WithoutCancel(ctx))

	batchingSink := stream.SinkFunc(func(event stream.Event) {
		if event.Type == stream.EventDelta {
			batcher.Add(ctx, event.Text)
		}
		sink.Emit(event)
	})

	var registry *tools.Registry
	if o.config.BuildTools != nil {
		registry = o.config.BuildTools(req.ConversationID)
	}

	sink.Emit(stream.Progress("thinking"))
	result := o.engine.Run(ctx, engine.RunParams{
		RequestID:      req.RequestID,
		ConversationID: req.ConversationID,
		Model:          modelName,
		Strategy:       strat,
		Messages:       messages,
		Sink:           batchingSink,
		Tools:          registry,
		Resume:         resume,
	})

	// Flush whatever streamed before deciding the terminal event, so
	// partial content survives failures and timeouts.
	batcher.Close(context.WithoutCancel(ctx))

	// Final upsert stamps the usage accounting the batched writes
	// could not know yet.
	if result.FinalText != "" {
		if err := o.store.UpsertMessage(context.WithoutCancel(ctx), storage.StoredMessage{
			ID:             answerID,
			ConversationID: req.ConversationID,
			Message:        model.AssistantMessage(result.FinalText),
			Model:          modelName,
			Mode:           strat.Mode.String(),
			Usage:          &result.Usage,
		}); err != nil {
			logger.Warn("usage persist failed", "error", err)
		}
	}

	if result.Err != nil {
		logger.Error("run failed", "error", result.Err, "iterations", result.Iterations)
		sink.Emit(stream.Errorf("%v", result.Err))
		return
	}

	answer := model.Answer{
		MessageID:      answerID,
		ConversationID: req.ConversationID,
		Content:        result.FinalText,
		Citations:      result.Citations,
		ToolsUsed:      result.ToolsUsed,
		Model:          modelName,
		Mode:           strat.Mode,
		Usage:          result.Usage,
		Iterations:     result.Iterations,
		TimedOut:       result.TimedOut,
	}

	// Only complete answers are worth caching or cleaning up after. A
	// timed-out run keeps its checkpoint so the client can resume.
	if !result.TimedOut {
		if o.answerCache != nil && result.FinalText != "" {
			if err := o.answerCache.Put(ctx, req.Query, strat.Mode, answer); err != nil {
				logger.Warn("cache populate failed", "error", err)
			}
		}
		if o.checkpoints != nil {
			o.checkpoints.Clear(context.WithoutCancel(ctx), req.RequestID)
		}
	}

	logger.Info("run complete",
		"iterations", result.Iterations,
		"tools", result.ToolsUsed,
		"prompt_tokens", result.Usage.PromptTokens,
		"completion_tokens", result.Usage.CompletionTokens,
		"timed_out", result.TimedOut)
	sink.Emit(stream.Done(answer))
}

// assembleContext loads history and retrieval concurrently, waiting a
// bounded time for each. A slow or failing loader degrades the
// context, never the request.
func (o *Orchestrator) assembleContext(ctx context.Context, req model.ChatRequest, strat strategy.ExecutionStrategy, logger *slog.Logger) []model.ChatMessage {
	type historyResult struct {
		messages []model.ChatMessage
		err      error
	}
	type retrievalResult struct {
		docs []retrieval.Doc
		err  error
	}

	loadCtx, cancel := context.WithTimeout(ctx, o.config.ContextWait)
	defer cancel()

	historyCh := make(chan historyResult, 1)
	go func() {
		msgs, err := o.store.History(loadCtx, req.ConversationID, o.config.HistoryLimit)
		historyCh <- historyResult{messages: msgs, err: err}
	}()

	retrievalCh := make(chan retrievalResult, 1)
	if o.retriever != nil && strat.AllowTools {
		go func() {
			docs, err := o.retriever.Retrieve(loadCtx, req.Query, 3)
			retrievalCh <- retrievalResult{docs: docs, err: err}
		}()
	} else {
		retrievalCh <- retrievalResult{}
	}

	var history []model.ChatMessage
	select {
	case res := <-historyCh:
		if res.err != nil {
			logger.Warn("history load failed, continuing without it", "error", res.err)
		} else {
			history = res.messages
		}
	case <-loadCtx.Done():
		logger.Warn("history load timed out")
	}

	var docs []retrieval.Doc
	select {
	case res := <-retrievalCh:
		if res.err != nil {
			logger.Warn("retrieval failed, continuing without it", "error", res.err)
		} else {
			docs = res.docs
		}
	case <-loadCtx.Done():
		logger.Warn("retrieval timed out")
	}

	messages := make([]model.ChatMessage, 0, len(history)+3)
	messages = append(messages, model.SystemMessage(o.config.SystemPrompt))
	if len(docs) > 0 {
		messages = append(messages, model.SystemMessage(referenceNote(docs)))
	}
	messages = append(messages, history...)
	messages = append(messages, model.UserMessage(req.Query))

	window := budget.WindowFor(strat.Mode)
	return budget.Compact(messages, window.History+window.System)
}

func referenceNote(docs []retrieval.Doc) string {
	note := "Reference material that may be relevant:\n"
	for _, d := range docs {
		note += fmt.Sprintf("- %s: %s\n", d.Title, d.Content)
	}
	return note
}

// Feedback records a user's verdict on an answer. Positive feedback
// feeds cache promotion; negative feedback invalidates every cached
// copy of the answer's query.
func (o *Orchestrator) Feedback(ctx context.Context, messageID, query string, mode model.Mode, positive bool, comment string) error {
	if messageID == "" {
		return fmt.Errorf("message id is required")
	}
	if err := o.store.RecordFeedback(ctx, messageID, positive, comment); err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}

	if o.answerCache == nil || query == "" {
		return nil
	}
	if positive {
		if err := o.answerCache.Upvote(ctx, query, mode); err != nil {
			o.logger.Warn("cache upvote failed", "message_id", messageID, "error", err)
		}
		return nil
	}
	if err := o.answerCache.Invalidate(ctx, query); err != nil {
		o.logger.Warn("cache invalidation failed", "message_id", messageID, "error", err)
	}
	return nil
}
