// Package engine runs the agentic loop for one request: call the
// model, execute any tools it asks for, feed the observations back,
// repeat until the model answers in plain text or a bound is hit.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/richinex/skein/checkpoint"
	"github.com/richinex/skein/llm"
	"github.com/richinex/skein/model"
	"github.com/richinex/skein/strategy"
	"github.com/richinex/skein/stream"
	"github.com/richinex/skein/tools"
)

// ModelCaller is the slice of the router the engine needs.
type ModelCaller interface {
	StreamChat(ctx context.Context, req llm.Request, chunks chan<- string) (llm.Response, error)
}

// RunParams carries everything the engine needs for one run.
type RunParams struct {
	RequestID      string
	ConversationID string
	Model          string
	Strategy       strategy.ExecutionStrategy
	Messages       []model.ChatMessage
	Sink           stream.Sink
	// Tools overrides the engine's default registry for this run,
	// letting callers bind conversation-scoped tools.
	Tools *tools.Registry
	// Resume continues a previous run from its checkpoint instead of
	// starting at iteration zero.
	Resume *checkpoint.Checkpoint
}

// Result is the outcome of a run. On timeout FinalText holds whatever
// partial content was produced before the deadline hit. Err is set
// when the model call itself failed; terminal stream events are the
// caller's responsibility.
type Result struct {
	FinalText  string
	ToolsUsed  []string
	Citations  []model.Citation
	Usage      model.TokenUsage
	Iterations int
	TimedOut   bool
	Err        error
}

// Engine drives the state machine. One Engine serves many concurrent
// runs; per-run state lives on the stack of Run.
type Engine struct {
	caller      ModelCaller
	registry    *tools.Registry
	executor    *tools.Executor
	checkpoints *checkpoint.Manager
	logger      *slog.Logger
	toolTimeout time.Duration
}

func New(caller ModelCaller, registry *tools.Registry, executor *tools.Executor, checkpoints *checkpoint.Manager, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if executor == nil {
		executor = tools.NewDefaultExecutor()
	}
	return &Engine{
		caller:      caller,
		registry:    registry,
		executor:    executor,
		checkpoints: checkpoints,
		logger:      logger,
		toolTimeout: 10 * time.Second,
	}
}

// Run executes the loop until Finalize or Aborted.
func (e *Engine) Run(ctx context.Context, params RunParams) Result {
	ctx, cancel := context.WithTimeout(ctx, params.Strategy.Deadline)
	defer cancel()

	messages := params.Messages
	var (
		final     strings.Builder
		toolsUsed []string
		citations []model.Citation
		usage     model.TokenUsage
		iteration int
	)
	if params.Resume != nil {
		messages = params.Resume.Messages
		iteration = params.Resume.Iteration
		toolsUsed = params.Resume.ToolsUsed
		citations = params.Resume.Citations
		usage = params.Resume.Usage
		e.logger.Info("resuming from checkpoint",
			"request_id", params.RequestID, "iteration", iteration)
	}

	registry := e.registry
	if params.Tools != nil {
		registry = params.Tools
	}
	var defs []llm.ToolDefinition
	if params.Strategy.AllowTools && registry != nil {
		defs = registry.Definitions()
	}

	state := stateCallModel
	for {
		switch state {
		case stateCallModel:
			if ctx.Err() != nil {
				state = stateAborted
				continue
			}

			resp, err := e.callModel(ctx, params, messages, defs, &final)
			if err != nil {
				if ctx.Err() != nil {
					state = stateAborted
					continue
				}
				return Result{
					FinalText:  final.String(),
					ToolsUsed:  toolsUsed,
					Citations:  citations,
					Usage:      usage,
					Iterations: iteration,
					Err:        fmt.Errorf("model call failed: %w", err),
				}
			}
			usage.Add(resp.Usage)
			iteration++

			if resp.Content != "" || len(resp.ToolCalls) > 0 {
				messages = append(messages, model.ChatMessage{
					Role:      model.RoleAssistant,
					Content:   resp.Content,
					ToolCalls: resp.ToolCalls,
				})
			}

			state = nextState(resp.ToolCalls, iteration, params.Strategy, ctx.Err() != nil)
			if state == stateExecuteTools {
				var newCitations []model.Citation
				messages, newCitations, toolsUsed = e.executeTools(ctx, registry, params, resp.ToolCalls, messages, toolsUsed)
				citations = append(citations, newCitations...)
				e.saveCheckpoint(ctx, params, messages, iteration, toolsUsed, citations, usage)
				state = stateCallModel
			}

		case stateFinalize:
			return Result{
				FinalText:  final.String(),
				ToolsUsed:  toolsUsed,
				Citations:  citations,
				Usage:      usage,
				Iterations: iteration,
			}

		case stateAborted:
			e.logger.Warn("run aborted at deadline",
				"request_id", params.RequestID, "iteration", iteration)
			return Result{
				FinalText:  final.String(),
				ToolsUsed:  toolsUsed,
				Citations:  citations,
				Usage:      usage,
				Iterations: iteration,
				TimedOut:   true,
			}
		}
	}
}

// runState is the engine's position in the loop.
type runState int

const (
	stateCallModel runState = iota
	stateExecuteTools
	stateFinalize
	stateAborted
)

// nextState is the transition function, kept pure so the bounds are
// testable without a provider. Tool execution happens only while the
// iteration budget allows another model call to consume the results.
func nextState(toolCalls []model.ToolCall, iteration int, strat strategy.ExecutionStrategy, expired bool) runState {
	if expired {
		return stateAborted
	}
	if len(toolCalls) == 0 {
		return stateFinalize
	}
	if !strat.AllowTools {
		return stateFinalize
	}
	if iteration >= strat.MaxIterations {
		return stateFinalize
	}
	return stateExecuteTools
}

// callModel streams one completion, forwarding deltas to the sink and
// accumulating them into the final text.
func (e *Engine) callModel(ctx context.Context, params RunParams, messages []model.ChatMessage, defs []llm.ToolDefinition, final *strings.Builder) (llm.Response, error) {
	chunks := make(chan string, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for delta := range chunks {
			final.WriteString(delta)
			params.Sink.Emit(stream.Delta(delta))
		}
	}()

	resp, err := e.caller.StreamChat(ctx, llm.Request{
		Model:       params.Model,
		Messages:    messages,
		Tools:       defs,
		MaxTokens:   params.Strategy.MaxTokens,
		Temperature: params.Strategy.Temperature,
	}, chunks)
	close(chunks)
	<-done
	return resp, err
}

// executeTools runs the model's tool calls in order, appending one
// observation message per call. A failing tool becomes an error
// observation rather than ending the run; the model decides how to
// proceed without it.
func (e *Engine) executeTools(ctx context.Context, registry *tools.Registry, params RunParams, calls []model.ToolCall, messages []model.ChatMessage, toolsUsed []string) ([]model.ChatMessage, []model.Citation, []string) {
	var citations []model.Citation
	for _, call := range calls {
		params.Sink.Emit(stream.ToolStart(call.Name))

		result := e.executeOne(ctx, registry, call)
		if result.Success() {
			params.Sink.Emit(stream.ToolEnd(call.Name))
			citations = append(citations, result.Citations...)
			if !contains(toolsUsed, call.Name) {
				toolsUsed = append(toolsUsed, call.Name)
			}
		} else {
			e.logger.Warn("tool failed",
				"request_id", params.RequestID, "tool", call.Name, "error", result.Error)
			params.Sink.Emit(stream.ToolFailed(call.Name, result.Error.Error()))
		}

		observation, err := json.Marshal(result)
		if err != nil {
			observation = []byte(fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()))
		}
		messages = append(messages, model.ToolResultMessage(call.ID, string(observation)))
	}
	return messages, citations, toolsUsed
}

func (e *Engine) executeOne(ctx context.Context, registry *tools.Registry, call model.ToolCall) tools.ToolResult {
	if registry == nil {
		return tools.FailureResultf("tool %q is not available", call.Name)
	}
	tool, ok := registry.Get(call.Name)
	if !ok {
		return tools.FailureResultf("tool %q is not available", call.Name)
	}

	result, err := e.executor.ExecuteWithTimeout(ctx, tool, call.Arguments, e.toolTimeout)
	if err != nil {
		return tools.FailureResult(fmt.Errorf("tool %q: %w", call.Name, err))
	}
	return result
}

func (e *Engine) saveCheckpoint(ctx context.Context, params RunParams, messages []model.ChatMessage, iteration int, toolsUsed []string, citations []model.Citation, usage model.TokenUsage) {
	if e.checkpoints == nil {
		return
	}
	// Detached from the run context so a deadline that fires mid-save
	// does not lose the last snapshot.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	e.checkpoints.Save(saveCtx, checkpoint.Checkpoint{
		RequestID:      params.RequestID,
		ConversationID: params.ConversationID,
		Mode:           params.Strategy.Mode,
		Messages:       messages,
		Iteration:      iteration,
		ToolsUsed:      toolsUsed,
		Citations:      citations,
		Usage:          usage,
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
