// Provider-agnostic LLM router with retry, fallback and circuit breaking.
//
// Information Hiding:
// - Fallback candidate ordering hidden behind Chat/StreamChat
// - Retry and backoff strategy hidden
// - One Breaker per provider, injected at construction

package router

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/richinex/skein/llm"
)

// Candidate pairs a provider with one model it serves. The router's
// candidate list is the ordered fallback chain.
type Candidate struct {
	Provider llm.Provider
	Model    string
}

// Config controls router retry behavior.
type Config struct {
	MaxAttempts  int           // attempts per candidate (default 3)
	InitialDelay time.Duration // first backoff delay (default 250ms)
	MaxDelay     time.Duration // backoff cap (default 4s)
	CallTimeout  time.Duration // hard per-call timeout (default 30s)
}

// DefaultConfig returns the default router configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     4 * time.Second,
		CallTimeout:  30 * time.Second,
	}
}

// Router routes chat requests across fallback candidates, gated by
// per-provider circuit breakers.
type Router struct {
	candidates []Candidate
	breakers   map[string]*Breaker // provider name → breaker
	config     Config
	logger     *slog.Logger
}

// New creates a router over an ordered candidate list. A breaker is
// created per distinct provider.
func New(candidates []Candidate, breakerConfig BreakerConfig, config Config, logger *slog.Logger) *Router {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = DefaultConfig().InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = DefaultConfig().MaxDelay
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultConfig().CallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	breakers := make(map[string]*Breaker)
	for _, c := range candidates {
		name := c.Provider.Name()
		if _, ok := breakers[name]; !ok {
			breakers[name] = NewBreaker(breakerConfig)
		}
	}

	return &Router{
		candidates: candidates,
		breakers:   breakers,
		config:     config,
		logger:     logger,
	}
}

// BreakerFor returns the breaker for a provider name, or nil.
func (r *Router) BreakerFor(provider string) *Breaker {
	return r.breakers[provider]
}

// Models returns the whitelisted provider/model strings in fallback order.
func (r *Router) Models() []string {
	out := make([]string, len(r.candidates))
	for i, c := range r.candidates {
		out[i] = c.Provider.Name() + "/" + c.Model
	}
	return out
}

// Chat sends a non-streaming request, falling back across candidates.
func (r *Router) Chat(ctx context.Context, req llm.Request) (llm.Response, error) {
	return r.dispatch(ctx, req, nil)
}

// StreamChat sends a streaming request. Fallback happens only before the
// first delta is emitted; once tokens have reached the caller a stream
// failure is terminal to avoid duplicated output.
func (r *Router) StreamChat(ctx context.Context, req llm.Request, chunks chan<- string) (llm.Response, error) {
	return r.dispatch(ctx, req, chunks)
}

func (r *Router) dispatch(ctx context.Context, req llm.Request, chunks chan<- string) (llm.Response, error) {
	start, err := r.validate(req)
	if err != nil {
		return llm.Response{}, err
	}

	var lastErr error
	for i := start; i < len(r.candidates); i++ {
		candidate := r.candidates[i]
		providerName := candidate.Provider.Name()
		breaker := r.breakers[providerName]

		if !breaker.Allow() {
			r.logger.Warn("skipping provider, circuit open",
				"provider", providerName, "model", candidate.Model)
			lastErr = fmt.Errorf("%s: %w", providerName, ErrCircuitOpen)
			continue
		}

		candidateReq := req
		candidateReq.Model = candidate.Model

		resp, emitted, err := r.callWithRetry(ctx, candidate, candidateReq, chunks)
		if err == nil {
			breaker.RecordSuccess()
			return resp, nil
		}

		lastErr = err

		// The caller going away or the request deadline firing says
		// nothing about the provider's health.
		if ctx.Err() != nil {
			break
		}

		breaker.RecordFailure()
		r.logger.Warn("provider failed, trying next candidate",
			"provider", providerName, "model", candidate.Model, "error", err)

		// A partially consumed stream cannot be replayed elsewhere.
		if emitted {
			break
		}
	}

	return llm.Response{}, &ProviderError{Model: req.Model, Err: lastErr}
}

// validate resolves the requested model to a starting candidate index.
// A request for a model no candidate serves fails closed; the router
// never silently substitutes another model.
func (r *Router) validate(req llm.Request) (int, error) {
	if len(req.Messages) == 0 {
		return 0, &ValidationError{Reason: "request has no messages"}
	}
	for i, c := range r.candidates {
		if c.Model == req.Model && c.Provider.SupportsModel(req.Model) {
			return i, nil
		}
	}
	return 0, &ValidationError{Reason: fmt.Sprintf("model %q is not whitelisted", req.Model)}
}

// callWithRetry attempts one candidate up to MaxAttempts times with
// exponential backoff and jitter. Only transient errors are retried.
// The emitted result reports whether any stream delta reached the caller.
func (r *Router) callWithRetry(ctx context.Context, candidate Candidate, req llm.Request, chunks chan<- string) (llm.Response, bool, error) {
	var lastErr error
	emitted := false

	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.backoff(attempt)
			select {
			case <-ctx.Done():
				return llm.Response{}, emitted, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, attemptEmitted, err := r.call(ctx, candidate, req, chunks)
		emitted = emitted || attemptEmitted
		if err == nil {
			return resp, emitted, nil
		}
		lastErr = err

		if !retryable(err) || attemptEmitted {
			break
		}
	}

	return llm.Response{}, emitted, lastErr
}

func (r *Router) call(ctx context.Context, candidate Candidate, req llm.Request, chunks chan<- string) (llm.Response, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()

	if chunks == nil {
		resp, err := candidate.Provider.Chat(callCtx, req)
		return resp, false, err
	}

	// Forward deltas through a counting relay so retry logic knows
	// whether any token already reached the caller.
	relay := make(chan string, 64)
	done := make(chan struct{})
	emitted := false
	go func() {
		defer close(done)
		for delta := range relay {
			emitted = true
			select {
			case chunks <- delta:
			case <-ctx.Done():
				return
			}
		}
	}()

	resp, err := candidate.Provider.StreamChat(callCtx, req, relay)
	close(relay)
	<-done
	return resp, emitted, err
}

// backoff computes the delay before the given attempt with 0–20% jitter.
func (r *Router) backoff(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	delay += rand.Float64() * 0.2 * delay
	return time.Duration(delay)
}
