// Package ratelimit enforces per-subject request quotas over a
// sliding window. The limiter fails open: if its backing store is
// unreachable the request proceeds and the failure is logged, since
// refusing all traffic on a limiter outage is worse than briefly not
// limiting.
package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Result is the outcome of a limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// WindowCount is the persisted state for one (subject, resource)
// window.
type WindowCount struct {
	Subject     string
	Resource    string
	WindowStart time.Time
	Count       int
}

// Store persists window counters. Increment must atomically upsert:
// create the row at count 1 if missing or the stored window is stale,
// otherwise add 1 while the count is below max, and return the
// resulting state. A count at max means the window is exhausted and
// nothing was added.
type Store interface {
	Increment(ctx context.Context, subject, resource string, windowStart time.Time, max int) (WindowCount, error)
	Peek(ctx context.Context, subject, resource string) (*WindowCount, error)
}

// Config tunes the limiter.
type Config struct {
	Limit  int
	Window time.Duration
}

func DefaultConfig() Config {
	return Config{Limit: 30, Window: time.Minute}
}

// Limiter applies a fixed-size sliding window per (subject, resource)
// pair.
type Limiter struct {
	store  Store
	config Config
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, config Config, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Limit <= 0 {
		config.Limit = DefaultConfig().Limit
	}
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	return &Limiter{store: store, config: config, logger: logger, now: time.Now}
}

// Allow consumes one unit of quota. The L+1th request inside a window
// is rejected with the window's reset time; the first request after
// the window rolls over is admitted against a fresh counter.
func (l *Limiter) Allow(ctx context.Context, subject, resource string) Result {
	now := l.now()
	windowStart := now.Truncate(l.config.Window)

	// The counter is capped at limit+1: the first rejection marks the
	// window exhausted, every later one leaves the count untouched.
	state, err := l.store.Increment(ctx, subject, resource, windowStart, l.config.Limit+1)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, failing open",
			"subject", subject, "resource", resource, "error", err)
		return Result{Allowed: true, Remaining: l.config.Limit, ResetAt: windowStart.Add(l.config.Window)}
	}

	resetAt := state.WindowStart.Add(l.config.Window)
	if state.Count > l.config.Limit {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}
	return Result{
		Allowed:   true,
		Remaining: l.config.Limit - state.Count,
		ResetAt:   resetAt,
	}
}

// Status reports current quota without consuming any.
func (l *Limiter) Status(ctx context.Context, subject, resource string) Result {
	now := l.now()
	windowStart := now.Truncate(l.config.Window)

	state, err := l.store.Peek(ctx, subject, resource)
	if err != nil {
		l.logger.Warn("rate limit store unavailable", "subject", subject, "error", err)
		return Result{Allowed: true, Remaining: l.config.Limit, ResetAt: windowStart.Add(l.config.Window)}
	}
	if state == nil || state.WindowStart.Before(windowStart) {
		return Result{Allowed: true, Remaining: l.config.Limit, ResetAt: windowStart.Add(l.config.Window)}
	}
	remaining := l.config.Limit - state.Count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   remaining > 0,
		Remaining: remaining,
		ResetAt:   state.WindowStart.Add(l.config.Window),
	}
}
