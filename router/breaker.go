// Per-provider circuit breaker.
//
// One Breaker instance exists per provider and is injected into the
// Router, never held as ambient global state, so transitions are unit
// testable in isolation.

package router

import (
	"sync"
	"time"
)

// BreakerState is the current state of a circuit breaker.
type BreakerState int

const (
	// StateClosed allows all calls.
	StateClosed BreakerState = iota
	// StateOpen rejects all calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen allows a single probe call.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls breaker transitions.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a probe is
	// allowed.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Breaker tracks consecutive failures for one provider.
//
// Transitions: Closed→Open after FailureThreshold consecutive failures;
// Open→HalfOpen once Cooldown has elapsed; HalfOpen→Closed on the first
// success; HalfOpen→Open on failure.
type Breaker struct {
	mu                  sync.Mutex
	config              BreakerConfig
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool

	now func() time.Time // overridable for tests
}

// NewBreaker creates a breaker in the Closed state.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &Breaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Allow reports whether a call may proceed. In the half-open state only
// one probe is admitted; concurrent callers are rejected until the probe
// resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.probing = false
	b.state = StateClosed
}

// RecordFailure increments the failure count, opening the circuit at the
// threshold. A half-open probe failure reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.probing = false

	if b.state == StateHalfOpen || b.consecutiveFailures >= b.config.FailureThreshold {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current consecutive failure count.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}
