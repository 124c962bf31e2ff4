// Router error taxonomy and retry classification.

package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ValidationError marks a malformed request or a non-whitelisted model.
// Rejected before any provider call; never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// ProviderError is the terminal error after every fallback candidate has
// been exhausted.
type ProviderError struct {
	Model string
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("all providers exhausted for model %q: %v", e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen marks a provider skipped because its circuit is open.
// Not surfaced to callers unless it causes total exhaustion.
var ErrCircuitOpen = errors.New("provider circuit open")

// retryable reports whether a provider error is transient and worth
// retrying: 5xx, 429, and network/timeout failures. Other 4xx responses
// and auth/quota failures are permanent.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	// Rate limit (429): retryable after backoff.
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") {
		return true
	}

	// Server errors (5xx).
	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") ||
		strings.Contains(errStr, "overloaded") {
		return true
	}

	// Network and timeout failures.
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "temporary failure") {
		return true
	}

	// Everything else (400, 401, 402, 403, malformed payloads) is
	// permanent for this candidate.
	return false
}
