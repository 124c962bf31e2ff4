// Package budget estimates token usage and trims conversation history
// to fit a per-mode context window before a request reaches a provider.
package budget

import (
	"strings"

	"github.com/richinex/skein/model"
)

// Rough chars-per-token ratio for English prose across the providers
// we route to. Good enough for budget decisions, never for billing.
const charsPerToken = 4

// Fixed overhead per message for role markers and framing tokens.
const perMessageOverhead = 4

// EstimateTokens approximates the token count of a string. Counts
// characters at a 4:1 ratio and adds a small bump per whitespace run,
// since tokenizers split on word boundaries more often than the char
// ratio alone predicts.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	chars := len(s)
	words := len(strings.Fields(s))
	est := chars/charsPerToken + words/10
	if est == 0 {
		est = 1
	}
	return est
}

// EstimateMessage approximates tokens for a single message including
// its framing overhead and any tool-call payloads.
func EstimateMessage(msg model.ChatMessage) int {
	n := perMessageOverhead + EstimateTokens(msg.Content)
	for _, tc := range msg.ToolCalls {
		n += EstimateTokens(tc.Name) + EstimateTokens(string(tc.Arguments))
	}
	return n
}

// EstimateMessages sums EstimateMessage over a slice.
func EstimateMessages(msgs []model.ChatMessage) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(m)
	}
	return total
}
