// Package strategy derives execution parameters from a chat request:
// which mode to run in, whether tools are enabled, how many agentic
// iterations are allowed, and how long the request may take.
package strategy

import (
	"regexp"
	"strings"
	"time"

	"github.com/richinex/skein/budget"
	"github.com/richinex/skein/model"
)

// ExecutionStrategy is the resolved plan for a single request. The
// engine treats it as read-only.
type ExecutionStrategy struct {
	Mode          model.Mode
	AllowTools    bool
	MaxIterations int
	MaxTokens     uint32
	Deadline      time.Duration
	Temperature   float32
}

// Per-mode defaults. Fast trades capability for latency, extended
// does the opposite, auto decides tool use per query.
const (
	fastDeadline     = 7 * time.Second
	autoDeadline     = 18 * time.Second
	extendedDeadline = 25 * time.Second

	fastIterations     = 1
	autoIterations     = 3
	extendedIterations = 5
)

// identifierPattern matches structured lookup tokens: part numbers,
// SKUs, error codes. Two or more letters followed by digits, with
// optional separator, e.g. "BRG-2204" or "NE555".
var identifierPattern = regexp.MustCompile(`\b[A-Za-z]{2,}[-_]?\d{2,}\b`)

// Derive resolves the request mode into a concrete strategy. Fast mode
// is upgraded to auto when the query contains a structured identifier,
// since answering those without a lookup produces confident nonsense.
// The upgrade is one-way; auto and extended are never downgraded.
func Derive(req model.ChatRequest) ExecutionStrategy {
	mode := req.Mode
	if mode == model.ModeFast && identifierPattern.MatchString(req.Query) {
		mode = model.ModeAuto
	}

	switch mode {
	case model.ModeFast:
		return ExecutionStrategy{
			Mode:          model.ModeFast,
			AllowTools:    false,
			MaxIterations: fastIterations,
			MaxTokens:     responseBudget(model.ModeFast),
			Deadline:      fastDeadline,
			Temperature:   0.2,
		}
	case model.ModeExtended:
		return ExecutionStrategy{
			Mode:          model.ModeExtended,
			AllowTools:    true,
			MaxIterations: extendedIterations,
			MaxTokens:     responseBudget(model.ModeExtended),
			Deadline:      extendedDeadline,
			Temperature:   0.7,
		}
	default:
		return ExecutionStrategy{
			Mode:          model.ModeAuto,
			AllowTools:    needsTools(req.Query),
			MaxIterations: autoIterations,
			MaxTokens:     responseBudget(model.ModeAuto),
			Deadline:      autoDeadline,
			Temperature:   0.7,
		}
	}
}

// responseBudget is the completion token cap per mode, taken from the
// same window split that bounds the prompt side.
func responseBudget(mode model.Mode) uint32 {
	return uint32(budget.WindowFor(mode).Response)
}

// Phrasings that signal the user wants information we do not hold.
var searchPhrases = []string{
	"search for",
	"look up",
	"find out",
	"what is the latest",
	"current price",
	"who won",
	"release date",
	"spec sheet",
	"datasheet",
	"compare",
}

// Words that date-stamp a query; model training cutoffs make these
// unanswerable from parameters alone.
var timeSensitiveWords = []string{
	"today",
	"yesterday",
	"this week",
	"this month",
	"this year",
	"latest",
	"current",
	"recent",
	"now",
	"2025",
	"2026",
}

// needsTools decides whether an auto-mode query benefits from tool
// access. Heuristic, biased toward enabling tools: a wasted lookup
// costs latency, a missing lookup costs correctness.
func needsTools(query string) bool {
	q := strings.ToLower(query)

	for _, phrase := range searchPhrases {
		if strings.Contains(q, phrase) {
			return true
		}
	}
	for _, word := range timeSensitiveWords {
		if containsWord(q, word) {
			return true
		}
	}
	if identifierPattern.MatchString(query) {
		return true
	}
	// URLs imply the user wants page content fetched.
	if strings.Contains(q, "http://") || strings.Contains(q, "https://") {
		return true
	}
	return false
}

// containsWord matches whole words only, so "now" does not fire on
// "knowledge".
func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(s[start-1])
		afterOK := end == len(s) || !isWordChar(s[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
