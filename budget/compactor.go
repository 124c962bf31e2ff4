package budget

import (
	"fmt"
	"strings"

	"github.com/richinex/skein/model"
)

// condensedPrefix marks the synthetic note left in place of trimmed
// history. Recognizable so a second compaction pass replaces the note
// instead of stacking another on top.
const condensedPrefix = "[earlier conversation condensed]"

// Bounds on the digest kept inside the condensed note. The note has to
// stay far smaller than the turns it replaces or compaction gains
// nothing.
const (
	digestTurnRunes = 60
	digestMaxTurns  = 6
)

// Window is the per-mode split of the model's context budget, in
// estimated tokens.
type Window struct {
	System   int
	History  int
	Response int
	Tools    int
}

// WindowFor returns the context split for a mode. Fast mode runs a
// small window to keep prompts cheap, extended gets the most room for
// multi-step tool transcripts.
func WindowFor(mode model.Mode) Window {
	switch mode {
	case model.ModeFast:
		return Window{System: 1000, History: 3000, Response: 1000, Tools: 0}
	case model.ModeExtended:
		return Window{System: 2000, History: 12000, Response: 4000, Tools: 3000}
	default:
		return Window{System: 2000, History: 6000, Response: 2000, Tools: 2000}
	}
}

// Compact trims history to fit the window's history budget. System
// messages are never dropped. Non-system messages are removed oldest
// first until the remainder fits; each removed turn is condensed into
// a single note so long-range context survives in digest form instead
// of disappearing. Deterministic and idempotent: compacting an
// already-compacted transcript that fits returns it unchanged, and
// re-trimming folds the old note into the new one rather than
// stacking a second.
func Compact(msgs []model.ChatMessage, budget int) []model.ChatMessage {
	if EstimateMessages(msgs) <= budget {
		return msgs
	}

	var system []model.ChatMessage
	var history []model.ChatMessage
	var digest []string
	droppedBefore := 0
	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			if strings.HasPrefix(m.Content, condensedPrefix) {
				// Note from a previous pass. Fold its count and digest
				// in and regenerate below.
				n, lines := parseNote(m.Content)
				droppedBefore += n
				digest = append(digest, lines...)
				continue
			}
			system = append(system, m)
			continue
		}
		history = append(history, m)
	}

	systemCost := EstimateMessages(system)
	dropped := droppedBefore

	condense := func(m model.ChatMessage) {
		dropped++
		if line := digestLine(m); line != "" {
			digest = append(digest, line)
		}
	}

	// Drop oldest first, always keeping the last message, which
	// carries the current user turn. The note itself costs budget, so
	// each round re-checks against the room left after it.
	for len(history) > 1 {
		room := budget - systemCost
		if dropped > 0 {
			room -= EstimateMessage(condensedNote(dropped, digest))
		}
		if EstimateMessages(history) <= room {
			break
		}
		// A tool result with its triggering call removed is garbage,
		// drop call and result together.
		if history[0].Role == model.RoleAssistant && len(history[0].ToolCalls) > 0 &&
			len(history) > 2 && history[1].Role == model.RoleTool {
			condense(history[0])
			condense(history[1])
			history = history[2:]
			continue
		}
		condense(history[0])
		history = history[1:]
	}

	if dropped == 0 {
		return append(system, history...)
	}

	out := make([]model.ChatMessage, 0, len(system)+1+len(history))
	out = append(out, system...)
	out = append(out, condensedNote(dropped, digest))
	out = append(out, history...)
	return out
}

// condensedNote renders the dropped turns as one system message. When
// the digest outgrows its cap only the turns nearest the surviving
// context are kept.
func condensedNote(dropped int, digest []string) model.ChatMessage {
	if len(digest) > digestMaxTurns {
		digest = digest[len(digest)-digestMaxTurns:]
	}
	content := fmt.Sprintf("%s %d earlier messages:", condensedPrefix, dropped)
	if len(digest) > 0 {
		content += "\n" + strings.Join(digest, "\n")
	}
	return model.SystemMessage(content)
}

// digestLine condenses one dropped message to a role-prefixed snippet.
// Tool observations produce nothing; the call line already names what
// happened.
func digestLine(m model.ChatMessage) string {
	if m.Role == model.RoleTool {
		return ""
	}
	// Collapse whitespace so one dropped turn stays one note line.
	text := strings.Join(strings.Fields(m.Content), " ")
	if text == "" && len(m.ToolCalls) > 0 {
		names := make([]string, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			names[i] = tc.Name
		}
		text = "called " + strings.Join(names, ", ")
	}
	if text == "" {
		return ""
	}
	if runes := []rune(text); len(runes) > digestTurnRunes {
		text = string(runes[:digestTurnRunes]) + "..."
	}
	return fmt.Sprintf("- %s: %s", m.Role, text)
}

// parseNote pulls the dropped count and digest lines back out of a
// condensed note. A malformed note counts as zero dropped turns.
func parseNote(content string) (int, []string) {
	rest := strings.TrimPrefix(content, condensedPrefix)
	lines := strings.Split(rest, "\n")
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(lines[0]), "%d", &n); err != nil {
		n = 0
	}
	var digest []string
	for _, line := range lines[1:] {
		if strings.HasPrefix(line, "- ") {
			digest = append(digest, line)
		}
	}
	return n, digest
}
