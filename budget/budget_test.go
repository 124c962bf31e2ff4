package budget

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/richinex/skein/model"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		s    string
		want int
	}{
		{"", 0},
		{"hi", 1}, // never zero for non-empty input
		{"hello world this is a test", 6},
	}

	for _, tt := range tests {
		if got := EstimateTokens(tt.s); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.s, got, tt.want)
		}
	}
}

func TestEstimateTokensScalesWithLength(t *testing.T) {
	short := EstimateTokens("one sentence of text here")
	long := EstimateTokens(strings.Repeat("one sentence of text here ", 50))
	if long <= short*25 {
		t.Errorf("long estimate %d not proportional to short %d", long, short)
	}
}

func transcript(n int) []model.ChatMessage {
	msgs := []model.ChatMessage{model.SystemMessage("You are a helpful assistant.")}
	for i := 0; i < n; i++ {
		msgs = append(msgs, model.UserMessage(fmt.Sprintf("question %d: %s", i, strings.Repeat("detail ", 40))))
		msgs = append(msgs, model.AssistantMessage(fmt.Sprintf("answer %d: %s", i, strings.Repeat("reply ", 40))))
	}
	msgs = append(msgs, model.UserMessage("current question"))
	return msgs
}

func TestCompactNoopWhenUnderBudget(t *testing.T) {
	msgs := transcript(2)
	got := Compact(msgs, 100000)
	if !reflect.DeepEqual(got, msgs) {
		t.Error("compaction modified a transcript that already fit")
	}
}

func TestCompactDropsOldestFirst(t *testing.T) {
	msgs := transcript(20)
	budget := 1500

	got := Compact(msgs, budget)

	if EstimateMessages(got) > budget {
		t.Errorf("compacted transcript estimates %d tokens, budget %d", EstimateMessages(got), budget)
	}
	if got[0].Role != model.RoleSystem || strings.HasPrefix(got[0].Content, condensedPrefix) {
		t.Error("original system prompt must survive compaction")
	}
	if !strings.HasPrefix(got[1].Content, condensedPrefix) {
		t.Errorf("expected condensed note after system prompt, got %q", got[1].Content)
	}
	last := got[len(got)-1]
	if last.Content != "current question" {
		t.Errorf("last message = %q, want the current user turn", last.Content)
	}
	// Survivors must be the newest turns.
	if !strings.Contains(got[2].Content, "question") && !strings.Contains(got[2].Content, "answer") {
		t.Errorf("unexpected survivor %q", got[2].Content)
	}
}

func TestCompactCondensesDroppedTurnsIntoNote(t *testing.T) {
	msgs := transcript(20)

	got := Compact(msgs, 1500)

	note := got[1].Content
	if !strings.HasPrefix(note, condensedPrefix) {
		t.Fatalf("expected condensed note, got %q", note)
	}
	// Dropped turns survive as role-prefixed digest lines, not just a
	// count.
	if !strings.Contains(note, "- user: question") {
		t.Errorf("note lost the dropped user turns: %q", note)
	}
	if !strings.Contains(note, "- assistant: answer") {
		t.Errorf("note lost the dropped assistant turns: %q", note)
	}

	lines := strings.Split(note, "\n")
	if len(lines)-1 > digestMaxTurns {
		t.Errorf("digest has %d lines, cap is %d", len(lines)-1, digestMaxTurns)
	}
	for _, line := range lines[1:] {
		if len([]rune(line)) > digestTurnRunes+len("- assistant: ")+len("...") {
			t.Errorf("digest line not truncated: %q", line)
		}
	}
}

func TestCompactIsIdempotent(t *testing.T) {
	msgs := transcript(20)
	budget := 1500

	once := Compact(msgs, budget)
	twice := Compact(once, budget)

	if !reflect.DeepEqual(once, twice) {
		t.Error("second compaction pass changed an already-compacted transcript")
	}
}

func TestCompactReplacesNoteInsteadOfStacking(t *testing.T) {
	msgs := transcript(30)

	first := Compact(msgs, 3000)
	second := Compact(first, 1200)

	notes := 0
	for _, m := range second {
		if strings.HasPrefix(m.Content, condensedPrefix) {
			notes++
		}
	}
	if notes != 1 {
		t.Errorf("found %d condensed notes, want exactly 1", notes)
	}
}

func TestCompactDropsToolPairsTogether(t *testing.T) {
	msgs := []model.ChatMessage{
		model.SystemMessage("system"),
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "t1", Name: "web_search", Arguments: []byte(`{"q":"` + strings.Repeat("x", 400) + `"}`)}}},
		model.ToolResultMessage("t1", strings.Repeat("result ", 100)),
		model.UserMessage("follow up question"),
	}

	got := Compact(msgs, 60)

	for _, m := range got {
		if m.Role == model.RoleTool {
			t.Error("orphaned tool result left after its call was dropped")
		}
	}
}

func TestCompactKeepsCurrentTurnEvenOverBudget(t *testing.T) {
	msgs := []model.ChatMessage{
		model.SystemMessage("system"),
		model.UserMessage(strings.Repeat("very long current question ", 100)),
	}

	got := Compact(msgs, 10)

	found := false
	for _, m := range got {
		if m.Role == model.RoleUser {
			found = true
		}
	}
	if !found {
		t.Error("current user turn was dropped")
	}
}

func TestWindowForOrdering(t *testing.T) {
	fast := WindowFor(model.ModeFast)
	auto := WindowFor(model.ModeAuto)
	ext := WindowFor(model.ModeExtended)

	if !(fast.History < auto.History && auto.History < ext.History) {
		t.Errorf("history budgets not ordered: fast=%d auto=%d extended=%d", fast.History, auto.History, ext.History)
	}
	if fast.Tools != 0 {
		t.Errorf("fast mode tools budget = %d, want 0", fast.Tools)
	}
}
