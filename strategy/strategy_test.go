package strategy

import (
	"testing"

	"github.com/richinex/skein/budget"
	"github.com/richinex/skein/model"
)

func TestDeriveFastDisablesTools(t *testing.T) {
	s := Derive(model.ChatRequest{Query: "explain goroutines", Mode: model.ModeFast})

	if s.Mode != model.ModeFast {
		t.Errorf("mode = %v, want fast", s.Mode)
	}
	if s.AllowTools {
		t.Error("fast mode must not allow tools")
	}
	if s.MaxIterations != 1 {
		t.Errorf("iterations = %d, want 1", s.MaxIterations)
	}
}

func TestDeriveFastUpgradesOnIdentifier(t *testing.T) {
	s := Derive(model.ChatRequest{Query: "torque spec for BRG-2204", Mode: model.ModeFast})

	if s.Mode != model.ModeAuto {
		t.Errorf("mode = %v, want auto upgrade for part number", s.Mode)
	}
	if !s.AllowTools {
		t.Error("upgraded query should allow tools")
	}
}

func TestDeriveExtendedAlwaysAllowsTools(t *testing.T) {
	s := Derive(model.ChatRequest{Query: "hi", Mode: model.ModeExtended})

	if !s.AllowTools {
		t.Error("extended mode must allow tools regardless of query")
	}
	if s.MaxIterations != 5 {
		t.Errorf("iterations = %d, want 5", s.MaxIterations)
	}
	if s.Deadline <= Derive(model.ChatRequest{Query: "hi", Mode: model.ModeAuto}).Deadline {
		t.Error("extended deadline should exceed auto deadline")
	}
}

func TestDeriveAutoIsNeverDowngraded(t *testing.T) {
	s := Derive(model.ChatRequest{Query: "hello there", Mode: model.ModeAuto})

	if s.Mode != model.ModeAuto {
		t.Errorf("mode = %v, want auto", s.Mode)
	}
	if s.AllowTools {
		t.Error("plain greeting should not trigger tools")
	}
	if s.MaxIterations != 3 {
		t.Errorf("iterations = %d, want 3", s.MaxIterations)
	}
}

func TestDeriveSetsResponseTokenBudget(t *testing.T) {
	fast := Derive(model.ChatRequest{Query: "hi", Mode: model.ModeFast})
	auto := Derive(model.ChatRequest{Query: "hi", Mode: model.ModeAuto})
	ext := Derive(model.ChatRequest{Query: "hi", Mode: model.ModeExtended})

	if fast.MaxTokens == 0 || auto.MaxTokens == 0 || ext.MaxTokens == 0 {
		t.Fatalf("every mode needs a completion cap: fast=%d auto=%d extended=%d",
			fast.MaxTokens, auto.MaxTokens, ext.MaxTokens)
	}
	if !(fast.MaxTokens < auto.MaxTokens && auto.MaxTokens < ext.MaxTokens) {
		t.Errorf("caps not ordered by mode: fast=%d auto=%d extended=%d",
			fast.MaxTokens, auto.MaxTokens, ext.MaxTokens)
	}
	if fast.MaxTokens != uint32(budget.WindowFor(model.ModeFast).Response) {
		t.Errorf("fast cap = %d, want the window's response share", fast.MaxTokens)
	}
}

func TestNeedsTools(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"search for the NE555 datasheet", true},
		{"what is the latest go release", true},
		{"who won the match yesterday", true},
		{"summarize https://example.com/post", true},
		{"torque for part BRG-2204", true},
		{"explain how channels work", false},
		{"write a haiku about rain", false},
		{"what does knowledge mean", false}, // "now" inside a word must not fire
		{"difference between mutex and rwmutex", false},
	}

	for _, tt := range tests {
		if got := needsTools(tt.query); got != tt.want {
			t.Errorf("needsTools(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}
