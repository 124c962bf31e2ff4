package orchestration

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/richinex/skein/cache"
	"github.com/richinex/skein/checkpoint"
	"github.com/richinex/skein/engine"
	"github.com/richinex/skein/llm"
	"github.com/richinex/skein/model"
	"github.com/richinex/skein/ratelimit"
	"github.com/richinex/skein/storage"
	"github.com/richinex/skein/stream"
)

// fakeCaller streams a single scripted answer.
type fakeCaller struct {
	mu      sync.Mutex
	calls   int
	content string
}

func (f *fakeCaller) StreamChat(ctx context.Context, req llm.Request, chunks chan<- string) (llm.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	for _, word := range strings.Fields(f.content) {
		select {
		case chunks <- word + " ":
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}
	return llm.Response{Content: f.content, Usage: &model.TokenUsage{PromptTokens: 5, CompletionTokens: 3}}, nil
}

func (f *fakeCaller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type collectSink struct {
	mu     sync.Mutex
	events []stream.Event
}

func (s *collectSink) Emit(event stream.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *collectSink) terminal(t *testing.T) stream.Event {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var terminals []stream.Event
	for _, e := range s.events {
		if e.Terminal() {
			terminals = append(terminals, e)
		}
	}
	if len(terminals) != 1 {
		t.Fatalf("stream carried %d terminal events, want exactly 1: %+v", len(terminals), s.events)
	}
	last := s.events[len(s.events)-1]
	if !last.Terminal() {
		t.Fatalf("terminal event is not last: %+v", s.events)
	}
	return terminals[0]
}

func (s *collectSink) deltaConcat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sb strings.Builder
	for _, e := range s.events {
		if e.Type == stream.EventDelta {
			sb.WriteString(e.Text)
		}
	}
	return sb.String()
}

type fixture struct {
	orch   *Orchestrator
	caller *fakeCaller
	store  *storage.SqliteStorage
	cache  *cache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.NewSqliteInMemory()
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	caller := &fakeCaller{content: "the answer is 42"}
	eng := engine.New(caller, nil, nil, checkpoint.NewManager(db, time.Hour, nil), nil)
	answerCache := cache.New(db, cache.DefaultConfig(), nil)
	limiter := ratelimit.New(db, ratelimit.Config{Limit: 100, Window: time.Minute}, nil)

	orch := New(eng, db, answerCache, limiter, checkpoint.NewManager(db, time.Hour, nil), nil, DefaultConfig(), nil)
	return &fixture{orch: orch, caller: caller, store: db, cache: answerCache}
}

func chatRequest(query string) model.ChatRequest {
	return model.ChatRequest{
		RequestID:      "req-1",
		ConversationID: "conv-1",
		UserID:         "user-1",
		Query:          query,
		Mode:           model.ModeAuto,
	}
}

func TestChatStreamsAnswerAndPersists(t *testing.T) {
	f := newFixture(t)
	sink := &collectSink{}

	f.orch.Chat(context.Background(), chatRequest("what is the answer"), sink)

	term := sink.terminal(t)
	if term.Type != stream.EventDone {
		t.Fatalf("terminal = %v: %s", term.Type, term.Message)
	}
	if term.Answer == nil || term.Answer.Cached {
		t.Fatalf("answer = %+v", term.Answer)
	}
	if strings.TrimSpace(term.Answer.Content) != "the answer is 42" {
		t.Errorf("content = %q", term.Answer.Content)
	}
	if sink.deltaConcat() != term.Answer.Content {
		t.Errorf("delta concatenation %q != answer content %q", sink.deltaConcat(), term.Answer.Content)
	}

	// Both the user turn and the streamed answer are persisted.
	history, err := f.store.History(context.Background(), "conv-1", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != model.RoleUser || history[1].Role != model.RoleAssistant {
		t.Errorf("history roles wrong: %+v", history)
	}
	if history[1].Content != term.Answer.Content {
		t.Errorf("persisted answer %q != streamed answer %q", history[1].Content, term.Answer.Content)
	}
}

func TestChatCacheHitSkipsProvider(t *testing.T) {
	f := newFixture(t)

	first := &collectSink{}
	f.orch.Chat(context.Background(), chatRequest("what is the answer"), first)
	if f.caller.callCount() != 1 {
		t.Fatalf("first request made %d provider calls", f.caller.callCount())
	}

	second := &collectSink{}
	req := chatRequest("What is the ANSWER?") // equivalent after normalization
	req.RequestID = "req-2"
	f.orch.Chat(context.Background(), req, second)

	if f.caller.callCount() != 1 {
		t.Errorf("cache hit still called the provider: %d calls", f.caller.callCount())
	}
	term := second.terminal(t)
	if term.Type != stream.EventDone || term.Answer == nil || !term.Answer.Cached {
		t.Fatalf("expected cached done event, got %+v", term)
	}
	if second.deltaConcat() != term.Answer.Content {
		t.Error("cached answer was not re-streamed through the delta pipeline")
	}
}

func TestChatRateLimited(t *testing.T) {
	db, err := storage.NewSqliteInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	caller := &fakeCaller{content: "hi"}
	eng := engine.New(caller, nil, nil, nil, nil)
	limiter := ratelimit.New(db, ratelimit.Config{Limit: 1, Window: time.Minute}, nil)
	orch := New(eng, db, nil, limiter, nil, nil, DefaultConfig(), nil)

	ok := &collectSink{}
	orch.Chat(context.Background(), chatRequest("first"), ok)
	if ok.terminal(t).Type != stream.EventDone {
		t.Fatal("first request should succeed")
	}

	blocked := &collectSink{}
	req := chatRequest("second")
	req.RequestID = "req-2"
	orch.Chat(context.Background(), req, blocked)

	term := blocked.terminal(t)
	if term.Type != stream.EventError {
		t.Fatalf("expected error terminal, got %v", term.Type)
	}
	if !strings.Contains(term.Message, "rate limit") {
		t.Errorf("message = %q", term.Message)
	}
	if caller.callCount() != 1 {
		t.Errorf("rate-limited request reached the provider")
	}
}

func TestChatRateLimitScopedToModel(t *testing.T) {
	db, err := storage.NewSqliteInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	caller := &fakeCaller{content: "hi"}
	eng := engine.New(caller, nil, nil, nil, nil)
	limiter := ratelimit.New(db, ratelimit.Config{Limit: 1, Window: time.Minute}, nil)
	orch := New(eng, db, nil, limiter, nil, nil, DefaultConfig(), nil)

	first := &collectSink{}
	orch.Chat(context.Background(), chatRequest("first"), first)
	if first.terminal(t).Type != stream.EventDone {
		t.Fatal("first auto request should succeed")
	}

	// A different mode routes to a different model, whose quota is
	// untouched.
	other := &collectSink{}
	req := chatRequest("second")
	req.RequestID = "req-2"
	req.Mode = model.ModeExtended
	orch.Chat(context.Background(), req, other)
	if other.terminal(t).Type != stream.EventDone {
		t.Error("extended request blocked by the auto model's quota")
	}

	blocked := &collectSink{}
	req = chatRequest("third")
	req.RequestID = "req-3"
	orch.Chat(context.Background(), req, blocked)
	if blocked.terminal(t).Type != stream.EventError {
		t.Error("second auto request should exhaust the auto model's quota")
	}
	if caller.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", caller.callCount())
	}
}

func TestChatInvalidRequest(t *testing.T) {
	f := newFixture(t)
	sink := &collectSink{}

	req := chatRequest("")
	f.orch.Chat(context.Background(), req, sink)

	if sink.terminal(t).Type != stream.EventError {
		t.Error("empty query should produce an error terminal")
	}
	if f.caller.callCount() != 0 {
		t.Error("invalid request reached the provider")
	}
}

func TestFeedbackNegativeInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := &collectSink{}
	f.orch.Chat(ctx, chatRequest("what is the answer"), first)
	answer := first.terminal(t).Answer

	err := f.orch.Feedback(ctx, answer.MessageID, "what is the answer", model.ModeAuto, false, "wrong")
	if err != nil {
		t.Fatalf("Feedback failed: %v", err)
	}

	// The invalidated entry must not serve the next request.
	second := &collectSink{}
	req := chatRequest("what is the answer")
	req.RequestID = "req-2"
	f.orch.Chat(ctx, req, second)
	if f.caller.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2 after invalidation", f.caller.callCount())
	}
}

func TestResumeContinuesFromCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cpMgr := checkpoint.NewManager(f.store, time.Hour, nil)
	cpMgr.Save(ctx, checkpoint.Checkpoint{
		RequestID:      "req-9",
		ConversationID: "conv-1",
		Mode:           model.ModeExtended,
		Messages: []model.ChatMessage{
			model.SystemMessage("assistant"),
			model.UserMessage("long question"),
		},
		Iteration: 1,
		ToolsUsed: []string{"web_search"},
	})

	sink := &collectSink{}
	req := chatRequest("long question")
	req.RequestID = "req-9"
	f.orch.Resume(ctx, req, sink)

	term := sink.terminal(t)
	if term.Type != stream.EventDone {
		t.Fatalf("terminal = %v: %s", term.Type, term.Message)
	}
	// The checkpoint's mode wins over the request's.
	if term.Answer.Mode != model.ModeExtended {
		t.Errorf("mode = %v, want extended from checkpoint", term.Answer.Mode)
	}
	if len(term.Answer.ToolsUsed) == 0 || term.Answer.ToolsUsed[0] != "web_search" {
		t.Errorf("tools used not carried over: %v", term.Answer.ToolsUsed)
	}
}

func TestResumeWithoutCheckpointRunsFresh(t *testing.T) {
	f := newFixture(t)
	sink := &collectSink{}

	req := chatRequest("plain question")
	req.RequestID = "req-none"
	f.orch.Resume(context.Background(), req, sink)

	term := sink.terminal(t)
	if term.Type != stream.EventDone {
		t.Fatalf("terminal = %v: %s", term.Type, term.Message)
	}
	if f.caller.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", f.caller.callCount())
	}
}

func TestFeedbackRequiresMessageID(t *testing.T) {
	f := newFixture(t)
	if err := f.orch.Feedback(context.Background(), "", "q", model.ModeAuto, true, ""); err == nil {
		t.Error("expected error for missing message id")
	}
}
