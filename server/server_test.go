package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/richinex/skein/cache"
	"github.com/richinex/skein/engine"
	"github.com/richinex/skein/llm"
	"github.com/richinex/skein/model"
	"github.com/richinex/skein/orchestration"
	"github.com/richinex/skein/ratelimit"
	"github.com/richinex/skein/storage"
)

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
	return llm.Response{Content: f.content}, nil
}

func newTestServer(t *testing.T, limit int) (*Server, *fakeCaller) {
	t.Helper()
	db, err := storage.NewSqliteInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	caller := &fakeCaller{content: "hello from the model"}
	eng := engine.New(caller, nil, nil, nil, nil)
	answerCache := cache.New(db, cache.DefaultConfig(), nil)
	limiter := ratelimit.New(db, ratelimit.Config{Limit: limit, Window: time.Minute}, nil)
	orch := orchestration.New(eng, db, answerCache, limiter, nil, nil, orchestration.DefaultConfig(), nil)

	return New(":0", orch, limiter, nil), caller
}

func postJSON(t *testing.T, handler http.Handler, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatEndpointStreamsSSE(t *testing.T) {
	srv, _ := newTestServer(t, 100)

	rec := postJSON(t, srv.Handler(), "/v1/chat",
		`{"user_id":"user-1","conversation_id":"conv-1","query":"say hello","mode":"fast"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	out := rec.Body.String()
	if !strings.Contains(out, "event: delta") {
		t.Errorf("stream missing delta events: %q", out)
	}
	if !strings.Contains(out, "event: done") {
		t.Errorf("stream missing done event: %q", out)
	}
	if strings.Count(out, "event: done")+strings.Count(out, "event: error") != 1 {
		t.Errorf("stream must carry exactly one terminal event: %q", out)
	}
}

func TestChatEndpointInvalidBody(t *testing.T) {
	srv, caller := newTestServer(t, 100)

	rec := postJSON(t, srv.Handler(), "/v1/chat", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if caller.calls != 0 {
		t.Error("malformed request reached the provider")
	}
}

func TestChatEndpointEmptyQueryStreamsError(t *testing.T) {
	srv, _ := newTestServer(t, 100)

	rec := postJSON(t, srv.Handler(), "/v1/chat", `{"user_id":"user-1","query":""}`)

	// Transport succeeds, the failure arrives as a stream event.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "event: error") {
		t.Errorf("expected error event: %q", rec.Body.String())
	}
}

func TestChatEndpointRateLimiting(t *testing.T) {
	srv, caller := newTestServer(t, 1)

	body := `{"user_id":"user-1","query":"hello"}`
	first := postJSON(t, srv.Handler(), "/v1/chat", body)
	if !strings.Contains(first.Body.String(), "event: done") {
		t.Fatalf("first request should succeed: %q", first.Body.String())
	}

	second := postJSON(t, srv.Handler(), "/v1/chat", body)
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", second.Code)
	}
	if !strings.Contains(second.Body.String(), "rate limit") {
		t.Errorf("second request should be limited: %q", second.Body.String())
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After")
	}
	if caller.calls != 1 {
		t.Errorf("provider calls = %d, want 1", caller.calls)
	}
}

func TestFeedbackEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, 100)

	chat := postJSON(t, srv.Handler(), "/v1/chat",
		`{"user_id":"user-1","query":"what is go","mode":"fast"}`)

	// Pull the message id out of the done event payload.
	var messageID string
	for _, line := range strings.Split(chat.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var payload struct {
			Type   string        `json:"type"`
			Answer *model.Answer `json:"answer"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload); err != nil {
			continue
		}
		if payload.Type == "done" && payload.Answer != nil {
			messageID = payload.Answer.MessageID
		}
	}
	if messageID == "" {
		t.Fatalf("no message id in stream: %q", chat.Body.String())
	}

	rec := postJSON(t, srv.Handler(), "/v1/feedback",
		`{"user_id":"user-1","message_id":"`+messageID+`","query":"what is go","mode":"fast","positive":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFeedbackEndpointMissingMessageID(t *testing.T) {
	srv, _ := newTestServer(t, 100)

	rec := postJSON(t, srv.Handler(), "/v1/feedback", `{"user_id":"user-1","positive":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestFeedbackEndpointRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, 1)

	body := `{"user_id":"user-2","message_id":"m1","positive":true}`
	first := postJSON(t, srv.Handler(), "/v1/feedback", body)
	if first.Code != http.StatusOK {
		t.Fatalf("first feedback status = %d", first.Code)
	}

	second := postJSON(t, srv.Handler(), "/v1/feedback", body)
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After")
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, 100)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
