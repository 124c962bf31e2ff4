// Package server exposes the chat pipeline over HTTP: an SSE chat
// endpoint and a JSON feedback endpoint, each rate limited per
// caller.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/richinex/skein/model"
	"github.com/richinex/skein/orchestration"
	"github.com/richinex/skein/ratelimit"
	"github.com/richinex/skein/stream"
)

// Server is the HTTP surface.
type Server struct {
	orch    *orchestration.Orchestrator
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	http    *http.Server
}

func New(addr string, orch *orchestration.Orchestrator, limiter *ratelimit.Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orch:    orch,
		limiter: limiter,
		logger:  logger,
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("POST /v1/feedback", s.handleFeedback)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type chatRequest struct {
	RequestID      string `json:"request_id"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Query          string `json:"query"`
	Mode           string `json:"mode"`
	Resume         bool   `json:"resume"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	identity := s.identity(r, body.UserID)
	if s.limiter != nil {
		res := s.limiter.Allow(r.Context(), identity, "chat")
		if !res.Allowed {
			w.Header().Set("Retry-After", res.ResetAt.UTC().Format(http.TimeFormat))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	req := model.ChatRequest{
		RequestID:      body.RequestID,
		ConversationID: body.ConversationID,
		UserID:         identity,
		Query:          body.Query,
		Mode:           model.ParseMode(body.Mode),
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &sseSink{w: w, flusher: flusher, logger: s.logger}
	if body.Resume {
		s.orch.Resume(r.Context(), req, sink)
	} else {
		s.orch.Chat(r.Context(), req, sink)
	}
}

type feedbackRequest struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Query     string `json:"query"`
	Mode      string `json:"mode"`
	Positive  bool   `json:"positive"`
	Comment   string `json:"comment"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var body feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	identity := s.identity(r, body.UserID)
	if s.limiter != nil {
		res := s.limiter.Allow(r.Context(), identity, "feedback")
		if !res.Allowed {
			w.Header().Set("Retry-After", res.ResetAt.UTC().Format(http.TimeFormat))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	err := s.orch.Feedback(r.Context(), body.MessageID, body.Query, model.ParseMode(body.Mode), body.Positive, body.Comment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// identity resolves who is calling: explicit user ID first, then the
// caller's address.
func (s *Server) identity(r *http.Request, userID string) string {
	if userID != "" {
		return userID
	}
	if header := r.Header.Get("X-User-ID"); header != "" {
		return header
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sseSink writes stream events as SSE frames, flushing after each so
// deltas reach the client as they happen.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *slog.Logger
	failed  bool
}

func (s *sseSink) Emit(event stream.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return
	}
	if err := stream.WriteSSE(s.w, event); err != nil {
		// Client went away; drop the rest of the stream.
		s.failed = true
		s.logger.Debug("sse write failed", "error", err)
		return
	}
	s.flusher.Flush()
}
