// Package storage provides SQLite persistence for conversations,
// cached answers, rate limit windows, checkpoints and artifacts.
// Thread-safe via sql.DB's built-in connection pooling.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/richinex/skein/cache"
	"github.com/richinex/skein/checkpoint"
	"github.com/richinex/skein/model"
	"github.com/richinex/skein/ratelimit"
	"github.com/richinex/skein/tools"
)

// SqliteStorage backs every store interface in the system with one
// database file.
type SqliteStorage struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStorage, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStorage, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// A single connection keeps every query on the same in-memory
	// database.
	db.SetMaxOpenConns(1)

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// Close closes the database connection.
func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

func (s *SqliteStorage) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			tool_call_id TEXT,
			model TEXT,
			mode TEXT,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS cache_entries (
			hash TEXT NOT NULL,
			mode TEXT NOT NULL,
			answer TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			hits INTEGER NOT NULL DEFAULT 0,
			upvotes INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (hash, mode)
		);

		CREATE TABLE IF NOT EXISTS rate_windows (
			subject TEXT NOT NULL,
			resource TEXT NOT NULL,
			window_start INTEGER NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY (subject, resource)
		);

		CREATE TABLE IF NOT EXISTS checkpoints (
			request_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			state TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			title TEXT NOT NULL,
			media_type TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_artifacts_conversation
		ON artifacts(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS feedback (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL,
			positive INTEGER NOT NULL,
			comment TEXT,
			created_at INTEGER NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Conversation persistence

// EnsureConversation creates the conversation row if it does not
// exist.
func (s *SqliteStorage) EnsureConversation(ctx context.Context, conversationID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO conversations (id, user_id) VALUES (?, ?)",
		conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to ensure conversation: %w", err)
	}
	return nil
}

// StoredMessage is one persisted transcript row.
type StoredMessage struct {
	ID             string
	ConversationID string
	Message        model.ChatMessage
	Model          string
	Mode           string
	Usage          *model.TokenUsage
	CreatedAt      time.Time
}

// UpsertMessage writes a message, replacing any previous row with the
// same ID. Safe to call repeatedly with growing content, which is how
// streamed answers are persisted in batches.
func (s *SqliteStorage) UpsertMessage(ctx context.Context, msg StoredMessage) error {
	var toolCalls interface{}
	if len(msg.Message.ToolCalls) > 0 {
		raw, err := json.Marshal(msg.Message.ToolCalls)
		if err != nil {
			return fmt.Errorf("failed to encode tool calls: %w", err)
		}
		toolCalls = string(raw)
	}
	var toolCallID interface{}
	if msg.Message.ToolCallID != "" {
		toolCallID = msg.Message.ToolCallID
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var promptTokens, completionTokens uint32
	if msg.Usage != nil {
		promptTokens = msg.Usage.PromptTokens
		completionTokens = msg.Usage.CompletionTokens
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_call_id, model, mode, prompt_tokens, completion_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			tool_calls = excluded.tool_calls,
			model = excluded.model,
			mode = excluded.mode,
			prompt_tokens = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens`,
		msg.ID,
		msg.ConversationID,
		string(msg.Message.Role),
		msg.Message.Content,
		toolCalls,
		toolCallID,
		msg.Model,
		msg.Mode,
		promptTokens,
		completionTokens,
		createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = datetime('now') WHERE id = ?",
		msg.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to update conversation timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// History loads the most recent messages of a conversation in
// chronological order. Returns an empty slice for an unknown
// conversation.
func (s *SqliteStorage) History(ctx context.Context, conversationID string, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, tool_calls, tool_call_id FROM (
			SELECT role, content, tool_calls, tool_call_id, created_at, rowid
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		) ORDER BY created_at ASC, rowid ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []model.ChatMessage{}
	for rows.Next() {
		var msg model.ChatMessage
		var role string
		var toolCalls, toolCallID sql.NullString
		if err := rows.Scan(&role, &msg.Content, &toolCalls, &toolCallID); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = model.Role(role)
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls: %w", err)
			}
		}
		if toolCallID.Valid {
			msg.ToolCallID = toolCallID.String
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

// DeleteConversation removes a conversation and its messages.
func (s *SqliteStorage) DeleteConversation(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// cache.Store implementation

// GetEntry loads one cache entry, or nil when absent.
func (s *SqliteStorage) GetEntry(ctx context.Context, hash, mode string) (*cache.Entry, error) {
	var entry cache.Entry
	var answer string
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT hash, mode, answer, created_at, hits, upvotes
		FROM cache_entries WHERE hash = ? AND mode = ?`,
		hash, mode).Scan(&entry.Hash, &entry.Mode, &answer, &createdAt, &entry.Hits, &entry.Upvotes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	if err := json.Unmarshal([]byte(answer), &entry.Answer); err != nil {
		return nil, fmt.Errorf("failed to decode cached answer: %w", err)
	}
	entry.CreatedAt = time.Unix(createdAt, 0)
	return &entry, nil
}

// PutEntry upserts a cache entry.
func (s *SqliteStorage) PutEntry(ctx context.Context, entry cache.Entry) error {
	answer, err := json.Marshal(entry.Answer)
	if err != nil {
		return fmt.Errorf("failed to encode answer: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (hash, mode, answer, created_at, hits, upvotes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash, mode) DO UPDATE SET
			answer = excluded.answer,
			created_at = excluded.created_at`,
		entry.Hash, entry.Mode, string(answer), entry.CreatedAt.Unix(), entry.Hits, entry.Upvotes)
	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

// RecordHit increments the hit counter.
func (s *SqliteStorage) RecordHit(ctx context.Context, hash, mode string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE cache_entries SET hits = hits + 1 WHERE hash = ? AND mode = ?",
		hash, mode)
	if err != nil {
		return fmt.Errorf("failed to record hit: %w", err)
	}
	return nil
}

// RecordUpvote increments the upvote counter and returns the new
// total.
func (s *SqliteStorage) RecordUpvote(ctx context.Context, hash, mode string) (int, error) {
	var upvotes int
	err := s.db.QueryRowContext(ctx, `
		UPDATE cache_entries SET upvotes = upvotes + 1
		WHERE hash = ? AND mode = ?
		RETURNING upvotes`,
		hash, mode).Scan(&upvotes)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record upvote: %w", err)
	}
	return upvotes, nil
}

// DeleteEntries removes all cache entries for a hash, every mode.
func (s *SqliteStorage) DeleteEntries(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE hash = ?", hash)
	if err != nil {
		return fmt.Errorf("failed to delete cache entries: %w", err)
	}
	return nil
}

// ratelimit.Store implementation

// Increment atomically bumps the window counter, resetting it when
// the stored window is older than the current one. The count never
// grows past max, so rejected requests do not inflate it.
func (s *SqliteStorage) Increment(ctx context.Context, subject, resource string, windowStart time.Time, max int) (ratelimit.WindowCount, error) {
	var w ratelimit.WindowCount
	var start int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rate_windows (subject, resource, window_start, count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(subject, resource) DO UPDATE SET
			count = CASE
				WHEN rate_windows.window_start < excluded.window_start THEN 1
				WHEN rate_windows.count < ? THEN rate_windows.count + 1
				ELSE rate_windows.count END,
			window_start = CASE WHEN rate_windows.window_start < excluded.window_start THEN excluded.window_start ELSE rate_windows.window_start END
		RETURNING subject, resource, window_start, count`,
		subject, resource, windowStart.Unix(), max).Scan(&w.Subject, &w.Resource, &start, &w.Count)
	if err != nil {
		return ratelimit.WindowCount{}, fmt.Errorf("failed to increment rate window: %w", err)
	}
	w.WindowStart = time.Unix(start, 0)
	return w, nil
}

// Peek reads the window counter without modifying it.
func (s *SqliteStorage) Peek(ctx context.Context, subject, resource string) (*ratelimit.WindowCount, error) {
	var w ratelimit.WindowCount
	var start int64
	err := s.db.QueryRowContext(ctx,
		"SELECT subject, resource, window_start, count FROM rate_windows WHERE subject = ? AND resource = ?",
		subject, resource).Scan(&w.Subject, &w.Resource, &start, &w.Count)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to peek rate window: %w", err)
	}
	w.WindowStart = time.Unix(start, 0)
	return &w, nil
}

// checkpoint.Store implementation

// PutCheckpoint upserts the checkpoint for a request.
func (s *SqliteStorage) PutCheckpoint(ctx context.Context, cp checkpoint.Checkpoint) error {
	state, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints (request_id, conversation_id, state, updated_at)
		VALUES (?, ?, ?, ?)`,
		cp.RequestID, cp.ConversationID, string(state), cp.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to put checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint loads a checkpoint, or nil when absent.
func (s *SqliteStorage) GetCheckpoint(ctx context.Context, requestID string) (*checkpoint.Checkpoint, error) {
	var state string
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT state, updated_at FROM checkpoints WHERE request_id = ?",
		requestID).Scan(&state, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	var cp checkpoint.Checkpoint
	if err := json.Unmarshal([]byte(state), &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	cp.UpdatedAt = time.Unix(updatedAt, 0)
	return &cp, nil
}

// DeleteCheckpoint removes a checkpoint.
func (s *SqliteStorage) DeleteCheckpoint(ctx context.Context, requestID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE request_id = ?", requestID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// tools.ArtifactStore implementation

// SaveArtifact persists a generated artifact.
func (s *SqliteStorage) SaveArtifact(ctx context.Context, artifact tools.Artifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, conversation_id, title, media_type, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		artifact.ID, artifact.ConversationID, artifact.Title, artifact.MediaType,
		artifact.Content, artifact.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

// ListArtifacts returns the artifacts of a conversation, newest first.
func (s *SqliteStorage) ListArtifacts(ctx context.Context, conversationID string) ([]tools.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, title, media_type, content, created_at
		FROM artifacts WHERE conversation_id = ?
		ORDER BY created_at DESC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := []tools.Artifact{}
	for rows.Next() {
		var a tools.Artifact
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.ConversationID, &a.Title, &a.MediaType, &a.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		a.CreatedAt = time.Unix(createdAt, 0)
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifacts: %w", err)
	}
	return artifacts, nil
}

// Feedback

// RecordFeedback stores one feedback signal against a message.
func (s *SqliteStorage) RecordFeedback(ctx context.Context, messageID string, positive bool, comment string) error {
	var c interface{}
	if comment != "" {
		c = comment
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO feedback (message_id, positive, comment, created_at) VALUES (?, ?, ?, ?)",
		messageID, positive, c, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}
	return nil
}

// Verify SqliteStorage implements all store interfaces
var _ cache.Store = (*SqliteStorage)(nil)
var _ ratelimit.Store = (*SqliteStorage)(nil)
var _ checkpoint.Store = (*SqliteStorage)(nil)
var _ tools.ArtifactStore = (*SqliteStorage)(nil)
