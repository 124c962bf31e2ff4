// Package checkpoint snapshots in-flight agentic runs so an
// interrupted request can resume from its last completed iteration
// instead of starting over.
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/richinex/skein/model"
)

// Checkpoint is the resumable state of one run, written after each
// completed iteration.
type Checkpoint struct {
	RequestID      string
	ConversationID string
	Mode           model.Mode
	Messages       []model.ChatMessage
	Iteration      int
	ToolsUsed      []string
	Citations      []model.Citation
	Usage          model.TokenUsage
	UpdatedAt      time.Time
}

// Store persists checkpoints keyed by request ID. Put must upsert.
type Store interface {
	PutCheckpoint(ctx context.Context, cp Checkpoint) error
	GetCheckpoint(ctx context.Context, requestID string) (*Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, requestID string) error
}

// Manager wraps a Store with TTL handling. Save failures are logged
// rather than returned: a checkpoint is a recovery aid, losing one
// must not fail the live request.
type Manager struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

const defaultTTL = time.Hour

func NewManager(store Store, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Manager{store: store, ttl: ttl, logger: logger, now: time.Now}
}

// Save upserts the checkpoint for its request ID.
func (m *Manager) Save(ctx context.Context, cp Checkpoint) {
	cp.UpdatedAt = m.now()
	if err := m.store.PutCheckpoint(ctx, cp); err != nil {
		m.logger.Warn("checkpoint save failed",
			"request_id", cp.RequestID, "iteration", cp.Iteration, "error", err)
	}
}

// Restore loads the checkpoint for a request. A checkpoint older than
// the TTL reads as absent; stale state from an abandoned run is worse
// than a fresh start.
func (m *Manager) Restore(ctx context.Context, requestID string) (*Checkpoint, error) {
	cp, err := m.store.GetCheckpoint(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", requestID, err)
	}
	if cp == nil {
		return nil, nil
	}
	if m.now().Sub(cp.UpdatedAt) > m.ttl {
		return nil, nil
	}
	return cp, nil
}

// Clear removes the checkpoint after a run completes.
func (m *Manager) Clear(ctx context.Context, requestID string) {
	if err := m.store.DeleteCheckpoint(ctx, requestID); err != nil {
		m.logger.Warn("checkpoint delete failed", "request_id", requestID, "error", err)
	}
}
