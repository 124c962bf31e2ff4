package stream

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// PersistFunc writes the accumulated assistant content so far. Called
// with the full concatenation, not the increment, so each call is an
// idempotent upsert.
type PersistFunc func(ctx context.Context, content string) error

// Batcher coalesces streamed deltas into periodic persistence writes.
// A flush happens once 50 deltas accumulate or 500ms pass since the
// last write, whichever comes first, and always once more when the
// stream ends. Without batching a long answer would cost one storage
// write per token.
type Batcher struct {
	persist  PersistFunc
	maxCount int
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	buf       strings.Builder
	pending   int
	lastFlush time.Time
	closed    bool
}

const (
	defaultMaxCount = 50
	defaultMaxAge   = 500 * time.Millisecond
)

func NewBatcher(persist PersistFunc, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Batcher{
		persist:  persist,
		maxCount: defaultMaxCount,
		maxAge:   defaultMaxAge,
		logger:   logger,
		now:      time.Now,
	}
	b.lastFlush = b.now()
	return b
}

// Add appends one delta and flushes if either threshold is reached.
func (b *Batcher) Add(ctx context.Context, delta string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.buf.WriteString(delta)
	b.pending++
	if b.pending >= b.maxCount || b.now().Sub(b.lastFlush) >= b.maxAge {
		b.flushLocked(ctx)
	}
}

// Close flushes any remaining content and stops the batcher. Safe to
// call more than once; later calls are no-ops. Called on normal
// completion and on cancellation both, so partial answers survive.
func (b *Batcher) Close(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.pending > 0 {
		b.flushLocked(ctx)
	}
	b.closed = true
}

// Content returns everything accumulated so far, flushed or not.
func (b *Batcher) Content() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *Batcher) flushLocked(ctx context.Context) {
	if err := b.persist(ctx, b.buf.String()); err != nil {
		b.logger.Warn("partial content persist failed", "error", err)
	}
	b.pending = 0
	b.lastFlush = b.now()
}
