package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/richinex/skein/model"
)

func TestWriteSSEFraming(t *testing.T) {
	var sb strings.Builder
	if err := WriteSSE(&sb, Delta("hello")); err != nil {
		t.Fatalf("WriteSSE failed: %v", err)
	}

	out := sb.String()
	if !strings.HasPrefix(out, "event: delta\ndata: ") {
		t.Errorf("bad framing: %q", out)
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Errorf("frame not terminated by blank line: %q", out)
	}

	payload := strings.TrimPrefix(out, "event: delta\ndata: ")
	payload = strings.TrimSuffix(payload, "\n\n")
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if ev.Text != "hello" {
		t.Errorf("text = %q, want hello", ev.Text)
	}
}

func TestTerminalEvents(t *testing.T) {
	if Delta("x").Terminal() || Progress("thinking").Terminal() || ToolStart("web_search").Terminal() {
		t.Error("non-terminal event reported as terminal")
	}
	if !Done(model.Answer{}).Terminal() {
		t.Error("done must be terminal")
	}
	if !Errorf("boom").Terminal() {
		t.Error("error must be terminal")
	}
}

func TestBatcherFlushesAtCountThreshold(t *testing.T) {
	var writes []string
	b := NewBatcher(func(ctx context.Context, content string) error {
		writes = append(writes, content)
		return nil
	}, nil)

	ctx := context.Background()
	for i := 0; i < defaultMaxCount-1; i++ {
		b.Add(ctx, "x")
	}
	if len(writes) != 0 {
		t.Fatalf("flushed %d times before threshold", len(writes))
	}

	b.Add(ctx, "x")
	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1 at threshold", len(writes))
	}
	if len(writes[0]) != defaultMaxCount {
		t.Errorf("flushed %d chars, want full accumulation", len(writes[0]))
	}
}

func TestBatcherFlushesAtAgeThreshold(t *testing.T) {
	var writes []string
	b := NewBatcher(func(ctx context.Context, content string) error {
		writes = append(writes, content)
		return nil
	}, nil)

	start := time.Now()
	b.now = func() time.Time { return start }
	b.lastFlush = start

	ctx := context.Background()
	b.Add(ctx, "a")
	if len(writes) != 0 {
		t.Fatal("flushed before age threshold")
	}

	b.now = func() time.Time { return start.Add(defaultMaxAge) }
	b.Add(ctx, "b")
	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1 after age threshold", len(writes))
	}
	if writes[0] != "ab" {
		t.Errorf("flushed %q, want ab", writes[0])
	}
}

func TestBatcherCloseFlushesRemainder(t *testing.T) {
	var writes []string
	b := NewBatcher(func(ctx context.Context, content string) error {
		writes = append(writes, content)
		return nil
	}, nil)

	ctx := context.Background()
	b.Add(ctx, "partial ")
	b.Add(ctx, "answer")
	b.Close(ctx)

	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1 final flush", len(writes))
	}
	if writes[0] != "partial answer" {
		t.Errorf("final flush = %q", writes[0])
	}

	// Second close and late adds are no-ops.
	b.Close(ctx)
	b.Add(ctx, "late")
	if len(writes) != 1 {
		t.Errorf("writes after close = %d, want 1", len(writes))
	}
	if b.Content() != "partial answer" {
		t.Errorf("content after close = %q", b.Content())
	}
}

func TestBatcherConcatenationMatchesDeltas(t *testing.T) {
	var last string
	b := NewBatcher(func(ctx context.Context, content string) error {
		last = content
		return nil
	}, nil)

	ctx := context.Background()
	var want strings.Builder
	for i := 0; i < 137; i++ {
		d := fmt.Sprintf("tok%d ", i)
		want.WriteString(d)
		b.Add(ctx, d)
	}
	b.Close(ctx)

	if last != want.String() {
		t.Error("persisted content does not equal concatenation of deltas")
	}
	if b.Content() != want.String() {
		t.Error("Content() does not equal concatenation of deltas")
	}
}

func TestBatcherPersistErrorDoesNotLoseContent(t *testing.T) {
	calls := 0
	b := NewBatcher(func(ctx context.Context, content string) error {
		calls++
		return fmt.Errorf("db busy")
	}, nil)

	ctx := context.Background()
	for i := 0; i < defaultMaxCount; i++ {
		b.Add(ctx, "x")
	}
	if calls != 1 {
		t.Fatalf("persist calls = %d, want 1", calls)
	}
	// Buffer still holds everything for the next attempt.
	if len(b.Content()) != defaultMaxCount {
		t.Errorf("content length = %d after failed flush", len(b.Content()))
	}
}
