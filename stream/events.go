// Package stream defines the event protocol between a running request
// and its consumers, plus the batcher that persists partial output
// without a write per token.
package stream

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/richinex/skein/model"
)

// EventType identifies a stream event. Done and Error are terminal;
// every run emits exactly one of the two, as its last event.
type EventType string

const (
	EventProgress  EventType = "progress"
	EventDelta     EventType = "delta"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event is one message on a request's stream. Fields are populated
// per type; unused fields marshal away.
type Event struct {
	Type      EventType         `json:"type"`
	Text      string            `json:"text,omitempty"`  // delta
	Stage     string            `json:"stage,omitempty"` // progress
	Tool      string            `json:"tool,omitempty"`  // tool_start, tool_end
	ToolError string            `json:"tool_error,omitempty"`
	Answer    *model.Answer     `json:"answer,omitempty"` // done
	Usage     *model.TokenUsage `json:"usage,omitempty"`
	Message   string            `json:"message,omitempty"` // error
}

// Terminal reports whether this event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

func Progress(stage string) Event { return Event{Type: EventProgress, Stage: stage} }
func Delta(text string) Event     { return Event{Type: EventDelta, Text: text} }
func ToolStart(tool string) Event { return Event{Type: EventToolStart, Tool: tool} }
func ToolEnd(tool string) Event   { return Event{Type: EventToolEnd, Tool: tool} }
func ToolFailed(tool, msg string) Event {
	return Event{Type: EventToolEnd, Tool: tool, ToolError: msg}
}
func Done(answer model.Answer) Event {
	return Event{Type: EventDone, Answer: &answer, Usage: &answer.Usage}
}
func Errorf(format string, args ...any) Event {
	return Event{Type: EventError, Message: fmt.Sprintf(format, args...)}
}

// Sink receives events from a running request. Emit must be safe to
// call from the engine goroutine; implementations own their delivery
// guarantees.
type Sink interface {
	Emit(event Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(event Event) { f(event) }

// WriteSSE encodes one event in text/event-stream framing.
func WriteSSE(w io.Writer, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	return nil
}
