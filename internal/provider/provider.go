package provider

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/codeagent/pkg/types"
)

// ErrProviderNotFound is returned when a provider id is not registered.
var ErrProviderNotFound = errors.New("provider not found")

// Provider is one LLM vendor behind the canonical streaming contract.
type Provider interface {
	// ID returns the provider identifier.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// Models returns the list of available models.
	Models() []types.Model

	// Chat starts a streaming completion. Failures, including missing
	// credentials, are delivered in-band as a terminal error event; the
	// returned stream is never nil. Cancelling ctx aborts the request.
	Chat(ctx context.Context, req *ChatRequest) *EventStream
}

// ChatRequest is a provider-independent completion request.
type ChatRequest struct {
	Messages     []types.Message
	Model        string
	SystemPrompt string
	Temperature  *float64
	MaxTokens    int
	Tools        []ToolSpec
}

// ToolSpec describes a callable tool to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// EventStream is a lazy sequence of canonical events backed by an eino
// stream pipe.
type EventStream struct {
	reader *schema.StreamReader[types.ChatEvent]
}

// NewEventStream wraps an eino stream reader.
func NewEventStream(reader *schema.StreamReader[types.ChatEvent]) *EventStream {
	return &EventStream{reader: reader}
}

// Recv returns the next event, or io.EOF once the stream is exhausted.
func (s *EventStream) Recv() (types.ChatEvent, error) {
	return s.reader.Recv()
}

// Close releases the stream. Producers observe it on their next send.
func (s *EventStream) Close() {
	s.reader.Close()
}

// emitter is the producing side of an EventStream.
type emitter struct {
	w *schema.StreamWriter[types.ChatEvent]
}

// emit sends events in order. It returns false when the consumer has gone.
func (e emitter) emit(events ...types.ChatEvent) bool {
	for _, ev := range events {
		if closed := e.w.Send(ev, nil); closed {
			return false
		}
	}
	return true
}

func (e emitter) close() {
	e.w.Close()
}

// newPipe returns a stream and its producer.
func newPipe() (*EventStream, emitter) {
	r, w := schema.Pipe[types.ChatEvent](64)
	return NewEventStream(r), emitter{w: w}
}

// NewStaticStream returns a stream replaying events. Useful for tests and for
// failures detected before any request is sent.
func NewStaticStream(events ...types.ChatEvent) *EventStream {
	return NewEventStream(schema.StreamReaderFromArray(events))
}

// errorStream returns a stream holding one terminal error event.
func errorStream(kind types.ErrorKind, message string) *EventStream {
	return NewStaticStream(types.ErrorEvent(kind, message))
}

// Collect drains a stream into a slice. It stops after an error event.
func Collect(s *EventStream) []types.ChatEvent {
	defer s.Close()
	var out []types.ChatEvent
	for {
		ev, err := s.Recv()
		if err != nil {
			return out
		}
		out = append(out, ev)
		if ev.Type == types.EventErrorType && ev.Error != nil && ev.Error.ToolUseID == "" {
			return out
		}
	}
}
