package types

import "fmt"

// ChatEventType enumerates the canonical streaming events.
type ChatEventType string

const (
	EventMessageStart      ChatEventType = "message_start"
	EventContentBlockStart ChatEventType = "content_block_start"
	EventContentBlockDelta ChatEventType = "content_block_delta"
	EventContentBlockStop  ChatEventType = "content_block_stop"
	EventMessageDelta      ChatEventType = "message_delta"
	EventMessageStop       ChatEventType = "message_stop"
	EventErrorType         ChatEventType = "error"
)

// StopReason explains why the model stopped generating.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// DeltaType discriminates content_block_delta payloads.
type DeltaType string

const (
	DeltaText      DeltaType = "text_delta"
	DeltaInputJSON DeltaType = "input_json_delta"
	DeltaThinking  DeltaType = "thinking_delta"
)

// ErrorKind is the failure taxonomy shared by providers and the processor.
type ErrorKind string

const (
	ErrAuthentication   ErrorKind = "authentication_error"
	ErrTransport        ErrorKind = "transport_error"
	ErrVendor           ErrorKind = "vendor_error"
	ErrTool             ErrorKind = "tool_error"
	ErrPermissionDenied ErrorKind = "permission_denied"
	ErrProtocol         ErrorKind = "protocol_error"
	ErrCancelled        ErrorKind = "cancelled"
	ErrStorage          ErrorKind = "storage_error"
	// ErrMaxSteps ends a turn that kept calling tools past the step limit.
	ErrMaxSteps ErrorKind = "max_steps"
)

// ChatEvent is the provider-independent streaming event. Fields are populated
// according to Type:
//
//	message_start        Message (id, model)
//	content_block_start  Index, ContentBlock
//	content_block_delta  Index, Delta
//	content_block_stop   Index
//	message_delta        StopReason, Usage (never nil)
//	message_stop
//	error                Error
type ChatEvent struct {
	Type         ChatEventType `json:"type"`
	Index        int           `json:"index"`
	Message      *MessageInfo  `json:"message,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`
	Delta        *Delta        `json:"delta,omitempty"`
	StopReason   StopReason    `json:"stop_reason,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
	Error        *EventError   `json:"error,omitempty"`
}

// MessageInfo is carried by message_start.
type MessageInfo struct {
	ID    string `json:"id"`
	Model string `json:"model,omitempty"`
}

// Delta is the tagged payload of content_block_delta.
type Delta struct {
	Type        DeltaType `json:"type"`
	Text        string    `json:"text,omitempty"`
	PartialJSON string    `json:"partial_json,omitempty"`
	Thinking    string    `json:"thinking,omitempty"`
}

// EventError describes a terminal stream failure.
type EventError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Status  int       `json:"status,omitempty"`
	// ToolUseID names the tool_use a protocol_error refers to.
	ToolUseID string `json:"toolUseId,omitempty"`
}

func (e *EventError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// MessageStartEvent builds a message_start event.
func MessageStartEvent(id, model string) ChatEvent {
	return ChatEvent{Type: EventMessageStart, Message: &MessageInfo{ID: id, Model: model}}
}

// TextStartEvent builds a content_block_start for a text block.
func TextStartEvent(index int) ChatEvent {
	b := NewTextBlock("")
	return ChatEvent{Type: EventContentBlockStart, Index: index, ContentBlock: &b}
}

// ThinkingStartEvent builds a content_block_start for a thinking block.
func ThinkingStartEvent(index int) ChatEvent {
	b := NewThinkingBlock("")
	return ChatEvent{Type: EventContentBlockStart, Index: index, ContentBlock: &b}
}

// ToolUseStartEvent builds a content_block_start for a tool_use block.
func ToolUseStartEvent(index int, id, name string) ChatEvent {
	b := ContentBlock{Type: BlockToolUse, ID: id, Name: name, Status: ToolPending}
	return ChatEvent{Type: EventContentBlockStart, Index: index, ContentBlock: &b}
}

// TextDeltaEvent builds a text_delta event.
func TextDeltaEvent(index int, text string) ChatEvent {
	return ChatEvent{Type: EventContentBlockDelta, Index: index, Delta: &Delta{Type: DeltaText, Text: text}}
}

// ThinkingDeltaEvent builds a thinking_delta event.
func ThinkingDeltaEvent(index int, text string) ChatEvent {
	return ChatEvent{Type: EventContentBlockDelta, Index: index, Delta: &Delta{Type: DeltaThinking, Thinking: text}}
}

// InputJSONDeltaEvent builds an input_json_delta event.
func InputJSONDeltaEvent(index int, partial string) ChatEvent {
	return ChatEvent{Type: EventContentBlockDelta, Index: index, Delta: &Delta{Type: DeltaInputJSON, PartialJSON: partial}}
}

// BlockStopEvent builds a content_block_stop event.
func BlockStopEvent(index int) ChatEvent {
	return ChatEvent{Type: EventContentBlockStop, Index: index}
}

// MessageDeltaEvent builds a message_delta. A nil usage becomes zero usage.
func MessageDeltaEvent(reason StopReason, usage *Usage) ChatEvent {
	if usage == nil {
		usage = &Usage{}
	}
	return ChatEvent{Type: EventMessageDelta, StopReason: reason, Usage: usage}
}

// MessageStopEvent builds a message_stop event.
func MessageStopEvent() ChatEvent {
	return ChatEvent{Type: EventMessageStop}
}

// ErrorEvent builds a terminal error event.
func ErrorEvent(kind ErrorKind, message string) ChatEvent {
	return ChatEvent{Type: EventErrorType, Error: &EventError{Kind: kind, Message: message}}
}
