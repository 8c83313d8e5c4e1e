package types

// TurnState is a state of the turn machine.
type TurnState string

const (
	StateIdle          TurnState = "Idle"
	StateAwaitingModel TurnState = "AwaitingModel"
	StateStreamingText TurnState = "StreamingText"
	StateExecutingTool TurnState = "ExecutingTool"
	StateFailed        TurnState = "Failed"
	StateCancelled     TurnState = "Cancelled"
)

// Terminal reports whether no further transitions happen in this turn.
func (s TurnState) Terminal() bool {
	return s == StateFailed || s == StateCancelled
}

// ProcessorEventType enumerates events emitted to the caller during a turn.
type ProcessorEventType string

const (
	PEState         ProcessorEventType = "state"
	PEText          ProcessorEventType = "text"
	PEThinking      ProcessorEventType = "thinking"
	PEToolStart     ProcessorEventType = "tool_start"
	PEToolResult    ProcessorEventType = "tool_result"
	PEPermissionAsk ProcessorEventType = "permission_ask"
	PEMessage       ProcessorEventType = "message"
	PECompacted     ProcessorEventType = "compacted"
	PEDone          ProcessorEventType = "done"
	PEError         ProcessorEventType = "error"
)

// ProcessorEvent is what the caller (CLI, HTTP API) observes of a turn.
type ProcessorEvent struct {
	Type       ProcessorEventType `json:"type"`
	SessionID  string             `json:"sessionId"`
	State      TurnState          `json:"state,omitempty"`
	Delta      string             `json:"delta,omitempty"`
	ToolUse    *ContentBlock      `json:"toolUse,omitempty"`
	ToolResult *ContentBlock      `json:"toolResult,omitempty"`
	Message    *Message           `json:"message,omitempty"`
	Permission *PermissionAsk     `json:"permission,omitempty"`
	Usage      *Usage             `json:"usage,omitempty"`
	Error      *EventError        `json:"error,omitempty"`
}

// PermissionAsk describes a pending interactive confirmation.
type PermissionAsk struct {
	ID         string `json:"id"`
	Permission string `json:"permission"`
	Target     string `json:"target"`
	ToolName   string `json:"toolName"`
	Reason     string `json:"reason,omitempty"`
}
