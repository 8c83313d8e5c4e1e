package event

import "github.com/opencode-ai/codeagent/pkg/types"

// SessionData is the data for session.created, session.updated and
// session.deleted events.
type SessionData struct {
	Info *types.SessionSummary `json:"info"`
}

// SessionStatusData is the data for session.status events.
type SessionStatusData struct {
	SessionID string              `json:"sessionID"`
	Status    types.SessionStatus `json:"status"`
	State     types.TurnState     `json:"state,omitempty"`
}

// SessionCompactedData is the data for session.compacted events.
type SessionCompactedData struct {
	SessionID         string `json:"sessionID"`
	BoundaryMessageID string `json:"boundaryMessageID"`
}

// MessageUpdatedData is the data for message.updated events.
type MessageUpdatedData struct {
	SessionID string         `json:"sessionID"`
	Info      *types.Message `json:"info"`
}

// ToolData is the data for tool.started and tool.completed events.
type ToolData struct {
	SessionID string              `json:"sessionID"`
	Block     *types.ContentBlock `json:"block"`
}

// PermissionAskedData is the data for permission.asked events.
type PermissionAskedData struct {
	ID         string `json:"id"`
	SessionID  string `json:"sessionID"`
	Permission string `json:"permission"`
	Target     string `json:"target"`
	Title      string `json:"title"`
}

// PermissionResolvedData is the data for permission.resolved events.
type PermissionResolvedData struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Response  string `json:"response"` // "once" | "always" | "reject"
	Granted   bool   `json:"granted"`
}
