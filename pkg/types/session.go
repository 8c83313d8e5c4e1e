// Package types provides the core data types shared by the engine packages.
package types

// SessionStatus is the persisted state of a session.
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionBusy      SessionStatus = "busy"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// Session is a durable conversation. It is owned by the session store and
// only mutated through store methods.
type Session struct {
	ID          string        `json:"id"`
	ProjectPath string        `json:"projectPath"`
	CreatedAt   int64         `json:"createdAt"`
	UpdatedAt   int64         `json:"updatedAt"`
	Title       string        `json:"title,omitempty"`
	Status      SessionStatus `json:"status"`
	Compaction  *Compaction   `json:"compaction,omitempty"`
	Messages    []Message     `json:"messages"`
}

// Compaction records a summary that replaces every message before
// BoundaryMessageID when the history is sent to a model.
type Compaction struct {
	Summary           string `json:"summary"`
	BoundaryMessageID string `json:"boundaryMessageId"`
	CreatedAt         int64  `json:"createdAt"`
}

// SessionSummary is the lightweight listing view of a session.
type SessionSummary struct {
	ID           string        `json:"id"`
	Title        string        `json:"title,omitempty"`
	ProjectPath  string        `json:"projectPath"`
	CreatedAt    int64         `json:"createdAt"`
	UpdatedAt    int64         `json:"updatedAt"`
	MessageCount int           `json:"messageCount"`
	Status       SessionStatus `json:"status"`
}

// History returns the messages a model should see: when a compaction is
// recorded, the summary followed by the messages from the boundary onwards.
func (s *Session) History() []Message {
	if s.Compaction == nil {
		return s.Messages
	}
	for i, m := range s.Messages {
		if m.ID == s.Compaction.BoundaryMessageID {
			out := make([]Message, 0, len(s.Messages)-i+1)
			for _, pre := range s.Messages[:i] {
				if pre.Role == RoleSystem {
					out = append(out, pre)
				}
			}
			out = append(out, Message{
				ID:        "compaction-" + s.Compaction.BoundaryMessageID,
				Role:      RoleAssistant,
				Content:   []ContentBlock{NewTextBlock(s.Compaction.Summary)},
				Timestamp: s.Compaction.CreatedAt,
				Status:    MessageComplete,
				Synthetic: true,
			})
			return append(out, s.Messages[i:]...)
		}
	}
	return s.Messages
}
