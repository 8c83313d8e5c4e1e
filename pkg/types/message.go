package types

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageStatus marks the lifecycle of an assistant message. User and system
// messages leave it empty.
type MessageStatus string

const (
	MessageInProgress MessageStatus = "in_progress"
	MessageComplete   MessageStatus = "complete"
	MessageCancelled  MessageStatus = "cancelled"
	MessageFailed     MessageStatus = "failed"
)

// Message is one entry of a conversation. It is immutable once appended,
// except for the in-progress assistant message of a streaming turn.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp int64          `json:"timestamp"`
	Usage     *Usage         `json:"usage,omitempty"`
	Status    MessageStatus  `json:"status,omitempty"`

	// Synthetic is set on compaction summaries.
	Synthetic bool `json:"synthetic,omitempty"`
}

// Usage is the token accounting reported by a provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	c := m
	c.Content = make([]ContentBlock, len(m.Content))
	copy(c.Content, m.Content)
	if m.Usage != nil {
		u := *m.Usage
		c.Usage = &u
	}
	return c
}
