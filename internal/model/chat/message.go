package chat

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message persists an individual turn of a conversation. Immutable once
// stored; owned by the conversation entry that holds it.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	TokenCount int       `json:"tokenCount,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Turn is the read projection handed to the model provider: role and content
// only, timestamps and token counts stripped.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
