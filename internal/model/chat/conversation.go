package chat

import "time"

// Conversation statuses.
const (
	ConversationActive = "active"
	ConversationClosed = "closed"
)

// Conversation groups an ordered, append-only sequence of messages.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
