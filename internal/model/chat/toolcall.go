package chat

import (
	"encoding/json"
	"time"
)

// ToolCall lifecycle statuses.
const (
	ToolCallPending   = "pending"
	ToolCallRunning   = "running"
	ToolCallSucceeded = "succeeded"
	ToolCallFailed    = "failed"
)

// ToolCall records one tool invocation from creation through resolution.
// Result stays nil until the call reaches a terminal status; Error carries
// the failure reason when the status is failed.
type ToolCall struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Name           string          `json:"name"`
	Parameters     json.RawMessage `json:"parameters"`
	Status         string          `json:"status"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Terminal reports whether the call has reached succeeded or failed.
func (c ToolCall) Terminal() bool {
	return c.Status == ToolCallSucceeded || c.Status == ToolCallFailed
}
