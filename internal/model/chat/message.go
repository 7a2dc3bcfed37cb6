package chat

import (
	"encoding/json"
	"time"
)

// Roles follow the chat-completion wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message persists one turn of a conversation for replay and audit.
// Content is empty when the assistant turn only carries tool calls;
// ToolCallID links a tool-role message back to the call it answers.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversationId"`
	Role           string            `json:"role"`
	Content        string            `json:"content"`
	ToolCallID     string            `json:"toolCallId,omitempty"`
	ToolCalls      []ToolCallRequest `json:"toolCalls,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// ToolCallRequest is one tool invocation the model asked for in an
// assistant turn. Parameters stay opaque; the executor validates them.
type ToolCallRequest struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}
