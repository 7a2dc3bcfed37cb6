package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/zhilian-ai/gateway/internal/model/chat"
)

var (
	ErrUserExists            = errors.New("username already taken")
	ErrUserNotFound          = errors.New("user not found")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrToolCallNotFound      = errors.New("tool call not found")
	ErrKnowledgeBaseNotFound = errors.New("knowledge base not found")
)

// Store is the persistence gateway. Message history is append-only;
// tool-call records are written once and finalized by status updates.
type Store interface {
	CreateUser(ctx context.Context, user chat.User) error
	GetUserByUsername(ctx context.Context, username string) (chat.User, error)

	CreateConversation(ctx context.Context, conv chat.Conversation, userID string) error
	ListConversations(ctx context.Context, userID string) ([]chat.Conversation, error)
	UpdateConversationStatus(ctx context.Context, conversationID, status string) error

	AppendMessage(ctx context.Context, conversationID string, msg chat.Message) error
	LoadHistory(ctx context.Context, conversationID string) ([]chat.Message, error)

	CreateKnowledgeBase(ctx context.Context, kb chat.KnowledgeBase, userID string) error
	ListKnowledgeBases(ctx context.Context, userID string) ([]chat.KnowledgeBase, error)
	AddKnowledgeDocument(ctx context.Context, doc chat.KnowledgeDocument) error
	ListKnowledgeDocuments(ctx context.Context, knowledgeBaseID string) ([]chat.KnowledgeDocument, error)

	CreateToolCall(ctx context.Context, call chat.ToolCall) error
	UpdateToolCallStatus(ctx context.Context, callID, status string, result json.RawMessage, reason string) error

	// ReconcileStaleToolCalls finalizes calls left pending or running by a
	// previous process, returning how many were marked failed.
	ReconcileStaleToolCalls(ctx context.Context) (int, error)
}
