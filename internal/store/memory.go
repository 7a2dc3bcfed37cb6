package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhilian-ai/gateway/internal/model/chat"
)

// MemoryStore keeps everything in process memory. It backs tests and
// single-node development runs where MySQL is not configured.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]chat.User                // keyed by username
	conversations map[string]chat.Conversation        // keyed by conversation id
	owners        map[string][]string                 // user id -> conversation ids
	messages      map[string][]chat.Message           // conversation id -> ordered history
	toolCalls     map[string]chat.ToolCall            // keyed by call id
	bases         map[string]chat.KnowledgeBase       // keyed by knowledge base id
	baseOwners    map[string][]string                 // user id -> knowledge base ids
	documents     map[string][]chat.KnowledgeDocument // knowledge base id -> chunks
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]chat.User),
		conversations: make(map[string]chat.Conversation),
		owners:        make(map[string][]string),
		messages:      make(map[string][]chat.Message),
		toolCalls:     make(map[string]chat.ToolCall),
		bases:         make(map[string]chat.KnowledgeBase),
		baseOwners:    make(map[string][]string),
		documents:     make(map[string][]chat.KnowledgeDocument),
	}
}

// CreateUser registers a new account.
func (s *MemoryStore) CreateUser(_ context.Context, user chat.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.Username]; ok {
		return ErrUserExists
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.Username] = user
	return nil
}

// GetUserByUsername looks up an account by username.
func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (chat.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return chat.User{}, ErrUserNotFound
	}
	return user, nil
}

// CreateConversation provisions a conversation owned by the given user.
func (s *MemoryStore) CreateConversation(_ context.Context, conv chat.Conversation, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}
	s.conversations[conv.ID] = conv
	s.owners[userID] = append(s.owners[userID], conv.ID)
	s.messages[conv.ID] = make([]chat.Message, 0, 16)
	return nil
}

// ListConversations returns the conversations owned by the user,
// newest first.
func (s *MemoryStore) ListConversations(_ context.Context, userID string) ([]chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.owners[userID]
	list := make([]chat.Conversation, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if conv, ok := s.conversations[ids[i]]; ok {
			list = append(list, conv)
		}
	}
	return list, nil
}

// UpdateConversationStatus flips a conversation between active and closed.
func (s *MemoryStore) UpdateConversationStatus(_ context.Context, conversationID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	conv.Status = status
	conv.UpdatedAt = time.Now().UTC()
	s.conversations[conversationID] = conv
	return nil
}

// AppendMessage appends a message to the conversation history.
func (s *MemoryStore) AppendMessage(_ context.Context, conversationID string, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return ErrConversationNotFound
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ConversationID = conversationID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return nil
}

// LoadHistory returns the stored messages in append order.
func (s *MemoryStore) LoadHistory(_ context.Context, conversationID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// CreateKnowledgeBase provisions a knowledge base owned by the given user.
func (s *MemoryStore) CreateKnowledgeBase(_ context.Context, kb chat.KnowledgeBase, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kb.CreatedAt.IsZero() {
		kb.CreatedAt = time.Now().UTC()
	}
	s.bases[kb.ID] = kb
	s.baseOwners[userID] = append(s.baseOwners[userID], kb.ID)
	s.documents[kb.ID] = make([]chat.KnowledgeDocument, 0, 8)
	return nil
}

// ListKnowledgeBases returns the knowledge bases owned by the user,
// newest first.
func (s *MemoryStore) ListKnowledgeBases(_ context.Context, userID string) ([]chat.KnowledgeBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.baseOwners[userID]
	list := make([]chat.KnowledgeBase, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if kb, ok := s.bases[ids[i]]; ok {
			list = append(list, kb)
		}
	}
	return list, nil
}

// AddKnowledgeDocument stores one retrievable chunk.
func (s *MemoryStore) AddKnowledgeDocument(_ context.Context, doc chat.KnowledgeDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bases[doc.KnowledgeBaseID]; !ok {
		return ErrKnowledgeBaseNotFound
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	s.documents[doc.KnowledgeBaseID] = append(s.documents[doc.KnowledgeBaseID], doc)
	return nil
}

// ListKnowledgeDocuments returns a base's chunks in insertion order.
func (s *MemoryStore) ListKnowledgeDocuments(_ context.Context, knowledgeBaseID string) ([]chat.KnowledgeDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs, ok := s.documents[knowledgeBaseID]
	if !ok {
		return nil, ErrKnowledgeBaseNotFound
	}
	copied := make([]chat.KnowledgeDocument, len(docs))
	copy(copied, docs)
	return copied, nil
}

// CreateToolCall records a freshly issued tool call.
func (s *MemoryStore) CreateToolCall(_ context.Context, call chat.ToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}
	if call.Status == "" {
		call.Status = chat.ToolCallPending
	}
	s.toolCalls[call.ID] = call
	return nil
}

// UpdateToolCallStatus advances a tool call through its lifecycle.
func (s *MemoryStore) UpdateToolCallStatus(_ context.Context, callID, status string, result json.RawMessage, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.toolCalls[callID]
	if !ok {
		return ErrToolCallNotFound
	}
	call.Status = status
	if result != nil {
		call.Result = result
	}
	if reason != "" {
		call.Error = reason
	}
	s.toolCalls[callID] = call
	return nil
}

// GetToolCall exposes recorded calls for inspection in tests.
func (s *MemoryStore) GetToolCall(callID string) (chat.ToolCall, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	call, ok := s.toolCalls[callID]
	return call, ok
}

// ReconcileStaleToolCalls fails every call left pending or running.
func (s *MemoryStore) ReconcileStaleToolCalls(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, call := range s.toolCalls {
		if call.Terminal() {
			continue
		}
		call.Status = chat.ToolCallFailed
		call.Error = "interrupted by restart"
		s.toolCalls[id] = call
		count++
	}
	return count, nil
}
