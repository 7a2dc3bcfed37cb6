package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/zhilian-ai/gateway/internal/model/chat"
)

// MySQLStore implements Store on top of MySQL. Message order relies on an
// auto-increment sequence column, so history reads always match append order.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens and pings the database.
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS user (
		id VARCHAR(36) PRIMARY KEY,
		username VARCHAR(190) NOT NULL UNIQUE,
		password VARCHAR(190) NOT NULL,
		created_ts DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversation (
		id VARCHAR(36) PRIMARY KEY,
		title VARCHAR(190) NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL DEFAULT 'active',
		created_ts DATETIME NOT NULL,
		updated_ts DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_conversation (
		user_id VARCHAR(36) NOT NULL,
		conversation_id VARCHAR(36) NOT NULL,
		created_ts DATETIME NOT NULL,
		PRIMARY KEY (user_id, conversation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS message (
		seq BIGINT AUTO_INCREMENT PRIMARY KEY,
		id VARCHAR(36) NOT NULL UNIQUE,
		conversation_id VARCHAR(36) NOT NULL,
		role VARCHAR(16) NOT NULL,
		content TEXT,
		tool_call_id VARCHAR(64),
		tool_calls TEXT,
		created_ts DATETIME NOT NULL,
		INDEX idx_message_conversation (conversation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS knowledge_base (
		id VARCHAR(36) PRIMARY KEY,
		title VARCHAR(190) NOT NULL DEFAULT '',
		created_ts DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_knowledge_base (
		user_id VARCHAR(36) NOT NULL,
		knowledge_base_id VARCHAR(36) NOT NULL,
		created_ts DATETIME NOT NULL,
		PRIMARY KEY (user_id, knowledge_base_id)
	)`,
	`CREATE TABLE IF NOT EXISTS knowledge_document (
		seq BIGINT AUTO_INCREMENT PRIMARY KEY,
		id VARCHAR(36) NOT NULL UNIQUE,
		knowledge_base_id VARCHAR(36) NOT NULL,
		content TEXT,
		created_ts DATETIME NOT NULL,
		INDEX idx_knowledge_document_base (knowledge_base_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tool_call (
		id VARCHAR(64) PRIMARY KEY,
		conversation_id VARCHAR(36) NOT NULL,
		name VARCHAR(190) NOT NULL,
		parameters TEXT,
		status VARCHAR(16) NOT NULL,
		result TEXT,
		error TEXT,
		created_ts DATETIME NOT NULL,
		INDEX idx_tool_call_conversation (conversation_id)
	)`,
}

// Migrate creates the schema when it does not exist yet.
func (s *MySQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// CreateUser registers a new account.
func (s *MySQLStore) CreateUser(ctx context.Context, user chat.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user (id, username, password, created_ts) VALUES (?, ?, ?, ?)`,
		user.ID, user.Username, user.Password, user.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "Duplicate entry") {
			return ErrUserExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByUsername looks up an account by username.
func (s *MySQLStore) GetUserByUsername(ctx context.Context, username string) (chat.User, error) {
	var user chat.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password, created_ts FROM user WHERE username = ?`,
		username,
	).Scan(&user.ID, &user.Username, &user.Password, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return chat.User{}, ErrUserNotFound
	}
	if err != nil {
		return chat.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// CreateConversation provisions a conversation owned by the given user.
func (s *MySQLStore) CreateConversation(ctx context.Context, conv chat.Conversation, userID string) error {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}
	if conv.Status == "" {
		conv.Status = chat.ConversationActive
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation (id, title, status, created_ts, updated_ts) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.Status, conv.CreatedAt, conv.UpdatedAt,
	); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO user_conversation (user_id, conversation_id, created_ts) VALUES (?, ?, ?)`,
		userID, conv.ID, conv.CreatedAt,
	); err != nil {
		return fmt.Errorf("link conversation owner: %w", err)
	}
	return nil
}

// ListConversations returns the conversations owned by the user, newest first.
func (s *MySQLStore) ListConversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.title, c.status, c.created_ts, c.updated_ts
		 FROM conversation c
		 JOIN user_conversation uc ON uc.conversation_id = c.id
		 WHERE uc.user_id = ?
		 ORDER BY c.created_ts DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var list []chat.Conversation
	for rows.Next() {
		var conv chat.Conversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.Status, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		list = append(list, conv)
	}
	return list, rows.Err()
}

// UpdateConversationStatus flips a conversation between active and closed.
func (s *MySQLStore) UpdateConversationStatus(ctx context.Context, conversationID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversation SET status = ?, updated_ts = ? WHERE id = ?`,
		status, time.Now().UTC(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// AppendMessage appends a message to the conversation history.
func (s *MySQLStore) AppendMessage(ctx context.Context, conversationID string, msg chat.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var toolCalls any
	if len(msg.ToolCalls) > 0 {
		raw, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		toolCalls = string(raw)
	}

	var toolCallID any
	if msg.ToolCallID != "" {
		toolCallID = msg.ToolCallID
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message (id, conversation_id, role, content, tool_call_id, tool_calls, created_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, msg.Role, msg.Content, toolCallID, toolCalls, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE conversation SET updated_ts = ? WHERE id = ?`,
		msg.CreatedAt, conversationID,
	)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// LoadHistory returns the stored messages in append order.
func (s *MySQLStore) LoadHistory(ctx context.Context, conversationID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, tool_call_id, tool_calls, created_ts
		 FROM message WHERE conversation_id = ? ORDER BY seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var history []chat.Message
	for rows.Next() {
		var (
			msg        chat.Message
			content    sql.NullString
			toolCallID sql.NullString
			toolCalls  sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &content, &toolCallID, &toolCalls, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Content = content.String
		msg.ToolCallID = toolCallID.String
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		history = append(history, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(history) == 0 {
		var id string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM conversation WHERE id = ?`, conversationID,
		).Scan(&id)
		if err == sql.ErrNoRows {
			return nil, ErrConversationNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("check conversation: %w", err)
		}
	}
	return history, nil
}

// CreateKnowledgeBase provisions a knowledge base owned by the given user.
func (s *MySQLStore) CreateKnowledgeBase(ctx context.Context, kb chat.KnowledgeBase, userID string) error {
	if kb.CreatedAt.IsZero() {
		kb.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_base (id, title, created_ts) VALUES (?, ?, ?)`,
		kb.ID, kb.Title, kb.CreatedAt,
	); err != nil {
		return fmt.Errorf("create knowledge base: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO user_knowledge_base (user_id, knowledge_base_id, created_ts) VALUES (?, ?, ?)`,
		userID, kb.ID, kb.CreatedAt,
	); err != nil {
		return fmt.Errorf("link knowledge base owner: %w", err)
	}
	return nil
}

// ListKnowledgeBases returns the knowledge bases owned by the user, newest first.
func (s *MySQLStore) ListKnowledgeBases(ctx context.Context, userID string) ([]chat.KnowledgeBase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kb.id, kb.title, kb.created_ts
		 FROM knowledge_base kb
		 JOIN user_knowledge_base ukb ON ukb.knowledge_base_id = kb.id
		 WHERE ukb.user_id = ?
		 ORDER BY kb.created_ts DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list knowledge bases: %w", err)
	}
	defer rows.Close()

	var list []chat.KnowledgeBase
	for rows.Next() {
		var kb chat.KnowledgeBase
		if err := rows.Scan(&kb.ID, &kb.Title, &kb.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge base: %w", err)
		}
		list = append(list, kb)
	}
	return list, rows.Err()
}

// AddKnowledgeDocument stores one retrievable chunk.
func (s *MySQLStore) AddKnowledgeDocument(ctx context.Context, doc chat.KnowledgeDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM knowledge_base WHERE id = ?`, doc.KnowledgeBaseID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return ErrKnowledgeBaseNotFound
	}
	if err != nil {
		return fmt.Errorf("check knowledge base: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_document (id, knowledge_base_id, content, created_ts) VALUES (?, ?, ?, ?)`,
		doc.ID, doc.KnowledgeBaseID, doc.Content, doc.CreatedAt,
	); err != nil {
		return fmt.Errorf("add knowledge document: %w", err)
	}
	return nil
}

// ListKnowledgeDocuments returns a base's chunks in insertion order.
func (s *MySQLStore) ListKnowledgeDocuments(ctx context.Context, knowledgeBaseID string) ([]chat.KnowledgeDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, knowledge_base_id, content, created_ts
		 FROM knowledge_document WHERE knowledge_base_id = ? ORDER BY seq ASC`,
		knowledgeBaseID,
	)
	if err != nil {
		return nil, fmt.Errorf("list knowledge documents: %w", err)
	}
	defer rows.Close()

	var docs []chat.KnowledgeDocument
	for rows.Next() {
		var (
			doc     chat.KnowledgeDocument
			content sql.NullString
		)
		if err := rows.Scan(&doc.ID, &doc.KnowledgeBaseID, &content, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge document: %w", err)
		}
		doc.Content = content.String
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(docs) == 0 {
		var id string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM knowledge_base WHERE id = ?`, knowledgeBaseID,
		).Scan(&id)
		if err == sql.ErrNoRows {
			return nil, ErrKnowledgeBaseNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("check knowledge base: %w", err)
		}
	}
	return docs, nil
}

// CreateToolCall records a freshly issued tool call.
func (s *MySQLStore) CreateToolCall(ctx context.Context, call chat.ToolCall) error {
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}
	if call.Status == "" {
		call.Status = chat.ToolCallPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_call (id, conversation_id, name, parameters, status, created_ts)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		call.ID, call.ConversationID, call.Name, string(call.Parameters), call.Status, call.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create tool call: %w", err)
	}
	return nil
}

// UpdateToolCallStatus advances a tool call through its lifecycle.
func (s *MySQLStore) UpdateToolCallStatus(ctx context.Context, callID, status string, result json.RawMessage, reason string) error {
	var resultVal any
	if result != nil {
		resultVal = string(result)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_call SET status = ?, result = COALESCE(?, result), error = ? WHERE id = ?`,
		status, resultVal, reason, callID,
	)
	if err != nil {
		return fmt.Errorf("update tool call: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrToolCallNotFound
	}
	return nil
}

// ReconcileStaleToolCalls fails every call left pending or running by a
// previous process.
func (s *MySQLStore) ReconcileStaleToolCalls(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_call SET status = ?, error = ? WHERE status IN (?, ?)`,
		chat.ToolCallFailed, "interrupted by restart", chat.ToolCallPending, chat.ToolCallRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reconcile tool calls: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
