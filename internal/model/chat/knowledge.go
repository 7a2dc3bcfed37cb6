package chat

import "time"

// KnowledgeBase is a user-owned collection of reference documents that can
// ground a conversation turn.
type KnowledgeBase struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// KnowledgeDocument is one retrievable chunk of a knowledge base.
type KnowledgeDocument struct {
	ID              string    `json:"id"`
	KnowledgeBaseID string    `json:"knowledgeBaseId"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"createdAt"`
}
