package ws

import (
	"log"
	"sync"
)

// Hub is the connection pool: one live session per user. It only exists for
// lookup and best-effort delivery; sessions own their connections.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// NewHub returns an empty connection pool.
func NewHub() *Hub {
	return &Hub{sessions: make(map[string]*session)}
}

func (h *Hub) add(userID string, s *session) {
	h.mu.Lock()
	old := h.sessions[userID]
	h.sessions[userID] = s
	count := len(h.sessions)
	h.mu.Unlock()

	if old != nil && old != s {
		// A reconnect replaces the previous connection.
		old.close()
	}
	log.Printf("[ws] user %s connected, online=%d", userID, count)
}

func (h *Hub) remove(userID string, s *session) {
	h.mu.Lock()
	if h.sessions[userID] == s {
		delete(h.sessions, userID)
	}
	count := len(h.sessions)
	h.mu.Unlock()

	log.Printf("[ws] user %s disconnected, online=%d", userID, count)
}

// Online reports the number of live sessions.
func (h *Hub) Online() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
