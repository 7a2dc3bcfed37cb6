package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zhilian-ai/gateway/internal/model/chat"
	"github.com/zhilian-ai/gateway/internal/service/knowledge"
	"github.com/zhilian-ai/gateway/internal/store"
	"github.com/zhilian-ai/gateway/pkg/utils"
)

// Handler exposes the account and conversation REST endpoints.
type Handler struct {
	store store.Store
}

// New creates the REST handler.
func New(st store.Store) *Handler {
	return &Handler{store: st}
}

// RegisterRoutes registers the account and conversation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Get("/conversations", h.handleListConversations)
	r.Get("/conversations/{conversationID}/messages", h.handleConversationMessages)
	r.Post("/knowledge-bases", h.handleCreateKnowledgeBase)
	r.Get("/knowledge-bases", h.handleListKnowledgeBases)
	r.Post("/knowledge-bases/{knowledgeBaseID}/documents", h.handleAddDocument)
}

// handleRegister creates an account. Passwords must be at least eight
// characters and mix letters with digits.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.Username == "" {
		utils.RespondError(w, http.StatusBadRequest, "username is required")
		return
	}
	if !validPassword(payload.Password) {
		utils.RespondError(w, http.StatusBadRequest, "password must be at least 8 characters and contain both letters and digits")
		return
	}

	user := chat.User{
		ID:       uuid.NewString(),
		Username: payload.Username,
		Password: payload.Password,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			utils.RespondError(w, http.StatusConflict, "username already taken")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, user)
}

// handleListConversations returns the conversations owned by a user,
// most recently updated first.
func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	list, err := h.store.ListConversations(r.Context(), userID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	utils.RespondJSON(w, http.StatusOK, list)
}

// handleConversationMessages returns the visible transcript of a
// conversation. System prompts and the internal tool plumbing are
// filtered out.
func (h *Handler) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	history, err := h.store.LoadHistory(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			utils.RespondError(w, http.StatusNotFound, "conversation not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	visible := make([]chat.Message, 0, len(history))
	for _, msg := range history {
		switch {
		case msg.Role == chat.RoleSystem:
		case msg.Role == chat.RoleTool:
		case msg.Role == chat.RoleAssistant && msg.Content == "":
		default:
			visible = append(visible, msg)
		}
	}

	utils.RespondJSON(w, http.StatusOK, visible)
}

// handleCreateKnowledgeBase provisions an empty knowledge base. A missing
// title gets the placeholder one.
func (h *Handler) handleCreateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string `json:"user_id"`
		Title  string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if payload.Title == "" {
		payload.Title = "未命名的知识库"
	}

	kb := chat.KnowledgeBase{
		ID:    uuid.NewString(),
		Title: payload.Title,
	}
	if err := h.store.CreateKnowledgeBase(r.Context(), kb, payload.UserID); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to create knowledge base")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, kb)
}

// handleListKnowledgeBases returns the knowledge bases owned by a user.
func (h *Handler) handleListKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	list, err := h.store.ListKnowledgeBases(r.Context(), userID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list knowledge bases")
		return
	}

	utils.RespondJSON(w, http.StatusOK, list)
}

// handleAddDocument splits the uploaded content into chunks and stores
// each as a retrievable document.
func (h *Handler) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	knowledgeBaseID := chi.URLParam(r, "knowledgeBaseID")

	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Content == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	chunks := knowledge.SplitContent(payload.Content)
	docs := make([]chat.KnowledgeDocument, 0, len(chunks))
	for _, chunk := range chunks {
		doc := chat.KnowledgeDocument{
			ID:              uuid.NewString(),
			KnowledgeBaseID: knowledgeBaseID,
			Content:         chunk,
		}
		if err := h.store.AddKnowledgeDocument(r.Context(), doc); err != nil {
			if errors.Is(err, store.ErrKnowledgeBaseNotFound) {
				utils.RespondError(w, http.StatusNotFound, "knowledge base not found")
				return
			}
			utils.RespondError(w, http.StatusInternalServerError, "failed to store document")
			return
		}
		docs = append(docs, doc)
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]any{
		"knowledge_base_id": knowledgeBaseID,
		"chunks":            len(docs),
	})
}

func validPassword(password string) bool {
	if len(password) < 8 {
		return false
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}
