package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhilian-ai/gateway/internal/model/chat"
	"github.com/zhilian-ai/gateway/internal/service/agent"
	"github.com/zhilian-ai/gateway/internal/service/completion"
	"github.com/zhilian-ai/gateway/internal/service/knowledge"
	"github.com/zhilian-ai/gateway/internal/store"
	"github.com/zhilian-ai/gateway/internal/tool"
	"github.com/zhilian-ai/gateway/pkg/utils"
)

// Handler runs one-shot turns over Server-Sent Events for clients that
// cannot hold a WebSocket open.
type Handler struct {
	store        store.Store
	completion   completion.Client
	dispatcher   *tool.Dispatcher
	registry     *tool.Registry
	retriever    *knowledge.Retriever
	systemPrompt string
	turnTimeout  time.Duration
}

// New creates the SSE handler. turnTimeout bounds a whole turn including
// every tool round.
func New(st store.Store, client completion.Client, dispatcher *tool.Dispatcher, registry *tool.Registry, retriever *knowledge.Retriever, systemPrompt string, turnTimeout time.Duration) *Handler {
	if turnTimeout <= 0 {
		turnTimeout = 2 * time.Minute
	}
	return &Handler{
		store:        st,
		completion:   client,
		dispatcher:   dispatcher,
		registry:     registry,
		retriever:    retriever,
		systemPrompt: systemPrompt,
		turnTimeout:  turnTimeout,
	}
}

// RegisterRoutes mounts the streaming endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/stream", h.handleStream)
}

type streamRequest struct {
	UserID          string `json:"user_id"`
	ConversationID  string `json:"conversation_id,omitempty"`
	Question        string `json:"question"`
	KnowledgeBaseID string `json:"knowledge_base_id,omitempty"`
}

type streamEvent struct {
	ConversationID string                 `json:"conversation_id,omitempty"`
	Content        string                 `json:"content,omitempty"`
	ToolCalls      []chat.ToolCallRequest `json:"tool_calls,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var payload streamRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID == "" || payload.Question == "" {
		utils.RespondError(w, http.StatusBadRequest, "user_id and question are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.turnTimeout)
	defer cancel()

	out := &sseDeliverer{w: w, flusher: flusher}
	machine := agent.New(agent.Config{
		Store:        h.store,
		Completion:   h.completion,
		Dispatcher:   h.dispatcher,
		Registry:     h.registry,
		Out:          out,
		UserID:       payload.UserID,
		SystemPrompt: h.systemPrompt,
		Knowledge:    h.retriever,
	})

	utils.SetupSSEHeaders(w)
	flusher.Flush()

	if payload.ConversationID != "" {
		if err := machine.AttachConversation(ctx, payload.ConversationID); err != nil {
			if errors.Is(err, store.ErrConversationNotFound) {
				out.DeliverError(payload.ConversationID, "conversation not found")
				return
			}
			out.DeliverError(payload.ConversationID, "failed to load conversation")
			return
		}
	}

	if err := machine.HandleKnowledgeQuestion(ctx, payload.Question, payload.KnowledgeBaseID); err != nil {
		// Turn-level failures were already surfaced on the stream.
		return
	}

	utils.SendSSEEvent(w, flusher, "done", streamEvent{ConversationID: machine.ConversationID()})
}

// sseDeliverer maps agent output onto SSE events. It is only touched
// from the turn goroutine so it needs no locking.
type sseDeliverer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (d *sseDeliverer) DeliverAnswer(conversationID, content string) {
	utils.SendSSEEvent(d.w, d.flusher, "answer", streamEvent{ConversationID: conversationID, Content: content})
}

func (d *sseDeliverer) DeliverToolCalls(conversationID string, calls []chat.ToolCallRequest) {
	utils.SendSSEEvent(d.w, d.flusher, "tool_calls", streamEvent{ConversationID: conversationID, ToolCalls: calls})
}

func (d *sseDeliverer) DeliverError(conversationID, message string) {
	utils.SendSSEEvent(d.w, d.flusher, "error", streamEvent{ConversationID: conversationID, Error: message})
}
