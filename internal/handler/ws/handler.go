package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhilian-ai/gateway/internal/model/chat"
	"github.com/zhilian-ai/gateway/internal/service/agent"
	"github.com/zhilian-ai/gateway/internal/service/completion"
	"github.com/zhilian-ai/gateway/internal/service/knowledge"
	"github.com/zhilian-ai/gateway/internal/store"
	"github.com/zhilian-ai/gateway/internal/tool"
)

const authTimeout = 10 * time.Second

// Handler upgrades connections and runs one conversation state machine per
// session.
type Handler struct {
	hub          *Hub
	store        store.Store
	completion   completion.Client
	dispatcher   *tool.Dispatcher
	registry     *tool.Registry
	retriever    *knowledge.Retriever
	systemPrompt string
	interval     time.Duration
	timeout      time.Duration
	upgrader     websocket.Upgrader
}

// New creates the WebSocket handler. Interval and timeout drive the
// heartbeat protocol.
func New(hub *Hub, st store.Store, client completion.Client, dispatcher *tool.Dispatcher, registry *tool.Registry, retriever *knowledge.Retriever, systemPrompt string, interval, timeout time.Duration) *Handler {
	return &Handler{
		hub:          hub,
		store:        st,
		completion:   client,
		dispatcher:   dispatcher,
		registry:     registry,
		retriever:    retriever,
		systemPrompt: systemPrompt,
		interval:     interval,
		timeout:      timeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the WebSocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	user, ok := h.authenticate(conn)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s := newSession(conn, user.ID, cancel)
	h.hub.add(user.ID, s)
	defer h.hub.remove(user.ID, s)
	defer s.close()

	machine := agent.New(agent.Config{
		Store:        h.store,
		Completion:   h.completion,
		Dispatcher:   h.dispatcher,
		Registry:     h.registry,
		Out:          s,
		UserID:       user.ID,
		SystemPrompt: h.systemPrompt,
		Knowledge:    h.retriever,
	})

	if err := s.send(loginSuccessFrame(user)); err != nil {
		log.Printf("[ws] send login ack failed user=%s: %v", user.ID, err)
		return
	}
	h.sendConversationList(ctx, s, user.ID)

	go s.heartbeatLoop(ctx, h.interval, h.timeout)

	h.readLoop(ctx, s, machine)
}

// authenticate waits for the login frame and checks the credentials. The
// auth window is bounded so half-open connections cannot pile up.
func (h *Handler) authenticate(conn *websocket.Conn) (chat.User, bool) {
	conn.SetReadDeadline(time.Now().Add(authTimeout))

	var auth authFrame
	if err := conn.ReadJSON(&auth); err != nil {
		conn.WriteJSON(errorFrame(codeAuthTimeout, "authentication timed out"))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication timed out"))
		return chat.User{}, false
	}
	conn.SetReadDeadline(time.Time{})

	if auth.Type != frameLogin || auth.Username == "" || auth.Password == "" {
		conn.WriteJSON(errorFrame(codeAuthInvalidFormat, "login frame requires username and password"))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid login frame"))
		return chat.User{}, false
	}

	account, err := h.store.GetUserByUsername(context.Background(), auth.Username)
	if err != nil || account.Password != auth.Password {
		conn.WriteJSON(errorFrame(codeAuthFailed, "invalid username or password"))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"))
		return chat.User{}, false
	}

	return account, true
}

// readLoop processes inbound frames until the connection drops or the
// session is cancelled.
func (h *Handler) readLoop(ctx context.Context, s *session, machine *agent.Machine) {
	for {
		var frame inboundFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] read error user=%s: %v", s.userID, err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		s.touch()

		switch frame.Type {
		case frameHeartbeatAck:
			// Traffic already counted by touch.
		case frameUserQuestion:
			h.handleQuestion(ctx, s, machine, frame)
		case frameListConvos:
			h.sendConversationList(ctx, s, s.userID)
		case frameDeleteConvo:
			h.handleDelete(ctx, s, frame)
		case frameLogout:
			s.send(logoutSuccessFrame())
			return
		default:
			s.send(errorFrame(codeInvalidType, "unsupported frame type: "+frame.Type))
		}
	}
}

// handleQuestion runs the turn on its own task so heartbeat acks keep
// flowing through the read loop while tools resolve.
func (h *Handler) handleQuestion(ctx context.Context, s *session, machine *agent.Machine, frame inboundFrame) {
	if frame.Question == "" {
		s.send(errorFrame(codeInvalidType, "question is required"))
		return
	}

	if frame.ConversationID != "" && frame.ConversationID != machine.ConversationID() {
		switch err := machine.AttachConversation(ctx, frame.ConversationID); {
		case err == nil:
		case errors.Is(err, agent.ErrTurnInProgress):
			s.send(errorFrame(codeTurnInProgress, "previous question is still being answered"))
			return
		default:
			s.send(errorFrame(codeProcessingFailed, "conversation not found"))
			return
		}
	}

	go func() {
		err := machine.HandleKnowledgeQuestion(ctx, frame.Question, frame.KnowledgeBaseID)
		switch {
		case err == nil:
		case errors.Is(err, agent.ErrTurnInProgress):
			s.send(errorFrame(codeTurnInProgress, "previous question is still being answered"))
		case errors.Is(err, context.Canceled):
			// Session tear-down already finalized the in-flight records.
		default:
			log.Printf("[ws] turn failed user=%s: %v", s.userID, err)
		}
	}()
}

// handleDelete closes the conversation and confirms with a delete-success
// frame plus a refreshed list. History stays in the store.
func (h *Handler) handleDelete(ctx context.Context, s *session, frame inboundFrame) {
	if frame.ConversationID == "" {
		s.send(errorFrame(codeInvalidType, "conversation_id is required"))
		return
	}
	if err := h.store.UpdateConversationStatus(ctx, frame.ConversationID, chat.ConversationClosed); err != nil {
		s.send(errorFrame(codeProcessingFailed, "conversation not found"))
		return
	}
	s.send(deleteSuccessFrame(frame.ConversationID))
	h.sendConversationList(ctx, s, s.userID)
}

// sendConversationList skips closed conversations so deleted ones stay out
// of the picker.
func (h *Handler) sendConversationList(ctx context.Context, s *session, userID string) {
	list, err := h.store.ListConversations(ctx, userID)
	if err != nil {
		log.Printf("[ws] list conversations failed user=%s: %v", userID, err)
		return
	}
	visible := make([]chat.Conversation, 0, len(list))
	for _, conv := range list {
		if conv.Status == chat.ConversationClosed {
			continue
		}
		visible = append(visible, conv)
	}
	if err := s.send(conversationListFrame(visible)); err != nil {
		log.Printf("[ws] send conversation list failed user=%s: %v", userID, err)
	}
}
