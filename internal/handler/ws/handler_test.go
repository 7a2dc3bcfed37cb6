package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/zhilian-ai/gateway/internal/model/chat"
	"github.com/zhilian-ai/gateway/internal/service/completion"
	"github.com/zhilian-ai/gateway/internal/service/knowledge"
	"github.com/zhilian-ai/gateway/internal/store"
	"github.com/zhilian-ai/gateway/internal/tool"
)

// stubClient answers every completion with fixed content and remembers
// the last history it was asked to complete.
type stubClient struct {
	content string

	mu          sync.Mutex
	lastHistory []chat.Message
}

func (c *stubClient) Complete(_ context.Context, history []chat.Message, _ []tool.Definition) (completion.Reply, error) {
	c.mu.Lock()
	c.lastHistory = append([]chat.Message(nil), history...)
	c.mu.Unlock()
	return completion.Reply{Content: c.content}, nil
}

func (c *stubClient) history() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHistory
}

func newTestServer(t *testing.T, interval, timeout time.Duration) (*httptest.Server, *store.MemoryStore) {
	srv, st, _ := newTestServerWithClient(t, interval, timeout)
	return srv, st
}

func newTestServerWithClient(t *testing.T, interval, timeout time.Duration) (*httptest.Server, *store.MemoryStore, *stubClient) {
	t.Helper()

	st := store.NewMemoryStore()
	require.NoError(t, st.CreateUser(context.Background(), chat.User{
		ID:       "u1",
		Username: "alice",
		Password: "passw0rd1",
	}))

	client := &stubClient{content: "pong"}
	registry := tool.NewRegistry()
	handler := New(NewHub(), st, client,
		tool.NewDispatcher(registry, time.Second), registry,
		knowledge.NewRetriever(st, 0),
		"be helpful", interval, timeout)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st, client
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrameOfType skips heartbeats until the wanted frame type arrives.
func readFrameOfType(t *testing.T, conn *websocket.Conn, frameType string) outboundFrame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	conn.SetReadDeadline(deadline)
	for {
		var frame outboundFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == frameHeartbeat {
			continue
		}
		require.Equal(t, frameType, frame.Type)
		return frame
	}
}

func login(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":     frameLogin,
		"username": "alice",
		"password": "passw0rd1",
	}))
	readFrameOfType(t, conn, frameLoginSuccess)
	readFrameOfType(t, conn, frameConversationList)
}

func TestLoginAndAnswer(t *testing.T) {
	srv, st := newTestServer(t, time.Minute, 2*time.Minute)
	conn := dial(t, srv)
	login(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":     frameUserQuestion,
		"question": "ping",
	}))

	frame := readFrameOfType(t, conn, frameServerAnswer)
	require.Equal(t, "pong", frame.Answer)
	require.NotEmpty(t, frame.ConversationID)

	history, err := st.LoadHistory(context.Background(), frame.ConversationID)
	require.NoError(t, err)
	require.Len(t, history, 3)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	srv, _ := newTestServer(t, time.Minute, 2*time.Minute)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":     frameLogin,
		"username": "alice",
		"password": "wrong",
	}))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var frame outboundFrame
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, frameError, frame.Type)
	require.Equal(t, codeAuthFailed, frame.Code)
}

func TestLoginRejectsMalformedFrame(t *testing.T) {
	srv, _ := newTestServer(t, time.Minute, 2*time.Minute)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "user_question"}))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var frame outboundFrame
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, frameError, frame.Type)
	require.Equal(t, codeAuthInvalidFormat, frame.Code)
}

func TestUnsupportedFrameType(t *testing.T) {
	srv, _ := newTestServer(t, time.Minute, 2*time.Minute)
	conn := dial(t, srv)
	login(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))

	frame := readFrameOfType(t, conn, frameError)
	require.Equal(t, codeInvalidType, frame.Code)
}

func TestHeartbeatProbesArrive(t *testing.T) {
	srv, _ := newTestServer(t, 30*time.Millisecond, 10*time.Second)
	conn := dial(t, srv)
	login(t, conn)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame outboundFrame
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, frameHeartbeat, frame.Type)
	require.NotZero(t, frame.Timestamp)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": frameHeartbeatAck}))
}

func TestSilentClientIsTornDown(t *testing.T) {
	srv, _ := newTestServer(t, 30*time.Millisecond, 60*time.Millisecond)
	conn := dial(t, srv)
	login(t, conn)

	// Never ack: within a few probe intervals the server closes on us.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var frame outboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
	}
}

func TestReconnectReplacesOldSession(t *testing.T) {
	srv, _ := newTestServer(t, time.Minute, 2*time.Minute)

	first := dial(t, srv)
	login(t, first)

	second := dial(t, srv)
	login(t, second)

	// The replaced connection gets closed by the server.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var frame outboundFrame
		if err := first.ReadJSON(&frame); err != nil {
			break
		}
	}

	// The new connection still works.
	require.NoError(t, second.WriteJSON(map[string]string{
		"type":     frameUserQuestion,
		"question": "still here?",
	}))
	frame := readFrameOfType(t, second, frameServerAnswer)
	require.Equal(t, "pong", frame.Answer)
}

func TestConversationListOnDemand(t *testing.T) {
	srv, st := newTestServer(t, time.Minute, 2*time.Minute)

	require.NoError(t, st.CreateConversation(context.Background(), chat.Conversation{
		ID:    "conv1",
		Title: "earlier chat",
	}, "u1"))

	conn := dial(t, srv)
	login(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": frameListConvos}))

	frame := readFrameOfType(t, conn, frameConversationList)
	require.Contains(t, string(frame.Data), "earlier chat")
}

func TestQuestionGroundedInKnowledgeBase(t *testing.T) {
	srv, st, client := newTestServerWithClient(t, time.Minute, 2*time.Minute)

	ctx := context.Background()
	require.NoError(t, st.CreateKnowledgeBase(ctx, chat.KnowledgeBase{ID: "kb1", Title: "ops"}, "u1"))
	require.NoError(t, st.AddKnowledgeDocument(ctx, chat.KnowledgeDocument{
		KnowledgeBaseID: "kb1",
		Content:         "灰度发布流程：先切 5% 流量观察半小时",
	}))

	conn := dial(t, srv)
	login(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":              frameUserQuestion,
		"question":          "灰度发布的流程是什么",
		"knowledge_base_id": "kb1",
	}))
	frame := readFrameOfType(t, conn, frameServerAnswer)
	require.Equal(t, "pong", frame.Answer)

	sent := client.history()
	require.NotEmpty(t, sent)
	require.Equal(t, chat.RoleSystem, sent[0].Role)
	require.Contains(t, sent[0].Content, "灰度发布流程")

	// The persisted system prompt stays what the conversation was seeded with.
	history, err := st.LoadHistory(ctx, frame.ConversationID)
	require.NoError(t, err)
	require.Equal(t, "be helpful", history[0].Content)
}

func TestDeleteConversation(t *testing.T) {
	srv, st := newTestServer(t, time.Minute, 2*time.Minute)

	require.NoError(t, st.CreateConversation(context.Background(), chat.Conversation{
		ID:     "conv1",
		Title:  "to be removed",
		Status: chat.ConversationActive,
	}, "u1"))

	conn := dial(t, srv)
	login(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":            frameDeleteConvo,
		"conversation_id": "conv1",
	}))

	frame := readFrameOfType(t, conn, frameDeleteSuccess)
	require.Equal(t, "conv1", frame.ConversationID)

	// The refreshed list no longer shows the closed conversation.
	list := readFrameOfType(t, conn, frameConversationList)
	require.NotContains(t, string(list.Data), "to be removed")

	// History survives the delete.
	_, err := st.LoadHistory(context.Background(), "conv1")
	require.NoError(t, err)
}

func TestDeleteUnknownConversation(t *testing.T) {
	srv, _ := newTestServer(t, time.Minute, 2*time.Minute)
	conn := dial(t, srv)
	login(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":            frameDeleteConvo,
		"conversation_id": "nope",
	}))

	frame := readFrameOfType(t, conn, frameError)
	require.Equal(t, codeProcessingFailed, frame.Code)
}

func TestLogoutClosesSession(t *testing.T) {
	srv, _ := newTestServer(t, time.Minute, 2*time.Minute)
	conn := dial(t, srv)
	login(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": frameLogout}))
	readFrameOfType(t, conn, frameLogoutSuccess)

	// After the ack the server tears the connection down.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var frame outboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
	}
}
