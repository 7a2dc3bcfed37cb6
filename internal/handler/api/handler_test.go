package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/zhilian-ai/gateway/internal/model/chat"
	"github.com/zhilian-ai/gateway/internal/store"
)

func newTestRouter(t *testing.T) (http.Handler, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	r := chi.NewRouter()
	New(st).RegisterRoutes(r)
	return r, st
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterCreatesUser(t *testing.T) {
	router, st := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/register", `{"username":"alice","password":"passw0rd1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created chat.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, "alice", created.Username)
	require.NotContains(t, rec.Body.String(), "passw0rd1")

	stored, err := st.GetUserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, created.ID, stored.ID)
}

func TestRegisterRejectsWeakPasswords(t *testing.T) {
	router, _ := newTestRouter(t)

	cases := []string{
		`{"username":"alice","password":"short1"}`,
		`{"username":"alice","password":"lettersonly"}`,
		`{"username":"alice","password":"12345678"}`,
		`{"username":"alice","password":""}`,
	}
	for _, body := range cases {
		rec := doJSON(t, router, http.MethodPost, "/register", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", body)
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/register", `{"username":"alice","password":"passw0rd1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/register", `{"username":"alice","password":"passw0rd2"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestListConversationsRequiresUserID(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/conversations", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListConversations(t *testing.T) {
	router, st := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, st.CreateConversation(ctx, chat.Conversation{ID: "conv1", Title: "mine"}, "u1"))
	require.NoError(t, st.CreateConversation(ctx, chat.Conversation{ID: "conv2", Title: "theirs"}, "u2"))

	rec := doJSON(t, router, http.MethodGet, "/conversations?user_id=u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list []chat.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.Equal(t, "conv1", list[0].ID)
}

func TestConversationMessagesFiltersInternalRoles(t *testing.T) {
	router, st := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, st.CreateConversation(ctx, chat.Conversation{ID: "conv1"}, "u1"))
	msgs := []chat.Message{
		{Role: chat.RoleSystem, Content: "be helpful"},
		{Role: chat.RoleUser, Content: "what time is it"},
		{Role: chat.RoleAssistant, ToolCalls: []chat.ToolCallRequest{{ID: "c1", Name: "get_current_time"}}},
		{Role: chat.RoleTool, ToolCallID: "c1", Content: `"2026-08-31 12:00:00"`},
		{Role: chat.RoleAssistant, Content: "it is noon"},
	}
	for _, msg := range msgs {
		require.NoError(t, st.AppendMessage(ctx, "conv1", msg))
	}

	rec := doJSON(t, router, http.MethodGet, "/conversations/conv1/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var visible []chat.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &visible))
	require.Len(t, visible, 2)
	require.Equal(t, chat.RoleUser, visible[0].Role)
	require.Equal(t, "it is noon", visible[1].Content)
}

func TestConversationMessagesNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/conversations/missing/messages", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateKnowledgeBaseDefaultsTitle(t *testing.T) {
	router, st := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/knowledge-bases", `{"user_id":"u1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var kb chat.KnowledgeBase
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &kb))
	require.NotEmpty(t, kb.ID)
	require.Equal(t, "未命名的知识库", kb.Title)

	list, err := st.ListKnowledgeBases(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestListKnowledgeBasesScopedToUser(t *testing.T) {
	router, st := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, st.CreateKnowledgeBase(ctx, chat.KnowledgeBase{ID: "kb1", Title: "mine"}, "u1"))
	require.NoError(t, st.CreateKnowledgeBase(ctx, chat.KnowledgeBase{ID: "kb2", Title: "theirs"}, "u2"))

	rec := doJSON(t, router, http.MethodGet, "/knowledge-bases?user_id=u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list []chat.KnowledgeBase
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.Equal(t, "kb1", list[0].ID)
}

func TestAddDocumentSplitsLongContent(t *testing.T) {
	router, st := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, st.CreateKnowledgeBase(ctx, chat.KnowledgeBase{ID: "kb1", Title: "ops"}, "u1"))

	content := strings.Repeat("何", 300)
	rec := doJSON(t, router, http.MethodPost, "/knowledge-bases/kb1/documents",
		`{"content":"`+content+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	docs, err := st.ListKnowledgeDocuments(ctx, "kb1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Len(t, []rune(docs[0].Content), 256)
	require.Len(t, []rune(docs[1].Content), 44)
}

func TestAddDocumentUnknownBase(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/knowledge-bases/missing/documents", `{"content":"hello"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
