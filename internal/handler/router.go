package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhilian-ai/gateway/internal/handler/api"
	"github.com/zhilian-ai/gateway/internal/handler/stream"
	"github.com/zhilian-ai/gateway/internal/handler/ws"
	middlewarePkg "github.com/zhilian-ai/gateway/internal/middleware"
	"github.com/zhilian-ai/gateway/internal/service/completion"
	"github.com/zhilian-ai/gateway/internal/service/knowledge"
	"github.com/zhilian-ai/gateway/internal/store"
	"github.com/zhilian-ai/gateway/internal/tool"
	"github.com/zhilian-ai/gateway/pkg/utils"
)

// Deps carries everything the routes need.
type Deps struct {
	Store             store.Store
	Completion        completion.Client
	Dispatcher        *tool.Dispatcher
	Registry          *tool.Registry
	SystemPrompt      string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// NewRouter wires the WebSocket gateway and the REST surface.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	hub := ws.NewHub()
	retriever := knowledge.NewRetriever(deps.Store, 0)
	wsHandler := ws.New(hub, deps.Store, deps.Completion, deps.Dispatcher, deps.Registry,
		retriever, deps.SystemPrompt, deps.HeartbeatInterval, deps.HeartbeatTimeout)
	apiHandler := api.New(deps.Store)
	streamHandler := stream.New(deps.Store, deps.Completion, deps.Dispatcher, deps.Registry,
		retriever, deps.SystemPrompt, 0)

	wsHandler.RegisterRoutes(r)

	r.Route("/api", func(apiRouter chi.Router) {
		apiHandler.RegisterRoutes(apiRouter)
		streamHandler.RegisterRoutes(apiRouter)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"online": hub.Online(),
		})
	})

	return r
}
