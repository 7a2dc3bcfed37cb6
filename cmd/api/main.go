package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhilian-ai/gateway/internal/config"
	"github.com/zhilian-ai/gateway/internal/handler"
	"github.com/zhilian-ai/gateway/internal/service/agent"
	"github.com/zhilian-ai/gateway/internal/service/completion"
	"github.com/zhilian-ai/gateway/internal/store"
	"github.com/zhilian-ai/gateway/internal/tool"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	st := newStore(ctx, cfg.DB)

	if !cfg.AI.Enabled() {
		log.Fatal("GPT_API_KEY is not set; the completion backend is required")
	}
	client := completion.NewOpenAIClient(completion.Config{
		BaseURL: cfg.AI.BaseURL,
		APIKey:  cfg.AI.APIKey,
		Model:   cfg.AI.Model,
	})
	log.Printf("completion backend ready, model=%s", cfg.AI.Model)

	registry := newRegistry(cfg.Tools)
	dispatcher := tool.NewDispatcher(registry, cfg.Tools.CallTimeout)

	router := handler.NewRouter(handler.Deps{
		Store:             st,
		Completion:        client,
		Dispatcher:        dispatcher,
		Registry:          registry,
		SystemPrompt:      agent.DefaultSystemPrompt,
		HeartbeatInterval: cfg.Heartbeat.Interval,
		HeartbeatTimeout:  cfg.Heartbeat.Timeout,
	})

	startServer(ctx, cfg.Server, router)
}

// newStore picks MySQL when configured, otherwise the in-memory store.
// Either way tool calls left unfinished by the previous run are failed
// before we accept traffic.
func newStore(ctx context.Context, cfg config.DBConfig) store.Store {
	var st store.Store
	if cfg.Enabled() {
		mysqlStore, err := store.NewMySQLStore(ctx, cfg.DSN())
		if err != nil {
			log.Fatalf("failed to connect to mysql: %v", err)
		}
		if err := mysqlStore.Migrate(ctx); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		log.Printf("mysql store ready, db=%s", cfg.Name)
		st = mysqlStore
	} else {
		log.Println("DB_HOST not set, using in-memory store")
		st = store.NewMemoryStore()
	}

	reconciled, err := st.ReconcileStaleToolCalls(ctx)
	if err != nil {
		log.Fatalf("failed to reconcile stale tool calls: %v", err)
	}
	if reconciled > 0 {
		log.Printf("marked %d stale tool calls as failed", reconciled)
	}
	return st
}

// newRegistry registers the builtin clock plus whichever remote tool
// servers were configured.
func newRegistry(cfg config.ToolsConfig) *tool.Registry {
	registry := tool.NewRegistry()

	if err := registry.Register(tool.TimeDefinition()); err != nil {
		log.Fatalf("failed to register time tool: %v", err)
	}

	if cfg.PythonAddr != "" {
		if err := registry.Register(tool.PythonDefinition(cfg.PythonAddr)); err != nil {
			log.Fatalf("failed to register python tool: %v", err)
		}
		log.Printf("python tool server registered at %s", cfg.PythonAddr)
	}
	if cfg.SearchAddr != "" {
		if err := registry.Register(tool.WebSearchDefinition(cfg.SearchAddr)); err != nil {
			log.Fatalf("failed to register search tool: %v", err)
		}
		log.Printf("search tool server registered at %s", cfg.SearchAddr)
	}
	if cfg.WeatherAddr != "" {
		if err := registry.Register(tool.WeatherDefinition(cfg.WeatherAddr)); err != nil {
			log.Fatalf("failed to register weather tool: %v", err)
		}
		log.Printf("weather tool server registered at %s", cfg.WeatherAddr)
	}

	return registry
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("zhilian gateway listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
