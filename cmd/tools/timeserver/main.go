package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhilian-ai/gateway/internal/tool"
	"github.com/zhilian-ai/gateway/pkg/utils"
)

// A standalone JSON-RPC tool server carrying the clock tool. It doubles
// as the reference implementation for external tool servers: POST / with
// a JSON-RPC 2.0 request whose method is the tool name, GET /tools for
// discovery.

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      string          `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      string          `json:"id"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := tool.NewRegistry()
	if err := registry.Register(tool.TimeDefinition()); err != nil {
		log.Fatalf("failed to register time tool: %v", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/", handleRPC(registry))
	r.Get("/tools", handleListTools(registry))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8001"
	}
	addr := ":" + port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("time tool server listening on %s", addr)
	if err := run(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func handleRPC(registry *tool.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondRPC(w, rpcResponse{
				JSONRPC: "2.0",
				Error:   &rpcError{Code: codeParseError, Message: "invalid JSON-RPC request"},
			})
			return
		}

		def, ok := registry.Lookup(req.Method)
		if !ok {
			respondRPC(w, rpcResponse{
				JSONRPC: "2.0",
				Error:   &rpcError{Code: codeMethodNotFound, Message: "unknown tool: " + req.Method},
				ID:      req.ID,
			})
			return
		}

		result, err := def.Handler(r.Context(), req.Params)
		if err != nil {
			respondRPC(w, rpcResponse{
				JSONRPC: "2.0",
				Error:   &rpcError{Code: codeInternalError, Message: err.Error()},
				ID:      req.ID,
			})
			return
		}

		respondRPC(w, rpcResponse{JSONRPC: "2.0", Result: result, ID: req.ID})
	}
}

func handleListTools(registry *tool.Registry) http.HandlerFunc {
	type toolInfo struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		defs := registry.Definitions()
		list := make([]toolInfo, 0, len(defs))
		for _, def := range defs {
			list = append(list, toolInfo{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			})
		}
		utils.RespondJSON(w, http.StatusOK, list)
	}
}

func respondRPC(w http.ResponseWriter, resp rpcResponse) {
	// JSON-RPC errors still ride on HTTP 200; transport failures are the
	// only thing a non-200 status signals.
	utils.RespondJSON(w, http.StatusOK, resp)
}

func run(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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
