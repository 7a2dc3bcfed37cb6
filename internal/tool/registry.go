package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrToolUnregistered = errors.New("tool is not registered")
	ErrNilHandler       = errors.New("tool handler is nil")
	ErrToolNameEmpty    = errors.New("tool name is empty")
)

// Handler executes one tool call. Parameters arrive as the raw JSON the
// model emitted; each handler validates its own schema.
type Handler func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// Definition describes one callable tool: the schema advertised to the
// completion backend plus the executor invoked on dispatch.
type Definition struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema for the arguments object
	Handler     Handler
}

// Registry stores tool definitions by name. Lookups are read-mostly and
// safe for concurrent sessions.
type Registry struct {
	mu    sync.RWMutex
	names []string
	byKey map[string]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Definition)}
}

// Register associates a tool name with its definition.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return ErrToolNameEmpty
	}
	if def.Handler == nil {
		return fmt.Errorf("%w: %q", ErrNilHandler, def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[def.Name]; !ok {
		r.names = append(r.names, def.Name)
	}
	r.byKey[def.Name] = def
	return nil
}

// Lookup resolves a tool name to its definition.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byKey[name]
	return def, ok
}

// Definitions returns every registered tool in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.names))
	for _, name := range r.names {
		defs = append(defs, r.byKey[name])
	}
	return defs
}
