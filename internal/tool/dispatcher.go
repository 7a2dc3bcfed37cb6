package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zhilian-ai/gateway/internal/model/chat"
)

// Result is the terminal outcome of one dispatched tool call. Output holds
// the executor result on success and the encoded Failure otherwise.
type Result struct {
	CallID  string
	Status  string // chat.ToolCallSucceeded or chat.ToolCallFailed
	Output  json.RawMessage
	Failure *Failure
}

// Dispatcher invokes registered executors with a per-call timeout. Duplicate
// dispatches of the same call identifier share a single execution.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	inflight singleflight.Group
}

// NewDispatcher wires a dispatcher to a registry. A non-positive timeout
// falls back to 10 seconds.
func NewDispatcher(registry *Registry, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{registry: registry, timeout: timeout}
}

// Dispatch runs one tool call to a terminal status. An unregistered tool
// fails immediately without contacting any backend.
func (d *Dispatcher) Dispatch(ctx context.Context, call chat.ToolCall) Result {
	def, ok := d.registry.Lookup(call.Name)
	if !ok {
		return failed(call, Failure{
			Kind:   FailureUnknownTool,
			Tool:   call.Name,
			Reason: fmt.Sprintf("no executor registered for %q", call.Name),
		})
	}

	// singleflight keys on the call identifier, so a retried dispatch of an
	// in-flight call waits for the original execution instead of starting a
	// second one.
	v, _, shared := d.inflight.Do(call.ID, func() (any, error) {
		return d.invoke(ctx, def, call), nil
	})
	if shared {
		log.Printf("[tool] duplicate dispatch coalesced call=%s tool=%s", call.ID, call.Name)
	}
	return v.(Result)
}

// DispatchBatch resolves a resolution batch concurrently. Every call reaches
// a terminal status and results come back in issuance order; one failure
// never cancels the rest of the batch.
func (d *Dispatcher) DispatchBatch(ctx context.Context, calls []chat.ToolCall) []Result {
	results := make([]Result, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call chat.ToolCall) {
			defer wg.Done()
			results[i] = d.Dispatch(ctx, call)
		}(i, call)
	}
	wg.Wait()

	return results
}

// invoke runs the handler under the per-call deadline. A handler that keeps
// running past the deadline finishes on its own; its late result is dropped
// because the buffered channel is never read again.
func (d *Dispatcher) invoke(ctx context.Context, def Definition, call chat.ToolCall) Result {
	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		out json.RawMessage
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		out, err := def.Handler(cctx, call.Parameters)
		done <- outcome{out: out, err: err}
	}()

	select {
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return failed(call, Failure{
				Kind:   FailureTimeout,
				Tool:   call.Name,
				Reason: fmt.Sprintf("no response within %s", d.timeout),
			})
		}
		return failed(call, Failure{
			Kind:   FailureCancelled,
			Tool:   call.Name,
			Reason: "session closed before the call completed",
		})
	case oc := <-done:
		if oc.err != nil {
			return failed(call, Failure{
				Kind:   FailureExecution,
				Tool:   call.Name,
				Reason: oc.err.Error(),
			})
		}
		return Result{CallID: call.ID, Status: chat.ToolCallSucceeded, Output: oc.out}
	}
}

func failed(call chat.ToolCall, f Failure) Result {
	return Result{
		CallID:  call.ID,
		Status:  chat.ToolCallFailed,
		Output:  f.JSON(),
		Failure: &f,
	}
}
