package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Tool servers speak JSON-RPC 2.0 over HTTP POST: the method is the tool
// name and params carry the model-emitted arguments verbatim.

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
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      string          `json:"id"`
}

// NewRemoteExecutor returns a Handler that forwards calls to a JSON-RPC
// tool server at the given address. The dispatcher's deadline bounds the
// whole round trip via the request context.
func NewRemoteExecutor(address, method string) Handler {
	client := resty.New()

	return func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}

		var parsed rpcResponse
		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(rpcRequest{
				JSONRPC: "2.0",
				Method:  method,
				Params:  params,
				ID:      uuid.NewString(),
			}).
			SetResult(&parsed).
			Post(address)
		if err != nil {
			return nil, fmt.Errorf("tool server %s: %w", address, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("tool server %s returned status %d", address, resp.StatusCode())
		}
		if parsed.Error != nil {
			return nil, fmt.Errorf("tool server %s: %s (code %d)", address, parsed.Error.Message, parsed.Error.Code)
		}
		if parsed.Result == nil {
			return nil, fmt.Errorf("tool server %s: response missing result", address)
		}
		return parsed.Result, nil
	}
}
