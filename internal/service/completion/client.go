package completion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/zhilian-ai/gateway/internal/model/chat"
	"github.com/zhilian-ai/gateway/internal/tool"
)

// Reply is what one completion round produced: either final content or a
// set of tool-call requests, never both.
type Reply struct {
	Content   string
	ToolCalls []chat.ToolCallRequest
}

// Client is the stateless adapter to the chat-completion backend. Each call
// receives the full ordered history; retry policy belongs to the caller.
type Client interface {
	Complete(ctx context.Context, history []chat.Message, tools []tool.Definition) (Reply, error)
}

// BackendError wraps network failures and malformed responses from the
// completion backend.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string { return "completion backend: " + e.Err.Error() }
func (e *BackendError) Unwrap() error { return e.Err }

// Config holds the backend endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// OpenAIClient implements Client against any OpenAI-compatible endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client from the endpoint settings.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}
}

// Complete runs one chat-completion round with the registered tool schemas
// attached. Temperature stays at zero so tool selection is deterministic.
func (c *OpenAIClient) Complete(ctx context.Context, history []chat.Message, tools []tool.Definition) (Reply, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toWireMessages(history),
		Tools:       toWireTools(tools),
		Temperature: 0,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Reply{}, &BackendError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return Reply{}, &BackendError{Err: fmt.Errorf("empty choices in response")}
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) == 0 {
		return Reply{Content: msg.Content}, nil
	}

	requests := make([]chat.ToolCallRequest, 0, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		if call.Function.Name == "" {
			return Reply{}, &BackendError{Err: fmt.Errorf("tool call %q missing function name", call.ID)}
		}
		requests = append(requests, chat.ToolCallRequest{
			ID:         call.ID,
			Name:       call.Function.Name,
			Parameters: json.RawMessage(call.Function.Arguments),
		})
	}
	return Reply{ToolCalls: requests}, nil
}

// toWireMessages converts stored history into the wire format, preserving
// the tool-call pairing the backend expects.
func toWireMessages(history []chat.Message) []openai.ChatCompletionMessage {
	wire := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, msg := range history {
		out := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(call.Parameters),
				},
			})
		}
		wire = append(wire, out)
	}
	return wire
}

func toWireTools(tools []tool.Definition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	wire := make([]openai.Tool, 0, len(tools))
	for _, def := range tools {
		wire = append(wire, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return wire
}
