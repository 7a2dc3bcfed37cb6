package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zhilian-ai/gateway/internal/model/chat"
	"github.com/zhilian-ai/gateway/internal/service/completion"
	"github.com/zhilian-ai/gateway/internal/service/knowledge"
	"github.com/zhilian-ai/gateway/internal/store"
	"github.com/zhilian-ai/gateway/internal/tool"
)

// State of the turn-taking loop. The machine idles in AwaitingUserInput and
// only terminates when the owning session closes.
type State int32

const (
	StateAwaitingUserInput State = iota
	StateRequestingCompletion
	StateResolvingTools
	StateDeliveringAnswer
)

func (s State) String() string {
	switch s {
	case StateAwaitingUserInput:
		return "AWAITING_USER_INPUT"
	case StateRequestingCompletion:
		return "REQUESTING_COMPLETION"
	case StateResolvingTools:
		return "RESOLVING_TOOLS"
	case StateDeliveringAnswer:
		return "DELIVERING_ANSWER"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrTurnInProgress     = errors.New("a turn is already in progress")
	ErrToolRoundsExceeded = errors.New("tool resolution did not converge")
)

// Deliverer pushes outbound events to whatever transport owns the session.
// Delivery is best-effort: the machine persists regardless of whether the
// client is still connected.
type Deliverer interface {
	DeliverAnswer(conversationID, content string)
	DeliverToolCalls(conversationID string, calls []chat.ToolCallRequest)
	DeliverError(conversationID, message string)
}

// Config wires one machine to its collaborators.
type Config struct {
	Store        store.Store
	Completion   completion.Client
	Dispatcher   *tool.Dispatcher
	Registry     *tool.Registry
	Out          Deliverer
	UserID       string
	SystemPrompt string

	// Knowledge, when set, grounds turns that name a knowledge base.
	Knowledge *knowledge.Retriever

	// MaxToolRounds bounds completion/tool loops per user turn so a model
	// that keeps requesting tools cannot spin forever. Zero means 8.
	MaxToolRounds int
}

// Machine drives one conversation's turn-taking loop. It exclusively owns
// in-flight tool-call state during a resolution cycle; resolved records
// belong to the store.
type Machine struct {
	cfg    Config
	state  atomic.Int32
	turnMu sync.Mutex

	// idMu guards conversationID against readers on other goroutines;
	// history is only touched under turnMu.
	idMu           sync.RWMutex
	conversationID string
	history        []chat.Message
}

// New builds an idle machine in AwaitingUserInput.
func New(cfg Config) *Machine {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 8
	}
	return &Machine{cfg: cfg}
}

// State reports the current loop state.
func (m *Machine) State() State {
	return State(m.state.Load())
}

func (m *Machine) setState(s State) {
	m.state.Store(int32(s))
}

// ConversationID returns the attached conversation, empty before the first
// turn.
func (m *Machine) ConversationID() string {
	m.idMu.RLock()
	defer m.idMu.RUnlock()
	return m.conversationID
}

func (m *Machine) setConversationID(id string) {
	m.idMu.Lock()
	m.conversationID = id
	m.idMu.Unlock()
}

// AttachConversation resumes an existing conversation, reloading its
// history from the store. It refuses to switch while a turn is running.
func (m *Machine) AttachConversation(ctx context.Context, conversationID string) error {
	if !m.turnMu.TryLock() {
		return ErrTurnInProgress
	}
	defer m.turnMu.Unlock()

	history, err := m.cfg.Store.LoadHistory(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	m.setConversationID(conversationID)
	m.history = history
	return nil
}

// HandleUserMessage runs one full user turn: append the message, request
// completions, resolve tool batches, and deliver the final answer. It
// returns ErrTurnInProgress when called while a previous turn is running.
func (m *Machine) HandleUserMessage(ctx context.Context, text string) error {
	return m.runTurn(ctx, text, "")
}

// HandleKnowledgeQuestion runs a user turn grounded in a knowledge base.
// Retrieved snippets replace the system prompt for the completion requests
// of this turn only; the persisted history is untouched. Retrieval
// failures degrade to an ungrounded turn.
func (m *Machine) HandleKnowledgeQuestion(ctx context.Context, text, knowledgeBaseID string) error {
	override := ""
	if knowledgeBaseID != "" && m.cfg.Knowledge != nil {
		snippets, err := m.cfg.Knowledge.Search(ctx, knowledgeBaseID, text)
		if err != nil {
			log.Printf("[agent] knowledge search failed base=%s: %v", knowledgeBaseID, err)
		} else if len(snippets) > 0 {
			override = knowledge.GroundedPrompt(snippets)
		}
	}
	return m.runTurn(ctx, text, override)
}

func (m *Machine) runTurn(ctx context.Context, text, promptOverride string) error {
	if !m.turnMu.TryLock() {
		return ErrTurnInProgress
	}
	defer m.turnMu.Unlock()
	defer m.setState(StateAwaitingUserInput)

	if m.conversationID == "" {
		if err := m.startConversation(ctx, text); err != nil {
			return err
		}
	}

	m.append(ctx, chat.Message{
		ID:      uuid.NewString(),
		Role:    chat.RoleUser,
		Content: text,
	})

	for round := 0; round < m.cfg.MaxToolRounds; round++ {
		m.setState(StateRequestingCompletion)

		reply, err := m.cfg.Completion.Complete(ctx, m.completionHistory(promptOverride), m.cfg.Registry.Definitions())
		if err != nil {
			// No automatic retry: a duplicate completion is a duplicate
			// billable call. The client gets a visible failure instead.
			log.Printf("[agent] completion failed conversation=%s: %v", m.conversationID, err)
			m.cfg.Out.DeliverError(m.conversationID, "the assistant backend is unavailable, please try again")
			return err
		}

		if len(reply.ToolCalls) == 0 {
			m.setState(StateDeliveringAnswer)
			m.append(ctx, chat.Message{
				ID:      uuid.NewString(),
				Role:    chat.RoleAssistant,
				Content: reply.Content,
			})
			m.cfg.Out.DeliverAnswer(m.conversationID, reply.Content)
			return nil
		}

		if err := m.resolveTools(ctx, reply.ToolCalls); err != nil {
			return err
		}
	}

	log.Printf("[agent] tool rounds exhausted conversation=%s", m.conversationID)
	m.cfg.Out.DeliverError(m.conversationID, "the assistant could not finish resolving tools")
	return ErrToolRoundsExceeded
}

// resolveTools runs one resolution batch: persist the issuing assistant
// message, dispatch every call concurrently, and reinsert the results as
// tool messages in issuance order.
func (m *Machine) resolveTools(ctx context.Context, requests []chat.ToolCallRequest) error {
	m.setState(StateResolvingTools)

	// The issuing record must be durable before any dependent record:
	// a crash mid-resolution then still leaves an auditable trail.
	issuing := chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleAssistant,
		ToolCalls: requests,
	}
	if err := m.cfg.Store.AppendMessage(ctx, m.conversationID, issuing); err != nil {
		return fmt.Errorf("persist tool-call message: %w", err)
	}
	issuing.ConversationID = m.conversationID
	m.history = append(m.history, issuing)

	calls := make([]chat.ToolCall, len(requests))
	for i, req := range requests {
		calls[i] = chat.ToolCall{
			ID:             req.ID,
			ConversationID: m.conversationID,
			Name:           req.Name,
			Parameters:     req.Parameters,
			Status:         chat.ToolCallPending,
			CreatedAt:      time.Now().UTC(),
		}
		if err := m.cfg.Store.CreateToolCall(ctx, calls[i]); err != nil {
			log.Printf("[agent] persist tool call %s failed: %v", req.ID, err)
		}
	}

	m.cfg.Out.DeliverToolCalls(m.conversationID, requests)

	for _, call := range calls {
		if err := m.cfg.Store.UpdateToolCallStatus(ctx, call.ID, chat.ToolCallRunning, nil, ""); err != nil {
			log.Printf("[agent] mark tool call %s running failed: %v", call.ID, err)
		}
	}

	results := m.cfg.Dispatcher.DispatchBatch(ctx, calls)

	// If the session died mid-batch the records are still finalized, on a
	// detached context, before the turn unwinds.
	recordCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		recordCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	for i, res := range results {
		reason := ""
		if res.Failure != nil {
			reason = res.Failure.Reason
		}
		if err := m.cfg.Store.UpdateToolCallStatus(recordCtx, res.CallID, res.Status, res.Output, reason); err != nil {
			log.Printf("[agent] finalize tool call %s failed: %v", res.CallID, err)
		}

		m.append(recordCtx, chat.Message{
			ID:         uuid.NewString(),
			Role:       chat.RoleTool,
			Content:    string(res.Output),
			ToolCallID: calls[i].ID,
		})
	}

	if err := ctx.Err(); err != nil {
		log.Printf("[agent] turn cancelled mid-resolution conversation=%s", m.conversationID)
		return err
	}
	return nil
}

// completionHistory is the history as sent to the backend. A prompt
// override swaps the leading system message for this request without
// mutating m.history.
func (m *Machine) completionHistory(promptOverride string) []chat.Message {
	if promptOverride == "" {
		return m.history
	}

	system := chat.Message{Role: chat.RoleSystem, Content: promptOverride}
	if len(m.history) > 0 && m.history[0].Role == chat.RoleSystem {
		out := make([]chat.Message, len(m.history))
		copy(out, m.history)
		out[0] = system
		return out
	}
	out := make([]chat.Message, 0, len(m.history)+1)
	out = append(out, system)
	return append(out, m.history...)
}

// startConversation provisions the conversation, seeds the system prompt,
// and titles it from the opening question.
func (m *Machine) startConversation(ctx context.Context, firstQuestion string) error {
	conv := chat.Conversation{
		ID:        uuid.NewString(),
		Title:     titleFrom(firstQuestion),
		Status:    chat.ConversationActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.cfg.Store.CreateConversation(ctx, conv, m.cfg.UserID); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	m.setConversationID(conv.ID)
	m.history = nil

	if m.cfg.SystemPrompt != "" {
		m.append(ctx, chat.Message{
			ID:      uuid.NewString(),
			Role:    chat.RoleSystem,
			Content: m.cfg.SystemPrompt,
		})
	}
	return nil
}

// append records the message in the in-memory history and mirrors it to the
// store. Store failures degrade to a warning: the conversation proceeds on
// the in-memory state.
func (m *Machine) append(ctx context.Context, msg chat.Message) {
	msg.ConversationID = m.conversationID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	m.history = append(m.history, msg)

	if err := m.cfg.Store.AppendMessage(ctx, m.conversationID, msg); err != nil {
		log.Printf("[agent] persist %s message failed conversation=%s: %v", msg.Role, m.conversationID, err)
	}
}

// titleFrom derives a short conversation title from the opening question.
func titleFrom(question string) string {
	const maxTitle = 30
	runes := []rune(question)
	if len(runes) <= maxTitle {
		return question
	}
	return string(runes[:maxTitle]) + "…"
}
