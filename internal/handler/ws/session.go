package ws

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhilian-ai/gateway/internal/model/chat"
)

// session owns one live connection: the transport handle, the liveness
// clock, and the cancellation that tears the conversation loop down.
// Sessions are transient and never persisted.
type session struct {
	conn    *websocket.Conn
	userID  string
	cancel  context.CancelFunc
	writeMu sync.Mutex
	// lastTraffic is the unix-nano time of the most recent inbound frame;
	// heartbeat acks and regular frames both count.
	lastTraffic atomic.Int64
	closed      atomic.Bool
}

func newSession(conn *websocket.Conn, userID string, cancel context.CancelFunc) *session {
	s := &session{conn: conn, userID: userID, cancel: cancel}
	s.touch()
	return s
}

// touch records inbound traffic for the liveness window.
func (s *session) touch() {
	s.lastTraffic.Store(time.Now().UnixNano())
}

func (s *session) lastSeen() time.Time {
	return time.Unix(0, s.lastTraffic.Load())
}

// send writes one frame. Writes are serialized because the heartbeat loop
// and the turn goroutine share the connection.
func (s *session) send(frame outboundFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame)
}

// close cancels the session context and closes the socket, unblocking the
// read loop. Safe to call more than once.
func (s *session) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	s.conn.Close()
}

// The session is the machine's deliverer: outbound events become frames on
// this connection. Failed writes are logged only; the records are already
// persisted and the client can replay history on reconnect.

func (s *session) DeliverAnswer(conversationID, content string) {
	if err := s.send(answerFrame(conversationID, content)); err != nil {
		log.Printf("[ws] deliver answer failed user=%s: %v", s.userID, err)
	}
}

func (s *session) DeliverToolCalls(conversationID string, calls []chat.ToolCallRequest) {
	if err := s.send(selectToolsFrame(conversationID, calls)); err != nil {
		log.Printf("[ws] deliver tool calls failed user=%s: %v", s.userID, err)
	}
}

func (s *session) DeliverError(conversationID, message string) {
	if err := s.send(errorFrame(codeProcessingFailed, message)); err != nil {
		log.Printf("[ws] deliver error failed user=%s: %v", s.userID, err)
	}
}
