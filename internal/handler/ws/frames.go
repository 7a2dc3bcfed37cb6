package ws

import (
	"encoding/json"
	"time"

	"github.com/zhilian-ai/gateway/internal/model/chat"
)

// Frame types on the client-to-server direction.
const (
	frameLogin        = "login"
	frameUserQuestion = "user_question"
	frameHeartbeatAck = "heartbeat_ack"
	frameListConvos   = "get_conversation_list"
	frameDeleteConvo  = "delete_conversation"
	frameLogout       = "logout"
)

// Frame types on the server-to-client direction.
const (
	frameLoginSuccess     = "login_success"
	frameServerAnswer     = "server_answer"
	frameSelectTools      = "server_select_function"
	frameHeartbeat        = "heartbeat"
	frameError            = "error"
	frameConversationList = "conversation_list"
	frameDeleteSuccess    = "delete_conversation_success"
	frameLogoutSuccess    = "logout_success"
)

// Error codes carried on error frames.
const (
	codeAuthInvalidFormat = 1001
	codeAuthFailed        = 1002
	codeAuthTimeout       = 1003
	codeInvalidType       = 2001
	codeTurnInProgress    = 2002
	codeProcessingFailed  = 2003
)

// inboundFrame covers every client frame; unused fields stay zero.
type inboundFrame struct {
	Type            string `json:"type"`
	Question        string `json:"question,omitempty"`
	ConversationID  string `json:"conversation_id,omitempty"`
	KnowledgeBaseID string `json:"knowledge_base_id,omitempty"`
}

// authFrame is the first frame a client must send after connecting.
type authFrame struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type outboundFrame struct {
	Type           string          `json:"type"`
	Answer         string          `json:"answer,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Code           int             `json:"code,omitempty"`
	Message        string          `json:"message,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	Timestamp      int64           `json:"timestamp,omitempty"`
}

func answerFrame(conversationID, content string) outboundFrame {
	return outboundFrame{
		Type:           frameServerAnswer,
		ConversationID: conversationID,
		Answer:         content,
		Timestamp:      time.Now().Unix(),
	}
}

func selectToolsFrame(conversationID string, calls []chat.ToolCallRequest) outboundFrame {
	data, _ := json.Marshal(calls)
	return outboundFrame{
		Type:           frameSelectTools,
		ConversationID: conversationID,
		Data:           data,
		Timestamp:      time.Now().Unix(),
	}
}

func heartbeatFrame() outboundFrame {
	return outboundFrame{Type: frameHeartbeat, Timestamp: time.Now().Unix()}
}

func errorFrame(code int, message string) outboundFrame {
	return outboundFrame{Type: frameError, Code: code, Message: message, Timestamp: time.Now().Unix()}
}

func loginSuccessFrame(user chat.User) outboundFrame {
	data, _ := json.Marshal(map[string]string{"user_id": user.ID, "username": user.Username})
	return outboundFrame{Type: frameLoginSuccess, Data: data, Timestamp: time.Now().Unix()}
}

func deleteSuccessFrame(conversationID string) outboundFrame {
	return outboundFrame{Type: frameDeleteSuccess, ConversationID: conversationID, Timestamp: time.Now().Unix()}
}

func logoutSuccessFrame() outboundFrame {
	return outboundFrame{Type: frameLogoutSuccess, Timestamp: time.Now().Unix()}
}

func conversationListFrame(list []chat.Conversation) outboundFrame {
	data, _ := json.Marshal(list)
	return outboundFrame{Type: frameConversationList, Data: data, Timestamp: time.Now().Unix()}
}
