package ws

import (
	"encoding/json"

	"messaging-service/internal/models"
)

// Inbound websocket event names.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMarkRead          = "mark_read"
	EventPong              = "pong"
)

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type conversationRef struct {
	ConversationID string `json:"conversationId"`
}

type sendMessageData struct {
	ConversationID string             `json:"conversationId"`
	Content        string             `json:"content"`
	Type           models.MessageType `json:"type"`
}

type markReadData struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}
