package models

import "time"

// Outbound websocket event names.
const (
	EventConnected          = "connected"
	EventConversationJoined = "conversation_joined"
	EventNewMessage         = "new_message"
	EventMessageSent        = "message_sent"
	EventUserJoined         = "user_joined"
	EventUserLeft           = "user_left"
	EventUserTyping         = "user_typing"
	EventMessageRead        = "message_read"
	EventError              = "error"
	EventPing               = "ping"
)

// Event is the envelope for every frame written to a websocket.
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data"`
}

type ConnectedPayload struct {
	SocketID  string    `json:"socketId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// Participant describes a user currently present in a conversation room.
type Participant struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Role     string `json:"role"`
}

type ConversationJoinedPayload struct {
	ConversationID string        `json:"conversationId"`
	Messages       []MessageView `json:"messages"`
	Total          int           `json:"total"`
	Participants   []Participant `json:"participants"`
}

type NewMessagePayload struct {
	Message        MessageView `json:"message"`
	ConversationID string      `json:"conversationId"`
	Timestamp      time.Time   `json:"timestamp"`
}

type MessageSentPayload struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// PresencePayload is shared by user_joined and user_left.
type PresencePayload struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	UserName       string    `json:"userName"`
	Role           string    `json:"role"`
	Timestamp      time.Time `json:"timestamp"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	IsTyping       bool   `json:"isTyping"`
}

type MessageReadPayload struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type PingPayload struct {
	Timestamp time.Time `json:"timestamp"`
}
