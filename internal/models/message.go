package models

import "time"

// MessageType tags the kind of content a message carries.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

// Message is a persisted message. Ciphertext and Nonce always travel together
// and never leave the server.
type Message struct {
	ID             string      `db:"id" json:"id"`
	ConversationID string      `db:"conversation_id" json:"conversationId"`
	SenderID       string      `db:"sender_id" json:"senderId"`
	Type           MessageType `db:"type" json:"type"`
	Ciphertext     []byte      `db:"ciphertext" json:"-"`
	Nonce          []byte      `db:"nonce" json:"-"`
	IsRead         bool        `db:"is_read" json:"isRead"`
	ReadAt         *time.Time  `db:"read_at" json:"readAt"`
	CreatedAt      time.Time   `db:"created_at" json:"createdAt"`
}

// MessageView is the decrypted form delivered to clients.
type MessageView struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content"`
	IsRead         bool        `json:"isRead"`
	ReadAt         *time.Time  `json:"readAt"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// View pairs the stored metadata with decrypted content.
func (m Message) View(content string) MessageView {
	return MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Type:           m.Type,
		Content:        content,
		IsRead:         m.IsRead,
		ReadAt:         m.ReadAt,
		CreatedAt:      m.CreatedAt,
	}
}
