// Package notify hands "message sent" signals to an external notifier
// without blocking the send path.
package notify

import (
	"context"
	"time"
)

// Notification tells a participant that a message arrived while they were
// not viewing the conversation.
type Notification struct {
	RecipientID    string    `json:"recipientId"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName,omitempty"`
	Preview        string    `json:"preview"`
	Online         bool      `json:"online"`
	SentAt         time.Time `json:"sentAt"`
}

// Notifier delivers a notification to the downstream channel (email, push).
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
