package messaging

import "errors"

var (
	ErrEmptyMessage       = errors.New("message content cannot be empty")
	ErrMessageTooLong     = errors.New("message content is too long")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrNotParticipant     = errors.New("user is not a participant in this conversation")
	ErrConversationClosed = errors.New("conversation is closed")
	ErrPersistence        = errors.New("message store unavailable")
)
