package models

import "time"

// Conversation is a durable two-party messaging channel.
// Participants are stored sorted so that a pair maps to a single row.
type Conversation struct {
	ID            string     `db:"id" json:"id"`
	ParticipantA  string     `db:"participant_a" json:"participantA"`
	ParticipantB  string     `db:"participant_b" json:"participantB"`
	IsActive      bool       `db:"is_active" json:"isActive"`
	LastMessageAt *time.Time `db:"last_message_at" json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updatedAt"`
}

// HasParticipant reports whether userID is one of the two ends of the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantA == userID || c.ParticipantB == userID)
}

// Counterpart returns the other participant, or "" when userID is not a participant.
func (c Conversation) Counterpart(userID string) string {
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	default:
		return ""
	}
}

// Participants returns both participant ids.
func (c Conversation) Participants() []string {
	return []string{c.ParticipantA, c.ParticipantB}
}
