package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrSelfConversation     = errors.New("cannot create conversation with self")
)

const conversationColumns = `id, participant_a, participant_b, is_active, last_message_at, created_at, updated_at`

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	CreateOrReactivate(ctx context.Context, participantA, participantB string) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	Deactivate(ctx context.Context, conversationID string) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// SortedPair orders two participant ids the way they are stored.
func SortedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// CreateOrReactivate returns the conversation for the unordered pair, creating it
// on first contact and reactivating it if it was closed.
func (r *ConversationRepo) CreateOrReactivate(ctx context.Context, participantA, participantB string) (models.Conversation, error) {
	if participantA == "" || participantB == "" {
		return models.Conversation{}, errors.New("participant ids are required")
	}
	if participantA == participantB {
		return models.Conversation{}, ErrSelfConversation
	}
	a, b := SortedPair(participantA, participantB)

	var conv models.Conversation
	err := r.db.QueryRowxContext(ctx, `INSERT INTO conversations (id, participant_a, participant_b) VALUES ($1, $2, $3)
        ON CONFLICT (participant_a, participant_b) DO UPDATE SET is_active = TRUE, updated_at = NOW()
        RETURNING `+conversationColumns, uuid.NewString(), a, b).StructScan(&conv)
	return conv, err
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return models.Conversation{}, ErrConversationNotFound
	}
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// ListForUser returns the user's active conversations, most recently active first.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
        WHERE (participant_a=$1 OR participant_b=$1) AND is_active = TRUE
        ORDER BY COALESCE(last_message_at, created_at) DESC`
	convs := []models.Conversation{}
	err := r.db.SelectContext(ctx, &convs, query, userID)
	return convs, err
}

// Deactivate soft-closes a conversation.
func (r *ConversationRepo) Deactivate(ctx context.Context, conversationID string) error {
	if _, err := uuid.Parse(conversationID); err != nil {
		return ErrConversationNotFound
	}
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET is_active = FALSE, updated_at = NOW() WHERE id=$1`, conversationID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}
