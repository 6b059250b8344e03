package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// foreignKeyViolation is the postgres SQLSTATE for a missing referenced row.
const foreignKeyViolation = "23503"

const messageColumns = `id, conversation_id, sender_id, type, ciphertext, nonce, is_read, read_at, created_at`

// MessageRepository defines interactions for stored messages.
type MessageRepository interface {
	Append(ctx context.Context, conversationID, senderID string, msgType models.MessageType, ciphertext, nonce []byte) (models.Message, error)
	Page(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, int, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	MarkRead(ctx context.Context, messageID string) (models.Message, error)
	UnreadCountFor(ctx context.Context, userID string) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append stores a message and bumps the conversation's last activity in one transaction.
func (r *MessageRepo) Append(ctx context.Context, conversationID, senderID string, msgType models.MessageType, ciphertext, nonce []byte) (models.Message, error) {
	if len(ciphertext) == 0 || len(nonce) == 0 {
		return models.Message{}, errors.New("ciphertext and nonce are required together")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var msg models.Message
	err = tx.QueryRowxContext(ctx, `INSERT INTO messages (id, conversation_id, sender_id, type, ciphertext, nonce)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+messageColumns,
		uuid.NewString(), conversationID, senderID, msgType, ciphertext, nonce).StructScan(&msg)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return models.Message{}, ErrConversationNotFound
		}
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET last_message_at = $2, updated_at = NOW() WHERE id=$1`, conversationID, msg.CreatedAt)
	if err != nil {
		return models.Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	if count, err := res.RowsAffected(); err == nil && count == 0 {
		return models.Message{}, ErrConversationNotFound
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, fmt.Errorf("commit: %w", err)
	}
	return msg, nil
}

// Page returns one page of a conversation's messages in chronological order.
// Page 1 holds the most recent pageSize messages.
func (r *MessageRepo) Page(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM messages WHERE conversation_id=$1`, conversationID); err != nil {
		return nil, 0, err
	}

	msgs := []models.Message{}
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE conversation_id=$1
        ORDER BY created_at DESC, id DESC
        LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &msgs, query, conversationID, pageSize, (page-1)*pageSize); err != nil {
		return nil, 0, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, total, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return models.Message{}, ErrMessageNotFound
	}
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkRead flips the read flag. The first read timestamp is kept on repeated calls.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID string) (models.Message, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return models.Message{}, ErrMessageNotFound
	}
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages SET is_read = TRUE, read_at = COALESCE(read_at, NOW())
        WHERE id=$1 RETURNING `+messageColumns, messageID).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// UnreadCountFor counts unread messages addressed to the user across their active conversations.
func (r *MessageRepo) UnreadCountFor(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages m
        JOIN conversations c ON c.id = m.conversation_id
        WHERE c.is_active = TRUE
        AND (c.participant_a=$1 OR c.participant_b=$1)
        AND m.sender_id <> $1
        AND m.is_read = FALSE`, userID)
	return count, err
}
