// Package messaging implements the encrypted send/read path on top of the store.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"messaging-service/internal/cache"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

// Codec seals and opens message bodies.
type Codec interface {
	Encrypt(plaintext string) (ciphertext, nonce []byte, err error)
	Decrypt(ciphertext, nonce []byte) (string, error)
}

// Options tunes the service; zero values fall back to defaults.
type Options struct {
	MaxContentRunes int
	UnreadTTL       time.Duration
}

// Service is the single writer of conversations and messages.
type Service struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	codec         Codec
	cache         cache.Cache
	opts          Options
	logger        *zap.Logger
}

// History is one decrypted page of a conversation.
type History struct {
	Messages []models.MessageView
	Total    int
	// Undecryptable counts stored messages withheld because they failed to decrypt.
	Undecryptable int
}

// NewService wires the store, codec and unread cache.
func NewService(conversations repositories.ConversationRepository, messages repositories.MessageRepository, codec Codec, unread cache.Cache, logger *zap.Logger, opts Options) *Service {
	if unread == nil {
		unread = cache.Noop{}
	}
	if opts.MaxContentRunes <= 0 {
		opts.MaxContentRunes = 5000
	}
	if opts.UnreadTTL <= 0 {
		opts.UnreadTTL = 30 * time.Second
	}
	return &Service{
		conversations: conversations,
		messages:      messages,
		codec:         codec,
		cache:         unread,
		opts:          opts,
		logger:        logger,
	}
}

// CreateConversation originates (or reactivates) the channel between two users.
func (s *Service) CreateConversation(ctx context.Context, participantA, participantB string) (models.Conversation, error) {
	conv, err := s.conversations.CreateOrReactivate(ctx, participantA, participantB)
	if err != nil {
		if errors.Is(err, repositories.ErrSelfConversation) {
			return models.Conversation{}, err
		}
		return models.Conversation{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.invalidateUnread(ctx, conv.Participants()...)
	return conv, nil
}

// Conversation loads a conversation by id.
func (s *Service) Conversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			return models.Conversation{}, err
		}
		return models.Conversation{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return conv, nil
}

// Authorize loads the conversation and checks that userID is one of its participants.
func (s *Service) Authorize(ctx context.Context, conversationID, userID string) (models.Conversation, error) {
	conv, err := s.Conversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !conv.HasParticipant(userID) {
		return models.Conversation{}, ErrNotParticipant
	}
	return conv, nil
}

// ListConversations returns the user's active conversations.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return convs, nil
}

// CloseConversation soft-closes a conversation on behalf of one of its participants.
func (s *Service) CloseConversation(ctx context.Context, conversationID, userID string) error {
	conv, err := s.Authorize(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if err := s.conversations.Deactivate(ctx, conv.ID); err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.invalidateUnread(ctx, conv.Participants()...)
	return nil
}

// History returns one decrypted page in chronological order. Messages that fail
// to decrypt are withheld and counted, never returned as ciphertext.
func (s *Service) History(ctx context.Context, conversationID string, page, pageSize int) (History, error) {
	stored, total, err := s.messages.Page(ctx, conversationID, page, pageSize)
	if err != nil {
		return History{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	history := History{Messages: make([]models.MessageView, 0, len(stored)), Total: total}
	for _, msg := range stored {
		content, err := s.codec.Decrypt(msg.Ciphertext, msg.Nonce)
		if err != nil {
			history.Undecryptable++
			s.logger.Warn("withholding undecryptable message",
				zap.String("conversation_id", conversationID),
				zap.String("message_id", msg.ID),
				zap.Error(err))
			continue
		}
		history.Messages = append(history.Messages, msg.View(content))
	}
	return history, nil
}

// Send sanitizes, encrypts and persists a message, then decrypts the stored row
// so callers broadcast exactly what was written.
func (s *Service) Send(ctx context.Context, conv models.Conversation, senderID string, msgType models.MessageType, raw string) (models.MessageView, error) {
	if !conv.HasParticipant(senderID) {
		return models.MessageView{}, ErrNotParticipant
	}
	if !conv.IsActive {
		return models.MessageView{}, ErrConversationClosed
	}
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if !msgType.Valid() {
		return models.MessageView{}, ErrInvalidMessageType
	}

	content, err := Sanitize(raw, s.opts.MaxContentRunes)
	if err != nil {
		return models.MessageView{}, err
	}

	ciphertext, nonce, err := s.codec.Encrypt(content)
	if err != nil {
		return models.MessageView{}, fmt.Errorf("encrypt message: %w", err)
	}

	stored, err := s.messages.Append(ctx, conv.ID, senderID, msgType, ciphertext, nonce)
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			return models.MessageView{}, err
		}
		return models.MessageView{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	plaintext, err := s.codec.Decrypt(stored.Ciphertext, stored.Nonce)
	if err != nil {
		return models.MessageView{}, fmt.Errorf("decrypt stored message %s: %w", stored.ID, err)
	}

	s.invalidateUnread(ctx, conv.Counterpart(senderID))
	return stored.View(plaintext), nil
}

// MarkRead flips the read state of a message that belongs to conv.
func (s *Service) MarkRead(ctx context.Context, conv models.Conversation, messageID string) (models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return models.Message{}, err
		}
		return models.Message{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if msg.ConversationID != conv.ID {
		return models.Message{}, repositories.ErrMessageNotFound
	}

	updated, err := s.messages.MarkRead(ctx, messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return models.Message{}, err
		}
		return models.Message{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.invalidateUnread(ctx, conv.Participants()...)
	return updated, nil
}

// UnreadCount returns how many messages addressed to userID are unread.
// Cached counts are keyed by the user's unread generation, so a count computed
// before a concurrent invalidation is written under a generation nobody reads.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	key := unreadKey(userID, s.unreadGeneration(ctx, userID))
	if cached, err := s.cache.Get(ctx, key); err == nil {
		if count, err := strconv.Atoi(cached); err == nil {
			return count, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("unread cache read failed", zap.String("user_id", userID), zap.Error(err))
	}

	count, err := s.messages.UnreadCountFor(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := s.cache.Set(ctx, key, strconv.Itoa(count), s.opts.UnreadTTL); err != nil {
		s.logger.Warn("unread cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
	return count, nil
}

func (s *Service) unreadGeneration(ctx context.Context, userID string) string {
	gen, err := s.cache.Get(ctx, unreadGenerationKey(userID))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("unread generation read failed", zap.String("user_id", userID), zap.Error(err))
		}
		return "0"
	}
	return gen
}

// invalidateUnread bumps each user's generation; entries under the old one expire on their own.
func (s *Service) invalidateUnread(ctx context.Context, userIDs ...string) {
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, err := s.cache.Incr(ctx, unreadGenerationKey(id)); err != nil {
			s.logger.Warn("unread cache invalidation failed", zap.String("user_id", id), zap.Error(err))
		}
	}
}

func unreadKey(userID, generation string) string {
	return "unread:" + userID + ":" + generation
}

func unreadGenerationKey(userID string) string {
	return "unread-gen:" + userID
}
