package mocks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

// MemoryStore is an in-memory stand-in for both repositories, used by
// scenario tests that need real read-after-write behaviour.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]models.Conversation
	messages      map[string]models.Message
	order         []string
	now           time.Time

	appendErr error
	pageErr   error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string]models.Message),
		now:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// FailAppends makes Append return err until called again with nil.
func (s *MemoryStore) FailAppends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

// FailPages makes Page return err until called again with nil.
func (s *MemoryStore) FailPages(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageErr = err
}

// tick hands out strictly increasing timestamps so ordering is deterministic.
func (s *MemoryStore) tick() time.Time {
	s.now = s.now.Add(time.Millisecond)
	return s.now
}

func (s *MemoryStore) CreateOrReactivate(_ context.Context, participantA, participantB string) (models.Conversation, error) {
	if participantA == "" || participantB == "" {
		return models.Conversation{}, errors.New("participant ids are required")
	}
	if participantA == participantB {
		return models.Conversation{}, repositories.ErrSelfConversation
	}
	a, b := repositories.SortedPair(participantA, participantB)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.tick()
	for id, conv := range s.conversations {
		if conv.ParticipantA == a && conv.ParticipantB == b {
			conv.IsActive = true
			conv.UpdatedAt = now
			s.conversations[id] = conv
			return conv, nil
		}
	}
	conv := models.Conversation{
		ID:           uuid.NewString(),
		ParticipantA: a,
		ParticipantB: b,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, conversationID string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, repositories.ErrConversationNotFound
	}
	return conv, nil
}

func (s *MemoryStore) ListForUser(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Conversation{}
	for _, conv := range s.conversations {
		if conv.IsActive && conv.HasParticipant(userID) {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Deactivate(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return repositories.ErrConversationNotFound
	}
	conv.IsActive = false
	s.conversations[conversationID] = conv
	return nil
}

func (s *MemoryStore) Append(_ context.Context, conversationID, senderID string, msgType models.MessageType, ciphertext, nonce []byte) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return models.Message{}, s.appendErr
	}
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Message{}, repositories.ErrConversationNotFound
	}
	now := s.tick()
	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           msgType,
		Ciphertext:     append([]byte(nil), ciphertext...),
		Nonce:          append([]byte(nil), nonce...),
		CreatedAt:      now,
	}
	s.messages[msg.ID] = msg
	s.order = append(s.order, msg.ID)
	conv.LastMessageAt = &now
	s.conversations[conversationID] = conv
	return msg, nil
}

func (s *MemoryStore) Page(_ context.Context, conversationID string, page, pageSize int) ([]models.Message, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pageErr != nil {
		return nil, 0, s.pageErr
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	var all []models.Message
	for _, id := range s.order {
		if msg := s.messages[id]; msg.ConversationID == conversationID {
			all = append(all, msg)
		}
	}
	total := len(all)
	end := total - (page-1)*pageSize
	if end <= 0 {
		return []models.Message{}, total, nil
	}
	start := end - pageSize
	if start < 0 {
		start = 0
	}
	return append([]models.Message(nil), all[start:end]...), total, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, messageID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return msg, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, messageID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	if msg.ReadAt == nil {
		now := s.tick()
		msg.ReadAt = &now
	}
	msg.IsRead = true
	s.messages[messageID] = msg
	return msg, nil
}

func (s *MemoryStore) UnreadCountFor(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, msg := range s.messages {
		conv := s.conversations[msg.ConversationID]
		if conv.IsActive && conv.HasParticipant(userID) && msg.SenderID != userID && !msg.IsRead {
			count++
		}
	}
	return count, nil
}

// Messages returns every stored message of a conversation in append order.
func (s *MemoryStore) Messages(conversationID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, id := range s.order {
		if msg := s.messages[id]; msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out
}

var _ repositories.ConversationRepository = (*MemoryStore)(nil)
var _ repositories.MessageRepository = (*MemoryStore)(nil)
