package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"messaging-service/internal/messaging"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

const maxPageSize = 100

// ConversationHandler serves the REST view of conversations and history.
type ConversationHandler struct {
	service         *messaging.Service
	audit           *telemetry.AuditEmitter
	logger          *zap.Logger
	defaultPageSize int
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(service *messaging.Service, audit *telemetry.AuditEmitter, logger *zap.Logger, defaultPageSize int) *ConversationHandler {
	if defaultPageSize <= 0 || defaultPageSize > maxPageSize {
		defaultPageSize = 50
	}
	return &ConversationHandler{
		service:         service,
		audit:           audit,
		logger:          logger,
		defaultPageSize: defaultPageSize,
	}
}

// Register mounts the handler's routes behind auth.
func (h *ConversationHandler) Register(router gin.IRoutes, auth gin.HandlerFunc) {
	router.GET("/conversations", auth, h.ListConversations)
	router.POST("/conversations", auth, h.CreateConversation)
	router.GET("/conversations/:conversation_id/messages", auth, h.GetMessages)
	router.DELETE("/conversations/:conversation_id", auth, h.CloseConversation)
	router.GET("/unread", auth, h.UnreadCount)
}

// ListConversations returns the caller's active conversations.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	convs, err := h.service.ListConversations(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list conversations", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	type conversationResponse struct {
		ConversationID string     `json:"conversationId"`
		Counterpart    string     `json:"counterpartId"`
		IsActive       bool       `json:"isActive"`
		LastMessageAt  *time.Time `json:"lastMessageAt,omitempty"`
	}
	responses := make([]conversationResponse, 0, len(convs))
	for _, conv := range convs {
		responses = append(responses, conversationResponse{
			ConversationID: conv.ID,
			Counterpart:    conv.Counterpart(userID),
			IsActive:       conv.IsActive,
			LastMessageAt:  conv.LastMessageAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"conversations": responses})
}

// CreateConversation opens (or reactivates) the conversation between the caller
// and participantId.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req struct {
		ParticipantID string `json:"participantId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString(middleware.UserIDKey)
	conv, err := h.service.CreateConversation(c.Request.Context(), userID, req.ParticipantID)
	if err != nil {
		if errors.Is(err, repositories.ErrSelfConversation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start a conversation with yourself"})
			return
		}
		h.logger.Error("create conversation", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// GetMessages returns one decrypted page of history, oldest first.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	page, err := positiveQuery(c, "page", 1)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
		return
	}
	pageSize, err := positiveQuery(c, "pageSize", h.defaultPageSize)
	if err != nil || pageSize > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pageSize"})
		return
	}

	conversationID := c.Param("conversation_id")
	userID := c.GetString(middleware.UserIDKey)
	if _, err := h.service.Authorize(c.Request.Context(), conversationID, userID); err != nil {
		h.writeAccessError(c, err)
		return
	}

	history, err := h.service.History(c.Request.Context(), conversationID, page, pageSize)
	if err != nil {
		h.logger.Error("load history", zap.String("conversation_id", conversationID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if history.Undecryptable > 0 {
		for i := 0; i < history.Undecryptable; i++ {
			observability.IncDecryptFailure("history")
		}
		h.audit.DecryptFailure(c.Request.Context(), requestIDFromContext(c), conversationID, "")
	}

	c.JSON(http.StatusOK, gin.H{
		"messages":      history.Messages,
		"total":         history.Total,
		"page":          page,
		"pageSize":      pageSize,
		"undecryptable": history.Undecryptable,
	})
}

// CloseConversation soft-closes a conversation.
func (h *ConversationHandler) CloseConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString(middleware.UserIDKey)

	if err := h.service.CloseConversation(c.Request.Context(), conversationID, userID); err != nil {
		h.writeAccessError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UnreadCount returns how many messages addressed to the caller are unread.
func (h *ConversationHandler) UnreadCount(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	count, err := h.service.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("unread count", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count unread messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func (h *ConversationHandler) writeAccessError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repositories.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, messaging.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
	default:
		h.logger.Error("conversation access", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
	}
}

func positiveQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, errors.New("must be a positive integer")
	}
	return v, nil
}
