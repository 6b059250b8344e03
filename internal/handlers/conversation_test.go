package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"messaging-service/internal/codec"
	"messaging-service/internal/messaging"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

func newTestCodec(t *testing.T) *codec.Codec {
	t.Helper()
	c, err := codec.New(bytes.Repeat([]byte{7}, codec.KeySize))
	require.NoError(t, err)
	return c
}

func setupConversationRouter(handler *ConversationHandler, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	auth := func(c *gin.Context) {
		c.Set("userID", userID)
		c.Next()
	}
	handler.Register(r, auth)
	return r
}

func serve(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListConversationsSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	svc := messaging.NewService(convRepo, new(mocks.MessageRepositoryMock), newTestCodec(t), nil, zap.NewNop(), messaging.Options{})
	router := setupConversationRouter(NewConversationHandler(svc, nil, zap.NewNop(), 50), "p")

	convRepo.On("ListForUser", mock.Anything, "p").Return([]models.Conversation{
		{ID: "c1", ParticipantA: "d", ParticipantB: "p", IsActive: true},
	}, nil).Once()

	rec := serve(router, http.MethodGet, "/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Conversations []struct {
			ConversationID string `json:"conversationId"`
			CounterpartID  string `json:"counterpartId"`
		} `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "c1", resp.Conversations[0].ConversationID)
	assert.Equal(t, "d", resp.Conversations[0].CounterpartID)
	convRepo.AssertExpectations(t)
}

func TestListConversationsRepoError(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	svc := messaging.NewService(convRepo, new(mocks.MessageRepositoryMock), newTestCodec(t), nil, zap.NewNop(), messaging.Options{})
	router := setupConversationRouter(NewConversationHandler(svc, nil, zap.NewNop(), 50), "p")

	convRepo.On("ListForUser", mock.Anything, "p").Return(([]models.Conversation)(nil), assert.AnError).Once()

	rec := serve(router, http.MethodGet, "/conversations", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestCreateConversation(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	svc := messaging.NewService(convRepo, new(mocks.MessageRepositoryMock), newTestCodec(t), nil, zap.NewNop(), messaging.Options{})
	router := setupConversationRouter(NewConversationHandler(svc, nil, zap.NewNop(), 50), "p")

	convRepo.On("CreateOrReactivate", mock.Anything, "p", "d").Return(models.Conversation{ID: "c1", ParticipantA: "d", ParticipantB: "p", IsActive: true}, nil).Once()
	convRepo.On("CreateOrReactivate", mock.Anything, "p", "p").Return(models.Conversation{}, repositories.ErrSelfConversation).Once()

	rec := serve(router, http.MethodPost, "/conversations", []byte(`{"participantId":"d"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"c1"`)

	rec = serve(router, http.MethodPost, "/conversations", []byte(`{"participantId":"p"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, http.MethodPost, "/conversations", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestGetMessages(t *testing.T) {
	store := mocks.NewMemoryStore()
	svc := messaging.NewService(store, store, newTestCodec(t), nil, zap.NewNop(), messaging.Options{})
	ctx := context.Background()
	conv, err := svc.CreateConversation(ctx, "p", "d")
	require.NoError(t, err)
	for _, body := range []string{"one", "two", "three"} {
		_, err := svc.Send(ctx, conv, "d", "", body)
		require.NoError(t, err)
	}
	router := setupConversationRouter(NewConversationHandler(svc, nil, zap.NewNop(), 50), "p")

	rec := serve(router, http.MethodGet, "/conversations/"+conv.ID+"/messages?page=1&pageSize=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.MessageView `json:"messages"`
		Total    int                  `json:"total"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 3, resp.Total)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "two", resp.Messages[0].Content)
	assert.Equal(t, "three", resp.Messages[1].Content)
	assert.NotContains(t, rec.Body.String(), "ciphertext")

	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/conversations/"+conv.ID+"/messages?page=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/conversations/"+conv.ID+"/messages?pageSize=500", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/conversations/missing/messages", nil).Code)

	stranger := setupConversationRouter(NewConversationHandler(svc, nil, zap.NewNop(), 50), "x")
	assert.Equal(t, http.StatusForbidden, serve(stranger, http.MethodGet, "/conversations/"+conv.ID+"/messages", nil).Code)
}

func TestCloseConversationAndUnread(t *testing.T) {
	store := mocks.NewMemoryStore()
	svc := messaging.NewService(store, store, newTestCodec(t), nil, zap.NewNop(), messaging.Options{})
	ctx := context.Background()
	conv, err := svc.CreateConversation(ctx, "p", "d")
	require.NoError(t, err)
	_, err = svc.Send(ctx, conv, "d", "", "ping")
	require.NoError(t, err)
	router := setupConversationRouter(NewConversationHandler(svc, nil, zap.NewNop(), 50), "p")

	rec := serve(router, http.MethodGet, "/unread", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"unread":1}`, rec.Body.String())

	rec = serve(router, http.MethodDelete, "/conversations/"+conv.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	closed, err := svc.Conversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, closed.IsActive)

	rec = serve(router, http.MethodGet, "/unread", nil)
	assert.JSONEq(t, `{"unread":0}`, rec.Body.String())
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodDelete, "/conversations/missing", nil).Code)
}

func TestDebugRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	pub := &mocks.RecordingPublisher{}
	r := gin.New()
	RegisterDebugRoutes(r, nil, nil, false)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/debug/audit-test", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/debug/stats", nil).Code)

	r = gin.New()
	stats := func() map[string]int { return map[string]int{"sessions": 2, "rooms": 1} }
	RegisterDebugRoutes(r, newEmitter(pub), stats, true)
	rec := serve(r, http.MethodGet, "/debug/audit-test", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, pub.Events(), 1)

	rec = serve(r, http.MethodGet, "/debug/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sessions":2,"rooms":1}`, rec.Body.String())
}

func newEmitter(pub *mocks.RecordingPublisher) *telemetry.AuditEmitter {
	return telemetry.NewAuditEmitter(pub, "audit.messaging", "messaging-service", "test", zap.NewNop())
}
