package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"messaging-service/internal/auth"
	"messaging-service/internal/codec"
	"messaging-service/internal/messaging"
	"messaging-service/internal/models"
	"messaging-service/internal/notify"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

const tracerName = "messaging-service/ws"

// Conversations is the part of the messaging service the gateway drives.
type Conversations interface {
	Authorize(ctx context.Context, conversationID, userID string) (models.Conversation, error)
	History(ctx context.Context, conversationID string, page, pageSize int) (messaging.History, error)
	Send(ctx context.Context, conv models.Conversation, senderID string, msgType models.MessageType, raw string) (models.MessageView, error)
	MarkRead(ctx context.Context, conv models.Conversation, messageID string) (models.Message, error)
}

// NotificationQueue accepts notifications without blocking.
type NotificationQueue interface {
	Enqueue(n notify.Notification) bool
}

// Options tunes connection handling; zero values fall back to defaults.
type Options struct {
	Service           string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	PingPeriod        time.Duration
	WriteWait         time.Duration
	OpTimeout         time.Duration
	SendBuffer        int
	HistoryPageSize   int
	MaxFrameBytes     int64
	PreviewRunes      int
}

func (o Options) withDefaults() Options {
	if o.Service == "" {
		o.Service = "messaging-service"
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 25 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 60 * time.Second
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 30 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.HistoryPageSize <= 0 {
		o.HistoryPageSize = 50
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 64 * 1024
	}
	if o.PreviewRunes <= 0 {
		o.PreviewRunes = 120
	}
	return o
}

// GatewayParams groups the gateway's collaborators.
type GatewayParams struct {
	Hub           *Hub
	Presence      *presence.Registry
	Conversations Conversations
	Authenticator auth.Authenticator
	Notifications NotificationQueue
	Publisher     rabbitmq.Publisher
	Audit         *telemetry.AuditEmitter
	Logger        *zap.Logger
	Options       Options
}

// Gateway authenticates websocket connections and dispatches their frames.
type Gateway struct {
	hub           *Hub
	presence      *presence.Registry
	conversations Conversations
	authn         auth.Authenticator
	notifications NotificationQueue
	publisher     rabbitmq.Publisher
	audit         *telemetry.AuditEmitter
	logger        *zap.Logger
	opts          Options
	upgrader      websocket.Upgrader
}

func NewGateway(p GatewayParams) *Gateway {
	return &Gateway{
		hub:           p.Hub,
		presence:      p.Presence,
		conversations: p.Conversations,
		authn:         p.Authenticator,
		notifications: p.Notifications,
		publisher:     p.Publisher,
		audit:         p.Audit,
		logger:        p.Logger,
		opts:          p.Options.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle authenticates the request and upgrades it. Unauthenticated requests
// are refused with 401 before any session state is created.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	requestID := observability.RequestIDFromRequest(c.Request)
	ip := observability.IPFromRequest(c.Request)

	creds := auth.Credentials{
		UserID:      c.Query("userId"),
		Role:        c.Query("role"),
		DisplayName: c.Query("name"),
	}
	if token, ok := auth.BearerToken(c.GetHeader("Authorization")); ok {
		creds.Token = token
	} else {
		creds.Token = c.Query("token")
	}

	if creds.Token == "" || creds.UserID == "" {
		span.SetStatus(codes.Error, "missing credentials")
		g.audit.AuthFailure(ctx, requestID, creds.UserID, ip, "missing credentials")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
		return
	}
	identity, err := g.authn.Authenticate(creds)
	if err != nil {
		span.SetStatus(codes.Error, "invalid token")
		g.audit.AuthFailure(ctx, requestID, creds.UserID, ip, err.Error())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.String("user_id", identity.UserID), zap.Error(err))
		return
	}
	conn.SetReadLimit(g.opts.MaxFrameBytes)

	session := presence.Session{
		SessionID:   uuid.NewString(),
		UserID:      identity.UserID,
		Role:        identity.Role,
		Name:        identity.DisplayName,
		ConnectedAt: time.Now().UTC(),
	}
	info := newConnInfo(c.Request, requestID, session.ConnectedAt)
	span.SetAttributes(attribute.String("ws.session_id", session.SessionID), attribute.String("user.id", session.UserID))

	client := newClient(conn, session, info, g.opts)
	g.presence.Register(session.SessionID, session)
	g.hub.Attach(client)
	go client.writeLoop()

	observability.IncWSActive()
	observability.IncWSEvent("lifecycle", "ws_connect")
	g.publishLifecycle(ctx, client, "ws_connect", "")
	g.logger.Info("websocket connected",
		zap.String("session_id", session.SessionID),
		zap.String("user_id", session.UserID),
		zap.String("request_id", requestID))

	_ = client.SendEvent(models.Event{Name: models.EventConnected, Data: models.ConnectedPayload{
		SocketID:  session.SessionID,
		UserID:    session.UserID,
		Timestamp: session.ConnectedAt,
	}})

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go g.readLoop(connCtx, cancel, client)
}

func (g *Gateway) readLoop(ctx context.Context, cancel context.CancelFunc, c *Client) {
	var closeReason string
	defer func() {
		g.disconnect(ctx, c, closeReason)
		cancel()
	}()

	renew := func() {
		_ = c.conn.SetReadDeadline(time.Now().Add(g.opts.HeartbeatTimeout))
	}
	renew()
	c.conn.SetPongHandler(func(string) error {
		renew()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("lifecycle", "ws_error")
			}
			return
		}
		renew()
		g.dispatch(ctx, c, data)
	}
}

// disconnect detaches the client first so concurrent joins are refused, then
// leaves every room under that room's sequencer.
func (g *Gateway) disconnect(ctx context.Context, c *Client, reason string) {
	rooms := g.hub.Detach(c.ID)
	g.presence.Unregister(c.ID)

	now := time.Now().UTC()
	for _, conversationID := range rooms {
		g.hub.Sequence(conversationID, func() {
			if !g.hub.Leave(conversationID, c.ID) {
				return
			}
			g.hub.Broadcast(conversationID, models.Event{Name: models.EventUserLeft, Data: g.presencePayload(conversationID, c, now)}, "")
		})
	}

	c.Close(websocket.CloseNormalClosure, "")
	observability.DecWSActive()
	observability.IncWSEvent("lifecycle", "ws_disconnect")
	g.publishLifecycle(ctx, c, "ws_disconnect", reason)
	g.logger.Info("websocket disconnected",
		zap.String("session_id", c.ID),
		zap.String("user_id", c.Session.UserID),
		zap.Strings("rooms", rooms),
		zap.String("reason", reason))
}

func (g *Gateway) dispatch(ctx context.Context, c *Client, data []byte) {
	var frame inboundFrame
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("websocket handler panic",
				zap.String("session_id", c.ID),
				zap.String("event", frame.Event),
				zap.Any("panic", r))
			g.sendError(c, "Internal error")
		}
	}()

	if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
		g.sendError(c, "Invalid frame")
		return
	}
	observability.IncWSEvent("in", frame.Event)

	opCtx, cancel := context.WithTimeout(ctx, g.opts.OpTimeout)
	defer cancel()

	switch frame.Event {
	case EventJoinConversation:
		g.handleJoin(opCtx, c, frame.Data)
	case EventLeaveConversation:
		g.handleLeave(c, frame.Data)
	case EventSendMessage:
		g.handleSend(opCtx, c, frame.Data)
	case EventTypingStart:
		g.handleTyping(c, frame.Data, true)
	case EventTypingStop:
		g.handleTyping(c, frame.Data, false)
	case EventMarkRead:
		g.handleMarkRead(opCtx, c, frame.Data)
	case EventPong:
	default:
		g.sendError(c, fmt.Sprintf("Unknown event %q", frame.Event))
	}
}

func (g *Gateway) handleJoin(ctx context.Context, c *Client, data json.RawMessage) {
	var req conversationRef
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == "" {
		g.sendError(c, "conversationId is required")
		return
	}
	conv, err := g.conversations.Authorize(ctx, req.ConversationID, c.Session.UserID)
	if err != nil {
		g.sendFailure(c, err, "Failed to join conversation")
		return
	}

	g.hub.Sequence(conv.ID, func() {
		switch g.hub.Join(conv.ID, c) {
		case JoinRefused:
			return
		case JoinAdded:
			g.hub.Broadcast(conv.ID, models.Event{Name: models.EventUserJoined, Data: g.presencePayload(conv.ID, c, time.Now().UTC())}, "")
		}

		history, err := g.conversations.History(ctx, conv.ID, 1, g.opts.HistoryPageSize)
		if err != nil {
			g.logger.Warn("load history failed", zap.String("conversation_id", conv.ID), zap.Error(err))
			g.sendError(c, "Failed to load message history")
			return
		}
		_ = c.SendEvent(models.Event{Name: models.EventConversationJoined, Data: models.ConversationJoinedPayload{
			ConversationID: conv.ID,
			Messages:       history.Messages,
			Total:          history.Total,
			Participants:   g.hub.Participants(conv.ID),
		}})
		if history.Undecryptable > 0 {
			for i := 0; i < history.Undecryptable; i++ {
				observability.IncDecryptFailure("history")
			}
			g.audit.DecryptFailure(ctx, c.Info.RequestID, conv.ID, "")
			g.sendError(c, fmt.Sprintf("%d message(s) could not be decrypted", history.Undecryptable))
		}
	})
}

func (g *Gateway) handleLeave(c *Client, data json.RawMessage) {
	var req conversationRef
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == "" {
		g.sendError(c, "conversationId is required")
		return
	}

	left := false
	g.hub.Sequence(req.ConversationID, func() {
		if left = g.hub.Leave(req.ConversationID, c.ID); left {
			g.hub.Broadcast(req.ConversationID, models.Event{Name: models.EventUserLeft, Data: g.presencePayload(req.ConversationID, c, time.Now().UTC())}, "")
		}
	})
	if !left {
		g.sendError(c, "Not in conversation")
	}
}

func (g *Gateway) handleSend(ctx context.Context, c *Client, data json.RawMessage) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ws.send_message")
	defer span.End()

	var req sendMessageData
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == "" {
		g.sendError(c, "conversationId is required")
		return
	}
	span.SetAttributes(attribute.String("conversation.id", req.ConversationID))

	conv, err := g.conversations.Authorize(ctx, req.ConversationID, c.Session.UserID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		g.sendFailure(c, err, "Failed to send message")
		return
	}

	var view models.MessageView
	g.hub.Sequence(conv.ID, func() {
		view, err = g.conversations.Send(ctx, conv, c.Session.UserID, req.Type, req.Content)
		if err != nil {
			return
		}
		g.hub.Broadcast(conv.ID, models.Event{Name: models.EventNewMessage, Data: models.NewMessagePayload{
			Message:        view,
			ConversationID: conv.ID,
			Timestamp:      time.Now().UTC(),
		}}, "")
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, codec.ErrDecryption) {
			observability.IncDecryptFailure("send")
			g.audit.DecryptFailure(ctx, c.Info.RequestID, conv.ID, "")
		}
		g.sendFailure(c, err, "Failed to send message")
		return
	}

	observability.IncMessageSent(string(view.Type))
	g.notifyAbsent(conv, c, view)
	_ = c.SendEvent(models.Event{Name: models.EventMessageSent, Data: models.MessageSentPayload{
		MessageID: view.ID,
		Timestamp: view.CreatedAt,
	}})
}

// notifyAbsent queues a notification for every other participant with no
// session in the room.
func (g *Gateway) notifyAbsent(conv models.Conversation, c *Client, view models.MessageView) {
	if g.notifications == nil {
		return
	}
	for _, userID := range conv.Participants() {
		if userID == c.Session.UserID || g.hub.HasUser(conv.ID, userID) {
			continue
		}
		g.notifications.Enqueue(notify.Notification{
			RecipientID:    userID,
			ConversationID: conv.ID,
			MessageID:      view.ID,
			SenderID:       c.Session.UserID,
			SenderName:     c.Session.Name,
			Preview:        messaging.Preview(view.Content, g.opts.PreviewRunes),
			Online:         g.presence.IsOnline(userID),
			SentAt:         view.CreatedAt,
		})
	}
}

func (g *Gateway) handleTyping(c *Client, data json.RawMessage, typing bool) {
	var req conversationRef
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == "" {
		g.sendError(c, "conversationId is required")
		return
	}
	if !g.hub.IsMember(req.ConversationID, c.ID) {
		g.sendError(c, "Not in conversation")
		return
	}
	g.hub.Broadcast(req.ConversationID, models.Event{Name: models.EventUserTyping, Data: models.TypingPayload{
		ConversationID: req.ConversationID,
		UserID:         c.Session.UserID,
		UserName:       c.Session.Name,
		IsTyping:       typing,
	}}, c.ID)
}

func (g *Gateway) handleMarkRead(ctx context.Context, c *Client, data json.RawMessage) {
	var req markReadData
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == "" || req.MessageID == "" {
		g.sendError(c, "conversationId and messageId are required")
		return
	}
	conv, err := g.conversations.Authorize(ctx, req.ConversationID, c.Session.UserID)
	if err != nil {
		g.sendFailure(c, err, "Failed to mark message as read")
		return
	}

	g.hub.Sequence(conv.ID, func() {
		var msg models.Message
		msg, err = g.conversations.MarkRead(ctx, conv, req.MessageID)
		if err != nil {
			return
		}
		readAt := time.Now().UTC()
		if msg.ReadAt != nil {
			readAt = *msg.ReadAt
		}
		g.hub.Broadcast(conv.ID, models.Event{Name: models.EventMessageRead, Data: models.MessageReadPayload{
			MessageID: msg.ID,
			UserID:    c.Session.UserID,
			ReadAt:    readAt,
		}}, "")
	})
	if err != nil {
		g.sendFailure(c, err, "Failed to mark message as read")
	}
}

// Run pings every attached client on the heartbeat interval until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			g.hub.BroadcastAll(models.Event{Name: models.EventPing, Data: models.PingPayload{Timestamp: now.UTC()}})
		}
	}
}

// Shutdown closes every connection; each runs the normal disconnect cleanup.
func (g *Gateway) Shutdown() {
	g.hub.CloseAll(websocket.CloseGoingAway, "server shutting down")
}

func (g *Gateway) presencePayload(conversationID string, c *Client, at time.Time) models.PresencePayload {
	return models.PresencePayload{
		ConversationID: conversationID,
		UserID:         c.Session.UserID,
		UserName:       c.Session.Name,
		Role:           c.Session.Role,
		Timestamp:      at,
	}
}

func (g *Gateway) sendError(c *Client, message string) {
	observability.IncWSEvent("out", models.EventError)
	_ = c.SendEvent(models.Event{Name: models.EventError, Data: models.ErrorPayload{Message: message}})
}

// sendFailure maps err to a client-facing message, falling back to fallback.
func (g *Gateway) sendFailure(c *Client, err error, fallback string) {
	message := clientMessage(err)
	if message == "" {
		message = fallback
		g.logger.Error(fallback, zap.String("session_id", c.ID), zap.Error(err))
	}
	g.sendError(c, message)
}

func clientMessage(err error) string {
	switch {
	case errors.Is(err, messaging.ErrEmptyMessage):
		return "Message content cannot be empty"
	case errors.Is(err, messaging.ErrMessageTooLong):
		return "Message content is too long"
	case errors.Is(err, messaging.ErrInvalidMessageType):
		return "Invalid message type"
	case errors.Is(err, messaging.ErrNotParticipant):
		return "You are not a participant in this conversation"
	case errors.Is(err, messaging.ErrConversationClosed):
		return "Conversation is closed"
	case errors.Is(err, repositories.ErrConversationNotFound):
		return "Conversation not found"
	case errors.Is(err, repositories.ErrMessageNotFound):
		return "Message not found"
	case errors.Is(err, codec.ErrDecryption):
		return "Message could not be decrypted"
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	}
	return ""
}

func (g *Gateway) publishLifecycle(ctx context.Context, c *Client, name, reason string) {
	if g.publisher == nil {
		return
	}
	envelope := observability.NewEventEnvelope("ws_events", name, g.opts.Service, map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       name,
			"conn_id":     c.ID,
			"duration_ms": time.Since(c.Info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": c.Info.identity(c.Session.UserID),
	})
	ctx = rabbitmq.WithHeaders(ctx, observability.BuildHeaders(c.Info.RequestID, c.Info.TraceID))
	if err := g.publisher.Publish(ctx, "ws_events."+name, envelope); err != nil {
		g.logger.Warn("publish lifecycle event failed", zap.String("event", name), zap.Error(err))
	}
}
