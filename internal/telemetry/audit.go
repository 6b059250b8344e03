package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      *zap.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level string            `json:"level"`
	Text  string            `json:"text"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger *zap.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logger,
	}
}

func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	e.EmitWithAttrs(ctx, level, text, requestID, userID, nil)
}

// EmitWithAttrs publishes an audit record carrying extra string attributes.
func (e *AuditEmitter) EmitWithAttrs(ctx context.Context, level, text, requestID string, userID *string, attrs map[string]string) {
	if e == nil || e.publisher == nil {
		return
	}

	e.logger.Info("audit emit",
		zap.String("level", level),
		zap.String("request_id", requestID),
		zap.Stringp("user_id", userID),
		zap.String("text", text))
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload: AuditPayload{
			Level: level,
			Text:  text,
			Attrs: attrs,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.logger.Warn("audit publish failed", zap.Error(err))
	}
}

// AuthFailure records a rejected handshake or request.
func (e *AuditEmitter) AuthFailure(ctx context.Context, requestID, claimedUserID, ip, reason string) {
	var userID *string
	if claimedUserID != "" {
		userID = &claimedUserID
	}
	e.EmitWithAttrs(ctx, LevelWarn, "authentication failed", requestID, userID, map[string]string{
		"ip":     ip,
		"reason": reason,
	})
}

// DecryptFailure records a stored message that could not be opened.
func (e *AuditEmitter) DecryptFailure(ctx context.Context, requestID, conversationID, messageID string) {
	attrs := map[string]string{"conversation_id": conversationID}
	if messageID != "" {
		attrs["message_id"] = messageID
	}
	e.EmitWithAttrs(ctx, LevelError, "message decryption failed", requestID, nil, attrs)
}
