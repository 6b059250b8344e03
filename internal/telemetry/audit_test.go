package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturePublisher struct {
	routingKey string
	events     []any
	err        error
}

func (p *capturePublisher) Publish(_ context.Context, routingKey string, event any) error {
	p.routingKey = routingKey
	p.events = append(p.events, event)
	return p.err
}

func (p *capturePublisher) Close() error { return nil }

func TestAuditEmitterEmit(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewAuditEmitter(pub, "audit.messaging", "messaging-service", "test", zap.NewNop())

	user := "u1"
	emitter.Emit(context.Background(), LevelInfo, "audit test", "req-1", &user)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "audit.messaging", pub.routingKey)
	envelope := pub.events[0].(AuditEnvelope)
	assert.Equal(t, 1, envelope.SchemaVersion)
	assert.Equal(t, "audit_log", envelope.EventType)
	assert.Equal(t, "messaging-service", envelope.Service)
	assert.Equal(t, "req-1", envelope.RequestID)
	assert.Equal(t, &user, envelope.UserID)
	assert.Equal(t, "audit test", envelope.Payload.Text)
}

func TestAuditEmitterHelpers(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	emitter := NewAuditEmitter(pub, "audit.messaging", "messaging-service", "test", zap.NewNop())

	emitter.AuthFailure(context.Background(), "req-2", "", "10.0.0.1", "missing token")
	emitter.DecryptFailure(context.Background(), "req-3", "conv-1", "msg-9")

	require.Len(t, pub.events, 2)
	auth := pub.events[0].(AuditEnvelope)
	assert.Nil(t, auth.UserID)
	assert.Equal(t, LevelWarn, auth.Payload.Level)
	assert.Equal(t, "missing token", auth.Payload.Attrs["reason"])

	decrypt := pub.events[1].(AuditEnvelope)
	assert.Equal(t, LevelError, decrypt.Payload.Level)
	assert.Equal(t, "msg-9", decrypt.Payload.Attrs["message_id"])
}

func TestNilAuditEmitterIsSafe(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), LevelInfo, "x", "", nil)
		emitter.AuthFailure(context.Background(), "", "", "", "")
	})
}
