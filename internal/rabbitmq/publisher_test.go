package rabbitmq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"messaging-service/internal/observability"
)

func TestNewPublisherFallsBackToNoop(t *testing.T) {
	p := NewPublisher("", "messaging.events", zap.NewNop())

	assert.Equal(t, "noop", PublisherMode(p))
	assert.Equal(t, "empty amqp url", PublisherNoopReason(p))
	assert.NoError(t, p.Publish(context.Background(), "ws_events.connect", observability.EventEnvelope{EventType: "ws_events"}))
	assert.NoError(t, p.Close())
}

func TestWithHeaders(t *testing.T) {
	ctx := WithHeaders(context.Background(), map[string]string{"x-request-id": "req-1"})
	table := headersFrom(ctx)
	assert.Equal(t, "req-1", table["x-request-id"])

	assert.Empty(t, headersFrom(context.Background()))
	assert.Equal(t, context.Background(), WithHeaders(context.Background(), nil))
}
