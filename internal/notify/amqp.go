package notify

import (
	"context"
	"fmt"

	"messaging-service/internal/rabbitmq"
)

// AMQPNotifier publishes notifications for the email/push consumers.
type AMQPNotifier struct {
	publisher  rabbitmq.Publisher
	routingKey string
}

func NewAMQPNotifier(publisher rabbitmq.Publisher, routingKey string) *AMQPNotifier {
	return &AMQPNotifier{publisher: publisher, routingKey: routingKey}
}

func (n *AMQPNotifier) Notify(ctx context.Context, notification Notification) error {
	if err := n.publisher.Publish(ctx, n.routingKey, notification); err != nil {
		return fmt.Errorf("publish notification for %s: %w", notification.RecipientID, err)
	}
	return nil
}
