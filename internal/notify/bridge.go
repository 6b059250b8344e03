package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"messaging-service/internal/observability"
)

// Options sizes the bridge; zero values fall back to defaults.
type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Bridge is a bounded in-process queue drained by a fixed set of workers.
type Bridge struct {
	notifier Notifier
	queue    chan Notification
	workers  int
	timeout  time.Duration
	logger   *zap.Logger
}

func NewBridge(notifier Notifier, opts Options, logger *zap.Logger) *Bridge {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Bridge{
		notifier: notifier,
		queue:    make(chan Notification, opts.QueueSize),
		workers:  opts.Workers,
		timeout:  opts.Timeout,
		logger:   logger,
	}
}

// Enqueue hands n to the workers. It never blocks; false means the queue was full
// and the notification was dropped.
func (b *Bridge) Enqueue(n Notification) bool {
	select {
	case b.queue <- n:
		observability.IncNotification("enqueued")
		return true
	default:
		observability.IncNotification("dropped")
		b.logger.Warn("notification queue full, dropping",
			zap.String("recipient_id", n.RecipientID),
			zap.String("message_id", n.MessageID))
		return false
	}
}

// Pending returns the number of queued notifications.
func (b *Bridge) Pending() int {
	return len(b.queue)
}

// Run starts the workers and blocks until ctx is cancelled. Notifications
// still queued at that point are delivered before Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case n := <-b.queue:
					b.deliver(context.WithoutCancel(ctx), n)
				}
			}
		}()
	}
	wg.Wait()

	for {
		select {
		case n := <-b.queue:
			b.deliver(context.WithoutCancel(ctx), n)
		default:
			return nil
		}
	}
}

func (b *Bridge) deliver(parent context.Context, n Notification) {
	ctx, cancel := context.WithTimeout(parent, b.timeout)
	defer cancel()
	if err := b.notifier.Notify(ctx, n); err != nil {
		observability.IncNotification("failed")
		b.logger.Warn("notification delivery failed",
			zap.String("recipient_id", n.RecipientID),
			zap.String("conversation_id", n.ConversationID),
			zap.Error(err))
		return
	}
	observability.IncNotification("delivered")
}
