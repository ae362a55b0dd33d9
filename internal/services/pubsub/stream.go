package pubsub

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultStreamBuffer = 32

// Broker hands out per-user event streams backed by pattern subscriptions.
type Broker struct {
	client *redis.Client
	logger *zap.Logger
	buffer int
}

func NewBroker(client *redis.Client, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{client: client, logger: logger, buffer: defaultStreamBuffer}
}

// StreamUser subscribes to every event channel of userID. Events are dropped
// when the consumer falls behind by more than the buffer. The returned
// channel is closed once stop returns.
func (b *Broker) StreamUser(ctx context.Context, userID string) (<-chan Envelope, func() error, error) {
	events := make(chan Envelope, b.buffer)
	sub := NewSubscriber(b.client, b.logger)

	forward := func(_ context.Context, env Envelope) error {
		select {
		case events <- env:
		default:
			b.logger.Warn("pubsub: dropping event for slow consumer",
				zap.String("user_id", userID),
				zap.String("type", string(env.Type)),
			)
		}
		return nil
	}
	sub.HandleFunc(MessageTypeOpportunity, forward)
	sub.HandleFunc(MessageTypeTrade, forward)

	if err := sub.PSubscribe(ctx, UserPattern(userID)); err != nil {
		close(events)
		return nil, nil, err
	}

	stop := func() error {
		err := sub.Close()
		close(events)
		return err
	}
	return events, stop, nil
}
