package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const handlerTimeout = 5 * time.Second

type MessageHandler func(ctx context.Context, envelope Envelope) error

// Subscriber routes lifecycle envelopes to handlers registered by channel or
// by message type; a channel handler wins over a type handler.
type Subscriber struct {
	client        *redis.Client
	logger        *zap.Logger
	handlers      map[string]MessageHandler
	mu            sync.RWMutex
	subscriptions []*activeSubscription
	received      atomic.Int64
	rejected      atomic.Int64
	errors        atomic.Int64
}

type activeSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSubscriber(client *redis.Client, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		client:   client,
		logger:   logger,
		handlers: make(map[string]MessageHandler),
	}
}

func (s *Subscriber) Handle(channel string, handler MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[channel] = handler
}

func (s *Subscriber) HandleFunc(msgType MessageType, handler MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[string(msgType)] = handler
}

func (s *Subscriber) Subscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return fmt.Errorf("pubsub: at least one channel required")
	}
	return s.start(ctx, s.client.Subscribe(ctx, channels...), channels)
}

func (s *Subscriber) PSubscribe(ctx context.Context, patterns ...string) error {
	if len(patterns) == 0 {
		return fmt.Errorf("pubsub: at least one pattern required")
	}
	return s.start(ctx, s.client.PSubscribe(ctx, patterns...), patterns)
}

// start waits for the subscription confirmation before listening so no
// message published after it returns is missed.
func (s *Subscriber) start(ctx context.Context, ps *redis.PubSub, targets []string) error {
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("pubsub: subscribe to %v: %w", targets, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &activeSubscription{pubsub: ps, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.subscriptions = append(s.subscriptions, sub)
	s.mu.Unlock()

	go s.listen(subCtx, sub)
	return nil
}

func (s *Subscriber) listen(ctx context.Context, sub *activeSubscription) {
	defer close(sub.done)
	ch := sub.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			_ = sub.pubsub.Close()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.dispatch(ctx, msg)
		}
	}
}

func (s *Subscriber) dispatch(ctx context.Context, msg *redis.Message) {
	var envelope Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
		s.errors.Add(1)
		s.logger.Warn("pubsub: unmarshal message failed",
			zap.String("channel", msg.Channel),
			zap.Error(err),
		)
		return
	}
	s.received.Add(1)

	// Events are scoped to the user named in the channel.
	if _, _, quals := ParseChannel(msg.Channel); len(quals) == 0 || quals[len(quals)-1] != envelope.UserID {
		s.rejected.Add(1)
		s.logger.Warn("pubsub: envelope user does not match channel",
			zap.String("channel", msg.Channel),
			zap.String("user_id", envelope.UserID),
		)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[msg.Channel]
	if !ok {
		handler, ok = s.handlers[string(envelope.Type)]
	}
	s.mu.RUnlock()
	if !ok {
		return
	}

	handlerCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	if err := handler(handlerCtx, envelope); err != nil {
		s.errors.Add(1)
		s.logger.Error("pubsub: handler error",
			zap.String("channel", msg.Channel),
			zap.String("type", string(envelope.Type)),
			zap.String("user_id", envelope.UserID),
			zap.Error(err),
		)
	}
}

// Close ends every subscription and waits for in-flight handlers.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	subs := s.subscriptions
	s.subscriptions = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
	return nil
}

type SubscriberStats struct {
	Received      int64 `json:"received"`
	Rejected      int64 `json:"rejected"`
	Errors        int64 `json:"errors"`
	Subscriptions int   `json:"subscriptions"`
}

func (s *Subscriber) Stats() SubscriberStats {
	s.mu.RLock()
	subCount := len(s.subscriptions)
	s.mu.RUnlock()
	return SubscriberStats{
		Received:      s.received.Load(),
		Rejected:      s.rejected.Load(),
		Errors:        s.errors.Load(),
		Subscriptions: subCount,
	}
}
