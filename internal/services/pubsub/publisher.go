package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/irfndi/tradepilot/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Publisher struct {
	client    *redis.Client
	logger    *zap.Logger
	published atomic.Int64
	errors    atomic.Int64
}

func NewPublisher(client *redis.Client, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client: client,
		logger: logger,
	}
}

func (p *Publisher) Publish(ctx context.Context, channel string, envelope Envelope) error {
	if channel == "" {
		return fmt.Errorf("pubsub: channel cannot be empty")
	}

	envelope.Channel = channel
	if envelope.Timestamp.IsZero() {
		envelope.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		p.errors.Add(1)
		return fmt.Errorf("pubsub: marshal envelope: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.errors.Add(1)
		p.logger.Error("pubsub: publish failed",
			zap.String("channel", channel),
			zap.Error(err),
		)
		return fmt.Errorf("pubsub: publish to %s: %w", channel, err)
	}

	p.published.Add(1)
	return nil
}

func (p *Publisher) PublishOpportunity(ctx context.Context, opp *models.Opportunity) error {
	data, err := json.Marshal(NewOpportunityEvent(opp))
	if err != nil {
		return fmt.Errorf("pubsub: marshal opportunity event: %w", err)
	}
	return p.Publish(ctx, OpportunityChannel(opp.UserID), Envelope{
		Type:   MessageTypeOpportunity,
		UserID: opp.UserID,
		Data:   data,
	})
}

func (p *Publisher) PublishTrade(ctx context.Context, trade *models.Trade) error {
	data, err := json.Marshal(NewTradeEvent(trade))
	if err != nil {
		return fmt.Errorf("pubsub: marshal trade event: %w", err)
	}
	return p.Publish(ctx, TradeChannel(trade.UserID), Envelope{
		Type:   MessageTypeTrade,
		UserID: trade.UserID,
		Data:   data,
	})
}

type PublisherStats struct {
	Published int64 `json:"published"`
	Errors    int64 `json:"errors"`
}

func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Errors:    p.errors.Load(),
	}
}
