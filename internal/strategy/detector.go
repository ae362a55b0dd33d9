package strategy

import (
	"context"
	"fmt"

	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/exchange"
	"github.com/irfndi/tradepilot/internal/models"
	"go.uber.org/zap"
)

// OpportunityCreator persists a new opportunity.
type OpportunityCreator interface {
	Create(ctx context.Context, opp *models.Opportunity) (*models.Opportunity, error)
}

// Detector evaluates strategies on live candles and records their signals.
type Detector struct {
	registry *Registry
	market   exchange.MarketData
	creator  OpportunityCreator
	exchange string
	limit    int
	logger   *zap.Logger
}

func NewDetector(registry *Registry, market exchange.MarketData, creator OpportunityCreator, exchangeName string, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		registry: registry,
		market:   market,
		creator:  creator,
		exchange: exchangeName,
		limit:    200,
		logger:   logger,
	}
}

// Detect returns the created opportunity, or nil when the strategy has no
// signal for symbol.
func (d *Detector) Detect(ctx context.Context, userID string, cfg *models.TradingStrategyConfig, symbol string) (*models.Opportunity, error) {
	if !cfg.PaperActive && !cfg.RealActive {
		return nil, apperror.InvalidState("strategy %s is not active", cfg.ID)
	}
	impl, ok := d.registry.Get(cfg.Kind)
	if !ok {
		return nil, apperror.Validation("no implementation for strategy kind %q", cfg.Kind)
	}

	interval := stringParam(cfg.Parameters, "interval", "1h")
	candles, err := d.market.Candles(ctx, symbol, interval, d.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load candles for %s: %w", symbol, err)
	}

	sig, err := impl.Evaluate(ctx, MarketSnapshot{Symbol: symbol, Interval: interval, Candles: candles}, cfg.Parameters)
	if err != nil {
		return nil, apperror.Validation("strategy %s: %v", cfg.ID, err)
	}
	if sig == nil {
		return nil, nil
	}

	opp, err := d.creator.Create(ctx, &models.Opportunity{
		UserID:     userID,
		Symbol:     exchange.NormalizeSymbol(symbol),
		Exchange:   d.exchange,
		SourceType: models.SourceTypeStrategy,
		SourceName: string(cfg.Kind),
		StrategyID: cfg.ID,
		InitialSignal: models.InitialSignal{
			Direction:  sig.Direction,
			EntryPrice: sig.EntryPrice,
			StopLoss:   sig.StopLoss,
			TakeProfit: sig.TakeProfit,
			Timeframe:  sig.Timeframe,
			Confidence: sig.Confidence,
		},
	})
	if err != nil {
		return nil, err
	}
	d.logger.Info("Strategy signal recorded",
		zap.String("opportunity_id", opp.ID),
		zap.String("strategy_id", cfg.ID),
		zap.String("symbol", opp.Symbol),
		zap.String("direction", string(sig.Direction)),
		zap.String("reason", sig.Reason))
	return opp, nil
}
