// Package trading converts analysed opportunities into executed trades under
// per-user admission control.
package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/credentials"
	"github.com/irfndi/tradepilot/internal/exchange"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/irfndi/tradepilot/internal/observability"
	"github.com/irfndi/tradepilot/internal/services/distributedlock"
	"github.com/irfndi/tradepilot/internal/services/execution"
	"github.com/irfndi/tradepilot/internal/services/risk"
	"github.com/irfndi/tradepilot/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Engine struct {
	repo     *storage.Repository
	users    *UserConfigService
	locker   distributedlock.Locker
	router   *execution.Router
	market   exchange.MarketData
	resolver credentials.Resolver
	logger   *zap.Logger
	now      func() time.Time
}

func NewEngine(
	repo *storage.Repository,
	users *UserConfigService,
	locker distributedlock.Locker,
	router *execution.Router,
	market exchange.MarketData,
	resolver credentials.Resolver,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		repo:     repo,
		users:    users,
		locker:   locker,
		router:   router,
		market:   market,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
}

// ExecuteTradeFromConfirmedOpportunity opens a real trade for an opportunity
// the user confirmed. A second call for the same opportunity fails with
// InvalidState and changes nothing.
func (e *Engine) ExecuteTradeFromConfirmedOpportunity(ctx context.Context, opportunityID string) (*models.Trade, error) {
	return e.execute(ctx, opportunityID, models.TradeModeReal)
}

// ExecutePaperTrade opens a simulated trade for an analysed, actionable
// opportunity.
func (e *Engine) ExecutePaperTrade(ctx context.Context, opportunityID string) (*models.Trade, error) {
	return e.execute(ctx, opportunityID, models.TradeModePaper)
}

func (e *Engine) loadOpportunity(ctx context.Context, id string) (*models.Opportunity, error) {
	opp, err := e.repo.GetOpportunity(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, apperror.NotFound("opportunity %s not found", id)
		}
		return nil, err
	}
	return opp, nil
}

func checkExecutable(opp *models.Opportunity, mode models.TradeMode) error {
	want := models.OpportunityStatusAnalyzed
	if mode == models.TradeModeReal {
		want = models.OpportunityStatusConfirmed
	}
	if opp.Status != want {
		return apperror.InvalidState("opportunity %s is %s, %s execution requires %s", opp.ID, opp.Status, mode, want)
	}
	if opp.AIAnalysis == nil || !opp.AIAnalysis.SuggestedAction.IsActionable() {
		return apperror.InvalidState("opportunity %s has no actionable analysis", opp.ID)
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, opportunityID string, mode models.TradeMode) (*models.Trade, error) {
	opp, err := e.loadOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, err
	}

	release, err := e.locker.Acquire(ctx, distributedlock.UserKey(opp.UserID))
	if err != nil {
		return nil, err
	}
	defer release()

	// Reload under the lock; a concurrent execution may have converted it.
	if opp, err = e.loadOpportunity(ctx, opportunityID); err != nil {
		return nil, err
	}
	if err := checkExecutable(opp, mode); err != nil {
		return nil, err
	}

	log := e.logger.With(
		zap.String("user_id", opp.UserID),
		zap.String("opportunity_id", opp.ID),
		zap.String("mode", string(mode)))

	strategy, err := e.repo.GetStrategy(ctx, opp.StrategyID)
	if err != nil && !storage.IsNotFound(err) {
		return nil, err
	}
	if strategy != nil && strategy.UserID != "" && strategy.UserID != opp.UserID {
		strategy = nil
	}

	ucfg, err := e.users.Get(ctx, opp.UserID)
	if err != nil {
		return nil, err
	}
	if risk.ResetIfStale(&ucfg.RealTrading, e.now()) {
		if err := e.users.Save(ctx, ucfg); err != nil {
			return nil, fmt.Errorf("failed to persist daily reset: %w", err)
		}
		log.Info("Daily capital risk counter reset", zap.String("date", ucfg.RealTrading.LastDailyReset))
	}

	executor, err := e.router.For(mode)
	if err != nil {
		return nil, err
	}
	profile := risk.EffectiveProfile(ucfg.RiskProfile, strategy)

	var (
		creds   *credentials.Credential
		capital decimal.Decimal
	)
	if mode == models.TradeModeReal {
		if !ucfg.RealTrading.RealTradingModeActive {
			return nil, apperror.Forbidden("real trading mode is not active")
		}
		if creds, err = e.resolver.Resolve(ctx, opp.UserID, ucfg.Exchange, ucfg.CredentialLabel); err != nil {
			return nil, err
		}
		portfolio, err := executor.PortfolioValue(ctx, opp.UserID, ucfg.QuoteAsset, creds)
		if err != nil {
			return nil, fmt.Errorf("failed to value portfolio: %w", err)
		}
		open, err := e.repo.FindTrades(ctx, models.TradeFilter{
			UserID:         opp.UserID,
			Mode:           models.TradeModeReal,
			PositionStatus: models.PositionStatusOpen,
		})
		if err != nil {
			return nil, err
		}
		decision, err := risk.Evaluate(risk.AdmissionInput{
			PortfolioValue: portfolio,
			Profile:        profile,
			Settings:       ucfg.RealTrading,
			OpenRealTrades: len(open),
		})
		if err != nil {
			log.Info("Real trade not admitted", zap.Error(err))
			return nil, err
		}
		capital = decision.CapitalUSD
	} else {
		portfolio, err := executor.PortfolioValue(ctx, opp.UserID, ucfg.QuoteAsset, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to value paper portfolio: %w", err)
		}
		if capital, err = risk.Sizing(portfolio, profile); err != nil {
			return nil, err
		}
	}

	price, err := e.market.LastPrice(ctx, opp.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to price %s: %w", opp.Symbol, err)
	}
	qty, err := risk.Quantity(capital, price)
	if err != nil {
		return nil, err
	}

	analysis := opp.AIAnalysis
	side := analysis.SuggestedAction.Side()
	entry, err := executor.ExecuteMarketOrder(ctx, execution.OrderRequest{
		UserID:      opp.UserID,
		Symbol:      opp.Symbol,
		Side:        side,
		Quantity:    qty,
		Category:    models.OrderCategoryEntry,
		Credentials: creds,
	})
	if err != nil {
		log.Warn("Entry order failed", zap.Error(err))
		return nil, err
	}

	// From here on the exchange holds an order; failures must be reconciled
	// by hand, never retried.
	now := e.now().UTC()
	trade := &models.Trade{
		ID:             uuid.NewString(),
		UserID:         opp.UserID,
		Symbol:         opp.Symbol,
		Side:           side,
		Mode:           mode,
		EntryOrder:     *entry,
		PositionStatus: models.PositionStatusOpen,
		CapitalUSD:     capital,
		OpportunityID:  opp.ID,
		StrategyID:     opp.StrategyID,
		OpenedAt:       now,
	}
	if analysis.Params.HasExitLevels() {
		trade.ExitOrders = e.placeExits(ctx, log, executor, opp, side, entry, qty, analysis.Params, creds)
	}

	if err := e.repo.SaveTrade(ctx, trade); err != nil {
		return nil, e.reconcile(ctx, log, opp, entry, "trade", err)
	}
	if mode == models.TradeModeReal {
		risk.Commit(&ucfg.RealTrading, capital)
		if err := e.users.Save(ctx, ucfg); err != nil {
			return nil, e.reconcile(ctx, log, opp, entry, "risk counters", err)
		}
	}
	opp.Status = models.OpportunityStatusConverted
	opp.StatusReason = fmt.Sprintf("%s trade %s opened", mode, trade.ID)
	opp.TradeIDs = append(opp.TradeIDs, trade.ID)
	opp.UpdatedAt = now
	if err := e.repo.SaveOpportunity(ctx, opp); err != nil {
		return nil, e.reconcile(ctx, log, opp, entry, "opportunity", err)
	}

	observability.AddBreadcrumb(ctx, "trading", "trade opened", map[string]interface{}{
		"trade_id": trade.ID,
		"mode":     string(mode),
	})
	log.Info("Trade opened",
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.String("side", string(side)),
		zap.String("quantity", entry.ExecutedQuantity.String()),
		zap.String("capital_usd", capital.StringFixed(2)),
		zap.Int("exit_orders", len(trade.ExitOrders)))
	return trade, nil
}

// placeExits attaches the take-profit/stop-loss pair. Failure leaves the
// trade open without exits.
func (e *Engine) placeExits(
	ctx context.Context,
	log *zap.Logger,
	executor execution.Executor,
	opp *models.Opportunity,
	side models.OrderSide,
	entry *models.TradeOrderDetails,
	qty decimal.Decimal,
	params models.RecommendedTradeParams,
	creds *credentials.Credential,
) []models.TradeOrderDetails {
	exitQty := entry.ExecutedQuantity
	if !exitQty.IsPositive() {
		exitQty = qty
	}
	legs, err := executor.CreateOCOOrder(ctx, execution.OCORequest{
		UserID:          opp.UserID,
		Symbol:          opp.Symbol,
		Side:            side.Opposite(),
		Quantity:        exitQty,
		TakeProfitPrice: *params.TakeProfit,
		StopPrice:       *params.StopLoss,
		Credentials:     creds,
	})
	if err != nil {
		log.Warn("Exit orders not placed; position is unprotected", zap.Error(err))
		return nil
	}
	return legs
}

func (e *Engine) reconcile(ctx context.Context, log *zap.Logger, opp *models.Opportunity, entry *models.TradeOrderDetails, what string, cause error) error {
	err := apperror.Reconciliation(
		fmt.Sprintf("order %s acknowledged but %s not recorded", entry.ExchangeOrderID, what), cause)
	observability.AlertReconciliation(ctx, err, opp.UserID, opp.ID, entry.ExchangeOrderID)
	log.Error("Reconciliation required",
		zap.String("exchange_order_id", entry.ExchangeOrderID),
		zap.Error(err))
	return err
}

// MarketOrderRequest is a direct order outside the opportunity pipeline.
type MarketOrderRequest struct {
	Symbol    string
	Side      models.OrderSide
	Quantity  decimal.Decimal
	Mode      models.TradeMode
	APIKey    string
	APISecret string
}

// ExecuteMarketOrder places a one-off market order. Real mode uses the
// key pair supplied with the request.
func (e *Engine) ExecuteMarketOrder(ctx context.Context, userID string, req MarketOrderRequest) (*models.TradeOrderDetails, error) {
	executor, err := e.router.For(req.Mode)
	if err != nil {
		return nil, err
	}
	var creds *credentials.Credential
	if req.Mode == models.TradeModeReal {
		if req.APIKey == "" || req.APISecret == "" {
			return nil, apperror.Validation("api_key and api_secret are required for real trading")
		}
		creds = &credentials.Credential{Service: "exchange", APIKey: req.APIKey, APISecret: req.APISecret}
	}

	release, err := e.locker.Acquire(ctx, distributedlock.UserKey(userID))
	if err != nil {
		return nil, err
	}
	defer release()

	return executor.ExecuteMarketOrder(ctx, execution.OrderRequest{
		UserID:      userID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Quantity:    req.Quantity,
		Category:    models.OrderCategoryEntry,
		Credentials: creds,
	})
}
