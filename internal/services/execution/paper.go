package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/credentials"
	"github.com/irfndi/tradepilot/internal/exchange"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaperExecutor fills market orders at the last traded price against a
// Ledger. Resting orders (limit, stop-limit, OCO) reserve funds and stay
// "new"; they are never matched.
type PaperExecutor struct {
	ledger   *Ledger
	market   exchange.MarketData
	slippage decimal.Decimal
	logger   *zap.Logger
	now      func() time.Time
}

var _ Executor = (*PaperExecutor)(nil)

func NewPaperExecutor(ledger *Ledger, market exchange.MarketData, slippagePct float64, logger *zap.Logger) *PaperExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaperExecutor{
		ledger:   ledger,
		market:   market,
		slippage: decimal.NewFromFloat(slippagePct),
		logger:   logger,
		now:      time.Now,
	}
}

func (p *PaperExecutor) Ledger() *Ledger {
	return p.ledger
}

func splitPair(symbol string) (string, string, error) {
	base, quote, ok := exchange.SplitSymbol(symbol)
	if !ok {
		return "", "", apperror.Validation("cannot determine assets of symbol %q", symbol)
	}
	return base, quote, nil
}

func (p *PaperExecutor) newOrder(req OrderRequest, typ models.OrderType, cat models.OrderCategory) *models.TradeOrderDetails {
	now := p.now().UTC()
	id := uuid.NewString()
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = newClientOrderID()
	}
	return &models.TradeOrderDetails{
		InternalID:        id,
		ExchangeOrderID:   "paper-" + id,
		ClientOrderID:     clientID,
		Category:          cat,
		Type:              typ,
		Side:              req.Side,
		Symbol:            exchange.NormalizeSymbol(req.Symbol),
		RequestedPrice:    req.Price,
		RequestedQuantity: req.Quantity,
		StopPrice:         req.StopPrice,
		Status:            models.OrderStatusNew,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (p *PaperExecutor) ExecuteMarketOrder(ctx context.Context, req OrderRequest) (*models.TradeOrderDetails, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	base, quote, err := splitPair(req.Symbol)
	if err != nil {
		return nil, err
	}
	last, err := p.market.LastPrice(ctx, req.Symbol)
	if err != nil {
		return nil, apperror.OrderExecution("failed to price paper order", err)
	}

	price := last
	if p.slippage.IsPositive() {
		if req.Side == models.OrderSideBuy {
			price = last.Mul(decimal.NewFromInt(1).Add(p.slippage))
		} else {
			price = last.Mul(decimal.NewFromInt(1).Sub(p.slippage))
		}
	}
	notional := req.Quantity.Mul(price)

	if req.Side == models.OrderSideBuy {
		err = p.ledger.swap(req.UserID, quote, notional, base, req.Quantity)
	} else {
		err = p.ledger.swap(req.UserID, base, req.Quantity, quote, notional)
	}
	if err != nil {
		return nil, err
	}

	order := p.newOrder(req, models.OrderTypeMarket, category(req, models.OrderCategoryEntry))
	order.Status = models.OrderStatusFilled
	order.ExecutedPrice = price
	order.ExecutedQuantity = req.Quantity
	order.CumulativeQuoteQty = notional

	p.logger.Info("Paper market order filled",
		zap.String("user_id", req.UserID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("quantity", req.Quantity.String()),
		zap.String("price", price.String()))
	return order, nil
}

// reserve locks the funds a resting order at price would consume.
func (p *PaperExecutor) reserve(userID, symbol string, side models.OrderSide, qty, price decimal.Decimal) error {
	base, quote, err := splitPair(symbol)
	if err != nil {
		return err
	}
	if side == models.OrderSideBuy {
		return p.ledger.lock(userID, quote, qty.Mul(price))
	}
	return p.ledger.lock(userID, base, qty)
}

func (p *PaperExecutor) ExecuteLimitOrder(_ context.Context, req OrderRequest) (*models.TradeOrderDetails, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.Price == nil || !req.Price.IsPositive() {
		return nil, apperror.Validation("limit order requires a positive price")
	}
	if err := p.reserve(req.UserID, req.Symbol, req.Side, req.Quantity, *req.Price); err != nil {
		return nil, err
	}
	return p.newOrder(req, models.OrderTypeLimit, category(req, models.OrderCategoryEntry)), nil
}

func (p *PaperExecutor) ExecuteStopLimitOrder(_ context.Context, req OrderRequest) (*models.TradeOrderDetails, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.Price == nil || !req.Price.IsPositive() || req.StopPrice == nil || !req.StopPrice.IsPositive() {
		return nil, apperror.Validation("stop-limit order requires positive price and stop price")
	}
	if err := p.reserve(req.UserID, req.Symbol, req.Side, req.Quantity, *req.Price); err != nil {
		return nil, err
	}
	return p.newOrder(req, models.OrderTypeStopLossLimit, category(req, models.OrderCategoryStopLoss)), nil
}

// CreateOCOOrder reserves funds once for both legs, since at most one fills.
func (p *PaperExecutor) CreateOCOOrder(_ context.Context, req OCORequest) ([]models.TradeOrderDetails, error) {
	if err := validateOCO(req); err != nil {
		return nil, err
	}
	stopLimit := req.stopLimit()
	reservePrice := decimal.Max(req.TakeProfitPrice, stopLimit)
	if err := p.reserve(req.UserID, req.Symbol, req.Side, req.Quantity, reservePrice); err != nil {
		return nil, err
	}

	group := uuid.NewString()
	tpPrice := req.TakeProfitPrice
	stop := req.StopPrice
	tp := p.newOrder(OrderRequest{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    &tpPrice,
	}, models.OrderTypeLimit, models.OrderCategoryTakeProfit)
	sl := p.newOrder(OrderRequest{
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     &stopLimit,
		StopPrice: &stop,
	}, models.OrderTypeStopLossLimit, models.OrderCategoryStopLoss)
	tp.OCOGroupID = group
	sl.OCOGroupID = group
	return []models.TradeOrderDetails{*tp, *sl}, nil
}

// PortfolioValue sums free and locked balances valued at last price.
func (p *PaperExecutor) PortfolioValue(ctx context.Context, userID, quoteAsset string, _ *credentials.Credential) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, b := range p.ledger.Balances(userID) {
		amount := b.Total()
		if amount.IsZero() {
			continue
		}
		if b.Asset == quoteAsset {
			total = total.Add(amount)
			continue
		}
		price, err := p.market.LastPrice(ctx, b.Asset+quoteAsset)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to value %s: %w", b.Asset, err)
		}
		total = total.Add(amount.Mul(price))
	}
	return total, nil
}
