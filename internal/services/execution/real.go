package execution

import (
	"context"
	"strings"
	"time"

	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/credentials"
	"github.com/irfndi/tradepilot/internal/exchange"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ClientFactory builds an exchange client for one credential set.
type ClientFactory func(creds exchange.Credentials) *exchange.Client

// RealExecutor places orders on the exchange with the caller's credentials.
// Exchange rejections are wrapped as OrderExecution errors, except funding
// rejections which surface as InsufficientBalance. Either way the underlying
// ExternalAPI error keeps the HTTP status.
type RealExecutor struct {
	newClient ClientFactory
	market    exchange.MarketData
	logger    *zap.Logger
	now       func() time.Time
}

var _ Executor = (*RealExecutor)(nil)

func NewRealExecutor(factory ClientFactory, market exchange.MarketData, logger *zap.Logger) *RealExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealExecutor{newClient: factory, market: market, logger: logger, now: time.Now}
}

func (r *RealExecutor) client(creds *credentials.Credential) (*exchange.Client, error) {
	if creds == nil || creds.APIKey == "" || creds.APISecret == "" {
		return nil, apperror.Credential("exchange", "", nil)
	}
	return r.newClient(exchange.Credentials{APIKey: creds.APIKey, APISecret: creds.APISecret}), nil
}

func (r *RealExecutor) place(ctx context.Context, req OrderRequest, typ models.OrderType, cat models.OrderCategory) (*models.TradeOrderDetails, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	c, err := r.client(req.Credentials)
	if err != nil {
		return nil, err
	}
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = newClientOrderID()
	}

	resp, err := c.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          typ,
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		ClientOrderID: clientID,
	})
	if err != nil {
		r.logger.Warn("Exchange rejected order",
			zap.String("user_id", req.UserID),
			zap.String("symbol", req.Symbol),
			zap.String("type", string(typ)),
			zap.Error(err))
		if exchange.IsInsufficientBalance(err) {
			return nil, insufficientFunds(req.Symbol, req.Side, req.Quantity, req.Price, err)
		}
		return nil, apperror.OrderExecution(strings.ToLower(string(typ))+" order failed", err)
	}

	details := r.details(resp, cat)
	details.RequestedPrice = req.Price
	details.RequestedQuantity = req.Quantity
	details.StopPrice = req.StopPrice
	return details, nil
}

// insufficientFunds reports the asset the order spends and the amount it
// asked for. The exchange does not return balances, so Available stays zero.
// A BUY without a price is expressed in the base asset.
func insufficientFunds(symbol string, side models.OrderSide, qty decimal.Decimal, price *decimal.Decimal, cause error) error {
	base, quote, ok := exchange.SplitSymbol(symbol)
	if !ok {
		base, quote = exchange.NormalizeSymbol(symbol), ""
	}
	asset, required := base, qty
	if side == models.OrderSideBuy && price != nil && quote != "" {
		asset, required = quote, qty.Mul(*price)
	}
	return &apperror.Error{
		Kind:     apperror.KindInsufficientBalance,
		Asset:    asset,
		Required: required,
		Err:      cause,
	}
}

func (r *RealExecutor) details(resp *exchange.OrderResponse, cat models.OrderCategory) *models.TradeOrderDetails {
	now := r.now().UTC()
	typ := models.OrderType(resp.Type)
	switch resp.Type {
	case "LIMIT_MAKER":
		typ = models.OrderTypeLimit
	case "STOP_LOSS_LIMIT":
		typ = models.OrderTypeStopLossLimit
	}
	return &models.TradeOrderDetails{
		InternalID:         resp.ClientOrderID,
		ExchangeOrderID:    exchange.OrderIDString(resp.OrderID),
		ClientOrderID:      resp.ClientOrderID,
		Category:           cat,
		Type:               typ,
		Side:               models.OrderSide(resp.Side),
		Symbol:             resp.Symbol,
		RequestedQuantity:  resp.OrigQty,
		ExecutedPrice:      resp.AveragePrice(),
		ExecutedQuantity:   resp.ExecutedQty,
		CumulativeQuoteQty: resp.CummulativeQuoteQty,
		Commissions:        resp.Commissions(),
		Status:             exchange.MapOrderStatus(resp.Status),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func (r *RealExecutor) ExecuteMarketOrder(ctx context.Context, req OrderRequest) (*models.TradeOrderDetails, error) {
	return r.place(ctx, req, models.OrderTypeMarket, category(req, models.OrderCategoryEntry))
}

func (r *RealExecutor) ExecuteLimitOrder(ctx context.Context, req OrderRequest) (*models.TradeOrderDetails, error) {
	return r.place(ctx, req, models.OrderTypeLimit, category(req, models.OrderCategoryEntry))
}

func (r *RealExecutor) ExecuteStopLimitOrder(ctx context.Context, req OrderRequest) (*models.TradeOrderDetails, error) {
	return r.place(ctx, req, models.OrderTypeStopLossLimit, category(req, models.OrderCategoryStopLoss))
}

func (r *RealExecutor) CreateOCOOrder(ctx context.Context, req OCORequest) ([]models.TradeOrderDetails, error) {
	if err := validateOCO(req); err != nil {
		return nil, err
	}
	c, err := r.client(req.Credentials)
	if err != nil {
		return nil, err
	}

	resp, err := c.PlaceOCO(ctx, exchange.OCORequest{
		Symbol:            req.Symbol,
		Side:              req.Side,
		Quantity:          req.Quantity,
		Price:             req.TakeProfitPrice,
		StopPrice:         req.StopPrice,
		StopLimitPrice:    req.stopLimit(),
		ListClientOrderID: newClientOrderID(),
	})
	if err != nil {
		if exchange.IsInsufficientBalance(err) {
			tp := req.TakeProfitPrice
			return nil, insufficientFunds(req.Symbol, req.Side, req.Quantity, &tp, err)
		}
		return nil, apperror.OrderExecution("oco order failed", err)
	}

	group := exchange.OrderIDString(resp.OrderListID)
	var tp, sl *models.TradeOrderDetails
	for i := range resp.OrderReports {
		report := &resp.OrderReports[i]
		if report.Type == "STOP_LOSS_LIMIT" || report.Type == "STOP_LOSS" {
			sl = r.details(report, models.OrderCategoryStopLoss)
			stop := req.StopPrice
			sl.StopPrice = &stop
		} else {
			tp = r.details(report, models.OrderCategoryTakeProfit)
		}
	}
	if tp == nil || sl == nil {
		return nil, apperror.OrderExecution("oco acknowledgment is missing a leg", nil)
	}
	tp.OCOGroupID = group
	sl.OCOGroupID = group
	return []models.TradeOrderDetails{*tp, *sl}, nil
}

// PortfolioValue values the exchange account's balances in quoteAsset.
// Assets without a quote market are skipped.
func (r *RealExecutor) PortfolioValue(ctx context.Context, _ string, quoteAsset string, creds *credentials.Credential) (decimal.Decimal, error) {
	c, err := r.client(creds)
	if err != nil {
		return decimal.Zero, err
	}
	acct, err := c.Account(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, b := range acct.Balances {
		amount := b.Free.Add(b.Locked)
		if !amount.IsPositive() {
			continue
		}
		if strings.EqualFold(b.Asset, quoteAsset) {
			total = total.Add(amount)
			continue
		}
		price, err := r.market.LastPrice(ctx, b.Asset+quoteAsset)
		if err != nil {
			r.logger.Debug("Skipping unpriced asset", zap.String("asset", b.Asset), zap.Error(err))
			continue
		}
		total = total.Add(amount.Mul(price))
	}
	return total, nil
}
