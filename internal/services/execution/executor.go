// Package execution places orders either against a simulated per-user
// ledger (paper) or against the exchange (real).
package execution

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/credentials"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/shopspring/decimal"
)

// OrderRequest describes one order. Price is the limit price for limit and
// stop-limit orders; StopPrice is the trigger for stop-limit orders.
type OrderRequest struct {
	UserID        string
	Symbol        string
	Side          models.OrderSide
	Quantity      decimal.Decimal
	Price         *decimal.Decimal
	StopPrice     *decimal.Decimal
	Category      models.OrderCategory
	ClientOrderID string
	// Credentials are required in real mode and ignored in paper mode.
	Credentials *credentials.Credential
}

// OCORequest places a linked take-profit and stop-loss pair. Side is the
// exit side, opposite of the position's entry.
type OCORequest struct {
	UserID          string
	Symbol          string
	Side            models.OrderSide
	Quantity        decimal.Decimal
	TakeProfitPrice decimal.Decimal
	StopPrice       decimal.Decimal
	StopLimitPrice  *decimal.Decimal
	Credentials     *credentials.Credential
}

func (r OCORequest) stopLimit() decimal.Decimal {
	if r.StopLimitPrice != nil && r.StopLimitPrice.IsPositive() {
		return *r.StopLimitPrice
	}
	return r.StopPrice
}

type OrderExecutor interface {
	ExecuteMarketOrder(ctx context.Context, req OrderRequest) (*models.TradeOrderDetails, error)
	ExecuteLimitOrder(ctx context.Context, req OrderRequest) (*models.TradeOrderDetails, error)
	ExecuteStopLimitOrder(ctx context.Context, req OrderRequest) (*models.TradeOrderDetails, error)
	// CreateOCOOrder returns the two legs, TAKE_PROFIT first, sharing one
	// OCOGroupID.
	CreateOCOOrder(ctx context.Context, req OCORequest) ([]models.TradeOrderDetails, error)
}

// PortfolioValuer values a user's holdings in quoteAsset.
type PortfolioValuer interface {
	PortfolioValue(ctx context.Context, userID, quoteAsset string, creds *credentials.Credential) (decimal.Decimal, error)
}

type Executor interface {
	OrderExecutor
	PortfolioValuer
}

// Router selects the executor for a trading mode.
type Router struct {
	executors map[models.TradeMode]Executor
}

// NewRouter registers paper and, when non-nil, real execution.
func NewRouter(paper, live Executor) *Router {
	r := &Router{executors: make(map[models.TradeMode]Executor)}
	if paper != nil {
		r.executors[models.TradeModePaper] = paper
	}
	if live != nil {
		r.executors[models.TradeModeReal] = live
	}
	return r
}

func (r *Router) For(mode models.TradeMode) (Executor, error) {
	e, ok := r.executors[mode]
	if !ok {
		return nil, apperror.Validation("unsupported trading mode %q", mode)
	}
	return e, nil
}

func (r *Router) SupportedModes() []models.TradeMode {
	out := make([]models.TradeMode, 0, len(r.executors))
	for m := range r.executors {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func validate(req OrderRequest) error {
	if req.Symbol == "" {
		return apperror.Validation("symbol is required")
	}
	if req.Side != models.OrderSideBuy && req.Side != models.OrderSideSell {
		return apperror.Validation("invalid order side %q", req.Side)
	}
	if !req.Quantity.IsPositive() {
		return apperror.Validation("quantity must be positive, got %s", req.Quantity)
	}
	return nil
}

func validateOCO(req OCORequest) error {
	if req.Symbol == "" {
		return apperror.Validation("symbol is required")
	}
	if !req.Quantity.IsPositive() || !req.TakeProfitPrice.IsPositive() || !req.StopPrice.IsPositive() {
		return apperror.Validation("oco order requires positive quantity, take-profit and stop prices")
	}
	return nil
}

func category(req OrderRequest, def models.OrderCategory) models.OrderCategory {
	if req.Category != "" {
		return req.Category
	}
	return def
}

func newClientOrderID() string {
	return "tp" + strings.ReplaceAll(uuid.NewString(), "-", "")[:30]
}
