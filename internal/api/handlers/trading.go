package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/irfndi/tradepilot/internal/services/execution"
	"github.com/irfndi/tradepilot/internal/services/trading"
	"github.com/shopspring/decimal"
)

type MarketOrderExecutor interface {
	ExecuteMarketOrder(ctx context.Context, userID string, req trading.MarketOrderRequest) (*models.TradeOrderDetails, error)
}

type TradeFinder interface {
	FindTrades(ctx context.Context, filter models.TradeFilter) ([]models.Trade, error)
}

type TradingHandler struct {
	engine MarketOrderExecutor
	ledger *execution.Ledger
	router *execution.Router
	trades TradeFinder
}

func NewTradingHandler(engine MarketOrderExecutor, ledger *execution.Ledger, router *execution.Router, trades TradeFinder) *TradingHandler {
	return &TradingHandler{engine: engine, ledger: ledger, router: router, trades: trades}
}

// MarketOrderRequest is the body of POST /trading/market-order.
type MarketOrderRequest struct {
	Symbol      string          `json:"symbol" binding:"required"`
	Side        string          `json:"side" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity" binding:"required"`
	TradingMode string          `json:"trading_mode"`
	APIKey      string          `json:"api_key"`
	APISecret   string          `json:"api_secret"`
}

func (r MarketOrderRequest) toEngine() (trading.MarketOrderRequest, error) {
	mode := models.TradeModePaper
	if r.TradingMode != "" {
		var ok bool
		if mode, ok = models.ParseTradeMode(r.TradingMode); !ok {
			return trading.MarketOrderRequest{}, apperror.Validation("unsupported trading_mode %q", r.TradingMode)
		}
	}
	side := models.OrderSide(strings.ToUpper(strings.TrimSpace(r.Side)))
	if side != models.OrderSideBuy && side != models.OrderSideSell {
		return trading.MarketOrderRequest{}, apperror.Validation("side must be BUY or SELL")
	}
	return trading.MarketOrderRequest{
		Symbol:    r.Symbol,
		Side:      side,
		Quantity:  r.Quantity,
		Mode:      mode,
		APIKey:    r.APIKey,
		APISecret: r.APISecret,
	}, nil
}

func (h *TradingHandler) MarketOrder(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var body MarketOrderRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBindError(c, err)
		return
	}
	req, err := body.toEngine()
	if err != nil {
		respondError(c, err)
		return
	}
	order, err := h.engine.ExecuteMarketOrder(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"trading_mode": req.Mode, "order": order})
}

func (h *TradingHandler) PaperBalances(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	respondOK(c, h.ledger.Balances(userID))
}

func (h *TradingHandler) ResetPaperBalances(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	respondOK(c, h.ledger.Reset(userID))
}

func (h *TradingHandler) SupportedModes(c *gin.Context) {
	respondOK(c, gin.H{"modes": h.router.SupportedModes()})
}

// Trades lists the caller's trades filtered by the mode, status, symbol and
// opportunity_id query parameters.
func (h *TradingHandler) Trades(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	filter := models.TradeFilter{
		UserID:         userID,
		PositionStatus: models.PositionStatus(strings.ToUpper(c.Query("status"))),
		Symbol:         strings.ToUpper(c.Query("symbol")),
		OpportunityID:  c.Query("opportunity_id"),
	}
	if raw := c.Query("mode"); raw != "" {
		mode, ok := models.ParseTradeMode(raw)
		if !ok {
			respondError(c, apperror.Validation("unsupported mode %q", raw))
			return
		}
		filter.Mode = mode
	}
	trades, err := h.trades.FindTrades(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, trades)
}
