package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeMode string

const (
	TradeModePaper TradeMode = "paper"
	TradeModeReal  TradeMode = "real"
)

// ParseTradeMode accepts any casing.
func ParseTradeMode(s string) (TradeMode, bool) {
	switch TradeMode(normalizeEnum(s)) {
	case TradeModePaper:
		return TradeModePaper, true
	case TradeModeReal:
		return TradeModeReal, true
	default:
		return "", false
	}
}

type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

type OrderCategory string

const (
	OrderCategoryEntry       OrderCategory = "ENTRY"
	OrderCategoryTakeProfit  OrderCategory = "TAKE_PROFIT"
	OrderCategoryStopLoss    OrderCategory = "STOP_LOSS"
	OrderCategoryOCO         OrderCategory = "OCO_ORDER"
	OrderCategoryManualClose OrderCategory = "MANUAL_CLOSE"
)

type OrderType string

const (
	OrderTypeMarket        OrderType = "MARKET"
	OrderTypeLimit         OrderType = "LIMIT"
	OrderTypeStopLossLimit OrderType = "STOP_LOSS_LIMIT"
	OrderTypeOCO           OrderType = "OCO"
)

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

type Commission struct {
	Amount decimal.Decimal `json:"amount"`
	Asset  string          `json:"asset"`
}

// TradeOrderDetails describes one order as acknowledged by the executor.
type TradeOrderDetails struct {
	InternalID         string           `json:"internal_id"`
	ExchangeOrderID    string           `json:"exchange_order_id,omitempty"`
	ClientOrderID      string           `json:"client_order_id,omitempty"`
	Category           OrderCategory    `json:"category"`
	Type               OrderType        `json:"type"`
	Side               OrderSide        `json:"side"`
	Symbol             string           `json:"symbol"`
	RequestedPrice     *decimal.Decimal `json:"requested_price,omitempty"`
	RequestedQuantity  decimal.Decimal  `json:"requested_quantity"`
	StopPrice          *decimal.Decimal `json:"stop_price,omitempty"`
	ExecutedPrice      decimal.Decimal  `json:"executed_price"`
	ExecutedQuantity   decimal.Decimal  `json:"executed_quantity"`
	CumulativeQuoteQty decimal.Decimal  `json:"cumulative_quote_qty"`
	Commissions        []Commission     `json:"commissions,omitempty"`
	Status             OrderStatus      `json:"status"`
	OCOGroupID         string           `json:"oco_group_id,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Trade is an executed position. It has exactly one entry order.
type Trade struct {
	ID             string              `json:"id"`
	UserID         string              `json:"user_id"`
	Symbol         string              `json:"symbol"`
	Side           OrderSide           `json:"side"`
	Mode           TradeMode           `json:"mode"`
	EntryOrder     TradeOrderDetails   `json:"entry_order"`
	ExitOrders     []TradeOrderDetails `json:"exit_orders,omitempty"`
	PositionStatus PositionStatus      `json:"position_status"`
	ClosingReason  string              `json:"closing_reason,omitempty"`
	RealizedPnL    *decimal.Decimal    `json:"realized_pnl,omitempty"`
	RealizedPnLPct *decimal.Decimal    `json:"realized_pnl_pct,omitempty"`
	CapitalUSD     decimal.Decimal     `json:"capital_usd"`
	OpportunityID  string              `json:"opportunity_id"`
	StrategyID     string              `json:"strategy_id"`
	OpenedAt       time.Time           `json:"opened_at"`
	ClosedAt       *time.Time          `json:"closed_at,omitempty"`
}

// TradeFilter narrows trade queries. Empty fields match all.
type TradeFilter struct {
	UserID         string
	Mode           TradeMode
	PositionStatus PositionStatus
	Symbol         string
	OpportunityID  string
}

// Matches reports whether t satisfies the filter.
func (f TradeFilter) Matches(t *Trade) bool {
	switch {
	case f.UserID != "" && t.UserID != f.UserID:
		return false
	case f.Mode != "" && t.Mode != f.Mode:
		return false
	case f.PositionStatus != "" && t.PositionStatus != f.PositionStatus:
		return false
	case f.Symbol != "" && t.Symbol != f.Symbol:
		return false
	case f.OpportunityID != "" && t.OpportunityID != f.OpportunityID:
		return false
	}
	return true
}
