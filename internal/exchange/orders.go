package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/irfndi/tradepilot/internal/models"
	"github.com/shopspring/decimal"
)

// OrderRequest is a single spot order.
type OrderRequest struct {
	Symbol        string
	Side          models.OrderSide
	Type          models.OrderType
	Quantity      decimal.Decimal
	Price         *decimal.Decimal
	StopPrice     *decimal.Decimal
	ClientOrderID string
}

// OCORequest places a take-profit limit leg and a stop-limit leg that
// cancel each other.
type OCORequest struct {
	Symbol            string
	Side              models.OrderSide
	Quantity          decimal.Decimal
	Price             decimal.Decimal
	StopPrice         decimal.Decimal
	StopLimitPrice    decimal.Decimal
	ListClientOrderID string
}

type Fill struct {
	Price           decimal.Decimal `json:"price"`
	Qty             decimal.Decimal `json:"qty"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commissionAsset"`
}

type OrderResponse struct {
	Symbol              string          `json:"symbol"`
	OrderID             int64           `json:"orderId"`
	OrderListID         int64           `json:"orderListId"`
	ClientOrderID       string          `json:"clientOrderId"`
	TransactTime        int64           `json:"transactTime"`
	Price               decimal.Decimal `json:"price"`
	OrigQty             decimal.Decimal `json:"origQty"`
	ExecutedQty         decimal.Decimal `json:"executedQty"`
	CummulativeQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
	Status              string          `json:"status"`
	Type                string          `json:"type"`
	Side                string          `json:"side"`
	StopPrice           decimal.Decimal `json:"stopPrice"`
	Fills               []Fill          `json:"fills"`
}

// AveragePrice is the quantity-weighted fill price, falling back to the
// quote/base ratio and then the limit price.
func (r *OrderResponse) AveragePrice() decimal.Decimal {
	qty := decimal.Zero
	notional := decimal.Zero
	for _, f := range r.Fills {
		qty = qty.Add(f.Qty)
		notional = notional.Add(f.Price.Mul(f.Qty))
	}
	if qty.IsPositive() {
		return notional.Div(qty)
	}
	if r.ExecutedQty.IsPositive() && r.CummulativeQuoteQty.IsPositive() {
		return r.CummulativeQuoteQty.Div(r.ExecutedQty)
	}
	return r.Price
}

// Commissions groups fill commissions by asset.
func (r *OrderResponse) Commissions() []models.Commission {
	byAsset := map[string]decimal.Decimal{}
	var order []string
	for _, f := range r.Fills {
		if _, seen := byAsset[f.CommissionAsset]; !seen {
			order = append(order, f.CommissionAsset)
		}
		byAsset[f.CommissionAsset] = byAsset[f.CommissionAsset].Add(f.Commission)
	}
	out := make([]models.Commission, 0, len(order))
	for _, asset := range order {
		out = append(out, models.Commission{Asset: asset, Amount: byAsset[asset]})
	}
	return out
}

type OCOResponse struct {
	OrderListID       int64           `json:"orderListId"`
	ListClientOrderID string          `json:"listClientOrderId"`
	ListOrderStatus   string          `json:"listOrderStatus"`
	TransactionTime   int64           `json:"transactionTime"`
	OrderReports      []OrderResponse `json:"orderReports"`
}

type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

type Account struct {
	CanTrade   bool      `json:"canTrade"`
	UpdateTime int64     `json:"updateTime"`
	Balances   []Balance `json:"balances"`
}

// MapOrderStatus converts exchange status strings to the internal enum.
func MapOrderStatus(status string) models.OrderStatus {
	switch strings.ToUpper(status) {
	case "NEW", "PENDING_NEW":
		return models.OrderStatusNew
	case "PARTIALLY_FILLED":
		return models.OrderStatusPartiallyFilled
	case "FILLED":
		return models.OrderStatusFilled
	case "CANCELED", "PENDING_CANCEL":
		return models.OrderStatusCanceled
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return models.OrderStatusExpired
	default:
		return models.OrderStatusRejected
	}
}

func exchangeOrderType(t models.OrderType) (string, error) {
	switch t {
	case models.OrderTypeMarket:
		return "MARKET", nil
	case models.OrderTypeLimit:
		return "LIMIT", nil
	case models.OrderTypeStopLossLimit:
		return "STOP_LOSS_LIMIT", nil
	default:
		return "", fmt.Errorf("unsupported order type %q", t)
	}
}

// PlaceOrder submits a market, limit or stop-limit order and returns the
// exchange acknowledgment.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	ordType, err := exchangeOrderType(req.Type)
	if err != nil {
		return nil, err
	}
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("quantity must be positive, got %s", req.Quantity)
	}

	params := url.Values{}
	params.Set("symbol", NormalizeSymbol(req.Symbol))
	params.Set("side", string(req.Side))
	params.Set("type", ordType)
	params.Set("quantity", req.Quantity.String())
	params.Set("newOrderRespType", "FULL")

	if req.Type == models.OrderTypeLimit || req.Type == models.OrderTypeStopLossLimit {
		if req.Price == nil || !req.Price.IsPositive() {
			return nil, fmt.Errorf("%s order requires a positive price", ordType)
		}
		params.Set("price", req.Price.String())
		params.Set("timeInForce", "GTC")
	}
	if req.Type == models.OrderTypeStopLossLimit {
		if req.StopPrice == nil || !req.StopPrice.IsPositive() {
			return nil, fmt.Errorf("%s order requires a positive stop price", ordType)
		}
		params.Set("stopPrice", req.StopPrice.String())
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return nil, err
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	return &resp, nil
}

// PlaceOCO submits a linked take-profit/stop-loss pair.
func (c *Client) PlaceOCO(ctx context.Context, req OCORequest) (*OCOResponse, error) {
	if !req.Quantity.IsPositive() || !req.Price.IsPositive() || !req.StopPrice.IsPositive() {
		return nil, fmt.Errorf("oco order requires positive quantity, price and stop price")
	}
	stopLimit := req.StopLimitPrice
	if !stopLimit.IsPositive() {
		stopLimit = req.StopPrice
	}

	params := url.Values{}
	params.Set("symbol", NormalizeSymbol(req.Symbol))
	params.Set("side", string(req.Side))
	params.Set("quantity", req.Quantity.String())
	params.Set("price", req.Price.String())
	params.Set("stopPrice", req.StopPrice.String())
	params.Set("stopLimitPrice", stopLimit.String())
	params.Set("stopLimitTimeInForce", "GTC")
	if req.ListClientOrderID != "" {
		params.Set("listClientOrderId", req.ListClientOrderID)
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order/oco", params)
	if err != nil {
		return nil, err
	}

	var resp OCOResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode oco response: %w", err)
	}
	return &resp, nil
}

// Account returns balances for the credentialed account.
func (c *Client) Account(ctx context.Context) (*Account, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, err
	}
	var acct Account
	if err := json.Unmarshal(body, &acct); err != nil {
		return nil, fmt.Errorf("failed to decode account: %w", err)
	}
	return &acct, nil
}

// OrderIDString formats a numeric exchange id.
func OrderIDString(id int64) string {
	return strconv.FormatInt(id, 10)
}
