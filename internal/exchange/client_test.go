package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const filledOrderJSON = `{
	"symbol": "BTCUSDT",
	"orderId": 28,
	"clientOrderId": "entry-1",
	"transactTime": 1507725176595,
	"price": "0.00000000",
	"origQty": "0.00200000",
	"executedQty": "0.00200000",
	"cummulativeQuoteQty": "100.00000000",
	"status": "FILLED",
	"type": "MARKET",
	"side": "BUY",
	"fills": [
		{"price": "49000.00", "qty": "0.00100000", "commission": "0.00000100", "commissionAsset": "BTC"},
		{"price": "51000.00", "qty": "0.00100000", "commission": "0.00000100", "commissionAsset": "BTC"}
	]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{
		BaseURL:     server.URL,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	}, Credentials{APIKey: "key", APISecret: "secret"})
}

func marketOrder() OrderRequest {
	return OrderRequest{
		Symbol:        "BTC/USDT",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeMarket,
		Quantity:      decimal.RequireFromString("0.002"),
		ClientOrderID: "entry-1",
	}
}

func TestPlaceOrder_RetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"code":-1000,"msg":"internal"}`))
			return
		}
		_, _ = w.Write([]byte(filledOrderJSON))
	})

	resp, err := client.PlaceOrder(context.Background(), marketOrder())
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Equal(t, models.OrderStatusFilled, MapOrderStatus(resp.Status))
	assert.True(t, resp.AveragePrice().Equal(decimal.NewFromInt(50000)))
	require.Len(t, resp.Commissions(), 1)
	assert.Equal(t, "BTC", resp.Commissions()[0].Asset)
	assert.True(t, resp.Commissions()[0].Amount.Equal(decimal.RequireFromString("0.000002")))
}

func TestPlaceOrder_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})

	_, err := client.PlaceOrder(context.Background(), marketOrder())
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindExternalAPI, appErr.Kind)
	assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)
	assert.Contains(t, appErr.Message, "Invalid symbol.")
}

func TestPlaceOrder_ExhaustedRetriesReturnLastError(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.PlaceOrder(context.Background(), marketOrder())
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.True(t, IsRetryable(err))
}

func TestPlaceOrder_SignsRequest(t *testing.T) {
	var clientIDs []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		require.NoError(t, r.ParseForm())

		form := url.Values{}
		for k, v := range r.PostForm {
			if k != "signature" {
				form[k] = v
			}
		}
		assert.Equal(t, sign(form.Encode(), "secret"), r.PostForm.Get("signature"))
		assert.Equal(t, "BTCUSDT", r.PostForm.Get("symbol"))
		assert.Equal(t, "MARKET", r.PostForm.Get("type"))
		assert.Equal(t, "0.002", r.PostForm.Get("quantity"))
		assert.Empty(t, r.PostForm.Get("price"))
		clientIDs = append(clientIDs, r.PostForm.Get("newClientOrderId"))
		_, _ = w.Write([]byte(filledOrderJSON))
	})

	_, err := client.PlaceOrder(context.Background(), marketOrder())
	require.NoError(t, err)
	assert.Equal(t, []string{"entry-1"}, clientIDs)
}

func TestPlaceOrder_RequiresCredentials(t *testing.T) {
	client := New(Config{BaseURL: "http://127.0.0.1:1"}, Credentials{})

	_, err := client.PlaceOrder(context.Background(), marketOrder())
	assert.True(t, apperror.HasKind(err, apperror.KindCredential))
}

func TestPlaceOrder_ValidatesLimitPrice(t *testing.T) {
	client := New(Config{}, Credentials{APIKey: "k", APISecret: "s"})
	req := marketOrder()
	req.Type = models.OrderTypeLimit

	_, err := client.PlaceOrder(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive price")
}

func TestPlaceOCO(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/order/oco", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "SELL", r.PostForm.Get("side"))
		assert.Equal(t, "55000", r.PostForm.Get("price"))
		assert.Equal(t, "48000", r.PostForm.Get("stopPrice"))
		assert.Equal(t, "48000", r.PostForm.Get("stopLimitPrice"))
		_, _ = w.Write([]byte(`{
			"orderListId": 7,
			"listClientOrderId": "exit-1",
			"listOrderStatus": "EXECUTING",
			"orderReports": [
				{"orderId": 41, "symbol": "BTCUSDT", "type": "STOP_LOSS_LIMIT", "side": "SELL", "status": "NEW", "origQty": "0.002", "price": "48000", "stopPrice": "48000"},
				{"orderId": 42, "symbol": "BTCUSDT", "type": "LIMIT_MAKER", "side": "SELL", "status": "NEW", "origQty": "0.002", "price": "55000"}
			]
		}`))
	})

	resp, err := client.PlaceOCO(context.Background(), OCORequest{
		Symbol:    "BTCUSDT",
		Side:      models.OrderSideSell,
		Quantity:  decimal.RequireFromString("0.002"),
		Price:     decimal.NewFromInt(55000),
		StopPrice: decimal.NewFromInt(48000),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 7, resp.OrderListID)
	require.Len(t, resp.OrderReports, 2)
	assert.Equal(t, "STOP_LOSS_LIMIT", resp.OrderReports[0].Type)
}

func TestAccount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		_, _ = w.Write([]byte(`{"canTrade": true, "balances": [{"asset": "USDT", "free": "5000", "locked": "0"}]}`))
	})

	acct, err := client.Account(context.Background())
	require.NoError(t, err)
	assert.True(t, acct.CanTrade)
	require.Len(t, acct.Balances, 1)
	assert.True(t, acct.Balances[0].Free.Equal(decimal.NewFromInt(5000)))
}

func TestMapOrderStatus(t *testing.T) {
	assert.Equal(t, models.OrderStatusNew, MapOrderStatus("NEW"))
	assert.Equal(t, models.OrderStatusPartiallyFilled, MapOrderStatus("PARTIALLY_FILLED"))
	assert.Equal(t, models.OrderStatusFilled, MapOrderStatus("filled"))
	assert.Equal(t, models.OrderStatusCanceled, MapOrderStatus("CANCELED"))
	assert.Equal(t, models.OrderStatusExpired, MapOrderStatus("EXPIRED"))
	assert.Equal(t, models.OrderStatusRejected, MapOrderStatus("REJECTED"))
}
