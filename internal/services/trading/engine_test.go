package trading

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/credentials"
	"github.com/irfndi/tradepilot/internal/exchange"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/irfndi/tradepilot/internal/services/distributedlock"
	"github.com/irfndi/tradepilot/internal/services/execution"
	"github.com/irfndi/tradepilot/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixedMarket map[string]decimal.Decimal

func (m fixedMarket) LastPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := m[symbol]
	if !ok {
		return decimal.Zero, errors.New("no market")
	}
	return p, nil
}

func (m fixedMarket) Candles(context.Context, string, string, int) ([]exchange.Candle, error) {
	return nil, nil
}

// fakeExchange records orders and fills them at a fixed price.
type fakeExchange struct {
	portfolio decimal.Decimal
	entryErr  error
	ocoErr    error
	orders    []execution.OrderRequest
	ocos      []execution.OCORequest
}

func (f *fakeExchange) ExecuteMarketOrder(_ context.Context, req execution.OrderRequest) (*models.TradeOrderDetails, error) {
	if f.entryErr != nil {
		return nil, f.entryErr
	}
	f.orders = append(f.orders, req)
	return &models.TradeOrderDetails{
		InternalID:        "int-1",
		ExchangeOrderID:   "ex-1",
		Category:          req.Category,
		Type:              models.OrderTypeMarket,
		Side:              req.Side,
		Symbol:            req.Symbol,
		RequestedQuantity: req.Quantity,
		ExecutedQuantity:  req.Quantity,
		ExecutedPrice:     d("25000"),
		Status:            models.OrderStatusFilled,
	}, nil
}

func (f *fakeExchange) ExecuteLimitOrder(context.Context, execution.OrderRequest) (*models.TradeOrderDetails, error) {
	return nil, errors.New("not used")
}

func (f *fakeExchange) ExecuteStopLimitOrder(context.Context, execution.OrderRequest) (*models.TradeOrderDetails, error) {
	return nil, errors.New("not used")
}

func (f *fakeExchange) CreateOCOOrder(_ context.Context, req execution.OCORequest) ([]models.TradeOrderDetails, error) {
	if f.ocoErr != nil {
		return nil, f.ocoErr
	}
	f.ocos = append(f.ocos, req)
	return []models.TradeOrderDetails{
		{Category: models.OrderCategoryTakeProfit, OCOGroupID: "g1", Status: models.OrderStatusNew},
		{Category: models.OrderCategoryStopLoss, OCOGroupID: "g1", Status: models.OrderStatusNew},
	}, nil
}

func (f *fakeExchange) PortfolioValue(context.Context, string, string, *credentials.Credential) (decimal.Decimal, error) {
	return f.portfolio, nil
}

// failingStore rejects writes to one collection.
type failingStore struct {
	storage.Store
	collection string
}

func (s *failingStore) Upsert(ctx context.Context, collection, id, owner string, doc any) error {
	if collection == s.collection {
		return errors.New("disk full")
	}
	return s.Store.Upsert(ctx, collection, id, owner, doc)
}

type harness struct {
	repo   *storage.Repository
	users  *UserConfigService
	engine *Engine
	paper  *execution.PaperExecutor
	real   *fakeExchange
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, store storage.Store) *harness {
	t.Helper()
	if store == nil {
		store = storage.NewMemoryStore()
	}
	repo := storage.NewRepository(store)
	market := fixedMarket{"BTCUSDT": d("25000")}
	locker := distributedlock.NewLocalLocker(distributedlock.Options{WaitTimeout: time.Second})
	resolver := credentials.Static{"binance/default": {Service: "binance", Label: "default", APIKey: "k", APISecret: "s"}}

	users := NewUserConfigService(repo, resolver, locker, Defaults{
		QuoteAsset:              "USDT",
		Exchange:                "binance",
		CredentialLabel:         "default",
		RiskProfile:             models.RiskProfile{PerTradeCapitalRiskPct: d("0.02"), DailyCapitalRiskPct: d("0.10")},
		MaxConcurrentOperations: 5,
	}, nil)
	users.now = func() time.Time { return testNow }

	paper := execution.NewPaperExecutor(execution.NewLedger(map[string]decimal.Decimal{"USDT": d("10000")}), market, 0, nil)
	exch := &fakeExchange{portfolio: d("5000")}

	engine := NewEngine(repo, users, locker, execution.NewRouter(paper, exch), market, resolver, nil)
	engine.now = func() time.Time { return testNow }
	return &harness{repo: repo, users: users, engine: engine, paper: paper, real: exch}
}

func (h *harness) seedUser(t *testing.T, mutate func(*models.UserConfiguration)) {
	t.Helper()
	cfg, err := h.users.Get(context.Background(), "u1")
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, h.repo.SaveUserConfig(context.Background(), cfg))
}

func (h *harness) seedOpportunity(t *testing.T, status models.OpportunityStatus) *models.Opportunity {
	t.Helper()
	tp, sl := d("27000"), d("24000")
	opp := &models.Opportunity{
		ID:         "opp-1",
		UserID:     "u1",
		Symbol:     "BTCUSDT",
		Exchange:   "binance",
		SourceType: models.SourceTypeStrategy,
		StrategyID: "s1",
		Status:     status,
		AIAnalysis: &models.AIAnalysisResult{
			ID:              "a1",
			Confidence:      0.92,
			SuggestedAction: models.SuggestedActionBuy,
			Params:          models.RecommendedTradeParams{TakeProfit: &tp, StopLoss: &sl},
		},
	}
	require.NoError(t, h.repo.SaveOpportunity(context.Background(), opp))
	return opp
}

func activeReal(cfg *models.UserConfiguration) {
	cfg.RealTrading.RealTradingModeActive = true
	cfg.RealTrading.DailyCapitalRiskedUSD = d("300")
	cfg.RealTrading.LastDailyReset = "2026-03-09"
}

func TestExecuteReal_ResetsCounterSizesAndOpens(t *testing.T) {
	h := newHarness(t, nil)
	h.seedUser(t, activeReal)
	h.seedOpportunity(t, models.OpportunityStatusConfirmed)

	trade, err := h.engine.ExecuteTradeFromConfirmedOpportunity(context.Background(), "opp-1")
	require.NoError(t, err)

	assert.Equal(t, models.PositionStatusOpen, trade.PositionStatus)
	assert.Equal(t, models.TradeModeReal, trade.Mode)
	assert.Equal(t, models.OrderSideBuy, trade.Side)
	assert.True(t, trade.CapitalUSD.Equal(d("100")))
	assert.True(t, trade.EntryOrder.RequestedQuantity.Equal(d("0.004")), trade.EntryOrder.RequestedQuantity.String())
	require.Len(t, trade.ExitOrders, 2)

	require.Len(t, h.real.orders, 1)
	assert.NotNil(t, h.real.orders[0].Credentials)
	require.Len(t, h.real.ocos, 1)
	assert.Equal(t, models.OrderSideSell, h.real.ocos[0].Side)
	assert.True(t, h.real.ocos[0].TakeProfitPrice.Equal(d("27000")))

	cfg, err := h.repo.GetUserConfig(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", cfg.RealTrading.LastDailyReset)
	assert.True(t, cfg.RealTrading.DailyCapitalRiskedUSD.Equal(d("100")), "stale 300 was reset before adding 100")
	assert.Equal(t, 1, cfg.RealTrading.RealTradesExecutedCount)

	opp, err := h.repo.GetOpportunity(context.Background(), "opp-1")
	require.NoError(t, err)
	assert.Equal(t, models.OpportunityStatusConverted, opp.Status)
	assert.Equal(t, []string{trade.ID}, opp.TradeIDs)
}

func TestExecuteReal_Idempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.seedUser(t, activeReal)
	h.seedOpportunity(t, models.OpportunityStatusConfirmed)

	_, err := h.engine.ExecuteTradeFromConfirmedOpportunity(context.Background(), "opp-1")
	require.NoError(t, err)
	before, err := h.repo.GetUserConfig(context.Background(), "u1")
	require.NoError(t, err)

	_, err = h.engine.ExecuteTradeFromConfirmedOpportunity(context.Background(), "opp-1")
	assert.True(t, apperror.HasKind(err, apperror.KindInvalidState))

	trades, err := h.repo.FindTrades(context.Background(), models.TradeFilter{OpportunityID: "opp-1"})
	require.NoError(t, err)
	assert.Len(t, trades, 1)
	assert.Len(t, h.real.orders, 1)

	after, err := h.repo.GetUserConfig(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, before.RealTrading.DailyCapitalRiskedUSD.Equal(after.RealTrading.DailyCapitalRiskedUSD))
	assert.Equal(t, before.RealTrading.RealTradesExecutedCount, after.RealTrading.RealTradesExecutedCount)
}

func TestExecuteReal_RequiresActiveMode(t *testing.T) {
	h := newHarness(t, nil)
	h.seedUser(t, nil)
	h.seedOpportunity(t, models.OpportunityStatusConfirmed)

	_, err := h.engine.ExecuteTradeFromConfirmedOpportunity(context.Background(), "opp-1")
	assert.True(t, apperror.HasKind(err, apperror.KindForbidden))
	assert.Empty(t, h.real.orders)
}

func TestExecuteReal_DailyCapBlocks(t *testing.T) {
	h := newHarness(t, nil)
	h.seedUser(t, func(cfg *models.UserConfiguration) {
		cfg.RealTrading.RealTradingModeActive = true
		cfg.RealTrading.DailyCapitalRiskedUSD = d("450")
		cfg.RealTrading.LastDailyReset = "2026-03-10"
	})
	h.seedOpportunity(t, models.OpportunityStatusConfirmed)

	_, err := h.engine.ExecuteTradeFromConfirmedOpportunity(context.Background(), "opp-1")
	assert.True(t, apperror.HasKind(err, apperror.KindRealTradeLimit))
	assert.Empty(t, h.real.orders)
}

func TestExecuteReal_ConcurrentConfirmationsShareDailyBudget(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.seedUser(t, func(cfg *models.UserConfiguration) {
		cfg.RealTrading.RealTradingModeActive = true
		cfg.RealTrading.LastDailyReset = "2026-03-10"
		// 2% of 5000 per trade against a 2% daily budget fits exactly one trade.
		cfg.RiskProfile.DailyCapitalRiskPct = d("0.02")
	})
	first := h.seedOpportunity(t, models.OpportunityStatusConfirmed)
	second := *first
	second.ID = "opp-2"
	require.NoError(t, h.repo.SaveOpportunity(ctx, &second))

	var (
		wg     sync.WaitGroup
		trades = make([]*models.Trade, 2)
		errs   = make([]error, 2)
	)
	for i, id := range []string{"opp-1", "opp-2"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			trades[i], errs[i] = h.engine.ExecuteTradeFromConfirmedOpportunity(ctx, id)
		}(i, id)
	}
	wg.Wait()

	var opened, limited int
	var capital decimal.Decimal
	for i := range errs {
		switch {
		case errs[i] == nil:
			opened++
			capital = trades[i].CapitalUSD
		case apperror.HasKind(errs[i], apperror.KindRealTradeLimit):
			limited++
		default:
			t.Fatalf("unexpected error: %v", errs[i])
		}
	}
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, limited)
	assert.Len(t, h.real.orders, 1)

	stored, err := h.repo.FindTrades(ctx, models.TradeFilter{UserID: "u1", Mode: models.TradeModeReal})
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	cfg, err := h.repo.GetUserConfig(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, cfg.RealTrading.DailyCapitalRiskedUSD.Equal(capital),
		"risked %s, capital %s", cfg.RealTrading.DailyCapitalRiskedUSD, capital)
	assert.True(t, capital.Equal(d("100")))
	assert.Equal(t, 1, cfg.RealTrading.RealTradesExecutedCount)
}

func TestExecuteReal_EntryFailureLeavesState(t *testing.T) {
	h := newHarness(t, nil)
	h.seedUser(t, activeReal)
	h.seedOpportunity(t, models.OpportunityStatusConfirmed)
	h.real.entryErr = apperror.OrderExecution("market order failed", apperror.ExternalAPI("binance", 400, "bad lot size"))

	_, err := h.engine.ExecuteTradeFromConfirmedOpportunity(context.Background(), "opp-1")
	assert.True(t, apperror.HasKind(err, apperror.KindOrderExecution))

	cfg, err := h.repo.GetUserConfig(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.RealTrading.RealTradesExecutedCount)
	assert.True(t, cfg.RealTrading.DailyCapitalRiskedUSD.IsZero(), "only the daily reset was persisted")

	opp, err := h.repo.GetOpportunity(context.Background(), "opp-1")
	require.NoError(t, err)
	assert.Equal(t, models.OpportunityStatusConfirmed, opp.Status)
}

func TestExecuteReal_OCOFailureStillOpens(t *testing.T) {
	h := newHarness(t, nil)
	h.seedUser(t, activeReal)
	h.seedOpportunity(t, models.OpportunityStatusConfirmed)
	h.real.ocoErr = errors.New("oco rejected")

	trade, err := h.engine.ExecuteTradeFromConfirmedOpportunity(context.Background(), "opp-1")
	require.NoError(t, err)
	assert.Empty(t, trade.ExitOrders)
	assert.Equal(t, models.PositionStatusOpen, trade.PositionStatus)
}

func TestExecuteReal_PersistFailureNeedsReconciliation(t *testing.T) {
	h := newHarness(t, &failingStore{Store: storage.NewMemoryStore(), collection: storage.CollectionTrades})
	h.seedUser(t, activeReal)
	h.seedOpportunity(t, models.OpportunityStatusConfirmed)

	_, err := h.engine.ExecuteTradeFromConfirmedOpportunity(context.Background(), "opp-1")
	require.Error(t, err)
	assert.True(t, apperror.HasKind(err, apperror.KindReconciliation))
	assert.Contains(t, err.Error(), "ex-1")
	assert.Len(t, h.real.orders, 1, "never retried")

	opp, err := h.repo.GetOpportunity(context.Background(), "opp-1")
	require.NoError(t, err)
	assert.Equal(t, models.OpportunityStatusConfirmed, opp.Status)
}

func TestExecutePaper(t *testing.T) {
	h := newHarness(t, nil)
	h.seedOpportunity(t, models.OpportunityStatusAnalyzed)

	trade, err := h.engine.ExecutePaperTrade(context.Background(), "opp-1")
	require.NoError(t, err)
	assert.Equal(t, models.TradeModePaper, trade.Mode)
	assert.True(t, trade.CapitalUSD.Equal(d("200")))
	assert.True(t, trade.EntryOrder.ExecutedQuantity.Equal(d("0.008")))
	require.Len(t, trade.ExitOrders, 2)
	assert.Empty(t, h.real.orders)

	var usdt execution.Balance
	for _, b := range h.paper.Ledger().Balances("u1") {
		if b.Asset == "USDT" {
			usdt = b
		}
	}
	assert.True(t, usdt.Free.Equal(d("9800")))

	cfg, err := h.users.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.RealTrading.RealTradesExecutedCount, "paper trades never touch real counters")

	_, err = h.engine.ExecutePaperTrade(context.Background(), "opp-1")
	assert.True(t, apperror.HasKind(err, apperror.KindInvalidState))
}

func TestExecute_WrongStateOrMissing(t *testing.T) {
	h := newHarness(t, nil)
	h.seedOpportunity(t, models.OpportunityStatusPendingUserConfirmationReal)

	_, err := h.engine.ExecuteTradeFromConfirmedOpportunity(context.Background(), "opp-1")
	assert.True(t, apperror.HasKind(err, apperror.KindInvalidState))
	_, err = h.engine.ExecutePaperTrade(context.Background(), "opp-1")
	assert.True(t, apperror.HasKind(err, apperror.KindInvalidState))

	_, err = h.engine.ExecutePaperTrade(context.Background(), "missing")
	assert.True(t, apperror.HasKind(err, apperror.KindNotFound))
}

func TestExecuteMarketOrder(t *testing.T) {
	h := newHarness(t, nil)

	order, err := h.engine.ExecuteMarketOrder(context.Background(), "u1", MarketOrderRequest{
		Symbol: "BTCUSDT", Side: models.OrderSideBuy, Quantity: d("0.01"), Mode: models.TradeModePaper,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, order.Status)

	_, err = h.engine.ExecuteMarketOrder(context.Background(), "u1", MarketOrderRequest{
		Symbol: "BTCUSDT", Side: models.OrderSideBuy, Quantity: d("0.01"), Mode: models.TradeModeReal,
	})
	assert.True(t, apperror.HasKind(err, apperror.KindValidation))
}

func TestUserConfigService_ActivateDeactivate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	status, err := h.users.ActivateRealTrading(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, status.Active)

	status, err = h.users.DeactivateRealTrading(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.Active)

	h.seedUser(t, func(cfg *models.UserConfiguration) { cfg.CredentialLabel = "missing" })
	_, err = h.users.ActivateRealTrading(ctx, "u1")
	assert.True(t, apperror.HasKind(err, apperror.KindCredential))

	h.seedUser(t, func(cfg *models.UserConfiguration) {
		cfg.CredentialLabel = "default"
		cfg.RealTrading.MaxRealTrades = 2
		cfg.RealTrading.RealTradesExecutedCount = 2
	})
	_, err = h.users.ActivateRealTrading(ctx, "u1")
	assert.True(t, apperror.HasKind(err, apperror.KindRealTradeLimit))

	status, err = h.users.RealTradingStatus(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, status.LimitReached)
	assert.False(t, status.Active)
}
