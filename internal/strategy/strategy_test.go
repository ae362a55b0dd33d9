package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/exchange"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// candlesFrom builds hourly candles with the given closes.
func candlesFrom(closes []float64) []exchange.Candle {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	out := make([]exchange.Candle, len(closes))
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		out[i] = exchange.Candle{OpenTime: base.Add(time.Duration(i) * time.Hour), Open: d, High: d, Low: d, Close: d, Volume: decimal.NewFromInt(1)}
	}
	return out
}

// selloff oscillates then falls hard, leaving RSI at the bottom of its range.
func selloff() []float64 {
	var closes []float64
	for i := range 40 {
		closes = append(closes, 100+float64(i%4))
	}
	for i := range 20 {
		closes = append(closes, 100-float64(i)*2)
	}
	return closes
}

func rally() []float64 {
	var closes []float64
	for i := range 40 {
		closes = append(closes, 100+float64(i%4))
	}
	for i := range 20 {
		closes = append(closes, 100+float64(i)*2)
	}
	return closes
}

func TestRSIMeanReversion_Oversold(t *testing.T) {
	sig, err := RSIMeanReversion{}.Evaluate(context.Background(), MarketSnapshot{Symbol: "BTCUSDT", Interval: "1h", Candles: candlesFrom(selloff())}, nil)
	require.NoError(t, err)
	require.NotNil(t, sig)

	assert.Equal(t, models.SignalDirectionBuy, sig.Direction)
	assert.GreaterOrEqual(t, sig.Confidence, 0.5)
	assert.LessOrEqual(t, sig.Confidence, 1.0)
	require.NotNil(t, sig.EntryPrice)
	assert.True(t, sig.StopLoss.LessThan(*sig.EntryPrice))
	assert.True(t, sig.TakeProfit.GreaterThan(*sig.EntryPrice))
	assert.Equal(t, "1h", sig.Timeframe)
}

func TestRSIMeanReversion_Overbought(t *testing.T) {
	sig, err := RSIMeanReversion{}.Evaluate(context.Background(), MarketSnapshot{Candles: candlesFrom(rally())}, nil)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, models.SignalDirectionSell, sig.Direction)
	assert.True(t, sig.StopLoss.GreaterThan(*sig.EntryPrice))
}

func TestRSIMeanReversion_NoSignal(t *testing.T) {
	sig, err := RSIMeanReversion{}.Evaluate(context.Background(), MarketSnapshot{Candles: candlesFrom([]float64{1, 2, 3})}, nil)
	require.NoError(t, err)
	assert.Nil(t, sig, "too few candles")

	_, err = RSIMeanReversion{}.Evaluate(context.Background(), MarketSnapshot{Candles: candlesFrom(selloff())}, map[string]any{"oversold": 90.0, "overbought": 80.0})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(RSIMeanReversion{})
	_, ok := r.Get(models.StrategyKindStochasticRSIMeanReversion)
	assert.True(t, ok)
	_, ok = r.Get(models.StrategyKindGridTrading)
	assert.False(t, ok)
	assert.Equal(t, []models.StrategyKind{models.StrategyKindStochasticRSIMeanReversion}, r.Kinds())
}

type fakeMarket struct{ candles []exchange.Candle }

func (f fakeMarket) LastPrice(context.Context, string) (decimal.Decimal, error) {
	return f.candles[len(f.candles)-1].Close, nil
}

func (f fakeMarket) Candles(context.Context, string, string, int) ([]exchange.Candle, error) {
	return f.candles, nil
}

type recordingCreator struct{ created []*models.Opportunity }

func (r *recordingCreator) Create(_ context.Context, opp *models.Opportunity) (*models.Opportunity, error) {
	opp.ID = "opp-new"
	opp.Status = models.OpportunityStatusNew
	r.created = append(r.created, opp)
	return opp, nil
}

func TestDetector_Detect(t *testing.T) {
	creator := &recordingCreator{}
	d := NewDetector(NewRegistry(RSIMeanReversion{}), fakeMarket{candles: candlesFrom(selloff())}, creator, "binance", nil)
	cfg := &models.TradingStrategyConfig{ID: "s1", Kind: models.StrategyKindStochasticRSIMeanReversion, PaperActive: true}

	opp, err := d.Detect(context.Background(), "u1", cfg, "btc/usdt")
	require.NoError(t, err)
	require.NotNil(t, opp)
	assert.Equal(t, "BTCUSDT", opp.Symbol)
	assert.Equal(t, models.SourceTypeStrategy, opp.SourceType)
	assert.Equal(t, "s1", opp.StrategyID)
	assert.Equal(t, models.SignalDirectionBuy, opp.InitialSignal.Direction)
	assert.Len(t, creator.created, 1)
}

func TestDetector_RejectsInactiveOrUnknown(t *testing.T) {
	d := NewDetector(NewRegistry(RSIMeanReversion{}), fakeMarket{candles: candlesFrom(selloff())}, &recordingCreator{}, "binance", nil)

	_, err := d.Detect(context.Background(), "u1", &models.TradingStrategyConfig{Kind: models.StrategyKindStochasticRSIMeanReversion}, "BTCUSDT")
	assert.True(t, apperror.HasKind(err, apperror.KindInvalidState))

	_, err = d.Detect(context.Background(), "u1", &models.TradingStrategyConfig{Kind: models.StrategyKindGridTrading, PaperActive: true}, "BTCUSDT")
	assert.True(t, apperror.HasKind(err, apperror.KindValidation))
}
