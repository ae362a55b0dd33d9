package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/irfndi/tradepilot/internal/exchange"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/irfndi/tradepilot/internal/talib"
	"github.com/shopspring/decimal"
)

// RSIMeanReversion buys when stochastic RSI is oversold and sells when it
// is overbought, with fixed-percentage exits around the last close.
//
// Parameters: rsi_period (14), stoch_period (14), oversold (20),
// overbought (80), stop_loss_pct (0.02), take_profit_pct (0.04),
// interval ("1h").
type RSIMeanReversion struct{}

func (RSIMeanReversion) Kind() models.StrategyKind {
	return models.StrategyKindStochasticRSIMeanReversion
}

func (RSIMeanReversion) Evaluate(_ context.Context, snapshot MarketSnapshot, params map[string]any) (*Signal, error) {
	rsiPeriod := int(floatParam(params, "rsi_period", 14))
	stochPeriod := int(floatParam(params, "stoch_period", 14))
	oversold := floatParam(params, "oversold", 20)
	overbought := floatParam(params, "overbought", 80)
	slPct := floatParam(params, "stop_loss_pct", 0.02)
	tpPct := floatParam(params, "take_profit_pct", 0.04)

	if oversold <= 0 || overbought >= 100 || oversold >= overbought {
		return nil, fmt.Errorf("invalid thresholds oversold=%v overbought=%v", oversold, overbought)
	}

	closes := exchange.Closes(snapshot.Candles)
	values := talib.StochRsi(closes, rsiPeriod, stochPeriod)
	if len(values) == 0 {
		return nil, nil
	}
	k := talib.Last(values)
	if math.IsNaN(k) {
		return nil, nil
	}

	last := snapshot.Candles[len(snapshot.Candles)-1].Close
	var sig *Signal
	switch {
	case k <= oversold:
		sig = &Signal{
			Direction:  models.SignalDirectionBuy,
			Confidence: 0.5 + 0.5*(oversold-k)/oversold,
			StopLoss:   scaled(last, 1-slPct),
			TakeProfit: scaled(last, 1+tpPct),
			Reason:     fmt.Sprintf("stoch RSI %.1f at or below %.0f", k, oversold),
		}
	case k >= overbought:
		sig = &Signal{
			Direction:  models.SignalDirectionSell,
			Confidence: 0.5 + 0.5*(k-overbought)/(100-overbought),
			StopLoss:   scaled(last, 1+slPct),
			TakeProfit: scaled(last, 1-tpPct),
			Reason:     fmt.Sprintf("stoch RSI %.1f at or above %.0f", k, overbought),
		}
	default:
		return nil, nil
	}

	entry := last
	sig.EntryPrice = &entry
	sig.Timeframe = snapshot.Interval
	sig.Confidence = math.Max(0, math.Min(1, sig.Confidence))
	return sig, nil
}

func scaled(price decimal.Decimal, factor float64) *decimal.Decimal {
	v := price.Mul(decimal.NewFromFloat(factor)).Round(8)
	return &v
}
