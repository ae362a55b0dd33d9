package tools

import (
	"context"
	"math"
	"time"

	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/config"
	"github.com/irfndi/tradepilot/internal/exchange"
	"github.com/irfndi/tradepilot/internal/talib"
)

const TechnicalToolName = "technical_indicators"

// TechnicalTool computes indicators from exchange candles. It needs no
// credentials.
type TechnicalTool struct {
	market exchange.MarketData
	cfg    config.TechnicalConfig
}

func NewTechnicalTool(market exchange.MarketData, cfg config.TechnicalConfig) *TechnicalTool {
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	return &TechnicalTool{market: market, cfg: cfg}
}

func (t *TechnicalTool) Descriptor() ToolDescriptor {
	return ToolDescriptor{
		Name:        TechnicalToolName,
		Description: "RSI, EMA trend, MACD, Bollinger bands and ATR for a trading pair.",
		Parameters: map[string]any{
			"symbol":   map[string]any{"type": "string"},
			"interval": map[string]any{"type": "string", "default": t.cfg.Interval},
		},
		Provider: "exchange",
		CacheTTL: t.cfg.CacheTTL,
	}
}

type TechnicalSummary struct {
	Symbol        string    `json:"symbol"`
	Interval      string    `json:"interval"`
	Close         float64   `json:"close"`
	RSI14         *float64  `json:"rsi_14,omitempty"`
	StochRSI      *float64  `json:"stoch_rsi,omitempty"`
	EMA20         *float64  `json:"ema_20,omitempty"`
	EMA50         *float64  `json:"ema_50,omitempty"`
	MACD          *float64  `json:"macd,omitempty"`
	MACDSignal    *float64  `json:"macd_signal,omitempty"`
	MACDHistogram *float64  `json:"macd_histogram,omitempty"`
	BollingerUp   *float64  `json:"bollinger_upper,omitempty"`
	BollingerLow  *float64  `json:"bollinger_lower,omitempty"`
	ATR14         *float64  `json:"atr_14,omitempty"`
	Trend         string    `json:"trend"`
	AsOf          time.Time `json:"as_of"`
}

func (t *TechnicalTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	symbol := stringParam(params, "symbol")
	if symbol == "" {
		return nil, apperror.Validation("symbol is required")
	}
	interval := stringParam(params, "interval")
	if interval == "" {
		interval = t.cfg.Interval
	}

	candles, err := t.market.Candles(ctx, symbol, interval, t.cfg.Limit)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, apperror.NotFound("no candles for %s", symbol)
	}
	return Summarize(exchange.NormalizeSymbol(symbol), interval, candles), nil
}

// Summarize reduces candles to the latest indicator readings.
func Summarize(symbol, interval string, candles []exchange.Candle) TechnicalSummary {
	highs, lows, closes, _ := exchange.Columns(candles)
	out := TechnicalSummary{
		Symbol:   symbol,
		Interval: interval,
		Close:    closes[len(closes)-1],
		AsOf:     candles[len(candles)-1].OpenTime,
		Trend:    "sideways",
	}

	out.RSI14 = last(talib.Rsi(closes, 14))
	out.StochRSI = last(talib.StochRsi(closes, 14, 14))
	out.EMA20 = last(talib.Ema(closes, 20))
	out.EMA50 = last(talib.Ema(closes, 50))
	line, signal, hist := talib.Macd(closes, 12, 26, 9)
	out.MACD, out.MACDSignal, out.MACDHistogram = last(line), last(signal), last(hist)
	upper, _, lower := talib.BBands(closes, 20)
	out.BollingerUp, out.BollingerLow = last(upper), last(lower)
	out.ATR14 = last(talib.Atr(highs, lows, closes, 14))

	if out.EMA20 != nil && out.EMA50 != nil {
		switch {
		case *out.EMA20 > *out.EMA50 && out.Close > *out.EMA20:
			out.Trend = "up"
		case *out.EMA20 < *out.EMA50 && out.Close < *out.EMA20:
			out.Trend = "down"
		}
	}
	return out
}

func last(values []float64) *float64 {
	v := talib.Last(values)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	v = math.Round(v*1e6) / 1e6
	return &v
}
