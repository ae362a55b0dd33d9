package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// MarketData is the read-only price source used by paper execution,
// technical tools and strategy detection.
type MarketData interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

var _ MarketData = (*Client)(nil)

// LastPrice returns the latest traded price for symbol.
func (c *Client) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", NormalizeSymbol(symbol))

	body, err := c.doPublic(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		return decimal.Zero, err
	}

	var ticker struct {
		Symbol string          `json:"symbol"`
		Price  decimal.Decimal `json:"price"`
	}
	if err := json.Unmarshal(body, &ticker); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode ticker: %w", err)
	}
	if !ticker.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("no price for %s", symbol)
	}
	return ticker.Price, nil
}

// Candles returns the most recent klines, oldest first.
func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	params := url.Values{}
	params.Set("symbol", NormalizeSymbol(symbol))
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.doPublic(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode klines: %w", err)
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		if len(item) < 6 {
			continue
		}
		var openTime int64
		if err := json.Unmarshal(item[0], &openTime); err != nil {
			return nil, fmt.Errorf("invalid kline open time: %w", err)
		}
		var candle Candle
		candle.OpenTime = time.UnixMilli(openTime).UTC()
		fields := []*decimal.Decimal{&candle.Open, &candle.High, &candle.Low, &candle.Close, &candle.Volume}
		for i, dst := range fields {
			if err := json.Unmarshal(item[i+1], dst); err != nil {
				return nil, fmt.Errorf("invalid kline field %d: %w", i+1, err)
			}
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// Closes extracts closing prices as float64 for indicator libraries.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close.InexactFloat64()
	}
	return out
}

// Columns splits candles into high, low, close and volume series.
func Columns(candles []Candle) (highs, lows, closes, volumes []float64) {
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	closes = make([]float64, len(candles))
	volumes = make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High.InexactFloat64()
		lows[i] = c.Low.InexactFloat64()
		closes[i] = c.Close.InexactFloat64()
		volumes[i] = c.Volume.InexactFloat64()
	}
	return highs, lows, closes, volumes
}
