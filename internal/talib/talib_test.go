package talib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestRsi_RisingSeriesIsOverbought(t *testing.T) {
	values := Rsi(ramp(40, 100, 1), 14)
	require.NotEmpty(t, values)
	assert.Greater(t, Last(values), 70.0)
}

func TestRsi_FallingSeriesIsOversold(t *testing.T) {
	values := Rsi(ramp(40, 200, -1), 14)
	require.NotEmpty(t, values)
	assert.Less(t, Last(values), 30.0)
}

func TestIndicators_ShortInput(t *testing.T) {
	short := ramp(5, 1, 1)
	assert.Nil(t, Rsi(short, 14))
	assert.Nil(t, Ema(short, 20))
	assert.Nil(t, Sma(short, 0))
	m, s, h := Macd(short, 12, 26, 9)
	assert.Nil(t, m)
	assert.Nil(t, s)
	assert.Nil(t, h)
	assert.True(t, math.IsNaN(Last(nil)))
}

func TestEma_ConstantSeries(t *testing.T) {
	values := Ema(ramp(30, 50, 0), 10)
	require.NotEmpty(t, values)
	assert.InDelta(t, 50, Last(values), 1e-9)
}

func TestMacd_AlignedOutputs(t *testing.T) {
	line, signal, hist := Macd(ramp(80, 10, 0.5), 12, 26, 9)
	require.NotEmpty(t, line)
	assert.Len(t, signal, len(line))
	assert.Len(t, hist, len(line))
	last := len(line) - 1
	assert.InDelta(t, line[last]-signal[last], hist[last], 1e-9)
}

func TestStochRsi_Range(t *testing.T) {
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 100 + 10*math.Sin(float64(i)/3)
	}
	values := StochRsi(prices, 14, 14)
	require.NotEmpty(t, values)
	for _, v := range values {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}

func TestBBandsAndAtr(t *testing.T) {
	prices := ramp(30, 100, 1)
	upper, middle, lower := BBands(prices, 20)
	require.NotEmpty(t, middle)
	assert.Greater(t, Last(upper), Last(middle))
	assert.Less(t, Last(lower), Last(middle))

	high := ramp(30, 101, 1)
	low := ramp(30, 99, 1)
	atr := Atr(high, low, prices, 14)
	require.NotEmpty(t, atr)
	assert.Greater(t, Last(atr), 0.0)

	assert.NotEmpty(t, Obv(prices, ramp(30, 10, 0)))
	assert.Nil(t, Obv(prices, nil))
}
