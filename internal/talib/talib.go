// Package talib wraps the cinar/indicator streaming indicators with slice
// in, slice out helpers. Outputs are aligned to the end of the input: the
// last element always corresponds to the most recent price.
package talib

import (
	"math"
	"sync"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/cinar/indicator/v2/volume"
)

func Ema(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}
	ema := trend.NewEmaWithPeriod[float64](period)
	return helper.ChanToSlice(ema.Compute(helper.SliceToChan(prices)))
}

func Sma(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}
	sma := trend.NewSmaWithPeriod[float64](period)
	return helper.ChanToSlice(sma.Compute(helper.SliceToChan(prices)))
}

func Rsi(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period+1 {
		return nil
	}
	rsi := momentum.NewRsiWithPeriod[float64](period)
	return helper.ChanToSlice(rsi.Compute(helper.SliceToChan(prices)))
}

// StochRsi applies the stochastic formula to an RSI series, returning values
// in [0,100]. A flat RSI window yields 50.
func StochRsi(prices []float64, rsiPeriod, stochPeriod int) []float64 {
	rsi := Rsi(prices, rsiPeriod)
	if stochPeriod <= 0 || len(rsi) < stochPeriod {
		return nil
	}
	out := make([]float64, 0, len(rsi)-stochPeriod+1)
	for i := stochPeriod - 1; i < len(rsi); i++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range rsi[i-stochPeriod+1 : i+1] {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi == lo {
			out = append(out, 50)
			continue
		}
		out = append(out, (rsi[i]-lo)/(hi-lo)*100)
	}
	return out
}

// Macd returns the MACD line, the signal line and their histogram.
func Macd(prices []float64, fastPeriod, slowPeriod, signalPeriod int) (macdLine, signal, histogram []float64) {
	if len(prices) < slowPeriod+signalPeriod {
		return nil, nil, nil
	}
	macd := trend.NewMacdWithPeriod[float64](fastPeriod, slowPeriod, signalPeriod)
	lineCh, signalCh := macd.Compute(helper.SliceToChan(prices))

	// Both outputs share one upstream and must be drained together.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		macdLine = helper.ChanToSlice(lineCh)
	}()
	go func() {
		defer wg.Done()
		signal = helper.ChanToSlice(signalCh)
	}()
	wg.Wait()

	n := min(len(macdLine), len(signal))
	macdLine = macdLine[len(macdLine)-n:]
	signal = signal[len(signal)-n:]
	histogram = make([]float64, n)
	for i := range n {
		histogram[i] = macdLine[i] - signal[i]
	}
	return macdLine, signal, histogram
}

func BBands(prices []float64, period int) (upper, middle, lower []float64) {
	if period <= 0 || len(prices) < period {
		return nil, nil, nil
	}
	bb := volatility.NewBollingerBandsWithPeriod[float64](period)
	uCh, mCh, lCh := bb.Compute(helper.SliceToChan(prices))

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		upper = helper.ChanToSlice(uCh)
	}()
	go func() {
		defer wg.Done()
		middle = helper.ChanToSlice(mCh)
	}()
	go func() {
		defer wg.Done()
		lower = helper.ChanToSlice(lCh)
	}()
	wg.Wait()
	return upper, middle, lower
}

func Atr(high, low, closes []float64, period int) []float64 {
	if period <= 0 || len(high) < period || len(low) < period || len(closes) < period {
		return nil
	}
	atr := volatility.NewAtrWithPeriod[float64](period)
	return helper.ChanToSlice(atr.Compute(
		helper.SliceToChan(high),
		helper.SliceToChan(low),
		helper.SliceToChan(closes),
	))
}

func Obv(closes, volumes []float64) []float64 {
	if len(closes) == 0 || len(closes) != len(volumes) {
		return nil
	}
	obv := volume.NewObv[float64]()
	return helper.ChanToSlice(obv.Compute(helper.SliceToChan(closes), helper.SliceToChan(volumes)))
}

// Last returns the final element, or NaN when values is empty.
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}
