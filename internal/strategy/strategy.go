// Package strategy defines the plug-in contract for signal-producing
// strategies and the detector that turns their signals into opportunities.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/irfndi/tradepilot/internal/exchange"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/shopspring/decimal"
)

// MarketSnapshot is the market data a strategy evaluates.
type MarketSnapshot struct {
	Symbol   string
	Interval string
	Candles  []exchange.Candle
}

// Signal is a strategy's proposal. A nil *Signal means "nothing to do".
type Signal struct {
	Direction  models.SignalDirection
	Confidence float64
	EntryPrice *decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	Timeframe  string
	Reason     string
}

type Strategy interface {
	Kind() models.StrategyKind
	Evaluate(ctx context.Context, snapshot MarketSnapshot, params map[string]any) (*Signal, error)
}

// Registry maps the closed set of strategy kinds to implementations.
type Registry struct {
	mu         sync.RWMutex
	strategies map[models.StrategyKind]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[models.StrategyKind]Strategy)}
	for _, s := range strategies {
		_ = r.Register(s)
	}
	return r
}

func (r *Registry) Register(s Strategy) error {
	if !s.Kind().Valid() {
		return fmt.Errorf("unknown strategy kind %q", s.Kind())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Kind()] = s
	return nil
}

func (r *Registry) Get(kind models.StrategyKind) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[kind]
	return s, ok
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []models.StrategyKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.StrategyKind, 0, len(r.strategies))
	for k := range r.strategies {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func floatParam(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}
