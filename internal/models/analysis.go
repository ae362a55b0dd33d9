package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SuggestedAction is the model's recommendation for an opportunity.
type SuggestedAction string

const (
	SuggestedActionBuy         SuggestedAction = "buy"
	SuggestedActionSell        SuggestedAction = "sell"
	SuggestedActionHold        SuggestedAction = "hold"
	SuggestedActionInvestigate SuggestedAction = "investigate"
)

// IsActionable reports whether the action leads to an order.
func (a SuggestedAction) IsActionable() bool {
	return a == SuggestedActionBuy || a == SuggestedActionSell
}

// Side maps an actionable suggestion to an order side.
func (a SuggestedAction) Side() OrderSide {
	if a == SuggestedActionSell {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ParseSuggestedAction accepts any casing; ok is false for unknown values.
func ParseSuggestedAction(s string) (SuggestedAction, bool) {
	switch SuggestedAction(normalizeEnum(s)) {
	case SuggestedActionBuy:
		return SuggestedActionBuy, true
	case SuggestedActionSell:
		return SuggestedActionSell, true
	case SuggestedActionHold:
		return SuggestedActionHold, true
	case SuggestedActionInvestigate:
		return SuggestedActionInvestigate, true
	default:
		return SuggestedActionHold, false
	}
}

type RecommendedTradeParams struct {
	EntryPrice   *decimal.Decimal `json:"entry_price,omitempty"`
	StopLoss     *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit   *decimal.Decimal `json:"take_profit,omitempty"`
	SizeFraction *decimal.Decimal `json:"size_fraction,omitempty"`
}

// HasExitLevels reports whether both protective levels are present.
func (p RecommendedTradeParams) HasExitLevels() bool {
	return p.StopLoss != nil && p.TakeProfit != nil &&
		p.StopLoss.IsPositive() && p.TakeProfit.IsPositive()
}

// AIAnalysisResult is produced once per analysis and never mutated afterwards.
type AIAnalysisResult struct {
	ID               string                 `json:"id"`
	Confidence       float64                `json:"confidence"`
	SuggestedAction  SuggestedAction        `json:"suggested_action"`
	Params           RecommendedTradeParams `json:"recommended_trade_params"`
	Reasoning        string                 `json:"reasoning"`
	Model            string                 `json:"model"`
	ProcessingTimeMs int64                  `json:"processing_time_ms"`
	ToolsConsulted   []string               `json:"tools_consulted,omitempty"`
	Warnings         []string               `json:"warnings,omitempty"`
	AnalyzedAt       time.Time              `json:"analyzed_at"`
}

// ToolExecutionResult is the outcome of one tool invocation. A failed
// invocation is still a value, never an error.
type ToolExecutionResult struct {
	ToolName  string            `json:"tool_name"`
	Success   bool              `json:"success"`
	Data      json.RawMessage   `json:"data,omitempty"`
	Error     string            `json:"error,omitempty"`
	LatencyMs int64             `json:"latency_ms"`
	FromCache bool              `json:"from_cache"`
	Provider  string            `json:"provider,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
