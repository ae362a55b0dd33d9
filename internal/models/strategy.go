package models

import "strings"

// StrategyKind is the closed set of strategy types a plug-in may implement.
type StrategyKind string

const (
	StrategyKindScalping                   StrategyKind = "scalping"
	StrategyKindDayTrading                 StrategyKind = "day_trading"
	StrategyKindArbitrageSimple            StrategyKind = "arbitrage_simple"
	StrategyKindArbitrageTriangular        StrategyKind = "arbitrage_triangular"
	StrategyKindGridTrading                StrategyKind = "grid_trading"
	StrategyKindDCAInvesting               StrategyKind = "dca_investing"
	StrategyKindMACDRSITrendRider          StrategyKind = "macd_rsi_trend_rider"
	StrategyKindBollingerSqueezeBreakout   StrategyKind = "bollinger_squeeze_breakout"
	StrategyKindSupertrendVolatilityFilter StrategyKind = "supertrend_volatility_filter"
	StrategyKindStochasticRSIMeanReversion StrategyKind = "stochastic_rsi_mean_reversion"
)

var strategyKinds = []StrategyKind{
	StrategyKindScalping,
	StrategyKindDayTrading,
	StrategyKindArbitrageSimple,
	StrategyKindArbitrageTriangular,
	StrategyKindGridTrading,
	StrategyKindDCAInvesting,
	StrategyKindMACDRSITrendRider,
	StrategyKindBollingerSqueezeBreakout,
	StrategyKindSupertrendVolatilityFilter,
	StrategyKindStochasticRSIMeanReversion,
}

// StrategyKinds returns every supported kind.
func StrategyKinds() []StrategyKind {
	out := make([]StrategyKind, len(strategyKinds))
	copy(out, strategyKinds)
	return out
}

// Valid reports whether k belongs to the closed set.
func (k StrategyKind) Valid() bool {
	for _, known := range strategyKinds {
		if k == known {
			return true
		}
	}
	return false
}

// TradingStrategyConfig is a user's configured strategy instance.
type TradingStrategyConfig struct {
	ID            string         `json:"id" yaml:"id"`
	UserID        string         `json:"user_id" yaml:"user_id"`
	Name          string         `json:"name" yaml:"name"`
	Kind          StrategyKind   `json:"kind" yaml:"kind"`
	PaperActive   bool           `json:"paper_active" yaml:"paper_active"`
	RealActive    bool           `json:"real_active" yaml:"real_active"`
	Parameters    map[string]any `json:"parameters,omitempty" yaml:"parameters"`
	AIProfileID   string         `json:"ai_profile_id,omitempty" yaml:"ai_profile_id"`
	RiskOverrides *RiskProfile   `json:"risk_overrides,omitempty" yaml:"risk_overrides"`
	Version       int            `json:"version" yaml:"version"`
}

// AnalysisMode selects how the orchestrator consults the model.
type AnalysisMode string

const (
	AnalysisModeDirect      AnalysisMode = "direct"
	AnalysisModePlanExecute AnalysisMode = "plan_execute"
)

// ConfidenceThresholds override the default decision thresholds when set.
type ConfidenceThresholds struct {
	Paper *float64 `json:"paper,omitempty" yaml:"paper"`
	Real  *float64 `json:"real,omitempty" yaml:"real"`
}

// AIProfile configures how a strategy's opportunities are analysed.
type AIProfile struct {
	ID             string               `json:"id" yaml:"id"`
	Name           string               `json:"name" yaml:"name"`
	Provider       string               `json:"provider" yaml:"provider"`
	Model          string               `json:"model" yaml:"model"`
	PromptTemplate string               `json:"prompt_template,omitempty" yaml:"prompt_template"`
	EnabledTools   []string             `json:"enabled_tools,omitempty" yaml:"enabled_tools"`
	Thresholds     ConfidenceThresholds `json:"confidence_thresholds" yaml:"confidence_thresholds"`
	Mode           AnalysisMode         `json:"mode" yaml:"mode"`
	MaxToolCalls   int                  `json:"max_tool_calls,omitempty" yaml:"max_tool_calls"`
	Temperature    *float64             `json:"temperature,omitempty" yaml:"temperature"`
}

// ToolEnabled reports whether the profile allows the named tool.
func (p *AIProfile) ToolEnabled(name string) bool {
	for _, t := range p.EnabledTools {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

func normalizeEnum(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
