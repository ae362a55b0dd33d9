package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskProfile holds fractional limits, e.g. 0.02 for two percent.
type RiskProfile struct {
	PerTradeCapitalRiskPct decimal.Decimal `json:"per_trade_capital_risk_pct" yaml:"per_trade_capital_risk_pct"`
	DailyCapitalRiskPct    decimal.Decimal `json:"daily_capital_risk_pct" yaml:"daily_capital_risk_pct"`
}

// Merge returns p with every non-zero field of override applied.
func (p RiskProfile) Merge(override *RiskProfile) RiskProfile {
	if override == nil {
		return p
	}
	if override.PerTradeCapitalRiskPct.IsPositive() {
		p.PerTradeCapitalRiskPct = override.PerTradeCapitalRiskPct
	}
	if override.DailyCapitalRiskPct.IsPositive() {
		p.DailyCapitalRiskPct = override.DailyCapitalRiskPct
	}
	return p
}

// RealTradingSettings carries the real-mode toggle and the counters guarded
// by admission control. Mutated only under the per-user lock.
type RealTradingSettings struct {
	RealTradingModeActive   bool            `json:"real_trading_mode_active"`
	DailyCapitalRiskedUSD   decimal.Decimal `json:"daily_capital_risked_usd"`
	LastDailyReset          string          `json:"last_daily_reset,omitempty"`
	MaxConcurrentOperations int             `json:"max_concurrent_operations"`
	RealTradesExecutedCount int             `json:"real_trades_executed_count"`
	MaxRealTrades           int             `json:"max_real_trades"`
}

// UserConfiguration is the per-user record read by the trading engine.
type UserConfiguration struct {
	UserID          string              `json:"user_id"`
	QuoteAsset      string              `json:"quote_asset"`
	Exchange        string              `json:"exchange"`
	CredentialLabel string              `json:"credential_label"`
	RiskProfile     RiskProfile         `json:"risk_profile"`
	RealTrading     RealTradingSettings `json:"real_trading_settings"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// DateKey formats t as the calendar day used for daily resets.
func DateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
