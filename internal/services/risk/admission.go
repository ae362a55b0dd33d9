// Package risk implements capital admission control for real trades.
package risk

import (
	"time"

	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/shopspring/decimal"
)

// QuantityPlaces is the precision order quantities are truncated to.
const QuantityPlaces = 8

// ResetIfStale zeroes the daily risked amount when the stored reset date is
// not today (UTC). It reports whether settings changed.
func ResetIfStale(settings *models.RealTradingSettings, now time.Time) bool {
	today := models.DateKey(now)
	if settings.LastDailyReset == today {
		return false
	}
	settings.DailyCapitalRiskedUSD = decimal.Zero
	settings.LastDailyReset = today
	return true
}

// EffectiveProfile applies a strategy's overrides to the user's profile.
func EffectiveProfile(user models.RiskProfile, strategy *models.TradingStrategyConfig) models.RiskProfile {
	if strategy == nil {
		return user
	}
	return user.Merge(strategy.RiskOverrides)
}

type AdmissionInput struct {
	PortfolioValue decimal.Decimal
	Profile        models.RiskProfile
	Settings       models.RealTradingSettings
	OpenRealTrades int
}

type AdmissionDecision struct {
	CapitalUSD      decimal.Decimal
	DailyCap        decimal.Decimal
	RemainingBudget decimal.Decimal
}

// Sizing returns the capital to allocate to one trade.
func Sizing(portfolio decimal.Decimal, profile models.RiskProfile) (decimal.Decimal, error) {
	if !portfolio.IsPositive() {
		return decimal.Zero, apperror.Configuration("portfolio value must be positive, got %s", portfolio)
	}
	if !profile.PerTradeCapitalRiskPct.IsPositive() {
		return decimal.Zero, apperror.Configuration("per-trade risk percentage is not configured")
	}
	return portfolio.Mul(profile.PerTradeCapitalRiskPct), nil
}

// Evaluate admits or rejects a new real trade. It never mutates the input.
func Evaluate(in AdmissionInput) (AdmissionDecision, error) {
	capital, err := Sizing(in.PortfolioValue, in.Profile)
	if err != nil {
		return AdmissionDecision{}, err
	}
	if !in.Profile.DailyCapitalRiskPct.IsPositive() {
		return AdmissionDecision{}, apperror.Configuration("daily risk percentage is not configured")
	}

	dailyCap := in.PortfolioValue.Mul(in.Profile.DailyCapitalRiskPct)
	risked := in.Settings.DailyCapitalRiskedUSD
	if risked.Add(capital).GreaterThan(dailyCap) {
		return AdmissionDecision{}, apperror.RealTradeLimit(
			"daily capital risk limit reached: risked %s + %s exceeds cap %s",
			risked.StringFixed(2), capital.StringFixed(2), dailyCap.StringFixed(2))
	}
	if limit := in.Settings.MaxConcurrentOperations; limit > 0 && in.OpenRealTrades >= limit {
		return AdmissionDecision{}, apperror.RealTradeLimit("max concurrent operations reached (%d)", limit)
	}
	if LifetimeLimitReached(in.Settings) {
		return AdmissionDecision{}, apperror.RealTradeLimit("max real trades reached (%d)", in.Settings.MaxRealTrades)
	}

	return AdmissionDecision{
		CapitalUSD:      capital,
		DailyCap:        dailyCap,
		RemainingBudget: dailyCap.Sub(risked).Sub(capital),
	}, nil
}

// LifetimeLimitReached reports whether the user exhausted MaxRealTrades.
// Zero means unlimited.
func LifetimeLimitReached(s models.RealTradingSettings) bool {
	return s.MaxRealTrades > 0 && s.RealTradesExecutedCount >= s.MaxRealTrades
}

// Commit records an executed real trade against the counters.
func Commit(settings *models.RealTradingSettings, capital decimal.Decimal) {
	settings.DailyCapitalRiskedUSD = settings.DailyCapitalRiskedUSD.Add(capital)
	settings.RealTradesExecutedCount++
}

// Quantity converts capital into an order quantity at price, truncated to
// QuantityPlaces.
func Quantity(capital, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, apperror.Validation("price must be positive, got %s", price)
	}
	qty := capital.DivRound(price, QuantityPlaces+4).Truncate(QuantityPlaces)
	if !qty.IsPositive() {
		return decimal.Zero, apperror.Validation("computed quantity %s is not positive", qty)
	}
	return qty, nil
}
