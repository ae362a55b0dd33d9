package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpportunityStatus is the lifecycle state of an Opportunity.
type OpportunityStatus string

const (
	OpportunityStatusNew                         OpportunityStatus = "NEW"
	OpportunityStatusUnderAnalysis               OpportunityStatus = "UNDER_ANALYSIS"
	OpportunityStatusAnalyzed                    OpportunityStatus = "ANALYZED"
	OpportunityStatusAnalysisFailed              OpportunityStatus = "ANALYSIS_FAILED"
	OpportunityStatusPendingUserConfirmationReal OpportunityStatus = "PENDING_USER_CONFIRMATION_REAL"
	OpportunityStatusConfirmed                   OpportunityStatus = "CONFIRMED"
	OpportunityStatusConverted                   OpportunityStatus = "CONVERTED"
	OpportunityStatusRejected                    OpportunityStatus = "REJECTED"
	OpportunityStatusExpired                     OpportunityStatus = "EXPIRED"
)

// IsTerminal reports whether no further transition is possible.
func (s OpportunityStatus) IsTerminal() bool {
	switch s {
	case OpportunityStatusConverted, OpportunityStatusRejected, OpportunityStatusExpired:
		return true
	default:
		return false
	}
}

type SignalDirection string

const (
	SignalDirectionBuy  SignalDirection = "BUY"
	SignalDirectionSell SignalDirection = "SELL"
)

type SourceType string

const (
	SourceTypeStrategy       SourceType = "strategy"
	SourceTypeExternalSignal SourceType = "external_signal"
	SourceTypeManual         SourceType = "manual"
)

// InitialSignal is the raw signal that produced an opportunity.
type InitialSignal struct {
	Direction  SignalDirection  `json:"direction"`
	EntryPrice *decimal.Decimal `json:"entry_price,omitempty"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
	Timeframe  string           `json:"timeframe,omitempty"`
	Confidence float64          `json:"confidence"`
}

// Opportunity is a detected potential trade awaiting analysis and decision.
// Status changes only through the opportunity service; CONVERTED is written
// exclusively by the trading engine.
type Opportunity struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Symbol        string            `json:"symbol"`
	Exchange      string            `json:"exchange"`
	SourceType    SourceType        `json:"source_type"`
	SourceName    string            `json:"source_name,omitempty"`
	StrategyID    string            `json:"strategy_id"`
	InitialSignal InitialSignal     `json:"initial_signal"`
	Status        OpportunityStatus `json:"status"`
	StatusReason  string            `json:"status_reason,omitempty"`
	AIAnalysis    *AIAnalysisResult `json:"ai_analysis,omitempty"`
	TradeIDs      []string          `json:"trade_ids,omitempty"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Expired reports whether the opportunity's deadline has passed at now.
func (o *Opportunity) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !now.Before(*o.ExpiresAt)
}

// OpportunityFilter narrows opportunity listings. Empty fields match all.
type OpportunityFilter struct {
	UserID   string
	Statuses []OpportunityStatus
}

// Matches reports whether o satisfies the filter.
func (f OpportunityFilter) Matches(o *Opportunity) bool {
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if o.Status == s {
			return true
		}
	}
	return false
}
