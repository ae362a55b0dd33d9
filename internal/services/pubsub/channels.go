// Package pubsub provides typed Redis pub/sub messaging for opportunity and
// trade lifecycle events.
//
// Channel naming convention: {domain}:{entity}:{user}
// Examples: tradepilot:opportunity:u1, tradepilot:trade:u1
package pubsub

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/irfndi/tradepilot/internal/models"
	"github.com/shopspring/decimal"
)

const (
	DomainTradePilot = "tradepilot"
)

const (
	EntityOpportunity = "opportunity"
	EntityTrade       = "trade"
)

const (
	ChannelAllOpportunities = DomainTradePilot + ":" + EntityOpportunity + ":*"
	ChannelAllTrades        = DomainTradePilot + ":" + EntityTrade + ":*"
)

func OpportunityChannel(userID string) string {
	return fmt.Sprintf("%s:%s:%s", DomainTradePilot, EntityOpportunity, userID)
}

func TradeChannel(userID string) string {
	return fmt.Sprintf("%s:%s:%s", DomainTradePilot, EntityTrade, userID)
}

// UserPattern matches every event channel of one user.
func UserPattern(userID string) string {
	return fmt.Sprintf("%s:*:%s", DomainTradePilot, userID)
}

// ParseChannel extracts domain, entity, and qualifiers from a channel name.
// Channel format is {domain}:{entity}[:{q1}:{q2}:...].
func ParseChannel(channel string) (domain, entity string, qualifiers []string) {
	parts := strings.SplitN(channel, ":", 3)
	if len(parts) < 2 {
		return "", "", nil
	}
	domain = parts[0]
	entity = parts[1]
	if len(parts) == 3 {
		qualifiers = strings.Split(parts[2], ":")
	}
	return domain, entity, qualifiers
}

type MessageType string

const (
	MessageTypeOpportunity MessageType = "opportunity"
	MessageTypeTrade       MessageType = "trade"
)

type Envelope struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel"`
	UserID    string          `json:"user_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// OpportunityEvent is the payload of an opportunity status change.
type OpportunityEvent struct {
	OpportunityID string                   `json:"opportunity_id"`
	Symbol        string                   `json:"symbol"`
	StrategyID    string                   `json:"strategy_id"`
	Status        models.OpportunityStatus `json:"status"`
	Reason        string                   `json:"reason,omitempty"`
	Confidence    *float64                 `json:"confidence,omitempty"`
	TradeIDs      []string                 `json:"trade_ids,omitempty"`
}

func NewOpportunityEvent(opp *models.Opportunity) OpportunityEvent {
	ev := OpportunityEvent{
		OpportunityID: opp.ID,
		Symbol:        opp.Symbol,
		StrategyID:    opp.StrategyID,
		Status:        opp.Status,
		Reason:        opp.StatusReason,
		TradeIDs:      opp.TradeIDs,
	}
	if opp.AIAnalysis != nil {
		c := opp.AIAnalysis.Confidence
		ev.Confidence = &c
	}
	return ev
}

// TradeEvent is the payload of a trade being opened or updated.
type TradeEvent struct {
	TradeID        string                `json:"trade_id"`
	OpportunityID  string                `json:"opportunity_id"`
	Symbol         string                `json:"symbol"`
	Side           models.OrderSide      `json:"side"`
	Mode           models.TradeMode      `json:"mode"`
	PositionStatus models.PositionStatus `json:"position_status"`
	CapitalUSD     decimal.Decimal       `json:"capital_usd"`
}

func NewTradeEvent(trade *models.Trade) TradeEvent {
	return TradeEvent{
		TradeID:        trade.ID,
		OpportunityID:  trade.OpportunityID,
		Symbol:         trade.Symbol,
		Side:           trade.Side,
		Mode:           trade.Mode,
		PositionStatus: trade.PositionStatus,
		CapitalUSD:     trade.CapitalUSD,
	}
}
