package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/irfndi/tradepilot/internal/services/opportunity"
	"github.com/shopspring/decimal"
)

type OpportunityService interface {
	Create(ctx context.Context, opp *models.Opportunity) (*models.Opportunity, error)
	Get(ctx context.Context, id string) (*models.Opportunity, error)
	List(ctx context.Context, filter models.OpportunityFilter) ([]models.Opportunity, error)
	Analyze(ctx context.Context, id string) (*models.Opportunity, error)
	ConfirmReal(ctx context.Context, pathID string, req opportunity.ConfirmRequest, actorUserID string) (*models.Trade, error)
}

type OpportunityHandler struct {
	service OpportunityService
}

func NewOpportunityHandler(service OpportunityService) *OpportunityHandler {
	return &OpportunityHandler{service: service}
}

// CreateOpportunityRequest submits an external or manual signal.
type CreateOpportunityRequest struct {
	Symbol     string           `json:"symbol" binding:"required"`
	StrategyID string           `json:"strategy_id" binding:"required"`
	Exchange   string           `json:"exchange"`
	SourceType string           `json:"source_type"`
	SourceName string           `json:"source_name"`
	Direction  string           `json:"direction" binding:"required"`
	Confidence float64          `json:"confidence"`
	EntryPrice *decimal.Decimal `json:"entry_price"`
	StopLoss   *decimal.Decimal `json:"stop_loss"`
	TakeProfit *decimal.Decimal `json:"take_profit"`
	Timeframe  string           `json:"timeframe"`
	ExpiresAt  *time.Time       `json:"expires_at"`
}

func (r CreateOpportunityRequest) toModel(userID string) (*models.Opportunity, error) {
	source := models.SourceType(strings.ToLower(strings.TrimSpace(r.SourceType)))
	switch source {
	case "":
		source = models.SourceTypeManual
	case models.SourceTypeManual, models.SourceTypeExternalSignal, models.SourceTypeStrategy:
	default:
		return nil, apperror.Validation("unknown source_type %q", r.SourceType)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return nil, apperror.Validation("confidence must be within [0, 1]")
	}
	return &models.Opportunity{
		UserID:     userID,
		Symbol:     r.Symbol,
		Exchange:   r.Exchange,
		SourceType: source,
		SourceName: r.SourceName,
		StrategyID: r.StrategyID,
		InitialSignal: models.InitialSignal{
			Direction:  models.SignalDirection(strings.ToUpper(strings.TrimSpace(r.Direction))),
			EntryPrice: r.EntryPrice,
			StopLoss:   r.StopLoss,
			TakeProfit: r.TakeProfit,
			Timeframe:  r.Timeframe,
			Confidence: r.Confidence,
		},
		ExpiresAt: r.ExpiresAt,
	}, nil
}

func (h *OpportunityHandler) Create(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req CreateOpportunityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	opp, err := req.toModel(userID)
	if err != nil {
		respondError(c, err)
		return
	}
	created, err := h.service.Create(c.Request.Context(), opp)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": created})
}

// owned loads the opportunity in the path and checks it belongs to the caller.
func (h *OpportunityHandler) owned(c *gin.Context) (*models.Opportunity, bool) {
	userID, ok := requireUser(c)
	if !ok {
		return nil, false
	}
	opp, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if opp.UserID != userID {
		respondError(c, apperror.Forbidden("opportunity %s belongs to another user", opp.ID))
		return nil, false
	}
	return opp, true
}

func (h *OpportunityHandler) Get(c *gin.Context) {
	if opp, ok := h.owned(c); ok {
		respondOK(c, opp)
	}
}

// List returns the caller's opportunities, optionally filtered by a
// comma-separated status query parameter.
func (h *OpportunityHandler) List(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	filter := models.OpportunityFilter{UserID: userID}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, models.OpportunityStatus(strings.ToUpper(s)))
			}
		}
	}
	opps, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, opps)
}

func (h *OpportunityHandler) Analyze(c *gin.Context) {
	opp, ok := h.owned(c)
	if !ok {
		return
	}
	analyzed, err := h.service.Analyze(c.Request.Context(), opp.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, analyzed)
}

// ConfirmReal handles POST /real/confirm-opportunity/:id.
func (h *OpportunityHandler) ConfirmReal(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req opportunity.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	trade, err := h.service.ConfirmReal(c.Request.Context(), c.Param("id"), req, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "real trade executed",
		"data":    trade,
	})
}
