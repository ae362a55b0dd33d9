package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/irfndi/tradepilot/internal/services/ai/tools"
	"github.com/irfndi/tradepilot/internal/storage"
)

type StrategyStore interface {
	GetStrategy(ctx context.Context, id string) (*models.TradingStrategyConfig, error)
	SaveStrategy(ctx context.Context, s *models.TradingStrategyConfig) error
	ListStrategies(ctx context.Context, userID string) ([]models.TradingStrategyConfig, error)
}

type ToolLister interface {
	ListTools() []tools.ToolDescriptor
}

// StrategyHandler exposes the caller's strategy configurations and the
// tools an AI profile may enable.
type StrategyHandler struct {
	store StrategyStore
	tools ToolLister
}

func NewStrategyHandler(store StrategyStore, lister ToolLister) *StrategyHandler {
	return &StrategyHandler{store: store, tools: lister}
}

func (h *StrategyHandler) List(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	list, err := h.store.ListStrategies(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, list)
}

// Put creates or replaces the strategy in the path for the caller.
func (h *StrategyHandler) Put(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var cfg models.TradingStrategyConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respondBindError(c, err)
		return
	}
	cfg.ID = c.Param("id")
	cfg.UserID = userID
	if !cfg.Kind.Valid() {
		respondError(c, apperror.Validation("unknown strategy kind %q", cfg.Kind))
		return
	}

	ctx := c.Request.Context()
	existing, err := h.store.GetStrategy(ctx, cfg.ID)
	switch {
	case err == nil:
		if existing.UserID != userID {
			respondError(c, apperror.Forbidden("strategy %s belongs to another user", cfg.ID))
			return
		}
		cfg.Version = existing.Version + 1
	case storage.IsNotFound(err):
		cfg.Version = 1
	default:
		respondError(c, err)
		return
	}

	if err := h.store.SaveStrategy(ctx, &cfg); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, cfg)
}

func (h *StrategyHandler) Tools(c *gin.Context) {
	respondOK(c, h.tools.ListTools())
}
