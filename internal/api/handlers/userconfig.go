package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/irfndi/tradepilot/internal/services/trading"
)

type UserConfigService interface {
	Get(ctx context.Context, userID string) (*models.UserConfiguration, error)
	RealTradingStatus(ctx context.Context, userID string) (*trading.RealTradingStatus, error)
	ActivateRealTrading(ctx context.Context, userID string) (*trading.RealTradingStatus, error)
	DeactivateRealTrading(ctx context.Context, userID string) (*trading.RealTradingStatus, error)
}

type ConfigHandler struct {
	users UserConfigService
}

func NewConfigHandler(users UserConfigService) *ConfigHandler {
	return &ConfigHandler{users: users}
}

func (h *ConfigHandler) Get(c *gin.Context) {
	h.serve(c, func(ctx context.Context, userID string) (any, error) {
		return h.users.Get(ctx, userID)
	})
}

func (h *ConfigHandler) RealTradingStatus(c *gin.Context) {
	h.serve(c, func(ctx context.Context, userID string) (any, error) {
		return h.users.RealTradingStatus(ctx, userID)
	})
}

func (h *ConfigHandler) ActivateRealTrading(c *gin.Context) {
	h.serve(c, func(ctx context.Context, userID string) (any, error) {
		return h.users.ActivateRealTrading(ctx, userID)
	})
}

func (h *ConfigHandler) DeactivateRealTrading(c *gin.Context) {
	h.serve(c, func(ctx context.Context, userID string) (any, error) {
		return h.users.DeactivateRealTrading(ctx, userID)
	})
}

func (h *ConfigHandler) serve(c *gin.Context, fn func(ctx context.Context, userID string) (any, error)) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	data, err := fn(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, data)
}
