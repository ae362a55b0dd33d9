// Package api assembles the gin router.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/tradepilot/internal/api/handlers"
	"github.com/irfndi/tradepilot/internal/middleware"
	"go.uber.org/zap"
)

type Handlers struct {
	Health        *handlers.HealthHandler
	Opportunities *handlers.OpportunityHandler
	Trading       *handlers.TradingHandler
	Config        *handlers.ConfigHandler
	Strategies    *handlers.StrategyHandler
	Events        *handlers.EventHandler
}

type Options struct {
	Auth        *middleware.Authenticator
	RateLimiter *middleware.RateLimiter
	Logger      *zap.Logger
}

// NewRouter registers every route. /health and /live are public; everything
// under /api/v1 requires a bearer token.
func NewRouter(h Handlers, opts Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Telemetry(), middleware.RequestLogger(opts.Logger))
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handlers.ErrorResponse{Status: "error", Code: "not_found", Error: "route not found"})
	})

	router.GET("/health", h.Health.Health)
	router.HEAD("/health", h.Health.Health)
	router.GET("/live", h.Health.Live)

	v1 := router.Group("/api/v1")
	v1.Use(opts.Auth.Middleware())
	if opts.RateLimiter != nil {
		v1.Use(opts.RateLimiter.Middleware())
	}

	opps := v1.Group("/opportunities")
	{
		opps.GET("", h.Opportunities.List)
		opps.POST("", h.Opportunities.Create)
		opps.GET("/:id", h.Opportunities.Get)
		opps.POST("/:id/analyze", h.Opportunities.Analyze)
	}

	v1.POST("/real/confirm-opportunity/:id", h.Opportunities.ConfirmReal)

	tradingGroup := v1.Group("/trading")
	{
		tradingGroup.POST("/market-order", h.Trading.MarketOrder)
		tradingGroup.GET("/paper-balances", h.Trading.PaperBalances)
		tradingGroup.POST("/paper-balances/reset", h.Trading.ResetPaperBalances)
		tradingGroup.GET("/supported-modes", h.Trading.SupportedModes)
		tradingGroup.GET("/trades", h.Trading.Trades)
	}

	cfg := v1.Group("/config")
	{
		cfg.GET("", h.Config.Get)
		cfg.GET("/real-trading-mode/status", h.Config.RealTradingStatus)
		cfg.POST("/real-trading-mode/activate", h.Config.ActivateRealTrading)
		cfg.POST("/real-trading-mode/deactivate", h.Config.DeactivateRealTrading)
	}

	v1.GET("/strategies", h.Strategies.List)
	v1.PUT("/strategies/:id", h.Strategies.Put)
	v1.GET("/ai/tools", h.Strategies.Tools)
	v1.GET("/events", h.Events.Stream)

	return router
}
