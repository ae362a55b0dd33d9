package tools

import (
	"net/http"

	"github.com/irfndi/tradepilot/internal/config"
	"github.com/irfndi/tradepilot/internal/credentials"
	"github.com/irfndi/tradepilot/internal/exchange"
)

// RegisterBuiltins installs the standard analysis tools on h.
func RegisterBuiltins(h *Hub, cfg config.ToolsConfig, market exchange.MarketData, resolver credentials.Resolver, client *http.Client) {
	h.Register(NewSentimentTool(cfg.Sentiment, resolver, client))
	h.Register(NewOnChainTool(cfg.OnChain, resolver, client))
	h.Register(NewResearchTool(cfg.Research, resolver, client))
	if market != nil {
		h.Register(NewTechnicalTool(market, cfg.Technical))
	}
}
