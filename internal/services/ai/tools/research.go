package tools

import (
	"context"
	"fmt"
	"net/http"

	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/config"
	"github.com/irfndi/tradepilot/internal/credentials"
)

const ResearchToolName = "market_research"

// ResearchTool runs a web search through a Tavily-style search API.
type ResearchTool struct {
	provider
}

func NewResearchTool(cfg config.ToolProviderConfig, resolver credentials.Resolver, client *http.Client) *ResearchTool {
	return &ResearchTool{provider: newProvider(cfg, resolver, client)}
}

func (t *ResearchTool) Descriptor() ToolDescriptor {
	return ToolDescriptor{
		Name:        ResearchToolName,
		Description: "Web research on an asset or topic; returns a short answer and top sources.",
		Parameters: map[string]any{
			"query":       map[string]any{"type": "string"},
			"symbol":      map[string]any{"type": "string"},
			"max_results": map[string]any{"type": "integer", "default": 5},
		},
		Provider:            t.cfg.Service,
		CacheTTL:            t.cfg.CacheTTL,
		RequiresCredentials: true,
	}
}

type ResearchSource struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

type ResearchSummary struct {
	Query   string           `json:"query"`
	Answer  string           `json:"answer,omitempty"`
	Sources []ResearchSource `json:"sources"`
}

func (t *ResearchTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	query := stringParam(params, "query")
	if query == "" {
		if symbol := stringParam(params, "symbol"); symbol != "" {
			query = fmt.Sprintf("%s crypto market news and outlook", baseAsset(symbol))
		}
	}
	if query == "" {
		return nil, apperror.Validation("query or symbol is required")
	}
	key, err := t.apiKey(ctx)
	if err != nil {
		return nil, err
	}

	maxResults := intParam(params, "max_results", 5)
	if maxResults < 1 || maxResults > 10 {
		maxResults = 5
	}

	var resp struct {
		Answer  string `json:"answer"`
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	body := map[string]any{
		"api_key":        key,
		"query":          query,
		"max_results":    maxResults,
		"search_depth":   "basic",
		"include_answer": true,
	}
	if err := t.postJSON(ctx, t.cfg.BaseURL+"/search", body, &resp); err != nil {
		return nil, err
	}

	out := ResearchSummary{Query: query, Answer: resp.Answer}
	for _, r := range resp.Results {
		out.Sources = append(out.Sources, ResearchSource{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: truncate(r.Content, 300),
			Score:   r.Score,
		})
	}
	return out, nil
}
