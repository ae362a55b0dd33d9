package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/config"
	"github.com/irfndi/tradepilot/internal/credentials"
)

const SentimentToolName = "sentiment_analysis"

// SentimentTool scores recent news for an asset from community votes on a
// CryptoPanic-style posts feed.
type SentimentTool struct {
	provider
}

func NewSentimentTool(cfg config.ToolProviderConfig, resolver credentials.Resolver, client *http.Client) *SentimentTool {
	return &SentimentTool{provider: newProvider(cfg, resolver, client)}
}

func (t *SentimentTool) Descriptor() ToolDescriptor {
	return ToolDescriptor{
		Name:        SentimentToolName,
		Description: "Aggregated news sentiment for an asset, from -1 (bearish) to 1 (bullish).",
		Parameters: map[string]any{
			"symbol": map[string]any{"type": "string", "description": "Asset or pair, e.g. BTC or BTCUSDT"},
		},
		Provider:            t.cfg.Service,
		CacheTTL:            t.cfg.CacheTTL,
		RequiresCredentials: true,
	}
}

type sentimentPost struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	Votes       struct {
		Negative  int `json:"negative"`
		Positive  int `json:"positive"`
		Important int `json:"important"`
		Liked     int `json:"liked"`
		Disliked  int `json:"disliked"`
		Toxic     int `json:"toxic"`
	} `json:"votes"`
}

type SentimentSummary struct {
	Asset     string   `json:"asset"`
	Score     float64  `json:"score"`
	Label     string   `json:"label"`
	Articles  int      `json:"articles"`
	Bullish   int      `json:"bullish"`
	Bearish   int      `json:"bearish"`
	Headlines []string `json:"headlines,omitempty"`
}

func (t *SentimentTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	symbol := stringParam(params, "symbol")
	if symbol == "" {
		return nil, apperror.Validation("symbol is required")
	}
	key, err := t.apiKey(ctx)
	if err != nil {
		return nil, err
	}

	asset := baseAsset(symbol)
	q := url.Values{}
	q.Set("auth_token", key)
	q.Set("currencies", asset)
	q.Set("public", "true")

	var resp struct {
		Results []sentimentPost `json:"results"`
	}
	if err := t.getJSON(ctx, fmt.Sprintf("%s/posts/?%s", t.cfg.BaseURL, q.Encode()), nil, &resp); err != nil {
		return nil, err
	}
	return summarizeSentiment(asset, resp.Results), nil
}

func summarizeSentiment(asset string, posts []sentimentPost) SentimentSummary {
	out := SentimentSummary{Asset: asset, Articles: len(posts), Label: "neutral"}
	var total float64
	for _, p := range posts {
		up := p.Votes.Positive + p.Votes.Liked
		down := p.Votes.Negative + p.Votes.Disliked + p.Votes.Toxic
		var score float64
		if up+down > 0 {
			score = float64(up-down) / float64(up+down)
		} else {
			score = headlineScore(p.Title)
		}
		switch {
		case score > 0.1:
			out.Bullish++
		case score < -0.1:
			out.Bearish++
		}
		total += score
		if len(out.Headlines) < 5 {
			out.Headlines = append(out.Headlines, p.Title)
		}
	}
	if len(posts) > 0 {
		out.Score = total / float64(len(posts))
	}
	switch {
	case out.Score > 0.2:
		out.Label = "bullish"
	case out.Score < -0.2:
		out.Label = "bearish"
	}
	return out
}

var (
	bullishWords = []string{"surge", "rally", "soar", "gain", "bull", "breakout", "record", "approval", "adoption", "up"}
	bearishWords = []string{"crash", "plunge", "drop", "bear", "hack", "ban", "lawsuit", "selloff", "fall", "down"}
)

// headlineScore is a keyword fallback for posts without votes.
func headlineScore(title string) float64 {
	words := strings.Fields(strings.ToLower(title))
	var pos, neg int
	for _, w := range words {
		w = strings.Trim(w, ".,!?:;\"'()")
		for _, b := range bullishWords {
			if strings.HasPrefix(w, b) {
				pos++
				break
			}
		}
		for _, b := range bearishWords {
			if strings.HasPrefix(w, b) {
				neg++
				break
			}
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}
