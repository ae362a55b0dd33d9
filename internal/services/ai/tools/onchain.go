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

const OnChainToolName = "onchain_metrics"

var defaultOnChainMetrics = []string{"addresses/active_count", "transactions/count"}

// OnChainTool reads daily on-chain series from a Glassnode-style API.
type OnChainTool struct {
	provider
}

func NewOnChainTool(cfg config.ToolProviderConfig, resolver credentials.Resolver, client *http.Client) *OnChainTool {
	return &OnChainTool{provider: newProvider(cfg, resolver, client)}
}

func (t *OnChainTool) Descriptor() ToolDescriptor {
	return ToolDescriptor{
		Name:        OnChainToolName,
		Description: "Latest on-chain activity for an asset with the change over the lookback window.",
		Parameters: map[string]any{
			"symbol":   map[string]any{"type": "string"},
			"metrics":  map[string]any{"type": "array", "items": "string", "default": defaultOnChainMetrics},
			"lookback": map[string]any{"type": "integer", "description": "days", "default": 7},
		},
		Provider:            t.cfg.Service,
		CacheTTL:            t.cfg.CacheTTL,
		RequiresCredentials: true,
	}
}

type MetricSummary struct {
	Metric    string    `json:"metric"`
	Latest    float64   `json:"latest"`
	ChangePct float64   `json:"change_pct"`
	AsOf      time.Time `json:"as_of"`
}

type OnChainSummary struct {
	Asset   string          `json:"asset"`
	Metrics []MetricSummary `json:"metrics"`
}

func (t *OnChainTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	symbol := stringParam(params, "symbol")
	if symbol == "" {
		return nil, apperror.Validation("symbol is required")
	}
	key, err := t.apiKey(ctx)
	if err != nil {
		return nil, err
	}

	metrics := defaultOnChainMetrics
	switch v := params["metrics"].(type) {
	case []string:
		if len(v) > 0 {
			metrics = v
		}
	case []any:
		var names []string
		for _, m := range v {
			if s, ok := m.(string); ok && s != "" {
				names = append(names, s)
			}
		}
		if len(names) > 0 {
			metrics = names
		}
	}
	lookback := intParam(params, "lookback", 7)
	if lookback < 1 {
		lookback = 1
	}

	asset := baseAsset(symbol)
	since := time.Now().UTC().AddDate(0, 0, -lookback).Unix()
	out := OnChainSummary{Asset: asset}
	for _, metric := range metrics {
		q := url.Values{}
		q.Set("a", asset)
		q.Set("i", "24h")
		q.Set("s", fmt.Sprint(since))
		header := http.Header{}
		header.Set("X-Api-Key", key)

		var points []struct {
			T int64   `json:"t"`
			V float64 `json:"v"`
		}
		endpoint := fmt.Sprintf("%s/metrics/%s?%s", t.cfg.BaseURL, strings.Trim(metric, "/"), q.Encode())
		if err := t.getJSON(ctx, endpoint, header, &points); err != nil {
			return nil, err
		}
		if len(points) == 0 {
			continue
		}
		first, last := points[0], points[len(points)-1]
		summary := MetricSummary{Metric: metric, Latest: last.V, AsOf: time.Unix(last.T, 0).UTC()}
		if first.V != 0 {
			summary.ChangePct = (last.V - first.V) / first.V * 100
		}
		out.Metrics = append(out.Metrics, summary)
	}
	return out, nil
}
