package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/config"
	"github.com/irfndi/tradepilot/internal/credentials"
)

// provider is the HTTP plumbing shared by tools backed by a keyed API.
type provider struct {
	cfg      config.ToolProviderConfig
	resolver credentials.Resolver
	client   *http.Client
}

func newProvider(cfg config.ToolProviderConfig, resolver credentials.Resolver, client *http.Client) provider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Label == "" {
		cfg.Label = "default"
	}
	return provider{cfg: cfg, resolver: resolver, client: client}
}

// apiKey resolves the provider key for the user in ctx. The underlying
// resolution error is deliberately not propagated.
func (p provider) apiKey(ctx context.Context) (string, error) {
	if p.resolver == nil {
		return "", apperror.MCP(p.cfg.Service, "credentials unavailable", nil)
	}
	cred, err := p.resolver.Resolve(ctx, credentials.UserFromContext(ctx), p.cfg.Service, p.cfg.Label)
	if err != nil || cred.APIKey == "" {
		return "", apperror.MCP(p.cfg.Service, "credentials unavailable", nil)
	}
	return cred.APIKey, nil
}

func (p provider) getJSON(ctx context.Context, url string, header http.Header, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return p.do(req, dest)
}

func (p provider) postJSON(ctx context.Context, url string, body any, dest any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return p.do(req, dest)
}

func (p provider) do(req *http.Request, dest any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return apperror.MCP(p.cfg.Service, "request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return apperror.MCP(p.cfg.Service, "failed to read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperror.ExternalAPI(p.cfg.Service, resp.StatusCode, truncate(string(body), 200))
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return apperror.MCP(p.cfg.Service, "invalid response", err)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

// baseAsset extracts "BTC" from "BTCUSDT", "BTC/USDT" or "btc".
func baseAsset(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, sep := range []string{"/", "-", "_"} {
		if i := strings.Index(s, sep); i > 0 {
			return s[:i]
		}
	}
	for _, quote := range []string{"USDT", "USDC", "FDUSD", "BUSD", "USD", "EUR"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return strings.TrimSuffix(s, quote)
		}
	}
	return s
}
