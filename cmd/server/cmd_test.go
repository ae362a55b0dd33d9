package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/irfndi/tradepilot/internal/config"
	"github.com/irfndi/tradepilot/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `
profiles:
  - id: default
    name: Default
    provider: openai
    model: gpt-4o-mini
strategies:
  - id: rsi-btc
    user_id: user-1
    name: RSI reversion
    kind: stochastic_rsi_mean_reversion
    paper_active: true
    parameters:
      symbols: [BTCUSDT]
`

func writeCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o644))
	return path
}

func TestSeedCatalog(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewRepository(storage.NewMemoryStore())
	path := writeCatalog(t)

	n, err := seedCatalog(ctx, repo, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	profile, err := repo.GetAIProfile(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", profile.Model)

	s, err := repo.GetStrategy(ctx, "rsi-btc")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, "user-1", s.UserID)

	_, err = seedCatalog(ctx, repo, path)
	require.NoError(t, err)
	s, err = repo.GetStrategy(ctx, "rsi-btc")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Version)
}

func TestSeedCatalog_EmptyPath(t *testing.T) {
	n, err := seedCatalog(context.Background(), storage.NewRepository(storage.NewMemoryStore()), "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStaticCredentials(t *testing.T) {
	cfg := &config.Config{
		Exchange: config.ExchangeConfig{Name: "binance", APIKey: "ek", APISecret: "es"},
		Trading:  config.TradingConfig{CredentialLabel: "default"},
		Tools: config.ToolsConfig{
			Sentiment: config.ToolProviderConfig{Service: "cryptopanic", Label: "default", APIKey: "cp"},
			OnChain:   config.ToolProviderConfig{Service: "glassnode", Label: "default"},
		},
	}
	static := staticCredentials(cfg)
	ctx := context.Background()

	cred, err := static.Resolve(ctx, "u1", "binance", "default")
	require.NoError(t, err)
	assert.Equal(t, "ek", cred.APIKey)
	assert.Equal(t, "es", cred.APISecret)

	cred, err = static.Resolve(ctx, "u1", "cryptopanic", "default")
	require.NoError(t, err)
	assert.Equal(t, "cp", cred.APIKey)

	_, err = static.Resolve(ctx, "u1", "glassnode", "default")
	assert.Error(t, err)
}

func TestInitialBalances(t *testing.T) {
	out := initialBalances(map[string]float64{"usdt": 10000, "btc": 0.5, "eth": 0})
	require.Len(t, out, 2)
	assert.Equal(t, "10000", out["USDT"].String())
	assert.Equal(t, "0.5", out["BTC"].String())
}

func TestExchangeConfig(t *testing.T) {
	got := exchangeConfig(config.ExchangeConfig{
		Name:        "binance",
		BaseURL:     "https://testnet.binance.vision",
		MaxAttempts: 3,
		RetryDelay:  time.Second,
		APIKey:      "never-copied",
	})
	assert.Equal(t, "binance", got.Name)
	assert.Equal(t, "https://testnet.binance.vision", got.BaseURL)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.Equal(t, time.Second, got.RetryDelay)
}

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 10*time.Second, shutdownTimeout(&config.Config{}))
	assert.Equal(t, 3*time.Second, shutdownTimeout(&config.Config{Server: config.ServerConfig{ShutdownTimeout: 3 * time.Second}}))
}
