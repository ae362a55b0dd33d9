package prompt

import (
	"encoding/json"
	"testing"

	"github.com/irfndi/tradepilot/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleContext() AnalysisContext {
	entry := decimal.RequireFromString("64000.5")
	return AnalysisContext{
		Opportunity: &models.Opportunity{
			Symbol:     "BTCUSDT",
			Exchange:   "binance",
			SourceType: models.SourceTypeStrategy,
			InitialSignal: models.InitialSignal{
				Direction:  models.SignalDirectionBuy,
				EntryPrice: &entry,
				Timeframe:  "1h",
				Confidence: 0.7,
			},
		},
		Strategy: &models.TradingStrategyConfig{
			Name:       "Dip buyer",
			Kind:       models.StrategyKind("stochastic_rsi_mean_reversion"),
			Parameters: map[string]any{"rsi_period": 14, "oversold": 30},
		},
		Tools: []ToolDescription{
			{Name: "sentiment_analysis", Description: "News sentiment"},
		},
		PaperThreshold: 0.6,
		RealThreshold:  0.8,
		MaxToolCalls:   3,
	}
}

func TestBuilder_BuildAnalysisDefaultTemplate(t *testing.T) {
	out, err := NewBuilder().BuildAnalysis(sampleContext())
	require.NoError(t, err)

	assert.Contains(t, out, "Symbol: BTCUSDT on binance")
	assert.Contains(t, out, "Entry: 64000.5")
	assert.Contains(t, out, "Stop loss: n/a")
	assert.Contains(t, out, "Stochastic Rsi Mean Reversion")
	assert.Contains(t, out, "- oversold: 30\n- rsi_period: 14")
	assert.Contains(t, out, "- sentiment_analysis: News sentiment")
	assert.Contains(t, out, "confidence >= 60%")
	assert.Contains(t, out, ">= 80%")
}

func TestBuilder_ProfileTemplate(t *testing.T) {
	ctx := sampleContext()
	ctx.Profile = &models.AIProfile{ID: "p1", PromptTemplate: "{{ upper .Opportunity.Symbol }} real={{ .RealThreshold }}"}

	out, err := NewBuilder().BuildAnalysis(ctx)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT real=0.8", out)

	ctx.Profile.PromptTemplate = "{{ .Broken"
	_, err = NewBuilder().BuildAnalysis(ctx)
	assert.Error(t, err)
}

func TestBuilder_PlanAndSynthesis(t *testing.T) {
	b := NewBuilder()
	ctx := sampleContext()

	plan, err := b.BuildPlan(ctx)
	require.NoError(t, err)
	assert.Contains(t, plan, "Choose up to 3 tool calls")
	assert.Contains(t, plan, `"tool_calls"`)

	synth, err := b.BuildSynthesis(ctx)
	require.NoError(t, err)
	assert.Contains(t, synth, "No tool data is available")

	ctx.ToolOutputs = []ToolOutput{{Name: "sentiment_analysis", Provider: "cryptopanic", Data: json.RawMessage(`{"score":0.3}`)}}
	synth, err = b.BuildSynthesis(ctx)
	require.NoError(t, err)
	assert.Contains(t, synth, "## sentiment_analysis (cryptopanic)\n{\"score\":0.3}")
}

func TestBuilder_RequiresOpportunityAndStrategy(t *testing.T) {
	_, err := NewBuilder().BuildAnalysis(AnalysisContext{})
	assert.Error(t, err)

	_, err = NewBuilder().BuildAnalysis(AnalysisContext{Opportunity: &models.Opportunity{}})
	assert.Error(t, err)
}
