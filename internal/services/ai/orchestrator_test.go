package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/irfndi/tradepilot/internal/ai/llm"
	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/credentials"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/irfndi/tradepilot/internal/services/ai/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient replies with queued responses and records prompts.
type scriptedClient struct {
	mu       sync.Mutex
	replies  []string
	err      error
	prompts  []string
	requests []*llm.CompletionRequest
}

func (c *scriptedClient) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	c.prompts = append(c.prompts, req.Messages[len(req.Messages)-1].Content)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	reply := c.replies[0]
	c.replies = c.replies[1:]
	return &llm.CompletionResponse{Content: reply, Model: req.Model, Provider: llm.ProviderOpenAI}, nil
}

func (c *scriptedClient) Provider() llm.Provider { return llm.ProviderOpenAI }

type stubTool struct {
	name string
	fail bool
}

func (s stubTool) Descriptor() tools.ToolDescriptor {
	return tools.ToolDescriptor{Name: s.name, Description: s.name + " data", Provider: "stub"}
}

func (s stubTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	if s.fail {
		return nil, errors.New("upstream unavailable")
	}
	return map[string]any{"tool": s.name, "symbol": params["symbol"], "user": credentials.UserFromContext(ctx)}, nil
}

func testOpportunity() *models.Opportunity {
	return &models.Opportunity{
		ID:     "opp-1",
		UserID: "user-1",
		Symbol: "BTCUSDT",
		InitialSignal: models.InitialSignal{
			Direction:  models.SignalDirectionBuy,
			Confidence: 0.7,
		},
	}
}

func testStrategy() *models.TradingStrategyConfig {
	return &models.TradingStrategyConfig{ID: "s1", Name: "RSI dip", Kind: models.StrategyKindStochasticRSIMeanReversion}
}

func newHub() *tools.Hub {
	hub := tools.NewHub(tools.HubConfig{}, nil, nil)
	hub.Register(stubTool{name: "sentiment_analysis"})
	hub.Register(stubTool{name: "onchain_metrics", fail: true})
	hub.Register(stubTool{name: "technical_indicators"})
	hub.Register(stubTool{name: "market_research"})
	return hub
}

func f64(v float64) *float64 { return &v }

func TestResolveThresholds(t *testing.T) {
	o := NewOrchestrator(Config{}, &scriptedClient{}, nil, nil, nil)

	paper, live := o.ResolveThresholds(nil)
	assert.Equal(t, 0.6, paper)
	assert.Equal(t, 0.8, live)

	paper, live = o.ResolveThresholds(&models.AIProfile{Thresholds: models.ConfidenceThresholds{Real: f64(0.9)}})
	assert.Equal(t, 0.6, paper)
	assert.Equal(t, 0.9, live)

	paper, _ = o.ResolveThresholds(&models.AIProfile{Thresholds: models.ConfidenceThresholds{Paper: f64(0.5)}})
	assert.Equal(t, 0.5, paper)
}

func TestAnalyze_DirectMode(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"confidence":0.92,"suggested_action":"BUY","recommended_trade_params":{"entry_price":"50000","stop_loss":49000,"take_profit":"52000","size_fraction":""},"reasoning":"oversold bounce"}`,
	}}
	o := NewOrchestrator(Config{Model: "gpt-4o-mini"}, client, newHub(), nil, nil)

	result, err := o.Analyze(context.Background(), testOpportunity(), testStrategy(), &models.AIProfile{ID: "p", Mode: models.AnalysisModeDirect})
	require.NoError(t, err)

	assert.Len(t, client.requests, 1, "direct mode makes a single model call")
	assert.Equal(t, 0.92, result.Confidence)
	assert.Equal(t, models.SuggestedActionBuy, result.SuggestedAction)
	require.NotNil(t, result.Params.StopLoss)
	assert.Equal(t, "49000", result.Params.StopLoss.String())
	assert.True(t, result.Params.HasExitLevels())
	assert.Nil(t, result.Params.SizeFraction)
	assert.Equal(t, "gpt-4o-mini", result.Model)
	assert.NotEmpty(t, result.ID)
	assert.Empty(t, result.Warnings)
	assert.True(t, client.requests[0].JSONMode)
}

func TestAnalyze_ClampsAndDefaultsAction(t *testing.T) {
	client := &scriptedClient{replies: []string{"```json\n{\"confidence\":1.4,\"suggested_action\":\"moon\"}\n```"}}
	o := NewOrchestrator(Config{}, client, nil, nil, nil)

	result, err := o.Analyze(context.Background(), testOpportunity(), testStrategy(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, models.SuggestedActionHold, result.SuggestedAction)
	assert.Len(t, result.Warnings, 2)
}

func TestAnalyze_PlanExecuteDegradesOnToolFailure(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"tool_calls":[{"name":"sentiment_analysis"},{"name":"onchain_metrics","parameters":{"symbol":"BTC"}},{"name":"market_research"}]}`,
		`{"confidence":0.65,"suggested_action":"buy","reasoning":"sentiment supportive"}`,
	}}
	o := NewOrchestrator(Config{}, client, newHub(), nil, nil)
	profile := &models.AIProfile{
		ID:           "planner",
		Mode:         models.AnalysisModePlanExecute,
		EnabledTools: []string{"sentiment_analysis", "onchain_metrics", "technical_indicators"},
	}

	result, err := o.Analyze(context.Background(), testOpportunity(), testStrategy(), profile)
	require.NoError(t, err)

	require.Len(t, client.prompts, 2)
	assert.Contains(t, client.prompts[0], "sentiment_analysis")
	assert.NotContains(t, client.prompts[0], "market_research", "only enabled tools are offered")

	assert.Equal(t, []string{"sentiment_analysis"}, result.ToolsConsulted)
	assert.Equal(t, 0.65, result.Confidence)
	assert.Contains(t, strings.Join(result.Warnings, "\n"), "tool market_research not enabled")
	assert.Contains(t, strings.Join(result.Warnings, "\n"), "tool onchain_metrics failed: upstream unavailable")

	synthesis := client.prompts[1]
	assert.Contains(t, synthesis, `"symbol":"BTCUSDT"`, "symbol injected when the plan omits it")
	assert.Contains(t, synthesis, `"user":"user-1"`, "tools run on behalf of the opportunity owner")
	assert.NotContains(t, synthesis, "## onchain_metrics")
}

func TestAnalyze_PlanCappedByMaxToolCalls(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"tool_calls":[{"name":"sentiment_analysis"},{"name":"technical_indicators"}]}`,
		`{"confidence":0.5,"suggested_action":"hold"}`,
	}}
	o := NewOrchestrator(Config{}, client, newHub(), nil, nil)
	profile := &models.AIProfile{
		Mode:         models.AnalysisModePlanExecute,
		EnabledTools: []string{"sentiment_analysis", "technical_indicators"},
		MaxToolCalls: 1,
	}

	result, err := o.Analyze(context.Background(), testOpportunity(), testStrategy(), profile)
	require.NoError(t, err)
	assert.Equal(t, []string{"sentiment_analysis"}, result.ToolsConsulted)
	assert.Contains(t, result.Warnings[0], "limit of 1 calls reached")
}

func TestAnalyze_UnparseablePlanContinues(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"I would look at sentiment first.",
		`{"confidence":0.4,"suggested_action":"hold"}`,
	}}
	o := NewOrchestrator(Config{}, client, newHub(), nil, nil)
	profile := &models.AIProfile{Mode: models.AnalysisModePlanExecute, EnabledTools: []string{"sentiment_analysis"}}

	result, err := o.Analyze(context.Background(), testOpportunity(), testStrategy(), profile)
	require.NoError(t, err)
	assert.Empty(t, result.ToolsConsulted)
	assert.Contains(t, result.Warnings, "tool plan unparseable; continuing without tools")
}

func TestAnalyze_ModelFailureIsFatal(t *testing.T) {
	client := &scriptedClient{err: apperror.ExternalAPI("openai", 500, "overloaded")}
	o := NewOrchestrator(Config{}, client, nil, nil, nil)

	_, err := o.Analyze(context.Background(), testOpportunity(), testStrategy(), nil)
	require.Error(t, err)
	assert.True(t, apperror.HasKind(err, apperror.KindAIAnalysis))
}

func TestAnalyze_UnparseableSynthesisIsFatal(t *testing.T) {
	for name, reply := range map[string]string{
		"prose":              "looks good to me",
		"missing confidence": `{"suggested_action":"buy"}`,
		"bad confidence":     `{"confidence":"high"}`,
	} {
		t.Run(name, func(t *testing.T) {
			o := NewOrchestrator(Config{}, &scriptedClient{replies: []string{reply}}, nil, nil, nil)
			_, err := o.Analyze(context.Background(), testOpportunity(), testStrategy(), nil)
			assert.True(t, apperror.HasKind(err, apperror.KindAIAnalysis))
		})
	}
}

func TestAnalyze_UnknownProvider(t *testing.T) {
	o := NewOrchestrator(Config{}, &scriptedClient{}, nil, nil, nil)
	_, err := o.Analyze(context.Background(), testOpportunity(), testStrategy(), &models.AIProfile{Provider: "mistral"})
	assert.True(t, apperror.HasKind(err, apperror.KindConfiguration))
}
