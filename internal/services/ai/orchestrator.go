// Package ai turns an opportunity into a structured recommendation by
// consulting a language model, optionally backed by analysis tools.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/tradepilot/internal/ai/llm"
	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/credentials"
	"github.com/irfndi/tradepilot/internal/models"
	"github.com/irfndi/tradepilot/internal/prompt"
	"github.com/irfndi/tradepilot/internal/services/ai/tools"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultPaperThreshold = 0.6
	DefaultRealThreshold  = 0.8
	defaultMaxToolCalls   = 3
)

// ToolRunner is the subset of the tool hub the orchestrator needs.
type ToolRunner interface {
	ListTools() []tools.ToolDescriptor
	ExecuteMany(ctx context.Context, requests []tools.ToolRequest) []models.ToolExecutionResult
}

type Config struct {
	Provider              string
	Model                 string
	MaxTokens             int
	Timeout               time.Duration
	DefaultPaperThreshold float64
	DefaultRealThreshold  float64
}

// Orchestrator runs analyses. Model clients are chosen by the profile's
// provider, falling back to the configured default.
type Orchestrator struct {
	clients map[string]llm.Client
	hub     ToolRunner
	prompts *prompt.Builder
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

func NewOrchestrator(cfg Config, client llm.Client, hub ToolRunner, prompts *prompt.Builder, logger *zap.Logger) *Orchestrator {
	if cfg.DefaultPaperThreshold <= 0 {
		cfg.DefaultPaperThreshold = DefaultPaperThreshold
	}
	if cfg.DefaultRealThreshold <= 0 {
		cfg.DefaultRealThreshold = DefaultRealThreshold
	}
	if prompts == nil {
		prompts = prompt.NewBuilder()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		clients: make(map[string]llm.Client),
		hub:     hub,
		prompts: prompts,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
	if client != nil {
		o.clients[""] = client
		o.clients[string(client.Provider())] = client
	}
	return o
}

// AddClient registers a client for profiles naming its provider.
func (o *Orchestrator) AddClient(client llm.Client) {
	o.clients[string(client.Provider())] = client
}

// ResolveThresholds returns the profile's thresholds, or the defaults for
// any that are unset.
func (o *Orchestrator) ResolveThresholds(profile *models.AIProfile) (paper, live float64) {
	paper, live = o.cfg.DefaultPaperThreshold, o.cfg.DefaultRealThreshold
	if profile == nil {
		return paper, live
	}
	if profile.Thresholds.Paper != nil {
		paper = *profile.Thresholds.Paper
	}
	if profile.Thresholds.Real != nil {
		live = *profile.Thresholds.Real
	}
	return paper, live
}

// Analyze produces a recommendation for opp. Tool failures degrade the
// analysis with warnings; model failures are returned as AIAnalysis errors.
func (o *Orchestrator) Analyze(ctx context.Context, opp *models.Opportunity, strategy *models.TradingStrategyConfig, profile *models.AIProfile) (*models.AIAnalysisResult, error) {
	start := o.now()
	if profile == nil {
		profile = &models.AIProfile{ID: "default", Mode: models.AnalysisModeDirect}
	}
	client, err := o.client(profile)
	if err != nil {
		return nil, err
	}
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	paper, live := o.ResolveThresholds(profile)
	pctx := prompt.AnalysisContext{
		Opportunity:    opp,
		Strategy:       strategy,
		Profile:        profile,
		PaperThreshold: paper,
		RealThreshold:  live,
		MaxToolCalls:   o.maxToolCalls(profile),
	}

	logger := o.logger.With(
		zap.String("opportunity_id", opp.ID),
		zap.String("profile_id", profile.ID),
		zap.String("mode", string(profile.Mode)))

	var warnings []string
	var consulted []string

	if profile.Mode == models.AnalysisModePlanExecute && o.hub != nil {
		pctx.Tools = o.enabledTools(profile)
		requests, planWarnings, err := o.plan(ctx, client, profile, pctx)
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, planWarnings...)

		if len(requests) > 0 {
			toolCtx := credentials.ContextWithUser(ctx, opp.UserID)
			for i := range requests {
				if requests[i].Parameters == nil {
					requests[i].Parameters = map[string]any{}
				}
				if _, ok := requests[i].Parameters["symbol"]; !ok {
					requests[i].Parameters["symbol"] = opp.Symbol
				}
			}
			for _, res := range o.hub.ExecuteMany(toolCtx, requests) {
				if !res.Success {
					warnings = append(warnings, fmt.Sprintf("tool %s failed: %s", res.ToolName, res.Error))
					continue
				}
				consulted = append(consulted, res.ToolName)
				pctx.ToolOutputs = append(pctx.ToolOutputs, prompt.ToolOutput{
					Name:     res.ToolName,
					Provider: res.Provider,
					Data:     res.Data,
				})
			}
		}
	}

	synthesis, err := o.prompts.BuildSynthesis(pctx)
	if err != nil {
		return nil, apperror.AIAnalysis("failed to build analysis prompt", err)
	}
	resp, err := o.complete(ctx, client, profile, synthesis)
	if err != nil {
		return nil, err
	}

	result, parseWarnings, err := parseRecommendation(resp.Content)
	if err != nil {
		logger.Warn("Unparseable model recommendation", zap.Error(err))
		return nil, apperror.AIAnalysis("model returned an unparseable recommendation", err)
	}
	warnings = append(warnings, parseWarnings...)

	result.ID = uuid.New().String()
	result.Model = resp.Model
	if result.Model == "" {
		result.Model = o.model(profile)
	}
	result.ToolsConsulted = consulted
	result.Warnings = warnings
	result.AnalyzedAt = o.now().UTC()
	result.ProcessingTimeMs = o.now().Sub(start).Milliseconds()

	logger.Info("Opportunity analyzed",
		zap.Float64("confidence", result.Confidence),
		zap.String("action", string(result.SuggestedAction)),
		zap.Strings("tools", consulted),
		zap.Int("warnings", len(warnings)),
		zap.Int64("processing_time_ms", result.ProcessingTimeMs))
	return result, nil
}

func (o *Orchestrator) client(profile *models.AIProfile) (llm.Client, error) {
	if c, ok := o.clients[strings.ToLower(strings.TrimSpace(profile.Provider))]; ok {
		return c, nil
	}
	if profile.Provider == "" {
		return nil, apperror.Configuration("no model client configured")
	}
	return nil, apperror.Configuration("no model client for provider %q", profile.Provider)
}

func (o *Orchestrator) model(profile *models.AIProfile) string {
	if profile.Model != "" {
		return profile.Model
	}
	return o.cfg.Model
}

func (o *Orchestrator) maxToolCalls(profile *models.AIProfile) int {
	if profile.MaxToolCalls > 0 {
		return profile.MaxToolCalls
	}
	return defaultMaxToolCalls
}

func (o *Orchestrator) enabledTools(profile *models.AIProfile) []prompt.ToolDescription {
	var out []prompt.ToolDescription
	for _, d := range o.hub.ListTools() {
		if !profile.ToolEnabled(d.Name) {
			continue
		}
		out = append(out, prompt.ToolDescription{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return out
}

func (o *Orchestrator) complete(ctx context.Context, client llm.Client, profile *models.AIProfile, userPrompt string) (*llm.CompletionResponse, error) {
	resp, err := client.Complete(ctx, &llm.CompletionRequest{
		Model:       o.model(profile),
		Temperature: profile.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
		JSONMode:    true,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: o.prompts.SystemPrompt()},
			{Role: llm.RoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return nil, apperror.AIAnalysis("model call failed", err)
	}
	return resp, nil
}

type planResponse struct {
	ToolCalls []struct {
		Name       string         `json:"name"`
		Parameters map[string]any `json:"parameters"`
	} `json:"tool_calls"`
}

// plan asks the model which tools to run. An unusable plan degrades to no
// tool calls; a failed model call is fatal.
func (o *Orchestrator) plan(ctx context.Context, client llm.Client, profile *models.AIProfile, pctx prompt.AnalysisContext) ([]tools.ToolRequest, []string, error) {
	if len(pctx.Tools) == 0 {
		return nil, []string{"no tools enabled for plan_execute profile"}, nil
	}
	planPrompt, err := o.prompts.BuildPlan(pctx)
	if err != nil {
		return nil, nil, apperror.AIAnalysis("failed to build plan prompt", err)
	}
	resp, err := o.complete(ctx, client, profile, planPrompt)
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	raw, err := llm.ExtractJSON(resp.Content)
	var parsed planResponse
	if err == nil {
		err = json.Unmarshal(raw, &parsed)
	}
	if err != nil {
		return nil, []string{"tool plan unparseable; continuing without tools"}, nil
	}

	limit := pctx.MaxToolCalls
	var requests []tools.ToolRequest
	for _, call := range parsed.ToolCalls {
		name := strings.TrimSpace(call.Name)
		if !profile.ToolEnabled(name) {
			warnings = append(warnings, fmt.Sprintf("tool %s not enabled; skipped", name))
			continue
		}
		if len(requests) >= limit {
			warnings = append(warnings, fmt.Sprintf("tool %s skipped: limit of %d calls reached", name, limit))
			continue
		}
		requests = append(requests, tools.ToolRequest{Name: strings.ToLower(name), Parameters: call.Parameters})
	}
	return requests, warnings, nil
}

type recommendation struct {
	Confidence      json.RawMessage `json:"confidence"`
	SuggestedAction string          `json:"suggested_action"`
	Action          string          `json:"action"`
	Params          struct {
		EntryPrice   json.RawMessage `json:"entry_price"`
		StopLoss     json.RawMessage `json:"stop_loss"`
		TakeProfit   json.RawMessage `json:"take_profit"`
		SizeFraction json.RawMessage `json:"size_fraction"`
	} `json:"recommended_trade_params"`
	Reasoning string `json:"reasoning"`
}

func parseRecommendation(content string) (*models.AIAnalysisResult, []string, error) {
	raw, err := llm.ExtractJSON(content)
	if err != nil {
		return nil, nil, err
	}
	var rec recommendation
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, nil, fmt.Errorf("invalid recommendation: %w", err)
	}

	confidence, err := parseNumber(rec.Confidence)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid confidence: %w", err)
	}

	var warnings []string
	if confidence < 0 || confidence > 1 {
		warnings = append(warnings, fmt.Sprintf("confidence %.4f clamped to [0,1]", confidence))
		confidence = math.Max(0, math.Min(1, confidence))
	}

	actionText := rec.SuggestedAction
	if actionText == "" {
		actionText = rec.Action
	}
	action, ok := models.ParseSuggestedAction(actionText)
	if !ok {
		warnings = append(warnings, fmt.Sprintf("unknown action %q treated as hold", actionText))
	}

	return &models.AIAnalysisResult{
		Confidence:      confidence,
		SuggestedAction: action,
		Params: models.RecommendedTradeParams{
			EntryPrice:   parseDecimal(rec.Params.EntryPrice),
			StopLoss:     parseDecimal(rec.Params.StopLoss),
			TakeProfit:   parseDecimal(rec.Params.TakeProfit),
			SizeFraction: parseDecimal(rec.Params.SizeFraction),
		},
		Reasoning: strings.TrimSpace(rec.Reasoning),
	}, warnings, nil
}

func parseNumber(raw json.RawMessage) (float64, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, fmt.Errorf("missing")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite")
	}
	return f, nil
}

// parseDecimal accepts numbers or numeric strings; anything else, including
// non-positive values, is treated as absent.
func parseDecimal(raw json.RawMessage) *decimal.Decimal {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return nil
	}
	return &d
}
