package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	AnthropicDefaultBaseURL   = "https://api.anthropic.com"
	AnthropicDefaultTimeout   = 120 * time.Second
	AnthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 1024
)

type AnthropicClient struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *zap.Logger
}

func NewAnthropicClient(config ClientConfig) *AnthropicClient {
	if config.BaseURL == "" {
		config.BaseURL = AnthropicDefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &AnthropicClient{
		config:     config,
		httpClient: config.httpClient(AnthropicDefaultTimeout),
		logger:     zap.NewNop(),
	}
}

func (c *AnthropicClient) SetLogger(logger *zap.Logger) {
	c.logger = logger
}

func (c *AnthropicClient) Provider() Provider {
	return ProviderAnthropic
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	startTime := time.Now()

	payload := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if payload.MaxTokens == 0 {
		payload.MaxTokens = c.config.MaxTokens
	}
	if payload.MaxTokens == 0 {
		payload.MaxTokens = anthropicDefaultMaxTokens
	}
	// System prompts travel in a dedicated field.
	var system []string
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		payload.Messages = append(payload.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	payload.System = strings.Join(system, "\n\n")

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	httpReq.Header.Set("anthropic-version", AnthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := readBody(ProviderAnthropic, resp, func(b []byte) string {
		var apiErr anthropicError
		if json.Unmarshal(b, &apiErr) != nil {
			return ""
		}
		return apiErr.Error.Message
	})
	if err != nil {
		return nil, err
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	out := &CompletionResponse{
		ID:           parsed.ID,
		Model:        parsed.Model,
		Provider:     ProviderAnthropic,
		Content:      text.String(),
		FinishReason: parsed.StopReason,
		LatencyMs:    time.Since(startTime).Milliseconds(),
		Usage: UsageMetrics{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
			TotalTokens:  parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}
	c.logger.Debug("Model completion finished",
		zap.String("model", out.Model),
		zap.Int("total_tokens", out.Usage.TotalTokens),
		zap.Int64("latency_ms", out.LatencyMs))
	return out, nil
}
