// Package llm is a thin, provider-neutral chat completion client used for the
// analysis and planning calls.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/irfndi/tradepilot/internal/apperror"
)

type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// JSONMode asks the provider for a single JSON object when it supports it.
	JSONMode bool `json:"json_mode,omitempty"`
}

type UsageMetrics struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type CompletionResponse struct {
	ID           string       `json:"id"`
	Model        string       `json:"model"`
	Provider     Provider     `json:"provider"`
	Content      string       `json:"content"`
	Usage        UsageMetrics `json:"usage"`
	LatencyMs    int64        `json:"latency_ms"`
	FinishReason string       `json:"finish_reason"`
}

type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	Provider() Provider
}

type ClientConfig struct {
	APIKey      string
	BaseURL     string
	HTTPTimeout time.Duration
	MaxTokens   int
	HTTPClient  *http.Client
}

func (c ClientConfig) httpClient(defaultTimeout time.Duration) *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.HTTPTimeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// NewClient returns the client for the named provider.
func NewClient(provider string, cfg ClientConfig) (Client, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(provider))) {
	case ProviderOpenAI, "":
		return NewOpenAIClient(cfg), nil
	case ProviderAnthropic:
		return NewAnthropicClient(cfg), nil
	default:
		return nil, apperror.Configuration("unsupported model provider %q", provider)
	}
}

// readBody reads the response and converts non-200 statuses into an
// external API error carrying the provider message.
func readBody(provider Provider, resp *http.Response, extract func([]byte) string) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := extract(body)
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, apperror.ExternalAPI(string(provider), resp.StatusCode, msg)
	}
	return body, nil
}

// ExtractJSON returns the first JSON object in text, tolerating code fences
// and prose around it.
func ExtractJSON(text string) (json.RawMessage, error) {
	start := strings.Index(text, "{")
	if start < 0 {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON in model output: %w", err)
	}
	return raw, nil
}
