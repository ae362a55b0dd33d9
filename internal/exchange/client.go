// Package exchange is the adapter to a Binance-compatible spot REST API.
// It signs private requests, rate limits every call and retries server-side
// failures through an explicit retry.Policy.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.binance.com"

// Credentials is an API key pair. Public endpoints work without one.
type Credentials struct {
	APIKey    string
	APISecret string
}

func (c Credentials) complete() bool {
	return c.APIKey != "" && c.APISecret != ""
}

type Config struct {
	Name              string
	BaseURL           string
	RecvWindow        int64
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxAttempts       int
	RetryDelay        time.Duration
}

// Client talks to one exchange account.
type Client struct {
	cfg        Config
	creds      Credentials
	httpClient *http.Client
	limiter    *rate.Limiter
	policy     retry.Policy
	logger     *zap.Logger
	now        func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New builds a client. Zero config values fall back to exchange defaults.
func New(cfg Config, creds Credentials, opts ...Option) *Client {
	if cfg.Name == "" {
		cfg.Name = "binance"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		cfg:        cfg,
		creds:      creds,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.policy = retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		Delay:       cfg.RetryDelay,
		Retryable:   IsRetryable,
		OnRetry: func(attempt int, err error) {
			c.logger.Warn("Retrying exchange request",
				zap.String("exchange", c.cfg.Name),
				zap.Int("attempt", attempt),
				zap.Error(err))
		},
	}
	return c
}

// Name returns the configured exchange name.
func (c *Client) Name() string {
	return c.cfg.Name
}

// IsRetryable accepts transport failures and 5xx responses. Client errors
// (4xx) are final.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) && appErr.Kind == apperror.KindExternalAPI {
		return appErr.StatusCode >= 500
	}
	var netErr *transportError
	return errors.As(err, &netErr)
}

// Binance rejects orders the account cannot fund with these codes.
const (
	codeInsufficientBalance     = -2010
	codeInsufficientMarginOrder = -2019
)

// IsInsufficientBalance reports a 4xx rejection for lack of funds.
func IsInsufficientBalance(err error) bool {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperror.KindExternalAPI {
		return false
	}
	if appErr.StatusCode < 400 || appErr.StatusCode >= 500 {
		return false
	}
	return appErr.Code == codeInsufficientBalance || appErr.Code == codeInsufficientMarginOrder
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// doSigned signs params with a fresh timestamp on every attempt.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if !c.creds.complete() {
		return nil, apperror.Credential(c.cfg.Name, "api_key", errors.New("api key and secret are required"))
	}

	var body []byte
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		signed := url.Values{}
		for k, v := range params {
			signed[k] = v
		}
		signed.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		signed.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
		signed.Set("signature", sign(signed.Encode(), c.creds.APISecret))

		var err error
		body, err = c.send(ctx, method, path, signed, true)
		return err
	})
	return body, err
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	var body []byte
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		body, err = c.send(ctx, http.MethodGet, path, params, false)
		return err
	})
	return body, err
}

func (c *Client) send(ctx context.Context, method, path string, params url.Values, withKey bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.cfg.BaseURL + path
	encoded := params.Encode()

	var (
		req *http.Request
		err error
	)
	switch method {
	case http.MethodGet, http.MethodDelete:
		if encoded != "" {
			endpoint += "?" + encoded
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if withKey {
		req.Header.Set("X-MBX-APIKEY", c.creds.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transportError{err: fmt.Errorf("%s %s: %w", method, path, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg := strings.TrimSpace(string(body))
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			msg = fmt.Sprintf("%s (code %d)", apiErr.Msg, apiErr.Code)
		}
		return nil, apperror.ExternalAPICode(c.cfg.Name, resp.StatusCode, apiErr.Code, msg)
	}
	return body, nil
}
