// Package tools hosts the analysis tools the orchestrator may consult and
// the hub that runs them with bounded concurrency, timeouts and caching.
package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/irfndi/tradepilot/internal/cache"
	"github.com/irfndi/tradepilot/internal/credentials"
	"github.com/irfndi/tradepilot/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ToolDescriptor describes a tool to the model and to the hub.
type ToolDescriptor struct {
	Name                string         `json:"name"`
	Description         string         `json:"description"`
	Parameters          map[string]any `json:"parameters,omitempty"`
	Provider            string         `json:"provider,omitempty"`
	CacheTTL            time.Duration  `json:"cache_ttl"`
	RequiresCredentials bool           `json:"requires_credentials"`
}

type Tool interface {
	Descriptor() ToolDescriptor
	Execute(ctx context.Context, params map[string]any) (any, error)
}

type ToolRequest struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

type HubConfig struct {
	MaxParallel int
	Timeout     time.Duration
}

// Hub runs registered tools. Every invocation yields a result value; tool
// failures, panics and timeouts never surface as Go errors.
type Hub struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	caches      map[string]cache.ResultCache
	newCache    cache.Factory
	maxParallel int
	timeout     time.Duration
	logger      *zap.Logger
}

func NewHub(cfg HubConfig, newCache cache.Factory, logger *zap.Logger) *Hub {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if newCache == nil {
		newCache = cache.NewFactory(nil, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		tools:       make(map[string]Tool),
		caches:      make(map[string]cache.ResultCache),
		newCache:    newCache,
		maxParallel: cfg.MaxParallel,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

// Register adds or replaces a tool and gives it a cache namespace when its
// TTL is positive.
func (h *Hub) Register(tool Tool) {
	d := tool.Descriptor()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools[d.Name] = tool
	if d.CacheTTL > 0 {
		h.caches[d.Name] = h.newCache(d.Name, d.CacheTTL)
	} else {
		delete(h.caches, d.Name)
	}
}

// ListTools returns descriptors sorted by name.
func (h *Hub) ListTools() []ToolDescriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(h.tools))
	for _, t := range h.tools {
		out = append(out, t.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (h *Hub) lookup(name string) (Tool, cache.ResultCache, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.tools[name]
	return t, h.caches[name], ok
}

// Execute runs one tool, consulting its cache first.
func (h *Hub) Execute(ctx context.Context, name string, params map[string]any) models.ToolExecutionResult {
	start := time.Now()
	result := models.ToolExecutionResult{ToolName: name}

	tool, rc, ok := h.lookup(name)
	if !ok {
		result.Error = fmt.Sprintf("unknown tool: %s", name)
		return result
	}
	desc := tool.Descriptor()
	result.Provider = desc.Provider

	key, keyErr := CacheKey(params)
	if desc.RequiresCredentials {
		// Results fetched with a user's key stay in that user's scope.
		key = "user:" + credentials.UserFromContext(ctx) + ":" + key
	}
	if rc != nil && keyErr == nil {
		if entry, hit := rc.Get(ctx, key); hit {
			result.Success = true
			result.Data = entry.Data
			result.FromCache = true
			result.Metadata = entry.Metadata
			if entry.Provider != "" {
				result.Provider = entry.Provider
			}
			result.LatencyMs = time.Since(start).Milliseconds()
			return result
		}
	}

	data, err := h.run(ctx, tool, params)
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		h.logger.Warn("Tool execution failed",
			zap.String("tool", name),
			zap.Int64("latency_ms", result.LatencyMs),
			zap.Error(err))
		return result
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		result.Error = fmt.Sprintf("tool %s returned unencodable data: %v", name, err)
		return result
	}
	result.Success = true
	result.Data = encoded

	if rc != nil && keyErr == nil {
		rc.Set(ctx, key, cache.Entry{Data: encoded, Provider: result.Provider})
	}
	return result
}

func (h *Hub) run(ctx context.Context, tool Tool, params map[string]any) (data any, err error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	type outcome struct {
		data any
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("Tool panicked",
					zap.String("tool", tool.Descriptor().Name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		d, e := tool.Execute(ctx, params)
		done <- outcome{data: d, err: e}
	}()

	select {
	case o := <-done:
		return o.data, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("tool timed out: %w", ctx.Err())
	}
}

// ExecuteMany runs requests concurrently, at most MaxParallel at a time.
// Results are returned in request order.
func (h *Hub) ExecuteMany(ctx context.Context, requests []ToolRequest) []models.ToolExecutionResult {
	results := make([]models.ToolExecutionResult, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.maxParallel)
	for i, req := range requests {
		g.Go(func() error {
			results[i] = h.Execute(gctx, req.Name, req.Parameters)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// CacheKey hashes params after trimming and lower-casing string values.
// encoding/json sorts map keys, so equal parameter sets hash equally.
func CacheKey(params map[string]any) (string, error) {
	normalized, err := json.Marshal(normalizeValue(params))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[strings.ToLower(strings.TrimSpace(k))] = normalizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val)
		}
		return out
	default:
		return v
	}
}
