package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HealthChecker is a dependency checked by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	checks   map[string]HealthChecker
	critical map[string]bool
	version  string
	started  time.Time
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime"`
	Services  map[string]string `json:"services"`
	Resources *ResourceStats    `json:"resources,omitempty"`
}

type ResourceStats struct {
	Goroutines        int     `json:"goroutines"`
	ProcessRSSBytes   uint64  `json:"process_rss_bytes"`
	SystemMemoryUsed  float64 `json:"system_memory_used_pct"`
	SystemMemoryTotal uint64  `json:"system_memory_total_bytes"`
}

// NewHealthHandler runs the checks on every request. A failing check in
// critical turns the response into 503; any other failure only degrades it.
func NewHealthHandler(version string, checks map[string]HealthChecker, critical ...string) *HealthHandler {
	h := &HealthHandler{
		checks:   checks,
		critical: make(map[string]bool, len(critical)),
		version:  version,
		started:  time.Now(),
	}
	for _, name := range critical {
		h.critical[name] = true
	}
	return h
}

func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Services:  make(map[string]string, len(h.checks)),
		Resources: resourceStats(ctx),
	}
	code := http.StatusOK
	for name, check := range h.checks {
		if check == nil {
			resp.Services[name] = "not configured"
			continue
		}
		if err := check.HealthCheck(ctx); err != nil {
			resp.Services[name] = "unhealthy: " + err.Error()
			resp.Status = "degraded"
			if h.critical[name] {
				resp.Status = "unhealthy"
				code = http.StatusServiceUnavailable
			}
			continue
		}
		resp.Services[name] = "healthy"
	}
	c.JSON(code, resp)
}

// Live reports only that the process is serving.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func resourceStats(ctx context.Context) *ResourceStats {
	stats := &ResourceStats{Goroutines: runtime.NumGoroutine()}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.SystemMemoryUsed = vm.UsedPercent
		stats.SystemMemoryTotal = vm.Total
	}
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if info, err := p.MemoryInfoWithContext(ctx); err == nil {
			stats.ProcessRSSBytes = info.RSS
		}
	}
	return stats
}
