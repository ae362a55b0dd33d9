// Package observability initializes Sentry and exposes the capture helpers
// services use for errors that need human attention.
package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/irfndi/tradepilot/internal/config"
)

// InitSentry configures the global Sentry client. An empty DSN leaves Sentry
// disabled; capture calls then become no-ops.
//
// Parameters:
//   - cfg: Sentry settings.
//   - release: Build version reported with every event.
//   - environment: Fallback environment when cfg.Environment is empty.
func InitSentry(cfg config.SentryConfig, release, environment string) error {
	if cfg.DSN == "" {
		return nil
	}

	env := cfg.Environment
	if env == "" {
		env = environment
	}
	if cfg.Release != "" {
		release = cfg.Release
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      env,
		Release:          release,
		EnableTracing:    cfg.TracesSampleRate > 0,
		TracesSampleRate: cfg.TracesSampleRate,
		AttachStacktrace: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return nil
}

// Flush waits for buffered events, bounded by ctx or two seconds.
func Flush(ctx context.Context) {
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	sentry.Flush(timeout)
}

// CaptureException reports err with the given tags on the hub bound to ctx,
// falling back to the current hub.
func CaptureException(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		hub.CaptureException(err)
	})
}

// AlertReconciliation reports an order the exchange acknowledged but the
// system failed to record. These events always need manual follow-up.
func AlertReconciliation(ctx context.Context, err error, userID, opportunityID, exchangeOrderID string) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
		scope.SetTag("alert", "reconciliation_required")
		scope.SetTag("user_id", userID)
		scope.SetTag("opportunity_id", opportunityID)
		scope.SetTag("exchange_order_id", exchangeOrderID)
		hub.CaptureException(err)
	})
}

// AddBreadcrumb records a lightweight trail entry for later events.
func AddBreadcrumb(ctx context.Context, category, message string, data map[string]interface{}) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.AddBreadcrumb(&sentry.Breadcrumb{
		Category: category,
		Message:  message,
		Data:     data,
		Level:    sentry.LevelInfo,
	}, nil)
}
