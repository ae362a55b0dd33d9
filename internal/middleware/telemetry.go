package middleware

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-ID"

// Telemetry attaches a Sentry hub to each request and re-panics so gin's
// recovery still renders the response.
func Telemetry() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{Repanic: true, Timeout: 2 * time.Second})
}

// RequestLogger assigns a request id and logs method, path, status, latency
// and the authenticated user once the handler returns.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)
		if hub := sentrygin.GetHubFromContext(c); hub != nil {
			hub.Scope().SetTag("request_id", requestID)
		}

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		if id := CurrentUserID(c); id != "" {
			fields = append(fields, zap.String("user_id", id))
		}
		switch {
		case status >= 500:
			logger.Error("API request", fields...)
		case status >= 400:
			logger.Warn("API request", fields...)
		default:
			logger.Info("API request", fields...)
		}
	}
}

// RecordError reports err on the request's Sentry hub and marks the
// transaction failed.
func RecordError(c *gin.Context, err error, tags map[string]string) {
	hub := sentrygin.GetHubFromContext(c)
	if hub == nil {
		return
	}
	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		hub.CaptureException(err)
	})
	if tx := sentry.TransactionFromContext(c.Request.Context()); tx != nil {
		tx.Status = sentry.SpanStatusInternalError
	}
}

// AddSpanAttribute tags the request's Sentry scope.
func AddSpanAttribute(c *gin.Context, key string, value any) {
	if hub := sentrygin.GetHubFromContext(c); hub != nil {
		hub.Scope().SetTag(key, fmt.Sprint(value))
	}
}
