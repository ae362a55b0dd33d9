// Package logging builds the process-wide zap logger and the contextual
// helpers services use to tag their entries.
package logging

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StandardLogger wraps a zap.Logger with domain-specific field helpers.
type StandardLogger struct {
	logger *zap.Logger
}

// NewStandardLogger creates a JSON logger for production and a console
// logger for every other environment.
func NewStandardLogger(level, environment string) *StandardLogger {
	var cfg zap.Config
	if strings.EqualFold(environment, "production") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(getZapLevel(level))
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		logger = zap.NewExample()
	}
	return &StandardLogger{logger: logger}
}

// NewFromZap wraps an existing logger, mainly for tests.
func NewFromZap(logger *zap.Logger) *StandardLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StandardLogger{logger: logger}
}

func getZapLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger returns the underlying zap logger.
func (l *StandardLogger) Logger() *zap.Logger {
	return l.logger
}

func (l *StandardLogger) Sync() {
	_ = l.logger.Sync()
}

func (l *StandardLogger) WithService(service string) *zap.Logger {
	return l.logger.With(zap.String("service", service))
}

func (l *StandardLogger) WithComponent(component string) *zap.Logger {
	return l.logger.With(zap.String("component", component))
}

func (l *StandardLogger) WithOperation(operation string) *zap.Logger {
	return l.logger.With(zap.String("operation", operation))
}

func (l *StandardLogger) WithRequestID(requestID string) *zap.Logger {
	return l.logger.With(zap.String("request_id", requestID))
}

func (l *StandardLogger) WithUserID(userID string) *zap.Logger {
	return l.logger.With(zap.String("user_id", userID))
}

func (l *StandardLogger) WithExchange(exchange string) *zap.Logger {
	return l.logger.With(zap.String("exchange", exchange))
}

func (l *StandardLogger) WithSymbol(symbol string) *zap.Logger {
	return l.logger.With(zap.String("symbol", symbol))
}

func (l *StandardLogger) WithError(err error) *zap.Logger {
	return l.logger.With(zap.Error(err))
}

func (l *StandardLogger) WithFields(fields map[string]interface{}) *zap.Logger {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	return l.logger.With(zapFields...)
}

func (l *StandardLogger) LogStartup(service, version string, port int) {
	l.logger.Info("Service starting",
		zap.String("event", "startup"),
		zap.String("service", service),
		zap.String("version", version),
		zap.Int("port", port),
	)
}

func (l *StandardLogger) LogShutdown(service, reason string) {
	l.logger.Info("Service shutting down",
		zap.String("event", "shutdown"),
		zap.String("service", service),
		zap.String("reason", reason),
	)
}

func (l *StandardLogger) LogAPIRequest(method, path string, statusCode int, duration time.Duration, userID string) {
	fields := []zap.Field{
		zap.String("event", "api_request"),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", duration.Milliseconds()),
	}
	if userID != "" {
		fields = append(fields, zap.String("user_id", userID))
	}

	switch {
	case statusCode >= 500:
		l.logger.Error("API request", fields...)
	case statusCode >= 400:
		l.logger.Warn("API request", fields...)
	default:
		l.logger.Info("API request", fields...)
	}
}

// LogBusinessEvent records a domain event such as an opportunity transition
// or an executed trade.
func (l *StandardLogger) LogBusinessEvent(eventType string, details map[string]interface{}) {
	fields := []zap.Field{
		zap.String("event", "business_event"),
		zap.String("type", eventType),
	}
	for k, v := range details {
		fields = append(fields, zap.Any(k, v))
	}
	l.logger.Info("Business event", fields...)
}
