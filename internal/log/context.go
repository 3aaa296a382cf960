package log

import (
	"context"
	"log/slog"
)

type contextKey string

// LoggerContextKey is the context key for the request-scoped logger.
const LoggerContextKey contextKey = "logger"

// NewContext returns a context carrying the logger.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext extracts the logger from the context, falling back to
// the process default.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return &Logger{
		Logger:    slog.Default(),
		component: ComponentApp,
	}
}
