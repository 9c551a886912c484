// Package logging provides structured logging for berrydb.
//
// It wraps log/slog with a process-wide logger, component-scoped child
// loggers, and context-carried request attributes (session, stream,
// request ID) so handlers log with correlation fields without threading
// a logger through every call.
//
//	logging.Init(slog.LevelInfo, false)
//	log := logging.Component("commit")
//	log.Info("batch applied", "stream", id, "version", v)
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// Init initializes the global logger. With jsonFormat the output is JSON
// lines, otherwise human-readable text. Debug level also records source
// locations.
func Init(level slog.Level, jsonFormat bool) {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// InitWithHandler installs a custom handler, mainly for tests.
func InitWithHandler(handler slog.Handler) {
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// base returns the global logger, initializing it with defaults if Init
// has not run yet.
func base() *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return Logger
}

// With returns a logger carrying additional attributes.
func With(args ...any) *slog.Logger {
	return base().With(args...)
}

// Component returns a logger tagged with a component name.
func Component(name string) *slog.Logger {
	return base().With("component", name)
}

// WithContext returns a logger carrying whatever correlation attributes
// the context holds.
func WithContext(ctx context.Context) *slog.Logger {
	logger := base()

	if sessionID, ok := ctx.Value(contextKeySessionID).(string); ok {
		logger = logger.With("session_id", sessionID)
	}
	if stream, ok := ctx.Value(contextKeyStream).(string); ok {
		logger = logger.With("stream", stream)
	}
	if requestID, ok := ctx.Value(contextKeyRequestID).(uint64); ok {
		logger = logger.With("request_id", requestID)
	}

	return logger
}

type contextKey int

const (
	contextKeySessionID contextKey = iota
	contextKeyStream
	contextKeyRequestID
)

// ContextWithSessionID tags the context with a session ID for logging.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, contextKeySessionID, sessionID)
}

// ContextWithStream tags the context with a stream UUID for logging.
func ContextWithStream(ctx context.Context, stream string) context.Context {
	return context.WithValue(ctx, contextKeyStream, stream)
}

// ContextWithRequestID tags the context with a wire request ID for logging.
func ContextWithRequestID(ctx context.Context, requestID uint64) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// Debug logs at debug level on the global logger.
func Debug(msg string, args ...any) { base().Debug(msg, args...) }

// Info logs at info level on the global logger.
func Info(msg string, args ...any) { base().Info(msg, args...) }

// Warn logs at warning level on the global logger.
func Warn(msg string, args ...any) { base().Warn(msg, args...) }

// Error logs at error level on the global logger.
func Error(msg string, args ...any) { base().Error(msg, args...) }
