// Package logging provides structured logging for the lakeship pipeline.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. It supports both text and JSON
// output formats, configurable log levels, and component-based loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format
//	logging.Init(slog.LevelDebug, true) // JSON format for production
//
//	// Get a component logger
//	log := logging.Component("extractor")
//	log.Info("extraction complete", "rows", n)
//
//	// Log with run context
//	log := logging.ForRun(ctx)
//	log.Error("stage failed", "error", err)
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// Component returns a logger for a specific pipeline component.
// The component name is added as an attribute to all log entries.
//
// Example:
//
//	log := logging.Component("uploader")
//	log.Info("started") // Output: time=... level=INFO component=uploader msg=started
func Component(name string) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return Logger.With("component", name)
}

// ForRun returns a logger that includes run-scoped context values.
func ForRun(ctx context.Context) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}

	logger := Logger

	if runDate, ok := ctx.Value(contextKeyRunDate).(string); ok {
		logger = logger.With("run_date", runDate)
	}
	if attempt, ok := ctx.Value(contextKeyAttempt).(int); ok {
		logger = logger.With("run_attempt", attempt)
	}

	return logger
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyRunDate contextKey = iota
	contextKeyAttempt
)

// ContextWithRun adds the run date and attempt counter to the context
// for logging.
func ContextWithRun(ctx context.Context, runDate string, attempt int) context.Context {
	ctx = context.WithValue(ctx, contextKeyRunDate, runDate)
	return context.WithValue(ctx, contextKeyAttempt, attempt)
}
