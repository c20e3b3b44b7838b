// Package logger provides the application-wide slog logger and shared
// logging attributes.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
)

// Module provides the logger fx.Module
var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)

// NewLogger creates the root slog.Logger.
//
// The level is read from LOG_LEVEL (case-insensitive; "warn" and "warning"
// are both accepted, unknown values fall back to info). When GO_ENV is
// "production" the logger emits JSON, otherwise human-readable text.
// Logs go to stderr so stdout stays reserved for the MCP stream.
func NewLogger() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Scope returns a "scope" attribute identifying the component emitting a log
// line, e.g. logger.Scope("graph.repo").
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Error returns an "error" attribute carrying the error value.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}
