// Package logging provides structured logging configuration for dohctl.
//
// Logging Strategy:
// - Human-readable text output on stderr; stdout is reserved for the
//   interactive menu, prompts, and operator-facing progress output
// - Log levels configurable via config file (debug, info, warn, error)
// - Default logger set globally for convenience, also returned for explicit passing
//
// Usage:
//
//	logger := logging.Setup("info")
//	logger.Info("action description", "key", value)
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup creates and configures a structured text logger on stderr.
// The level parameter accepts: "debug", "info", "warn", "error" (case-insensitive).
// Invalid levels default to "info".
//
// The logger is also set as the default via slog.SetDefault, allowing
// use of the global slog.Info(), slog.Error(), etc. functions.
func Setup(level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)

	slog.SetDefault(logger)

	return logger
}

// parseLevel converts a string log level to slog.Level.
// Accepts: "debug", "info", "warn", "error" (case-insensitive).
// Returns slog.LevelInfo for unrecognized values.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent returns a logger with a pre-set component attribute.
// Useful for tagging all logs from a specific subsystem.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}
