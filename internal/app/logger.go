package app

import (
	"io"
	"log/slog"
)

// newLogger builds the handler described by Config.LogLevel and
// Config.LogFormat. Each App carries its own instance; the global default
// stays the bootstrap logger cmd/cli installs.
func newLogger(level, format string, outW io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(outW, opts)
	} else {
		handler = slog.NewTextHandler(outW, opts)
	}
	return slog.New(handler)
}

// parseLevel maps the -log-level flag values; anything unrecognized falls
// back to info (the CLI rejects such values before they reach here).
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
