// Package log provides the logging infrastructure for kioku.
//
// Loggers are injected, not global: each component receives a
// *slog.Logger via its constructor and may add context with With().
// The CLI builds one logger at startup from the loaded configuration
// and installs it as the slog default.
//
// Usage:
//
//	logger := log.New(log.Config{Level: "debug"})
//	base := knowledge.New(ctx, db, model, logger.With("component", "knowledge"))
//
//	// In tests, discard output:
//	logger := log.NewNop()
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is a type alias for *slog.Logger. Components accept log.Logger
// (or *slog.Logger directly) as a dependency; no custom interface needed.
type Logger = *slog.Logger

// Config defines logger configuration options.
type Config struct {
	// Level is the minimum level: "debug", "info", "warn" or "error".
	// Unknown or empty values fall back to "info".
	Level string

	// Format selects the output encoding: "text" (default) or "json".
	Format string

	// AddSource adds source file positions to log entries.
	AddSource bool
}

// New creates a logger writing to os.Stderr. Stderr keeps stdout free
// for command output and for the MCP stdio transport.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a logger writing to w. Useful in tests that
// want to inspect log output.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop creates a logger that discards all output. Test use only;
// production code should always configure a real writer.
func NewNop() Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel maps a level name to its slog level. Matching is
// case-insensitive; anything unrecognized maps to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
