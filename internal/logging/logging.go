// Package logging provides a shared slog.Logger setup and context plumbing
// for the mailim transport core, mirroring the teacher's internal/logging
// convention (referenced by infodancer-pop3d's cmd/pop3d/main.go).
package logging

import (
	"context"
	"log/slog"
	"os"
)

type contextKey struct{}

// NewLogger creates a text-handler slog.Logger at the given level.
// Unrecognized levels fall back to info.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

// NewContext returns a copy of ctx carrying logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or slog.Default() if none
// was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}
