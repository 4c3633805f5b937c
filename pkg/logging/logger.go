// Package logging configures the process-wide slog setup.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogger builds the root logger. Format is "json" or "text";
// anything else falls back to JSON, which is what log shippers expect
// in deployment.
func InitLogger(level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level, AddSource: true}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// NewComponentLogger tags every record with the owning component so
// interleaved session logs stay attributable.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	return base.With(
		slog.String("component", component),
	)
}

// WithSession binds a session ID to a logger for per-session flows.
func WithSession(base *slog.Logger, sessionID string) *slog.Logger {
	return base.With(slog.String("session_id", sessionID))
}
