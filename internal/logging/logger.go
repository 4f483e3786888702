// Package logging builds the process-wide structured logger. Grounded on
// the teacher's common/logger/logger.go.
package logging

import (
	"log/slog"
	"os"
)

// New creates a structured JSON logger tagged with the service name, with
// its level controlled by levelStr (DEBUG/INFO/WARN/ERROR, default INFO).
func New(serviceName, levelStr string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(levelStr)}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler).With(slog.String("service", serviceName))
}

func parseLevel(levelStr string) slog.Level {
	switch levelStr {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
