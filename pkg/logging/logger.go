package logging

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger so packages depend on one application type.
type Logger struct {
	*slog.Logger
}

// New creates a JSON logger at the given level ("debug", "info", "warn", "error").
func New(level string) *Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	return &Logger{Logger: slog.New(handler)}
}

// Default returns an info-level logger.
func Default() *Logger {
	return New("info")
}

// WithOrg returns a logger that stamps every record with the org id.
func (l *Logger) WithOrg(orgID string) *Logger {
	return &Logger{Logger: l.Logger.With("org_id", orgID)}
}
