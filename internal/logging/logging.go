package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/radutopala/simsearch/internal/config"
)

// New builds the process logger. Logs go to cfg.File when set, otherwise to
// stderr, so stdout stays free for the stdio transport. The returned closer
// releases the log file.
func New(cfg config.LoggingConfig) (*slog.Logger, func() error) {
	var out io.Writer = os.Stderr
	closer := func() error { return nil }

	if cfg.File != "" {
		logFile, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			out = logFile
			closer = logFile.Close
		}
		// Fall back to stderr if the log file cannot be opened
	}

	return NewWithWriter(out, cfg), closer
}

// NewWithWriter builds a logger writing to w
func NewWithWriter(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to a slog level, defaulting to info
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
