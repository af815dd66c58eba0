// Package logging configures colored structured logging with tint.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Setup configures logging at the named level (debug, info, warn, error).
// An empty name falls back to LOG_LEVEL, then info.
func Setup(level string) {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	slog.SetDefault(New(os.Stderr, ParseLevel(level)))
}

// New returns a tint logger writing to w
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		AddSource:  level == slog.LevelDebug,
		NoColor:    w != os.Stderr && w != os.Stdout,
	}))
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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
