package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init initializes a JSON logger writing to stdout and installs it as the
// process default. The level comes from LOG_LEVEL.
func Init() *slog.Logger {
	return InitWithWriter(os.Stdout)
}

// InitWithWriter is Init with an explicit sink, used by tests.
func InitWithWriter(w io.Writer) *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
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
