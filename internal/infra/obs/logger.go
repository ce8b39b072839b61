package obs

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger configures slog logger with colorful dev output and JSON for production-like envs.
func NewLogger(env string) *slog.Logger {
	level := slog.LevelInfo
	if isDev(env) {
		level = slog.LevelDebug
	}
	return NewLoggerWithLevel(env, os.Stdout, level)
}

// NewLoggerWithLevel is NewLogger with an explicit writer and minimum level.
func NewLoggerWithLevel(env string, writer io.Writer, level slog.Level) *slog.Logger {
	if isDev(env) {
		handler := tint.NewHandler(writer, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
			AddSource:  true,
		})
		return slog.New(handler)
	}
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})
	return slog.New(handler)
}

func isDev(env string) bool {
	return env == "dev" || env == "local"
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
