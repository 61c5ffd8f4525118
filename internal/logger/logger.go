package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var Logger = slog.Default()

// Init installs a text handler on stdout. LOG_LEVEL picks the level
// (debug, info, warn, error); DEBUG=true forces debug.
func Init() {
	InitWithWriter(os.Stdout)
}

func InitWithWriter(w io.Writer) {
	opts := &slog.HandlerOptions{
		Level: levelFromEnv(),
	}

	Logger = slog.New(slog.NewTextHandler(w, opts))
	slog.SetDefault(Logger)
}

func levelFromEnv() slog.Level {
	if os.Getenv("DEBUG") == "true" {
		return slog.LevelDebug
	}
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
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

// L returns the process logger for components that take an explicit *slog.Logger.
func L() *slog.Logger {
	return Logger
}

func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}
