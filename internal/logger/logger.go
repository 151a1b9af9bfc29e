package logger

import (
	"log/slog"
	"os"
	"strings"

	"civic-ingest/internal/config"
)

var Logger *slog.Logger

// InitLogger initializes structured logging based on configuration and makes it
// the process default so packages can use slog directly.
func InitLogger(cfg *config.Config, service string) *slog.Logger {
	level := parseLevel(cfg.LogLevel)
	if cfg.LogLevel == "" && cfg.GinMode == "debug" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	Logger = slog.New(handler).With("service", service, "pid", os.Getpid())
	slog.SetDefault(Logger)

	Logger.Debug("Structured logging initialized", "level", level.String())
	return Logger
}

func parseLevel(value string) slog.Level {
	switch strings.ToLower(value) {
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

// Helper functions for common log operations
func Info(msg string, args ...any) {
	if Logger != nil {
		Logger.Info(msg, args...)
	}
}

func Error(msg string, args ...any) {
	if Logger != nil {
		Logger.Error(msg, args...)
	}
}

func Warn(msg string, args ...any) {
	if Logger != nil {
		Logger.Warn(msg, args...)
	}
}
