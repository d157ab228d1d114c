package infra

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/msouza-dev/flowsync/internal/config"
)

func SetupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Stdout-only when the log file cannot be opened; losing the file copy
	// must not take the process down.
	var out io.Writer = os.Stdout
	if logFile, err := os.OpenFile("flowsync.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		out = io.MultiWriter(os.Stdout, logFile)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if strings.ToUpper(cfg.LogFormat) == "JSON" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}
