package main

import (
	"log/slog"

	"github.com/kstaniek/go-webterm/internal/logging"
)

// setupLogger installs the global logger and returns a closer for the log file.
func setupLogger(format, level, file string) (*slog.Logger, func() error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	w, closeFn := logging.Output(file, logging.FileRotation{})
	l := logging.New(format, lvl, w).With("app", "webterm")
	logging.Set(l)
	return l, closeFn
}
