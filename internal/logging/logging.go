package logging

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Global structured logger. Initialized with a reasonable text handler.
var logger atomic.Pointer[slog.Logger]

func init() {
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Store(l)
}

// L returns the current global logger.
func L() *slog.Logger { return logger.Load() }

// Set replaces the global logger.
func Set(l *slog.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

// New creates a new logger with given level, format ("text" or "json"), and optional writer (defaults stderr).
func New(format string, level slog.Leveler, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(h)
}

// FileRotation bounds the on-disk log file. Zero values fall back to the
// rotation defaults below.
type FileRotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 3
	defaultMaxAgeDays = 7
)

// Output returns the writer log records go to: stderr when path is empty,
// otherwise stderr teed with a size-rotated file. The returned closer
// releases the file and must be called on shutdown.
func Output(path string, rot FileRotation) (io.Writer, func() error) {
	if path == "" {
		return os.Stderr, func() error { return nil }
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    orDefault(rot.MaxSizeMB, defaultMaxSizeMB),
		MaxBackups: orDefault(rot.MaxBackups, defaultMaxBackups),
		MaxAge:     orDefault(rot.MaxAgeDays, defaultMaxAgeDays),
		Compress:   rot.Compress,
	}
	return io.MultiWriter(os.Stderr, lj), lj.Close
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
