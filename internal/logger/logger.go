package logger

import (
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/lmittmann/tint"
)

// Logger wraps slog.Logger with importer-specific helpers
type Logger struct {
	*slog.Logger
}

// New creates a logger writing to stderr
func New(level, format string) *Logger {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, level, format string) *Logger {
	var handler slog.Handler

	logLevel := ParseLevel(level)

	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	default:
		handler = tint.NewHandler(w, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.TimeOnly,
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a logger that drops everything (tests)
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// With returns a logger with additional attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithRunID adds run_id to every line
func (l *Logger) WithRunID(runID string) *Logger {
	return l.With("run_id", runID)
}

// WithComponent tags lines with the pipeline stage
func (l *Logger) WithComponent(name string) *Logger {
	return l.With("component", name)
}

// Error logs an error with stack trace
func (l *Logger) Error(msg string, args ...any) {
	args = append(args, "stack", string(debug.Stack()))
	l.Logger.Error(msg, args...)
}

// ParseLevel maps a level name to slog. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// VerbosityLevel turns a repeated -v count into a level name.
func VerbosityLevel(verbosity int, fallback string) string {
	switch {
	case verbosity == 1:
		return "info"
	case verbosity > 1:
		return "debug"
	default:
		return fallback
	}
}
