// Package logger provides structured logging for driftfs on top of log/slog.
//
// All packages log through the package-level functions so that the log
// level and format can be changed at runtime (e.g. on a config reload)
// without threading a logger instance through every constructor.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or a file path
}

var (
	mu       sync.RWMutex
	levelVar = new(slog.LevelVar)
	output   io.Writer = os.Stderr
	slogger  = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
)

// Init configures the package logger. Output can be "stdout", "stderr",
// or a file path (opened in append mode).
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
		}
		output = f
	}

	if err := setLevelLocked(cfg.Level); err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: levelVar}
	if strings.ToLower(cfg.Format) == "json" {
		slogger = slog.New(slog.NewJSONHandler(output, opts))
	} else {
		slogger = slog.New(slog.NewTextHandler(output, opts))
	}
	return nil
}

// InitWithWriter points the logger at an arbitrary writer. Primarily for tests.
func InitWithWriter(w io.Writer, level, format string) {
	mu.Lock()
	defer mu.Unlock()

	output = w
	_ = setLevelLocked(level)

	opts := &slog.HandlerOptions{Level: levelVar}
	if strings.ToLower(format) == "json" {
		slogger = slog.New(slog.NewJSONHandler(w, opts))
	} else {
		slogger = slog.New(slog.NewTextHandler(w, opts))
	}
}

// SetLevel changes the minimum log level at runtime. Invalid levels are
// rejected so that a bad config reload cannot silence the logger.
func SetLevel(level string) error {
	mu.Lock()
	defer mu.Unlock()
	return setLevelLocked(level)
}

func setLevelLocked(level string) error {
	switch strings.ToUpper(level) {
	case "", "INFO":
		levelVar.Set(slog.LevelInfo)
	case "DEBUG":
		levelVar.Set(slog.LevelDebug)
	case "WARN":
		levelVar.Set(slog.LevelWarn)
	case "ERROR":
		levelVar.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	return nil
}

func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// Debug logs at debug level with structured fields.
// Usage: Debug("message", "key1", value1, "key2", value2)
func Debug(msg string, args ...any) {
	getLogger().Debug(msg, args...)
}

// Info logs at info level with structured fields.
func Info(msg string, args ...any) {
	getLogger().Info(msg, args...)
}

// Warn logs at warn level with structured fields.
func Warn(msg string, args ...any) {
	getLogger().Warn(msg, args...)
}

// Error logs at error level with structured fields.
func Error(msg string, args ...any) {
	getLogger().Error(msg, args...)
}

// With returns a slog.Logger with pre-bound attributes, useful for
// per-worker loggers that always carry the same identifying fields.
func With(args ...any) *slog.Logger {
	return getLogger().With(args...)
}
