// Package kfmt provides the kernel's diagnostic output facilities: the
// structured kernel logger, the console ring buffer, line prefixing for task
// output and the Panic function that halts the kernel.
package kfmt

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var logger = newLogger(os.Stderr, slog.LevelInfo)

func newLogger(w io.Writer, level slog.Level, attrs ...any) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler).With("module", "kernel").With(attrs...)
}

// ParseLevel maps a level name (debug, info, warn, error) to a slog.Level.
// Unknown names map to slog.LevelInfo.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InitLogger replaces the kernel logger with one that writes records at or
// above the named level to w. The optional attrs are attached to every
// record.
func InitLogger(level string, w io.Writer, attrs ...any) {
	logger = newLogger(w, ParseLevel(level), attrs...)
}

// Log returns the kernel logger.
func Log() *slog.Logger {
	return logger
}
