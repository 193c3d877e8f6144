// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured logger threaded through every
// component, replacing the package-level "log" globals the teacher stack
// otherwise scatters across subsystems (see spec §9, "Global singletons").
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Config controls where and how log records are written.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

// DefaultConfig returns the conventional development configuration.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text"}
}

func (c Config) level() slog.Level {
	switch c.Level {
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

// Logger wraps slog.Logger with the Info/Warn/Error/Debug(msg, kv...) plus
// WithFields/WithError chaining shape used throughout tsim's components.
type Logger struct {
	base *slog.Logger
}

// New builds a Logger writing to stderr per cfg.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{Level: cfg.level()}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return &Logger{base: slog.New(handler)}
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() *Logger {
	return &Logger{base: slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func (l *Logger) Debug(msg string, kv ...any) { l.base.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.base.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.base.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.base.Error(msg, kv...) }

// WithFields returns a child Logger with the given fields attached to every
// subsequent record.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{base: l.base.With(args...)}
}

// WithError returns a child Logger with an "error" field attached.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{base: l.base.With("error", err.Error())}
}

// With is the slog-idiomatic equivalent of WithFields for variadic key-value pairs.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{base: l.base.With(kv...)}
}

// WithContext returns l unchanged; ctx is not consulted. tsim doesn't thread
// a logger or log fields through context (see tsimctx.Context instead).
func (l *Logger) WithContext(_ context.Context) *Logger { return l }
