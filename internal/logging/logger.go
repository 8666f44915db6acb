// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the single structured logger used across the
// control plane, wrapping log/slog the way the rest of the components
// expect: a component tag per package and a level settable at runtime
// from the parsed configuration's system.log_level.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Logger wraps slog.Logger with a runtime-adjustable level.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// Config configures a Logger.
type Config struct {
	Level  Level
	Output io.Writer
	JSON   bool
}

// DefaultConfig returns console logging at info level to stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	lv := &slog.LevelVar{}
	lv.Set(cfg.Level)

	opts := &slog.HandlerOptions{Level: lv}
	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		h = NewConsoleHandler(cfg.Output, opts)
	}
	return &Logger{Logger: slog.New(h), level: lv}
}

// ParseLevel maps the config's system.log_level string onto a Level,
// defaulting to info for anything unrecognized.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the process-wide logger, creating it on first use.
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(DefaultConfig())
	})
	return defaultLogger
}

// SetDefault replaces the process-wide logger, e.g. once the config's
// log_level has been parsed at startup.
func SetDefault(l *Logger) {
	defaultLogger = l
}

// SetLevel adjusts the logger's level without rebuilding its handler.
func (l *Logger) SetLevel(level Level) { l.level.Set(level) }

// WithComponent tags every record from the returned logger with a
// "component" attribute, e.g. logging.Default().WithComponent("dhcpserver").
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name), level: l.level}
}

// WithComponent is a convenience wrapper around Default().WithComponent.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}
