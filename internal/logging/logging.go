// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured logger used across the flow
// engine and its supporting packages.
package logging

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"
)

// Level is a logging verbosity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) toCharm() charmlog.Level {
	switch l {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// Config configures a Logger.
type Config struct {
	Level  Level
	Output io.Writer
	JSON   bool
}

// DefaultConfig returns the package's default logger configuration:
// info level, writing to stderr, human-readable (non-JSON) output.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
		JSON:   false,
	}
}

// Logger is a thin, structured wrapper over charmbracelet/log. Components
// attach their name with WithComponent so log lines are attributable
// without every call site repeating it.
type Logger struct {
	inner     *charmlog.Logger
	component string
}

// New builds a Logger from cfg. A zero-value Output defaults to stderr.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	formatter := charmlog.TextFormatter
	if cfg.JSON {
		formatter = charmlog.JSONFormatter
	}

	l := charmlog.NewWithOptions(out, charmlog.Options{
		Level:     cfg.Level.toCharm(),
		Formatter: formatter,
	})
	return &Logger{inner: l}
}

// WithComponent returns a derived Logger that tags every record with the
// given component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		inner:     l.inner.With("component", name),
		component: name,
	}
}

// With returns a derived Logger with the given key/value pairs attached to
// every subsequent record.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{
		inner:     l.inner.With(kv...),
		component: l.component,
	}
}

func (l *Logger) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.inner.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.inner.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.inner.Error(msg, kv...) }

var defaultLogger atomic.Pointer[Logger]
var defaultOnce sync.Once

func getDefault() *Logger {
	defaultOnce.Do(func() {
		if defaultLogger.Load() == nil {
			defaultLogger.Store(New(DefaultConfig()))
		}
	})
	return defaultLogger.Load()
}

// SetDefault installs l as the package-level default logger used by the
// free Debug/Info/Warn/Error functions.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

func Debug(msg string, kv ...any) { getDefault().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { getDefault().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { getDefault().Warn(msg, kv...) }
func Error(msg string, kv ...any) { getDefault().Error(msg, kv...) }
