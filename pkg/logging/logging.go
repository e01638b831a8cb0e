// Package logging builds the structured logger every engine component logs
// through, satisfying the narrow Logger capability each package declares
// locally (iu.Logger, providers.Logger) so no package here needs to import
// this one. Built on log/slog with a tint.NewHandler for readable,
// colorized console output during development.
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Options configures the console handler.
type Options struct {
	Level     slog.Level
	AddSource bool
	NoColor   bool
}

// Logger wraps *slog.Logger to satisfy the engine's minimal Logger
// capability (Debug/Info/Warn/Error with key-value args) without pulling
// slog types into every package's public surface.
type Logger struct {
	*slog.Logger
}

// New builds a Logger writing to os.Stderr with tint's human-readable
// timestamped handler.
func New(opts Options) *Logger {
	w := os.Stderr
	h := tint.NewHandler(w, &tint.Options{
		Level:      opts.Level,
		AddSource:  opts.AddSource,
		TimeFormat: time.Kitchen,
		NoColor:    opts.NoColor,
	})
	return &Logger{Logger: slog.New(h)}
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.Logger.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.Logger.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.Logger.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.Logger.Error(msg, args...) }

// With returns a Logger that prefixes every record with the given
// key-value pairs, e.g. a module name.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
