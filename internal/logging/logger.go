// Package logging provides structured, component-scoped logging for Stride.
// It wraps zerolog so every subsystem logs through the same leveled pipeline.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	root = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
)

// Setup configures the root logger. Level is one of debug, info, warn, error;
// unknown values fall back to info. Passing a nil writer keeps the console
// writer on stderr.
func Setup(level string, w io.Writer) {
	lvl := parseLevel(level)

	mu.Lock()
	defer mu.Unlock()

	out := w
	if out == nil {
		out = io.Writer(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	root = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Component returns a logger tagged with the given component name.
// Subsystems derive their logger once at construction time.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With().Str("component", name).Logger()
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
