// Package logging wraps log/slog with the teacher's NewLogger(prefix)
// constructor idiom (internal/logger in the original tree), rebuilt on a
// structured backend so every component logs with a consistent "component"
// field instead of a bespoke string prefix.
package logging

import (
	"log/slog"
	"os"
)

var base = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{}))

// New returns a logger scoped to component, e.g. logging.New("runtime").
func New(component string) *slog.Logger {
	return base.With(slog.String("component", component))
}

// SetDefault installs l as the base logger every New call is scoped from.
// cmd/kerneld calls this once at startup after reading the config's log
// level so component loggers pick up the configured level and output.
func SetDefault(l *slog.Logger) { base = l }
