package reactor

import (
	"log/slog"
	"os"

	"github.com/joeycumines/logiface"
	logifaceslog "github.com/joeycumines/logiface-slog"
)

// Logger is the structured logging facade used throughout Runtime, built on
// logiface with the logiface-slog backend — the same pairing the teacher
// package depends on, wired into production log call sites rather than left
// for tests only.
type Logger = logiface.Logger[*logifaceslog.Event]

// defaultLogger returns a Logger that writes JSON to stderr at
// informational level, used whenever a Runtime is constructed without
// WithLogger.
func defaultLogger() *Logger {
	return NewSlogLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// NewSlogLogger adapts an arbitrary slog.Handler into a logiface Logger,
// for callers (e.g. cmd/reactorcore) that already have a configured
// slog.Handler and want Runtime to log through it.
func NewSlogLogger(handler slog.Handler) *Logger {
	return logiface.New[*logifaceslog.Event](logifaceslog.NewLogger(handler))
}
