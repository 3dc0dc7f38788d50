// Package logx is the structured logging wrapper used throughout
// miniperf. It adds an elapsed-time field to log/slog records so
// every component can attach fields (cpu id, group id, lost count)
// instead of formatting them into a string by hand.
package logx

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps a *slog.Logger with an elapsed-time clock, attaching the
// time since creation to every record as an "elapsed" field.
type Logger struct {
	slog    *slog.Logger
	start   time.Time
	enabled bool
}

// New creates a Logger that writes structured records to stderr.
// component is attached as a field to every record. With enabled=false
// only Error records are written.
func New(component string, enabled bool) *Logger {
	level := slog.LevelInfo
	if !enabled {
		level = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &Logger{
		slog:    slog.New(h).With("component", component),
		start:   time.Now(),
		enabled: enabled,
	}
}

// With returns a child Logger with additional fields attached, without
// resetting the elapsed-time clock.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), start: l.start, enabled: l.enabled}
}

// Elapsed returns time since the Logger (or its root) was created.
func (l *Logger) Elapsed() time.Duration {
	return time.Since(l.start).Round(time.Millisecond)
}

func (l *Logger) Info(msg string, args ...any) {
	l.slog.Log(context.Background(), slog.LevelInfo, msg, append(args, "elapsed", l.Elapsed())...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.slog.Log(context.Background(), slog.LevelWarn, msg, append(args, "elapsed", l.Elapsed())...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.slog.Log(context.Background(), slog.LevelError, msg, append(args, "elapsed", l.Elapsed())...)
}
