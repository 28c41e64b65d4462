// Package observe provides pass observers: Prometheus metrics, OpenTelemetry
// spans and structured logs.
package observe

import (
	"context"
	"log/slog"

	"github.com/vango-dev/recompose/pkg/compose"
)

// Logger logs one line per pass. Empty passes are logged at Debug.
type Logger struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogger creates a Logger writing non-empty passes at level.
func NewLogger(l *slog.Logger, level slog.Level) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{logger: l.With("component", "pass"), level: level}
}

// PassStarted implements compose.PassObserver.
func (l *Logger) PassStarted(ctx context.Context, _ compose.PassInfo) context.Context {
	return ctx
}

// PassFinished implements compose.PassObserver.
func (l *Logger) PassFinished(ctx context.Context, rep compose.PassReport, err error) {
	if err != nil {
		l.logger.ErrorContext(ctx, "pass failed", "pass", rep.ID, "kind", rep.Kind, "error", err)
		return
	}
	level := l.level
	if rep.Kind == compose.PassEmpty {
		level = slog.LevelDebug
	}
	l.logger.Log(ctx, level, "pass",
		"pass", rep.ID,
		"kind", rep.Kind,
		"dirty", rep.Dirty,
		"recomposed", rep.Recomposed,
		"skipped", rep.Skipped,
		"created", rep.Created,
		"removed", rep.Removed,
		"effects", rep.Effects,
		"duration", rep.Duration,
	)
	for _, m := range rep.Mismatches {
		l.logger.WarnContext(ctx, "structural mismatch", "pass", rep.ID, "error", m)
	}
}

type multi []compose.PassObserver

// Multi combines observers. PassStarted runs in order and threads the
// context through; PassFinished runs in reverse.
func Multi(obs ...compose.PassObserver) compose.PassObserver {
	var m multi
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multi) PassStarted(ctx context.Context, info compose.PassInfo) context.Context {
	for _, o := range m {
		ctx = o.PassStarted(ctx, info)
	}
	return ctx
}

func (m multi) PassFinished(ctx context.Context, rep compose.PassReport, err error) {
	for i := len(m) - 1; i >= 0; i-- {
		m[i].PassFinished(ctx, rep, err)
	}
}
