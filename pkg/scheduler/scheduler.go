// Package scheduler decides when a runtime's requested passes run.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/recompose/pkg/compose"
)

// PassRunner is the part of *compose.Runtime a scheduler drives.
type PassRunner interface {
	RunPassNow(ctx context.Context) (compose.PassReport, error)
	HasPendingWork() bool
}

// Manual counts pass requests and runs passes only when Flush is called.
type Manual struct {
	requests atomic.Int64
	pending  atomic.Bool
	runner   PassRunner
}

// NewManual creates a Manual scheduler.
func NewManual() *Manual {
	return &Manual{}
}

// Attach sets the runtime Flush drives.
func (m *Manual) Attach(r PassRunner) { m.runner = r }

// RequestPass implements compose.Scheduler.
func (m *Manual) RequestPass() {
	m.requests.Add(1)
	m.pending.Store(true)
}

// Requests returns how many passes were requested in total.
func (m *Manual) Requests() int { return int(m.requests.Load()) }

// Pending reports whether a pass was requested since the last Flush.
func (m *Manual) Pending() bool { return m.pending.Load() }

// Flush runs passes until the runtime is idle, at most limit of them
// (100 when limit is 0). It returns the reports of the passes run.
func (m *Manual) Flush(ctx context.Context, limit int) ([]compose.PassReport, error) {
	if limit <= 0 {
		limit = 100
	}
	var reports []compose.PassReport
	for i := 0; i < limit; i++ {
		m.pending.Store(false)
		if m.runner == nil || !m.runner.HasPendingWork() {
			return reports, nil
		}
		rep, err := m.runner.RunPassNow(ctx)
		reports = append(reports, rep)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// FrameFunc runs at the start of a frame, before the pass.
type FrameFunc func(frameTime time.Time)

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopLogger sets the logger.
func WithLoopLogger(l *slog.Logger) LoopOption {
	return func(lp *Loop) {
		if l != nil {
			lp.logger = l
		}
	}
}

// WithErrorHandler is called with every pass error. The loop keeps running.
func WithErrorHandler(fn func(error)) LoopOption {
	return func(lp *Loop) { lp.onError = fn }
}

// WithReportHandler is called with every pass report.
func WithReportHandler(fn func(compose.PassReport)) LoopOption {
	return func(lp *Loop) { lp.onReport = fn }
}

// Loop is a frame clock. Requested passes run on the next frame tick, on the
// goroutine that called Run, after that frame's OnNextFrame callbacks.
type Loop struct {
	interval time.Duration
	runner   PassRunner
	logger   *slog.Logger
	onError  func(error)
	onReport func(compose.PassReport)

	wake chan struct{}

	mu        sync.Mutex
	callbacks []FrameFunc

	frames atomic.Uint64
	passes atomic.Uint64
}

// DefaultInterval is one frame at 60Hz.
const DefaultInterval = time.Second / 60

// NewLoop creates a Loop ticking every interval.
func NewLoop(interval time.Duration, opts ...LoopOption) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	l := &Loop{
		interval: interval,
		logger:   slog.Default().With("component", "scheduler"),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Attach sets the runtime the loop drives.
func (l *Loop) Attach(r PassRunner) { l.runner = r }

// Interval returns the frame interval.
func (l *Loop) Interval() time.Duration { return l.interval }

// RequestPass implements compose.Scheduler. Safe from any goroutine.
func (l *Loop) RequestPass() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// OnNextFrame runs fn once at the start of the next frame.
func (l *Loop) OnNextFrame(fn FrameFunc) {
	l.mu.Lock()
	l.callbacks = append(l.callbacks, fn)
	l.mu.Unlock()
	l.RequestPass()
}

// Frames returns how many frames ran.
func (l *Loop) Frames() uint64 { return l.frames.Load() }

// Passes returns how many passes ran.
func (l *Loop) Passes() uint64 { return l.passes.Load() }

// Run ticks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	t := time.NewTicker(l.interval)
	defer t.Stop()

	requested := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
			requested = true
		case now := <-t.C:
			if !requested {
				continue
			}
			requested = false
			l.Frame(ctx, now)
		}
	}
}

// Frame runs one frame: callbacks registered before it started, then a pass
// if the runtime has work.
func (l *Loop) Frame(ctx context.Context, now time.Time) {
	l.frames.Add(1)

	l.mu.Lock()
	cbs := l.callbacks
	l.callbacks = nil
	l.mu.Unlock()
	for _, fn := range cbs {
		l.runCallback(fn, now)
	}

	if l.runner == nil || !l.runner.HasPendingWork() {
		return
	}
	rep, err := l.runner.RunPassNow(ctx)
	l.passes.Add(1)
	if l.onReport != nil {
		l.onReport(rep)
	}
	if err != nil {
		l.logger.Error("pass failed", "pass", rep.ID, "error", err)
		if l.onError != nil {
			l.onError(err)
		}
	}
}

func (l *Loop) runCallback(fn FrameFunc, now time.Time) {
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("frame callback panicked", "panic", p)
		}
	}()
	fn(now)
}
