package compose

import (
	"sync"
	"time"

	rerrors "github.com/vango-dev/recompose/internal/errors"
)

// ErrBudgetExceeded is returned when the pass budget refuses a pass.
var ErrBudgetExceeded = rerrors.New(rerrors.CodeBudgetExceeded)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// BudgetConfig bounds how much recomposition work the runtime does.
// Zero fields mean no limit.
type BudgetConfig struct {
	// MaxPassesPerWindow limits passes inside Window.
	MaxPassesPerWindow int
	// Window defaults to one second.
	Window time.Duration
	// MaxScopesPerPass defers remaining dirty scopes to the next pass.
	MaxScopesPerPass int
	// MaxPassesPerRun bounds RunUntilIdle.
	MaxPassesPerRun int
}

// PassBudget guards against recomposition storms, where effects keep writing
// state that schedules yet another pass.
type PassBudget struct {
	cfg    BudgetConfig
	window *slidingWindow
	mu     sync.Mutex
	denied int
}

// NewPassBudget creates a budget. A nil cfg returns nil, which allows
// everything.
func NewPassBudget(cfg *BudgetConfig, clock Clock) *PassBudget {
	if cfg == nil {
		return nil
	}
	c := *cfg
	if c.Window == 0 {
		c.Window = time.Second
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &PassBudget{
		cfg:    c,
		window: newSlidingWindow(c.Window, c.MaxPassesPerWindow, clock),
	}
}

// Allow records a pass, or returns ErrBudgetExceeded when the window is full.
func (b *PassBudget) Allow() error {
	if b == nil {
		return nil
	}
	if !b.window.tryAdd() {
		b.mu.Lock()
		b.denied++
		b.mu.Unlock()
		return rerrors.New(rerrors.CodeBudgetExceeded).
			WithDetailf("more than %d passes in %s", b.cfg.MaxPassesPerWindow, b.cfg.Window)
	}
	return nil
}

// MaxScopes returns the per-pass scope limit, 0 for none.
func (b *PassBudget) MaxScopes() int {
	if b == nil {
		return 0
	}
	return b.cfg.MaxScopesPerPass
}

// MaxPassesPerRun returns the RunUntilIdle limit.
func (b *PassBudget) MaxPassesPerRun() int {
	if b == nil || b.cfg.MaxPassesPerRun == 0 {
		return defaultMaxPassesPerRun
	}
	return b.cfg.MaxPassesPerRun
}

const defaultMaxPassesPerRun = 100

// BudgetStats reports budget usage.
type BudgetStats struct {
	PassesInWindow int
	Denied         int
}

// Stats returns current usage.
func (b *PassBudget) Stats() BudgetStats {
	if b == nil {
		return BudgetStats{}
	}
	b.mu.Lock()
	denied := b.denied
	b.mu.Unlock()
	return BudgetStats{PassesInWindow: b.window.count(), Denied: denied}
}

type slidingWindow struct {
	events     []time.Time
	windowSize time.Duration
	maxEvents  int
	clock      Clock
	mu         sync.Mutex
}

func newSlidingWindow(windowSize time.Duration, maxEvents int, clock Clock) *slidingWindow {
	return &slidingWindow{
		windowSize: windowSize,
		maxEvents:  maxEvents,
		clock:      clock,
	}
}

func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.windowSize)
	valid := 0
	for _, t := range w.events {
		if t.After(cutoff) {
			w.events[valid] = t
			valid++
		}
	}
	w.events = w.events[:valid]
}

// tryAdd records an event if the window has room.
func (w *slidingWindow) tryAdd() bool {
	if w.maxEvents == 0 {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	w.prune(now)
	if len(w.events) >= w.maxEvents {
		return false
	}
	w.events = append(w.events, now)
	return true
}

func (w *slidingWindow) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.clock.Now())
	return len(w.events)
}
