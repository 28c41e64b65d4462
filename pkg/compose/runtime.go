package compose

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	rerrors "github.com/vango-dev/recompose/internal/errors"
	"github.com/vango-dev/recompose/pkg/node"
	"github.com/vango-dev/recompose/pkg/state"
)

// Scheduler is asked for a pass when the runtime has pending work. It must
// eventually call RunPassNow on the composing goroutine.
type Scheduler interface {
	RequestPass()
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func()

// RequestPass implements Scheduler.
func (f SchedulerFunc) RequestPass() { f() }

type noScheduler struct{}

func (noScheduler) RequestPass() {}

// Option configures a Runtime.
type Option func(*Runtime)

// WithScheduler sets the scheduler. Without one, passes run only when
// RunPassNow or RunUntilIdle is called.
func WithScheduler(s Scheduler) Option {
	return func(r *Runtime) {
		if s != nil {
			r.sched = s
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver adds pass observers. PassStarted runs in the order given,
// PassFinished in reverse.
func WithObserver(obs ...PassObserver) Option {
	return func(r *Runtime) {
		for _, o := range obs {
			if o != nil {
				r.obs = append(r.obs, o)
			}
		}
	}
}

// WithBudget limits pass frequency and size.
func WithBudget(cfg BudgetConfig) Option {
	return func(r *Runtime) { r.budgetCfg = &cfg }
}

// WithClock sets the clock used for budgets and reports.
func WithClock(c Clock) Option {
	return func(r *Runtime) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithContext sets the parent of every LaunchedEffect context.
func WithContext(ctx context.Context) Option {
	return func(r *Runtime) {
		if ctx != nil {
			r.parent = ctx
		}
	}
}

// Runtime owns the state arena, the dirty set and every composition, and
// runs recomposition passes.
//
// State may be written from any goroutine. Passes, composition methods and
// effects (other than launched ones) run on a single composing goroutine:
// whichever goroutine calls RunPassNow.
type Runtime struct {
	arena *state.Arena

	mu      sync.Mutex
	pending map[state.ScopeID]struct{}
	scopes  map[state.ScopeID]*Scope
	nextID  uint64

	comps []*Composition
	seq   uint64
	last  PassReport

	phase   atomic.Int32
	running atomic.Bool
	closed  atomic.Bool

	sched     Scheduler
	obs       observers
	logger    *slog.Logger
	clock     Clock
	budgetCfg *BudgetConfig
	budget    *PassBudget

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	// Valid while a pass is running.
	current  *PassReport
	commands []childCommand
	effects  []func()
}

// NewRuntime creates a runtime.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		pending: make(map[state.ScopeID]struct{}),
		scopes:  make(map[state.ScopeID]*Scope),
		sched:   noScheduler{},
		logger:  slog.Default(),
		clock:   systemClock{},
		parent:  context.Background(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.arena = state.NewArena(r)
	r.budget = NewPassBudget(r.budgetCfg, r.clock)
	r.ctx, r.cancel = context.WithCancel(r.parent)
	return r
}

// Arena returns the state arena.
func (r *Runtime) Arena() *state.Arena { return r.arena }

// Logger returns the runtime's logger.
func (r *Runtime) Logger() *slog.Logger { return r.logger }

// Budget returns the pass budget, nil when unlimited.
func (r *Runtime) Budget() *PassBudget { return r.budget }

// Phase returns the current phase.
func (r *Runtime) Phase() Phase { return Phase(r.phase.Load()) }

// LastReport returns the report of the most recent pass.
func (r *Runtime) LastReport() PassReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Compositions returns the live compositions in registration order.
func (r *Runtime) Compositions() []*Composition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.comps)
}

func (r *Runtime) newScope(comp *Composition, site CallSite) *Scope {
	r.mu.Lock()
	r.nextID++
	s := &Scope{id: state.ScopeID(r.nextID), comp: comp, site: site}
	r.scopes[s.id] = s
	r.mu.Unlock()
	return s
}

func (r *Runtime) forgetScope(id state.ScopeID) {
	r.mu.Lock()
	delete(r.scopes, id)
	delete(r.pending, id)
	r.mu.Unlock()
	r.arena.Forget(id)
}

func (r *Runtime) register(c *Composition) {
	r.mu.Lock()
	r.comps = append(r.comps, c)
	r.mu.Unlock()
}

func (r *Runtime) unregister(c *Composition) {
	r.mu.Lock()
	r.comps = slices.DeleteFunc(r.comps, func(x *Composition) bool { return x == c })
	r.mu.Unlock()
}

// Invalidate marks scopes dirty and requests a pass. It implements
// state.Invalidator and is safe from any goroutine.
func (r *Runtime) Invalidate(scopes []state.ScopeID) {
	if len(scopes) == 0 || r.closed.Load() {
		return
	}
	r.mu.Lock()
	for _, id := range scopes {
		r.pending[id] = struct{}{}
	}
	r.mu.Unlock()
	r.RequestPass()
}

// RequestPass asks the scheduler for a pass unless one is already scheduled
// or running. A pass that finishes with work left requests the next one.
func (r *Runtime) RequestPass() {
	if r.closed.Load() {
		return
	}
	if r.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseScheduled)) {
		r.sched.RequestPass()
	}
}

// HasPendingWork reports whether a pass would do anything.
func (r *Runtime) HasPendingWork() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) > 0 {
		return true
	}
	for _, c := range r.comps {
		if c.hasWork() {
			return true
		}
	}
	return false
}

// maxDeriveRounds bounds how often drain re-collects the pending set while
// derived states keep changing. What is left waits for the next pass.
const maxDeriveRounds = 64

// drain moves the pending set onto the dirty lists of the scopes'
// compositions and returns how many live scopes were marked. Derived state
// scopes are recomputed here, before anything composes, so their readers
// join the same pass.
func (r *Runtime) drain() int {
	marked := 0
	for round := 0; round < maxDeriveRounds; round++ {
		r.mu.Lock()
		ids := make([]state.ScopeID, 0, len(r.pending))
		for id := range r.pending {
			ids = append(ids, id)
		}
		clear(r.pending)
		live := make([]*Scope, 0, len(ids))
		for _, id := range ids {
			if s, ok := r.scopes[id]; ok {
				live = append(live, s)
			}
		}
		r.mu.Unlock()

		derived := false
		for _, s := range live {
			if s.derive != nil {
				s.derive()
				derived = true
				continue
			}
			s.invalid = true
			if s.comp != nil {
				s.comp.markDirty(s)
			}
			marked++
		}
		if !derived {
			break
		}
	}
	return marked
}

// RunPassNow runs one pass: it drains the dirty set, recomposes every
// composition that has work, applies child list changes and then runs
// effects. It must not be called from inside a pass.
//
// A composition whose body aborts is unwound and recomposed from its root on
// the next pass; the error is returned after the remaining compositions
// have been processed.
func (r *Runtime) RunPassNow(ctx context.Context) (PassReport, error) {
	if r.closed.Load() {
		return PassReport{}, ErrRuntimeClosed
	}
	if !r.running.CompareAndSwap(false, true) {
		return PassReport{}, rerrors.New(rerrors.CodePassReentered).
			WithDetail("RunPassNow was called while a pass was running")
	}
	defer r.running.Store(false)

	if err := r.budget.Allow(); err != nil {
		r.logger.Warn("pass refused by budget", "error", err)
		r.finish()
		return PassReport{}, err
	}

	r.mu.Lock()
	r.seq++
	id := r.seq
	pending := len(r.pending)
	comps := slices.Clone(r.comps)
	r.mu.Unlock()

	ctx = r.obs.PassStarted(ctx, PassInfo{ID: id, Pending: pending})
	rep := &PassReport{ID: id, Started: r.clock.Now()}
	r.current = rep
	r.phase.Store(int32(PhaseComposing))

	rep.Dirty = r.drain()
	budget := r.budget.MaxScopes()
	if budget == 0 {
		budget = -1
	}

	var errs []error
	for _, c := range comps {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.process(rep, &budget); err != nil {
			errs = append(errs, err)
		}
	}

	r.phase.Store(int32(PhaseApplying))
	r.applyCommands(rep, r.commands)
	effects := r.effects
	r.commands, r.effects = nil, nil
	r.current = nil
	r.runEffects(rep, effects)

	for _, c := range comps {
		rep.TableSize += c.table.Len()
	}
	rep.Duration = r.clock.Now().Sub(rep.Started)
	switch {
	case rep.Full > 0:
		rep.Kind = PassFull
	case rep.Recomposed > 0:
		rep.Kind = PassPartial
	default:
		rep.Kind = PassEmpty
	}

	var err error
	if len(errs) == 1 {
		err = errs[0]
	} else if len(errs) > 1 {
		err = errors.Join(errs...)
	}
	if err != nil {
		rep.Err = err.Error()
	}

	r.mu.Lock()
	r.last = *rep
	r.mu.Unlock()

	r.logger.Debug("pass finished",
		"pass", rep.ID,
		"kind", rep.Kind,
		"dirty", rep.Dirty,
		"recomposed", rep.Recomposed,
		"skipped", rep.Skipped,
		"created", rep.Created,
		"removed", rep.Removed,
		"duration", rep.Duration,
	)
	r.obs.PassFinished(ctx, *rep, err)
	r.finish()
	return *rep, err
}

// finish leaves the pass, scheduling another one if work arrived meanwhile.
func (r *Runtime) finish() {
	r.phase.Store(int32(PhaseIdle))
	if r.HasPendingWork() {
		r.RequestPass()
	}
}

// RunUntilIdle runs passes until nothing is pending, at most
// BudgetConfig.MaxPassesPerRun of them. It returns the number of passes run.
func (r *Runtime) RunUntilIdle(ctx context.Context) (int, error) {
	limit := r.budget.MaxPassesPerRun()
	n := 0
	for r.HasPendingWork() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if n >= limit {
			return n, rerrors.New(rerrors.CodeBudgetExceeded).
				WithDetailf("still dirty after %d passes", n).
				WithSuggestion("Check for effects that write state on every pass")
		}
		if _, err := r.RunPassNow(ctx); err != nil {
			return n + 1, err
		}
		n++
	}
	return n, nil
}

// Close cancels launched effects, disposes every composition and waits for
// launched goroutines to return. Call it from the composing goroutine.
func (r *Runtime) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.cancel()
	for _, c := range r.Compositions() {
		c.Dispose()
	}
	r.tasks.Wait()
	r.phase.Store(int32(PhaseIdle))
	return nil
}

// Closed reports whether Close was called.
func (r *Runtime) Closed() bool { return r.closed.Load() }

func (r *Runtime) launch(ctx context.Context, fn func(context.Context)) {
	r.tasks.Add(1)
	go func() {
		defer r.tasks.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("launched effect panicked", "panic", p, "stack", string(debug.Stack()))
			}
		}()
		fn(ctx)
	}()
}

// queue hands a finished run's commands and effects to the running pass, or
// applies them immediately when no pass is running.
func (r *Runtime) queue(rep *PassReport, commands []childCommand, effects []func()) {
	if r.current != nil {
		r.commands = append(r.commands, commands...)
		r.effects = append(r.effects, effects...)
		return
	}
	r.applyCommands(rep, commands)
	r.runEffects(rep, effects)
}

// SetChildren makes children the child list of parent. Inside a pass the
// change is applied with the pass's other child list changes; outside one
// it is applied immediately. Call it on the composing goroutine.
func (r *Runtime) SetChildren(applier node.Applier, parent node.ID, children []node.ID) {
	cmd := childCommand{applier: applier, parent: parent, children: slices.Clone(children)}
	if r.current != nil {
		r.commands = append(r.commands, cmd)
		return
	}
	r.applyCommands(&PassReport{}, []childCommand{cmd})
}

func (r *Runtime) applyCommands(rep *PassReport, commands []childCommand) {
	for _, cmd := range commands {
		ops, err := applyChildren(cmd)
		rep.ChildOps += ops
		if err != nil {
			r.logger.Error("apply children", "parent", cmd.parent, "error", err)
		}
	}
}

// applyChildren brings a parent's live children in line with the desired
// list using the fewest removals, moves and inserts it can find cheaply.
func applyChildren(cmd childCommand) (int, error) {
	n, err := cmd.applier.Get(cmd.parent)
	if err != nil {
		return 0, err
	}
	p, ok := n.(node.Parent)
	if !ok {
		return 0, rerrors.New(rerrors.CodeNodeTypeMismatch).
			WithDetailf("node %d (%T) cannot hold children", cmd.parent, n)
	}

	want := make(map[node.ID]struct{}, len(cmd.children))
	for _, id := range cmd.children {
		want[id] = struct{}{}
	}
	ops := 0
	cur := slices.Clone(p.Children())
	kept := cur[:0]
	for _, id := range cur {
		if _, ok := want[id]; ok {
			kept = append(kept, id)
			continue
		}
		p.RemoveChild(id)
		ops++
	}
	cur = kept

	for i, id := range cmd.children {
		if i < len(cur) && cur[i] == id {
			continue
		}
		if j := slices.Index(cur, id); j >= 0 {
			p.MoveChild(j, i)
			cur = slices.Delete(cur, j, j+1)
			cur = slices.Insert(cur, i, id)
		} else {
			p.InsertChild(i, id)
			cur = slices.Insert(cur, i, id)
		}
		ops++
	}
	return ops, nil
}

func (r *Runtime) runEffects(rep *PassReport, effects []func()) {
	for _, fn := range effects {
		r.runEffect(fn)
		rep.Effects++
	}
}

func (r *Runtime) runEffect(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("effect panicked", "panic", p, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
