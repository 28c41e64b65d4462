package compose

import (
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"slices"

	rerrors "github.com/vango-dev/recompose/internal/errors"
	"github.com/vango-dev/recompose/pkg/node"
	"github.com/vango-dev/recompose/pkg/slots"
)

// CompositionOption configures a Composition.
type CompositionOption func(*Composition)

// WithName names the composition in logs and dumps.
func WithName(name string) CompositionOption {
	return func(c *Composition) { c.name = name }
}

// WithRootsListener is called on the composing goroutine whenever the
// composition's top-level nodes change.
func WithRootsListener(fn func(old, roots []node.ID)) CompositionOption {
	return func(c *Composition) { c.onRoots = fn }
}

// Composition is one slot table and the content that fills it. Its methods
// must be called on the composing goroutine.
type Composition struct {
	rt      *Runtime
	applier node.Applier
	table   *slots.Table
	content func(*Composer)
	name    string
	logger  *slog.Logger

	root      *Scope
	roots     []node.ID
	onRoots   func(old, roots []node.ID)
	dirty     []*Scope
	needsFull bool
	active    bool
	disposed  bool

	// Report of the run in progress.
	report *PassReport
}

// NewComposition registers an empty composition with rt.
func NewComposition(rt *Runtime, applier node.Applier, opts ...CompositionOption) *Composition {
	c := &Composition{
		rt:      rt,
		applier: applier,
		active:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = rt.logger.With("composition", c.name)
	c.table = slots.New(c.disposeSlot)
	rt.register(c)
	return c
}

// Name returns the composition's name.
func (c *Composition) Name() string { return c.name }

// Runtime returns the owning runtime.
func (c *Composition) Runtime() *Runtime { return c.rt }

// Applier returns the node store.
func (c *Composition) Applier() node.Applier { return c.applier }

// Table returns the slot table. It is only stable between passes.
func (c *Composition) Table() *slots.Table { return c.table }

// SetContent replaces the content and schedules a full composition.
func (c *Composition) SetContent(content func(*Composer)) {
	if c.disposed {
		return
	}
	c.content = content
	c.needsFull = true
	c.rt.RequestPass()
}

// ComposeNow replaces the content and composes it immediately. Inside a pass
// its child list changes and effects join the pass; outside one they are
// applied before ComposeNow returns.
func (c *Composition) ComposeNow(content func(*Composer)) error {
	if c.disposed {
		return ErrDisposed
	}
	c.content = content
	rep := c.rt.current
	if rep == nil {
		rep = &PassReport{Started: c.rt.clock.Now()}
	}
	rep.Full++
	return c.render(rep)
}

// Roots returns the nodes emitted at the top level of the content.
func (c *Composition) Roots() []node.ID {
	return slices.Clone(c.roots)
}

// Active reports whether the composition takes part in passes.
func (c *Composition) Active() bool { return c.active && !c.disposed }

// SetActive pauses or resumes the composition. Scopes invalidated while it
// was inactive recompose on the first pass after it is resumed.
func (c *Composition) SetActive(active bool) {
	if c.disposed || c.active == active {
		return
	}
	c.active = active
	if active && len(c.dirty) > 0 {
		c.rt.RequestPass()
	}
}

// Disposed reports whether Dispose was called.
func (c *Composition) Disposed() bool { return c.disposed }

// Dispose discards every slot, releasing state, effects and nodes, and
// unregisters the composition.
func (c *Composition) Dispose() {
	if c.disposed {
		return
	}
	rep := c.rt.current
	if rep == nil {
		rep = &PassReport{}
	}
	c.report = rep
	c.table.Truncate(0)
	c.report = nil
	c.disposed = true
	c.dirty = nil
	c.root = nil
	c.roots = nil
	c.rt.unregister(c)
}

// Dump lists the slot table.
func (c *Composition) Dump() []slots.Entry { return c.table.Dump() }

// String renders the slot table.
func (c *Composition) String() string {
	return fmt.Sprintf("composition %q\n%s", c.name, c.table.String())
}

func (c *Composition) hasWork() bool {
	if c.disposed || !c.active {
		return false
	}
	return (c.needsFull && c.content != nil) || len(c.dirty) > 0
}

func (c *Composition) markDirty(s *Scope) {
	if c.disposed {
		return
	}
	c.dirty = append(c.dirty, s)
}

// nextDirty removes and returns the invalid scope that comes first in the
// table, so a parent always recomposes before its children.
func (c *Composition) nextDirty() (*Scope, int) {
	best, bestIdx := -1, -1
	live := c.dirty[:0]
	for _, s := range c.dirty {
		if s.disposed || !s.invalid {
			continue
		}
		idx := c.table.FindScope(uint64(s.id))
		if idx < 0 {
			s.invalid = false
			continue
		}
		if slices.Contains(live, s) {
			continue
		}
		live = append(live, s)
		if bestIdx < 0 || idx < bestIdx {
			best, bestIdx = len(live)-1, idx
		}
	}
	clear(c.dirty[len(live):])
	c.dirty = live
	if best < 0 {
		return nil, -1
	}
	s := c.dirty[best]
	c.dirty = slices.Delete(c.dirty, best, best+1)
	return s, bestIdx
}

// process runs this composition's share of a pass. scopes is the remaining
// scope budget for the pass, negative for none.
func (c *Composition) process(rep *PassReport, scopes *int) error {
	if c.disposed || !c.active {
		return nil
	}
	if c.needsFull {
		if c.content == nil {
			c.needsFull = false
			return nil
		}
		rep.Full++
		return c.render(rep)
	}
	for {
		if *scopes == 0 {
			if n := c.pendingDirty(); n > 0 {
				rep.Deferred += n
				c.rt.RequestPass()
			}
			return nil
		}
		s, idx := c.nextDirty()
		if s == nil {
			return nil
		}
		if s == c.root {
			rep.Full++
			return c.render(rep)
		}
		if err := c.recompose(s, idx, rep); err != nil {
			return err
		}
		if *scopes > 0 {
			*scopes--
		}
	}
}

func (c *Composition) pendingDirty() int {
	n := 0
	for _, s := range c.dirty {
		if s.invalid && !s.disposed {
			n++
		}
	}
	return n
}

// render composes the whole content from the root group.
func (c *Composition) render(rep *PassReport) (err error) {
	cp := newComposer(c, rep)
	c.report = rep
	defer c.recoverRun(cp, &err)

	c.table.Reset()
	cp.group(rootKey, CallSite{}, c.content, nil, false)
	c.table.TrimToCursor()
	c.needsFull = false
	if v := c.table.Slot(1).Value(); v.Kind == slots.ValueScope {
		c.root, _ = v.Data.(*Scope)
	}
	c.syncRoots()
	c.finishRun(cp)
	return nil
}

// recompose re-enters s's group at idx and re-runs its body.
func (c *Composition) recompose(s *Scope, idx int, rep *PassReport) (err error) {
	ancestors := c.table.Ancestors(idx)
	h, err := c.table.StartRecompose(idx)
	if err != nil {
		c.needsFull = true
		return err
	}

	cp := newComposer(c, rep)
	c.report = rep
	defer c.recoverRun(cp, &err)

	cp.restart(h, s)
	if err := c.table.EndRecompose(); err != nil {
		cp.Abort(err)
	}
	rep.Recomposed++

	region := -1
	for i := len(ancestors) - 1; i >= 0; i-- {
		if g, ok := c.table.Group(ancestors[i]); ok && g.Flags&slots.FlagParent != 0 {
			region = ancestors[i]
			break
		}
	}
	if region >= 0 {
		cp.syncRegion(region)
	} else {
		c.syncRoots()
	}
	c.finishRun(cp)
	return nil
}

// syncRegion recomputes the child list of the parent region at index.
func (cp *Composer) syncRegion(index int) {
	g, ok := cp.table.Group(index)
	if !ok {
		return
	}
	rec, ok := cp.table.Slot(index + 1).Value().Data.(*childList)
	if !ok {
		return
	}
	cp.queueChildren(rec, rec.parent, cp.table.DirectNodes(index+2, index+g.Len))
}

func (c *Composition) syncRoots() {
	roots := c.table.DirectNodes(0, c.table.Len())
	if slices.Equal(roots, c.roots) {
		return
	}
	old := c.roots
	c.roots = roots
	if c.onRoots != nil {
		c.onRoots(old, slices.Clone(roots))
	}
}

func (c *Composition) finishRun(cp *Composer) {
	var effects []func()
	cp.effects.Each(func(fn *func()) { effects = append(effects, *fn) })
	c.report = nil
	c.collectStats(cp.report)
	c.rt.queue(cp.report, cp.commands, effects)
}

func (c *Composition) collectStats(rep *PassReport) {
	st := c.table.TakeStats()
	rep.Moved += st.Moved
}

// recoverRun turns an abort or a panic in a body into an error. The table is
// unwound to a consistent state and the next pass recomposes from the root.
// Child list changes already queued are kept; effects are dropped.
func (c *Composition) recoverRun(cp *Composer, err *error) {
	p := recover()
	if p == nil {
		return
	}
	var e error
	if a, ok := p.(abort); ok {
		e = a.err
	} else {
		ce := rerrors.New(rerrors.CodeCompositionPanic).WithDetailf("%v", p)
		if sc := cp.scope(); sc != nil && sc.site.File != "" {
			ce.WithLocation(sc.site.File, sc.site.Line, 0)
		}
		if pe, ok := p.(error); ok {
			ce.Wrap(pe)
		}
		e = ce
		c.logger.Error("composition panicked", "panic", p, "stack", string(debug.Stack()))
	}
	c.table.Unwind()
	c.needsFull = true
	c.report = nil
	c.collectStats(cp.report)
	c.rt.queue(cp.report, cp.commands, nil)
	c.logger.Error("composition aborted", "error", e)
	*err = e
}

// disposeSlot releases what a discarded slot owned. It runs after the slot
// has left the table.
func (c *Composition) disposeSlot(s slots.Slot, _ slots.GroupEntry) {
	rep := c.report
	if rep != nil {
		rep.Disposed++
	}
	switch s.Kind() {
	case slots.KindNode:
		if err := c.applier.Remove(s.Node()); err != nil {
			c.logger.Warn("remove node", "node", s.Node(), "error", err)
		}
		if rep != nil {
			rep.Removed++
		}
	case slots.KindValue:
		c.disposeValue(s.Value())
	}
}

func (c *Composition) disposeValue(v slots.Value) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("dispose panicked", "kind", v.Kind, "panic", p)
		}
	}()
	switch v.Kind {
	case slots.ValueScope:
		if s, ok := v.Data.(*Scope); ok {
			s.dispose()
		}
	case slots.ValueState:
		if r, ok := v.Data.(interface{ release() }); ok {
			r.release()
		}
	case slots.ValueEffect:
		if e, ok := v.Data.(effectRecord); ok {
			e.dispose()
		}
	case slots.ValueOpaque:
		disposeOpaque(v.Data)
	}
}

// disposeOpaque calls Dispose on a remembered value or on what it points to.
func disposeOpaque(data any) {
	if d, ok := data.(Disposer); ok {
		d.Dispose()
		return
	}
	rv := reflect.ValueOf(data)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return
	}
	if d, ok := rv.Elem().Interface().(Disposer); ok {
		d.Dispose()
	}
}
