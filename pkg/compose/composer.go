package compose

import (
	"fmt"
	"slices"

	rerrors "github.com/vango-dev/recompose/internal/errors"
	"github.com/vango-dev/recompose/internal/inline"
	"github.com/vango-dev/recompose/pkg/node"
	"github.com/vango-dev/recompose/pkg/slots"
	"github.com/vango-dev/recompose/pkg/state"
)

// Composer drives one run over a composition's slot table. Composable
// functions receive it explicitly and pass it to every primitive; it is only
// valid for the duration of the call that received it.
type Composer struct {
	comp    *Composition
	rt      *Runtime
	table   *slots.Table
	applier node.Applier
	report  *PassReport

	scopes  inline.Stack[*Scope]
	locals  inline.Stack[localEntry]
	effects inline.Stack[func()]
	force   int

	commands []childCommand
}

func newComposer(comp *Composition, report *PassReport) *Composer {
	return &Composer{
		comp:    comp,
		rt:      comp.rt,
		table:   comp.table,
		applier: comp.applier,
		report:  report,
	}
}

// CurrentScope implements state.Reader.
func (c *Composer) CurrentScope() (state.ScopeID, bool) {
	if s := c.scope(); s != nil {
		return s.id, true
	}
	return 0, false
}

func (c *Composer) scope() *Scope {
	if top := c.scopes.Top(); top != nil {
		return *top
	}
	return nil
}

// Scope returns the innermost restartable scope.
func (c *Composer) Scope() *Scope { return c.scope() }

// Runtime returns the runtime the composition belongs to.
func (c *Composer) Runtime() *Runtime { return c.rt }

// Composition returns the composition being composed.
func (c *Composer) Composition() *Composition { return c.comp }

// Applier returns the node store.
func (c *Composer) Applier() node.Applier { return c.applier }

// Abort stops the pass with err. The slot table is unwound and the next pass
// recomposes the whole composition.
func (c *Composer) Abort(err error) {
	panic(abort{err: err})
}

// Group opens a restartable group keyed by the caller's source position.
func (c *Composer) Group(body func(*Composer)) {
	site := Caller(1)
	c.group(site.Key(), site, body, nil, false)
}

// WithGroup opens a restartable group with an explicit key and runs body in
// it. body becomes the group's recompose callback: when state it read
// changes, the runtime re-runs body in place.
func (c *Composer) WithGroup(key Key, body func(*Composer)) {
	c.group(key, CallSite{}, body, nil, false)
}

// WithKey opens a restartable group keyed by a caller-assigned identity,
// such as a list item ID. Groups with the same identity keep their state
// when siblings are added, removed or reordered.
func (c *Composer) WithKey(id any, body func(*Composer)) {
	c.group(KeyOf(id), CallSite{}, body, nil, false)
}

// Skippable is WithGroup that skips body entirely when the group was reused,
// params equal the previous call's and none of the state body read changed.
// Skipped groups keep their nodes and issue no applier calls.
func (c *Composer) Skippable(key Key, params any, body func(*Composer)) {
	c.group(key, CallSite{}, body, params, true)
}

func (c *Composer) group(key Key, site CallSite, body func(*Composer), params any, skippable bool) {
	h := c.table.Start(key)
	reused := c.table.Reused()
	sc := c.scopeFor(h, site)

	skip := false
	if skippable {
		rec := c.paramsFor()
		skip = reused && rec.set && !sc.invalid && c.force == 0 && state.Equal(rec.value, params)
		rec.value, rec.set = params, true
		sc.params = true
	}

	sc.body = body
	c.snapshotLocals(sc)
	if skip {
		c.table.SkipGroup()
		c.report.Skipped++
	} else {
		c.run(sc)
	}
	c.end(h)
}

// restart re-runs s in place. The table is positioned at s's group.
func (c *Composer) restart(h slots.Handle, s *Scope) {
	sc := c.scopeFor(h, s.site)
	if sc != s {
		c.Abort(fmt.Errorf("compose: scope %d is not stored at its group", s.id))
	}
	if s.params {
		c.paramsFor()
	}
	for _, e := range s.locals {
		c.locals.Push(e)
	}
	c.run(s)
	c.end(h)
}

func (c *Composer) scopeFor(h slots.Handle, site CallSite) *Scope {
	v, _ := c.table.Remember(slots.ValueScope, nil, func() slots.Value {
		return slots.Value{Kind: slots.ValueScope, Data: c.rt.newScope(c.comp, site)}
	})
	sc := v.Data.(*Scope)
	c.table.Mark(h, uint64(sc.id), slots.FlagRestartable)
	return sc
}

type paramsRecord struct {
	value any
	set   bool
}

func (c *Composer) paramsFor() *paramsRecord {
	v, _ := c.table.Remember(slots.ValueParams, nil, func() slots.Value {
		return slots.Value{Kind: slots.ValueParams, Data: &paramsRecord{}}
	})
	return v.Data.(*paramsRecord)
}

func (c *Composer) run(sc *Scope) {
	c.rt.arena.Forget(sc.id)
	sc.invalid = false
	sc.runs++
	c.scopes.Push(sc)
	sc.body(c)
	c.scopes.Pop()
}

func (c *Composer) end(h slots.Handle) {
	if err := c.table.End(h); err != nil {
		c.Abort(c.located(err))
	}
}

// located attaches the current scope's call site to a coded error.
func (c *Composer) located(err error) error {
	ce, ok := err.(*rerrors.ComposeError)
	if !ok || ce.Location != nil {
		return err
	}
	if sc := c.scope(); sc != nil && sc.site.File != "" {
		ce.WithLocation(sc.site.File, sc.site.Line, 0)
	}
	return ce
}

// GroupHandle closes a plain group opened with StartGroup.
type GroupHandle struct {
	h slots.Handle
}

// StartGroup opens a plain, non-restartable group. Every StartGroup must be
// closed by EndGroup in LIFO order; a mismatch aborts the pass.
func (c *Composer) StartGroup(key Key) GroupHandle {
	return GroupHandle{h: c.table.Start(key)}
}

// EndGroup closes a group opened by StartGroup.
func (c *Composer) EndGroup(g GroupHandle) {
	c.end(g.h)
}

// SkipToGroupEnd skips the rest of the innermost open group, keeping its
// content as it was after the previous pass.
func (c *Composer) SkipToGroupEnd() {
	c.table.SkipGroup()
	c.report.Skipped++
}

// Reused reports whether the innermost open group matched the previous pass.
func (c *Composer) Reused() bool { return c.table.Reused() }

// ReadNode returns the node recorded at the cursor. Reading a slot that is
// not a node aborts the pass with ErrDanglingNodeRead.
func (c *Composer) ReadNode() node.ID {
	id, err := c.table.ReadNode()
	if err != nil {
		c.Abort(c.located(err))
	}
	return id
}

func (c *Composer) mismatch(code string, detail string) {
	e := rerrors.New(code).
		WithDetail(detail).
		WithSuggestion("Give each conditional branch its own group with WithGroup or WithKey")
	c.located(e)
	c.report.Mismatches = append(c.report.Mismatches, e)
	c.rt.logger.Warn("structural mismatch",
		"code", code,
		"detail", detail,
		"site", e.Location.String(),
	)
}

// Remember returns a pointer to a value created by init on the first run of
// this call site and kept across passes. A value of another type at a reused
// call site is reported as ErrStructuralMismatch and replaced.
//
// If the value (or what it points to) implements Disposer, Dispose is called
// when the call site disappears.
func Remember[T any](c *Composer, init func() T) *T {
	v, out := c.table.Remember(slots.ValueOpaque, isData[*T], func() slots.Value {
		x := init()
		return slots.Value{Kind: slots.ValueOpaque, Data: &x}
	})
	if out == slots.Replaced {
		c.mismatch(rerrors.CodeStructuralMismatch, fmt.Sprintf("remembered %T replaced a value of another type", v.Data))
	}
	return v.Data.(*T)
}

type keyedValue[T any] struct {
	keys  any
	value T
}

// RememberKeyed is Remember that recomputes the value whenever keys change.
func RememberKeyed[T any](c *Composer, keys any, calc func() T) T {
	v, out := c.table.Remember(slots.ValueOpaque, isData[*keyedValue[T]], func() slots.Value {
		return slots.Value{Kind: slots.ValueOpaque, Data: &keyedValue[T]{keys: keys, value: calc()}}
	})
	if out == slots.Replaced {
		c.mismatch(rerrors.CodeStructuralMismatch, fmt.Sprintf("remembered %T replaced a value of another type", v.Data))
	}
	kv := v.Data.(*keyedValue[T])
	if out == slots.Reused && !state.Equal(kv.keys, keys) {
		kv.keys = keys
		kv.value = calc()
	}
	return kv.value
}

func isData[P any](v slots.Value) bool {
	_, ok := v.Data.(P)
	return ok
}

type stateRecord[T any] struct {
	s state.State[T]
}

func (r *stateRecord[T]) release() {
	_ = r.s.Release()
}

// UseState returns a state cell created on the first run of this call site.
// Reading it with Get(c) subscribes the current scope; Set marks watching
// scopes dirty for the next pass and never composes synchronously. The cell
// is released when the call site disappears.
func UseState[T any](c *Composer, init func() T) state.State[T] {
	v, out := c.table.Remember(slots.ValueState, isData[*stateRecord[T]], func() slots.Value {
		return slots.Value{Kind: slots.ValueState, Data: &stateRecord[T]{s: state.New(c.rt.arena, init())}}
	})
	if out == slots.Replaced {
		c.mismatch(rerrors.CodeStructuralMismatch, fmt.Sprintf("state of type %T replaced state of another type", v.Data))
	}
	return v.Data.(*stateRecord[T]).s
}

// Emit reuses the node recorded at this call site, or creates one from make
// on the first run. update runs on every call so the latest properties are
// always applied.
func Emit[N any](c *Composer, make func() N, update func(N)) node.ID {
	if id, ok := c.table.PeekNode(); ok {
		n, err := c.applier.Get(id)
		if typed, ok := n.(N); err == nil && ok {
			c.table.RecordNode(id)
			if update != nil {
				update(typed)
			}
			c.report.Updated++
			return id
		}
		if err == nil && c.table.Reused() {
			var want N
			c.mismatch(rerrors.CodeNodeTypeMismatch, fmt.Sprintf("node %d is %T, call site emits %T", id, n, want))
		}
	}

	n := make()
	id := c.applier.Create(n)
	c.report.Created++
	c.table.RecordNode(id)
	if update != nil {
		update(n)
	}
	return id
}

// WithNodeMut gives fn typed access to node id during the pass.
func WithNodeMut[N any](c *Composer, id node.ID, fn func(N)) error {
	n, err := c.applier.Get(id)
	if err != nil {
		return err
	}
	typed, ok := n.(N)
	if !ok {
		var want N
		return rerrors.New(rerrors.CodeNodeTypeMismatch).WithDetailf("node %d is %T, not %T", id, n, want)
	}
	fn(typed)
	return nil
}

type childList struct {
	parent   node.ID
	children []node.ID
}

type childCommand struct {
	applier  node.Applier
	parent   node.ID
	children []node.ID
}

// WithParent makes the nodes emitted directly in body the children of id.
// Nodes emitted inside nested WithParent calls belong to those parents.
// The child list is diffed against the previous pass and applied after
// composition.
func (c *Composer) WithParent(id node.ID, body func(*Composer)) {
	h := c.table.Start(parentKey)
	c.table.Mark(h, 0, slots.FlagParent)
	v, _ := c.table.Remember(slots.ValueChildren, nil, func() slots.Value {
		return slots.Value{Kind: slots.ValueChildren, Data: &childList{}}
	})
	rec := v.Data.(*childList)
	body(c)
	c.queueChildren(rec, id, c.table.DirectNodes(h.Index()+2, c.table.Cursor()))
	c.end(h)
}

func (c *Composer) queueChildren(rec *childList, parent node.ID, desired []node.ID) {
	if rec.parent == parent && slices.Equal(rec.children, desired) {
		return
	}
	rec.parent = parent
	rec.children = desired
	c.commands = append(c.commands, childCommand{applier: c.applier, parent: parent, children: desired})
}

// Node emits a node and composes its children in one call.
func Node[N any](c *Composer, make func() N, update func(N), children func(*Composer)) node.ID {
	id := Emit(c, make, update)
	if children != nil {
		c.WithParent(id, children)
	}
	return id
}
