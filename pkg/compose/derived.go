package compose

import (
	"fmt"

	rerrors "github.com/vango-dev/recompose/internal/errors"
	"github.com/vango-dev/recompose/pkg/slots"
	"github.com/vango-dev/recompose/pkg/state"
)

// derivedRecord owns the cell behind a DerivedState and the scope that
// watches what compute reads. The scope never composes: draining it runs
// compute and stores the result.
type derivedRecord[T any] struct {
	rt      *Runtime
	s       state.State[T]
	scope   *Scope
	compute func(state.Reader) T
}

// CurrentScope implements state.Reader so compute's reads subscribe the
// derived scope rather than the composer's.
func (d *derivedRecord[T]) CurrentScope() (state.ScopeID, bool) {
	return d.scope.id, true
}

// initial computes the first value. A panicking compute leaves no scope
// behind.
func (d *derivedRecord[T]) initial() T {
	done := false
	defer func() {
		if !done {
			d.scope.dispose()
		}
	}()
	v := d.run()
	done = true
	return v
}

func (d *derivedRecord[T]) run() T {
	d.rt.arena.Forget(d.scope.id)
	d.scope.runs++
	return d.compute(d)
}

// recompute stores a fresh value. The cell's equality decides whether
// readers are marked dirty.
func (d *derivedRecord[T]) recompute() {
	defer func() {
		if p := recover(); p != nil {
			d.rt.logger.Error("derived state panicked", "scope", d.scope.id, "panic", p)
		}
	}()
	d.s.Set(d.run())
}

func (d *derivedRecord[T]) release() {
	d.scope.dispose()
	_ = d.s.Release()
}

// DerivedState returns a state cell holding compute's result. compute runs
// once when the call site first appears and again, before the next pass
// composes, whenever a cell it read through its reader changes. A result
// equal to the stored value leaves the cell's readers untouched.
//
// The latest compute passed at this call site is used for recomputation.
// The cell and its scope are released when the call site disappears.
func DerivedState[T any](c *Composer, compute func(state.Reader) T) state.State[T] {
	return DerivedStateWithEquals(c, compute, nil)
}

// DerivedStateWithEquals is DerivedState with a custom equality for the
// stored result. A nil eq uses state.Equal.
func DerivedStateWithEquals[T any](c *Composer, compute func(state.Reader) T, eq func(a, b T) bool) state.State[T] {
	v, out := c.table.Remember(slots.ValueState, isData[*derivedRecord[T]], func() slots.Value {
		d := &derivedRecord[T]{
			rt:      c.rt,
			scope:   c.rt.newScope(c.comp, CallSite{}),
			compute: compute,
		}
		d.scope.derive = d.recompute
		first := d.initial()
		if eq != nil {
			d.s = state.NewWithEquals(c.rt.arena, first, eq)
		} else {
			d.s = state.New(c.rt.arena, first)
		}
		return slots.Value{Kind: slots.ValueState, Data: d}
	})
	if out == slots.Replaced {
		c.mismatch(rerrors.CodeStructuralMismatch, fmt.Sprintf("derived state of type %T replaced state of another type", v.Data))
	}
	d := v.Data.(*derivedRecord[T])
	d.compute = compute
	return d.s
}
