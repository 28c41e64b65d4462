package compose

import (
	"slices"

	"github.com/vango-dev/recompose/pkg/slots"
	"github.com/vango-dev/recompose/pkg/state"
)

type localID struct {
	name string
}

type localEntry struct {
	id    *localID
	value any
}

// Local is a value passed implicitly down the group tree. Every Local is
// distinct, even when two share a name.
type Local[T any] struct {
	id  *localID
	def T
}

// NewLocal creates a Local with a default returned when no ancestor
// provides one.
func NewLocal[T any](name string, def T) *Local[T] {
	return &Local[T]{id: &localID{name: name}, def: def}
}

// Name returns the name given to NewLocal.
func (l *Local[T]) Name() string { return l.id.name }

// Default returns the value used outside any Provide.
func (l *Local[T]) Default() T { return l.def }

// Current returns the value provided by the nearest enclosing Provide.
func (l *Local[T]) Current(c *Composer) T {
	for i := c.locals.Len() - 1; i >= 0; i-- {
		e := c.locals.At(i)
		if e.id == l.id {
			v, _ := e.value.(T)
			return v
		}
	}
	return l.def
}

type localRecord struct {
	value any
	set   bool
}

// Provide makes value the current value of l inside body. When value differs
// from the previous pass, skippable groups inside body run even if their
// params are unchanged.
func Provide[T any](c *Composer, l *Local[T], value T, body func(*Composer)) {
	h := c.table.Start(localKey)
	v, _ := c.table.Remember(slots.ValueLocal, nil, func() slots.Value {
		return slots.Value{Kind: slots.ValueLocal, Data: &localRecord{}}
	})
	rec := v.Data.(*localRecord)
	changed := rec.set && !state.Equal(rec.value, value)
	rec.value, rec.set = value, true

	c.locals.Push(localEntry{id: l.id, value: value})
	if changed {
		c.force++
	}
	body(c)
	if changed {
		c.force--
	}
	c.locals.Pop()
	c.end(h)
}

// snapshotLocals stores the locals visible to sc so a partial recompose of
// sc sees the same values.
func (c *Composer) snapshotLocals(sc *Scope) {
	n := c.locals.Len()
	if n == 0 {
		sc.locals = nil
		return
	}
	if len(sc.locals) == n {
		same := true
		for i := 0; i < n; i++ {
			e := c.locals.At(i)
			if sc.locals[i].id != e.id || !state.Equal(sc.locals[i].value, e.value) {
				same = false
				break
			}
		}
		if same {
			return
		}
	}
	snap := make([]localEntry, 0, n)
	c.locals.Each(func(e *localEntry) { snap = append(snap, *e) })
	sc.locals = slices.Clip(snap)
}
