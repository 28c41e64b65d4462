package compose

import (
	"strconv"
	"testing"

	"github.com/vango-dev/recompose/pkg/state"
)

func TestDerivedStateUnchangedLeavesReadersClean(t *testing.T) {
	rt, ap, comp := setup(t)
	var x state.State[int]
	var parity state.State[string]
	rootRuns, readerRuns := 0, 0
	comp.SetContent(func(c *Composer) {
		rootRuns++
		x = UseState(c, func() int { return 1 })
		parity = DerivedState(c, func(r state.Reader) string {
			if x.Get(r)%2 == 0 {
				return "even"
			}
			return "odd"
		})
		c.Group(func(c *Composer) {
			readerRuns++
			text(c, parity.Get(c))
		})
	})
	pass(t, rt)

	x.Set(3)
	if !rt.HasPendingWork() {
		t.Fatal("source write scheduled nothing")
	}
	rep := pass(t, rt)
	if rep.Recomposed != 0 || rep.Dirty != 0 {
		t.Errorf("report = %+v, want no dirty scopes", rep)
	}
	if rootRuns != 1 || readerRuns != 1 {
		t.Errorf("runs root=%d reader=%d, want 1 and 1", rootRuns, readerRuns)
	}

	x.Set(4)
	rep = pass(t, rt)
	if rep.Recomposed != 1 || rep.Kind != PassPartial {
		t.Errorf("report = %+v, want one partial recompose", rep)
	}
	if rootRuns != 1 || readerRuns != 2 {
		t.Errorf("runs root=%d reader=%d, want 1 and 2", rootRuns, readerRuns)
	}
	if got := dump(ap, comp); got != "#1 \"even\"\n" {
		t.Errorf("tree = %q", got)
	}
}

func TestDerivedStateChains(t *testing.T) {
	rt, ap, comp := setup(t)
	var x state.State[int]
	comp.SetContent(func(c *Composer) {
		x = UseState(c, func() int { return 2 })
		doubled := DerivedState(c, func(r state.Reader) int { return x.Get(r) * 2 })
		label := DerivedState(c, func(r state.Reader) string { return strconv.Itoa(doubled.Get(r)) })
		c.Group(func(c *Composer) { text(c, label.Get(c)) })
	})
	pass(t, rt)

	x.Set(5)
	pass(t, rt)
	if got := dump(ap, comp); got != "#1 \"10\"\n" {
		t.Errorf("tree = %q, want the chain settled in one pass", got)
	}
	if rt.HasPendingWork() {
		t.Error("work left after the pass")
	}
}

func TestDerivedStateReleasedWithCallSite(t *testing.T) {
	rt, _, comp := setup(t)
	var show state.State[bool]
	var x state.State[int]
	var derived state.State[int]
	comp.SetContent(func(c *Composer) {
		show = UseState(c, func() bool { return true })
		x = UseState(c, func() int { return 1 })
		if show.Get(c) {
			c.WithKey("derived", func(c *Composer) {
				derived = DerivedState(c, func(r state.Reader) int { return x.Get(r) + 1 })
			})
		}
	})
	pass(t, rt)
	if got := derived.Peek(); got != 2 {
		t.Fatalf("derived = %d, want 2", got)
	}

	show.Set(false)
	pass(t, rt)
	if derived.Valid() {
		t.Error("derived cell still live")
	}
	if w := rt.Arena().Watchers(x.Handle()); len(w) != 0 {
		t.Errorf("source still watched by %v", w)
	}
	x.Set(9)
	if rt.HasPendingWork() {
		t.Error("write to a released derivation's source scheduled work")
	}
}
