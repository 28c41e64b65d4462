package compose

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vango-dev/recompose/pkg/node"
	"github.com/vango-dev/recompose/pkg/state"
)

func text(c *Composer, s string) node.ID {
	return Emit(c, func() *node.Element { return node.NewText(s) }, func(e *node.Element) { e.SetText(s) })
}

func elem(c *Composer, tag string, children func(*Composer)) node.ID {
	return Node(c, func() *node.Element { return node.NewElement(tag) }, nil, children)
}

func setup(t *testing.T, opts ...Option) (*Runtime, *node.MemoryApplier, *Composition) {
	t.Helper()
	rt := NewRuntime(opts...)
	t.Cleanup(func() { _ = rt.Close() })
	ap := node.NewMemoryApplier()
	return rt, ap, NewComposition(rt, ap, WithName("test"))
}

func pass(t *testing.T, rt *Runtime) PassReport {
	t.Helper()
	rep, err := rt.RunPassNow(context.Background())
	if err != nil {
		t.Fatalf("RunPassNow() error = %v", err)
	}
	return rep
}

func dump(ap *node.MemoryApplier, comp *Composition) string {
	return ap.Dump(comp.Roots())
}

func TestFullPassBuildsTree(t *testing.T) {
	rt, ap, comp := setup(t)
	comp.SetContent(func(c *Composer) {
		elem(c, "ul", func(c *Composer) {
			text(c, "a")
			text(c, "b")
		})
	})

	rep := pass(t, rt)
	if rep.Kind != PassFull || rep.Created != 3 {
		t.Fatalf("report = %+v, want full pass creating 3 nodes", rep)
	}
	want := "#1 <ul>\n  #2 \"a\"\n  #3 \"b\"\n"
	if diff := cmp.Diff(want, dump(ap, comp)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
	if err := comp.Table().Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestRecomposeIsIdempotent(t *testing.T) {
	rt, ap, comp := setup(t)
	content := func(c *Composer) {
		elem(c, "div", func(c *Composer) {
			c.WithKey("x", func(c *Composer) { text(c, "x") })
			text(c, "y")
		})
	}
	comp.SetContent(content)
	pass(t, rt)
	before := comp.Dump()
	tree := dump(ap, comp)

	comp.SetContent(content)
	rep := pass(t, rt)
	if rep.Created != 0 || rep.Removed != 0 || rep.ChildOps != 0 {
		t.Errorf("second pass changed structure: %+v", rep)
	}
	if diff := cmp.Diff(before, comp.Dump()); diff != "" {
		t.Errorf("table changed (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(tree, dump(ap, comp)); diff != "" {
		t.Errorf("tree changed (-before +after):\n%s", diff)
	}
}

func TestStateWriteRecomposesOnlyReader(t *testing.T) {
	rt, ap, comp := setup(t)
	var count state.State[int]
	rootRuns, innerRuns := 0, 0
	comp.SetContent(func(c *Composer) {
		rootRuns++
		count = UseState(c, func() int { return 0 })
		elem(c, "div", func(c *Composer) {
			c.Group(func(c *Composer) {
				innerRuns++
				text(c, strconv.Itoa(count.Get(c)))
			})
			text(c, "static")
		})
	})
	pass(t, rt)
	ids := ap.IDs()

	count.Set(5)
	rep := pass(t, rt)
	if rep.Kind != PassPartial || rep.Recomposed != 1 {
		t.Fatalf("report = %+v, want one partial recompose", rep)
	}
	if rootRuns != 1 || innerRuns != 2 {
		t.Errorf("runs root=%d inner=%d, want 1 and 2", rootRuns, innerRuns)
	}
	want := "#1 <div>\n  #2 \"5\"\n  #3 \"static\"\n"
	if diff := cmp.Diff(want, dump(ap, comp)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ids, ap.IDs()); diff != "" {
		t.Errorf("node identity changed (-want +got):\n%s", diff)
	}
}

func TestNoOpWriteSchedulesNothing(t *testing.T) {
	requests := 0
	rt, _, comp := setup(t, WithScheduler(SchedulerFunc(func() { requests++ })))
	var s state.State[string]
	comp.SetContent(func(c *Composer) {
		s = UseState(c, func() string { return "same" })
		text(c, s.Get(c))
	})
	pass(t, rt)
	requests = 0

	s.Set("same")
	if rt.HasPendingWork() || requests != 0 {
		t.Fatalf("no-op write scheduled work (requests=%d)", requests)
	}
	s.Set("new")
	s.Set("newer")
	if requests != 1 {
		t.Errorf("requests = %d, want 1 for two writes before the pass", requests)
	}
}

func TestSkippableSkipsWhenParamsEqual(t *testing.T) {
	rt, ap, comp := setup(t)
	runs := 0
	label := "a"
	content := func(c *Composer) {
		c.Skippable(CallSiteKey(), label, func(c *Composer) {
			runs++
			text(c, label)
		})
	}
	comp.SetContent(content)
	pass(t, rt)

	comp.SetContent(content)
	rep := pass(t, rt)
	if runs != 1 || rep.Skipped != 1 {
		t.Fatalf("runs=%d skipped=%d, want body skipped", runs, rep.Skipped)
	}
	if got := dump(ap, comp); got != "#1 \"a\"\n" {
		t.Errorf("skipped group lost its node: %q", got)
	}

	label = "b"
	comp.SetContent(content)
	pass(t, rt)
	if runs != 2 {
		t.Fatalf("runs = %d, want body run after params changed", runs)
	}
	if got := dump(ap, comp); got != "#1 \"b\"\n" {
		t.Errorf("tree = %q", got)
	}
}

func TestSkippableRunsWhenInvalid(t *testing.T) {
	rt, ap, comp := setup(t)
	var s state.State[int]
	comp.SetContent(func(c *Composer) {
		s = UseState(c, func() int { return 1 })
		c.Skippable(1, "p", func(c *Composer) {
			text(c, strconv.Itoa(s.Get(c)))
		})
	})
	pass(t, rt)
	s.Set(2)
	pass(t, rt)
	if got := dump(ap, comp); got != "#1 \"2\"\n" {
		t.Errorf("tree = %q", got)
	}
}

func TestKeyedReorderKeepsNodes(t *testing.T) {
	rt, ap, comp := setup(t)
	items := []int{1, 2, 3}
	content := func(c *Composer) {
		elem(c, "ul", func(c *Composer) {
			for _, it := range items {
				c.WithKey(it, func(c *Composer) { text(c, strconv.Itoa(it)) })
			}
		})
	}
	comp.SetContent(content)
	pass(t, rt)

	items = []int{3, 1, 2}
	comp.SetContent(content)
	rep := pass(t, rt)
	if rep.Created != 0 || rep.Removed != 0 {
		t.Errorf("reorder recreated nodes: %+v", rep)
	}
	if rep.Moved == 0 {
		t.Errorf("reorder moved no groups")
	}
	want := "#1 <ul>\n  #4 \"3\"\n  #2 \"1\"\n  #3 \"2\"\n"
	if diff := cmp.Diff(want, dump(ap, comp)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}

	items = []int{3, 2}
	comp.SetContent(content)
	rep = pass(t, rt)
	if rep.Removed != 1 {
		t.Errorf("Removed = %d, want 1", rep.Removed)
	}
	want = "#1 <ul>\n  #4 \"3\"\n  #3 \"2\"\n"
	if diff := cmp.Diff(want, dump(ap, comp)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
	if ap.Len() != 3 {
		t.Errorf("applier holds %d nodes, want 3", ap.Len())
	}
}

func TestConditionalGroupDisposesState(t *testing.T) {
	rt, ap, comp := setup(t)
	var show state.State[bool]
	var inner state.State[int]
	comp.SetContent(func(c *Composer) {
		show = UseState(c, func() bool { return true })
		text(c, "head")
		if show.Get(c) {
			c.WithKey("body", func(c *Composer) {
				inner = UseState(c, func() int { return 7 })
				text(c, strconv.Itoa(inner.Get(c)))
			})
		}
	})
	pass(t, rt)
	if !inner.Valid() {
		t.Fatal("state not live after first pass")
	}

	show.Set(false)
	pass(t, rt)
	if inner.Valid() {
		t.Error("state of removed group still live")
	}
	if _, err := inner.Load(); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("Load() error = %v, want ErrStaleHandle", err)
	}
	if got := dump(ap, comp); got != "#1 \"head\"\n" {
		t.Errorf("tree = %q", got)
	}
	if err := comp.Table().Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestParentRunsBeforeChild(t *testing.T) {
	rt, _, comp := setup(t)
	var a, b state.State[int]
	outer, inner := 0, 0
	comp.SetContent(func(c *Composer) {
		a = UseState(c, func() int { return 0 })
		b = UseState(c, func() int { return 0 })
		c.Group(func(c *Composer) {
			outer++
			_ = a.Get(c)
			c.Group(func(c *Composer) {
				inner++
				_ = b.Get(c)
			})
		})
	})
	pass(t, rt)

	b.Set(1)
	a.Set(1)
	rep := pass(t, rt)
	if rep.Recomposed != 1 {
		t.Errorf("Recomposed = %d, want the child folded into its parent", rep.Recomposed)
	}
	if outer != 2 || inner != 2 {
		t.Errorf("runs outer=%d inner=%d, want 2 and 2", outer, inner)
	}
}

func TestLocalsSurvivePartialRecompose(t *testing.T) {
	rt, ap, comp := setup(t)
	theme := NewLocal("theme", "light")
	var n state.State[int]
	comp.SetContent(func(c *Composer) {
		n = UseState(c, func() int { return 0 })
		text(c, theme.Current(c))
		Provide(c, theme, "dark", func(c *Composer) {
			c.Group(func(c *Composer) {
				text(c, theme.Current(c)+strconv.Itoa(n.Get(c)))
			})
		})
	})
	pass(t, rt)
	n.Set(1)
	if rep := pass(t, rt); rep.Kind != PassPartial {
		t.Fatalf("Kind = %s, want partial", rep.Kind)
	}
	want := "#1 \"light\"\n#2 \"dark1\"\n"
	if diff := cmp.Diff(want, dump(ap, comp)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestProvideChangeDefeatsSkipping(t *testing.T) {
	rt, ap, comp := setup(t)
	theme := NewLocal("theme", "light")
	value := "light"
	content := func(c *Composer) {
		Provide(c, theme, value, func(c *Composer) {
			c.Skippable(1, nil, func(c *Composer) { text(c, theme.Current(c)) })
		})
	}
	comp.SetContent(content)
	pass(t, rt)

	value = "dark"
	comp.SetContent(content)
	pass(t, rt)
	if got := dump(ap, comp); got != "#1 \"dark\"\n" {
		t.Errorf("tree = %q", got)
	}
}

func TestRememberTypeChangeIsReported(t *testing.T) {
	rt, _, comp := setup(t)
	var flip state.State[bool]
	comp.SetContent(func(c *Composer) {
		flip = UseState(c, func() bool { return false })
		if flip.Get(c) {
			Remember(c, func() string { return "s" })
		} else {
			Remember(c, func() int { return 1 })
		}
	})
	pass(t, rt)

	flip.Set(true)
	rep := pass(t, rt)
	if len(rep.Mismatches) != 1 {
		t.Fatalf("Mismatches = %v, want one", rep.Mismatches)
	}
	if !errors.Is(rep.Mismatches[0], ErrStructuralMismatch) {
		t.Errorf("mismatch = %v, want ErrStructuralMismatch", rep.Mismatches[0])
	}
}

type closer struct{ closed *int }

func (c closer) Dispose() { *c.closed++ }

func TestRememberedDisposerIsCalled(t *testing.T) {
	rt, _, comp := setup(t)
	closed := 0
	var show state.State[bool]
	comp.SetContent(func(c *Composer) {
		show = UseState(c, func() bool { return true })
		if show.Get(c) {
			c.WithKey("r", func(c *Composer) {
				Remember(c, func() closer { return closer{closed: &closed} })
			})
		}
	})
	pass(t, rt)
	show.Set(false)
	pass(t, rt)
	if closed != 1 {
		t.Errorf("Dispose called %d times, want 1", closed)
	}
}

func TestRememberKeyedRecomputes(t *testing.T) {
	rt, _, comp := setup(t)
	calls := 0
	key := 1
	var got int
	content := func(c *Composer) {
		got = RememberKeyed(c, key, func() int { calls++; return key * 10 })
	}
	comp.SetContent(content)
	pass(t, rt)
	comp.SetContent(content)
	pass(t, rt)
	if calls != 1 {
		t.Fatalf("calc ran %d times for unchanged keys", calls)
	}
	key = 2
	comp.SetContent(content)
	pass(t, rt)
	if calls != 2 || got != 20 {
		t.Errorf("calls=%d got=%d, want 2 and 20", calls, got)
	}
}
