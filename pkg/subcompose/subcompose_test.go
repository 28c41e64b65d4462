package subcompose

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vango-dev/recompose/pkg/compose"
	"github.com/vango-dev/recompose/pkg/node"
	"github.com/vango-dev/recompose/pkg/state"
)

type fixture struct {
	rt       *compose.Runtime
	ap       *node.MemoryApplier
	host     node.ID
	counters map[int]state.State[int]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rt := compose.NewRuntime()
	t.Cleanup(func() { _ = rt.Close() })
	ap := node.NewMemoryApplier()
	return &fixture{
		rt:       rt,
		ap:       ap,
		host:     ap.Create(node.NewElement("list")),
		counters: make(map[int]state.State[int]),
	}
}

func (f *fixture) item(c *compose.Composer, k int) {
	n := compose.UseState(c, func() int { return 0 })
	f.counters[k] = n
	v := n.Get(c)
	compose.Emit(c, func() *node.Element { return node.NewText("") }, func(e *node.Element) {
		e.SetText(fmt.Sprintf("%d:%d", k, v))
	})
}

func (f *fixture) tree() string {
	return f.ap.Dump([]node.ID{f.host})
}

func (f *fixture) settle(t *testing.T) {
	t.Helper()
	if _, err := f.rt.RunUntilIdle(context.Background()); err != nil {
		t.Fatalf("RunUntilIdle() = %v", err)
	}
}

func TestRemovedKeyIsPooledAndReattached(t *testing.T) {
	f := newFixture(t)
	s := New(f.rt, f.ap, f.host)

	if err := For(s, []int{1, 2, 3}, f.item); err != nil {
		t.Fatal(err)
	}
	f.counters[2].Set(5)
	f.settle(t)
	node2, _ := s.NodesFor(2)

	if err := For(s, []int{1, 3}, f.item); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]any{2}, s.PooledKeys()); diff != "" {
		t.Errorf("pooled keys mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("#1 <list>\n  #2 \"1:0\"\n  #4 \"3:0\"\n", f.tree()); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
	if _, err := f.ap.Get(node2[0]); err != nil {
		t.Fatalf("pooled item's node was removed: %v", err)
	}

	if err := For(s, []int{1, 2, 3}, f.item); err != nil {
		t.Fatal(err)
	}
	if got := f.counters[2].Peek(); got != 5 {
		t.Errorf("reattached state = %d, want 5", got)
	}
	again, _ := s.NodesFor(2)
	if diff := cmp.Diff(node2, again); diff != "" {
		t.Errorf("reattached nodes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("#1 <list>\n  #2 \"1:0\"\n  #3 \"2:5\"\n  #4 \"3:0\"\n", f.tree()); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
	st := s.Stats()
	if st.Created != 3 || st.Disposed != 0 || st.Pooled != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestEvictionOrder(t *testing.T) {
	f := newFixture(t)
	var evicted []any
	s := New(f.rt, f.ap, f.host, WithCapacity(2), WithEvictionHook(func(k any) { evicted = append(evicted, k) }))

	if err := For(s, []int{1, 2, 3, 4}, f.item); err != nil {
		t.Fatal(err)
	}
	if err := For(s, []int{1}, f.item); err != nil {
		t.Fatal(err)
	}
	if err := For(s, []int{}, f.item); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]any{2, 3}, evicted); diff != "" {
		t.Errorf("evicted mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]any{4, 1}, s.PooledKeys()); diff != "" {
		t.Errorf("pooled mismatch (-want +got):\n%s", diff)
	}
	if _, ok := s.NodesFor(2); ok {
		t.Error("evicted key still has a table")
	}
	if f.ap.Len() != 3 {
		t.Errorf("applier holds %d nodes, want host and two pooled items", f.ap.Len())
	}
}

func TestZeroCapacityDisposes(t *testing.T) {
	f := newFixture(t)
	s := New(f.rt, f.ap, f.host, WithCapacity(0))
	_ = For(s, []int{1, 2}, f.item)
	_ = For(s, []int{2}, f.item)
	if len(s.PooledKeys()) != 0 || s.Stats().Disposed != 1 {
		t.Errorf("stats = %+v, pooled = %v", s.Stats(), s.PooledKeys())
	}
}

func TestRetainPolicy(t *testing.T) {
	f := newFixture(t)
	s := New(f.rt, f.ap, f.host, WithPolicy(ReusePolicy{
		Retain: func(k any) bool { return k != 2 },
	}))
	_ = For(s, []int{1, 2, 3}, f.item)
	_ = For(s, []int{}, f.item)
	if diff := cmp.Diff([]any{1, 3}, s.PooledKeys()); diff != "" {
		t.Errorf("pooled mismatch (-want +got):\n%s", diff)
	}
}

func TestCompatibleTableIsRecycled(t *testing.T) {
	f := newFixture(t)
	s := New(f.rt, f.ap, f.host, WithPolicy(ReusePolicy{
		Compatible: func(prev, key any) bool { return true },
	}))
	_ = For(s, []int{1}, f.item)
	old, _ := s.NodesFor(1)
	_ = For(s, []int{}, f.item)
	_ = For(s, []int{9}, f.item)

	got, _ := s.NodesFor(9)
	if diff := cmp.Diff(old, got); diff != "" {
		t.Errorf("recycled nodes mismatch (-want +got):\n%s", diff)
	}
	if st := s.Stats(); st.Recycled != 1 || st.Created != 1 {
		t.Errorf("stats = %+v", st)
	}
	if diff := cmp.Diff("#1 <list>\n  #2 \"9:0\"\n", f.tree()); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestPrecomposeRoundTrip(t *testing.T) {
	f := newFixture(t)
	s := New(f.rt, f.ap, f.host)
	content := func(c *compose.Composer) { f.item(c, 7) }

	if err := s.Precompose(7, content); err != nil {
		t.Fatal(err)
	}
	pre, _ := s.NodesFor(7)
	if diff := cmp.Diff("#1 <list>\n", f.tree()); diff != "" {
		t.Errorf("precomposed item attached (-want +got):\n%s", diff)
	}
	nodes := f.ap.Len()

	s.Begin()
	got, err := s.ComposeFor(7, content)
	s.End()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(pre, got); diff != "" {
		t.Errorf("nodes mismatch (-want +got):\n%s", diff)
	}
	if f.ap.Len() != nodes {
		t.Errorf("ComposeFor created nodes: %d -> %d", nodes, f.ap.Len())
	}
	if diff := cmp.Diff("#1 <list>\n  #2 \"7:0\"\n", f.tree()); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestDrainPrecomposed(t *testing.T) {
	f := newFixture(t)
	s := New(f.rt, f.ap, f.host)
	_ = s.Precompose(8, func(c *compose.Composer) { f.item(c, 8) })
	s.DrainPrecomposed()
	if s.Stats().Precomposed != 0 || f.ap.Len() != 1 {
		t.Errorf("stats = %+v, nodes = %d", s.Stats(), f.ap.Len())
	}
}

func TestDuplicateKeyInBatch(t *testing.T) {
	f := newFixture(t)
	s := New(f.rt, f.ap, f.host)
	err := For(s, []int{1, 1}, f.item)
	if err == nil {
		t.Fatal("expected ErrDuplicateKey")
	}
}

func TestNonComparableKeyIsRejected(t *testing.T) {
	f := newFixture(t)
	s := New(f.rt, f.ap, f.host)
	content := func(c *compose.Composer) { f.item(c, 0) }

	s.Begin()
	if _, err := s.ComposeFor([]int{1}, content); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("first ComposeFor() error = %v, want ErrInvalidKey", err)
	}
	if _, err := s.ComposeFor([]int{1}, content); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("second ComposeFor() error = %v, want ErrInvalidKey", err)
	}
	s.End()
	if err := s.Precompose(map[string]int{}, content); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Precompose() error = %v, want ErrInvalidKey", err)
	}
	if _, ok := s.NodesFor([]int{1}); ok {
		t.Error("NodesFor found a non-comparable key")
	}
	if st := s.Stats(); st.Active != 0 || st.Precomposed != 0 || st.Created != 0 {
		t.Errorf("stats = %+v, want nothing composed", st)
	}
}

func TestItemRecomposeResyncsHost(t *testing.T) {
	f := newFixture(t)
	s := New(f.rt, f.ap, f.host)
	var extra state.State[bool]
	_ = For(s, []int{1}, func(c *compose.Composer, k int) {
		extra = compose.UseState(c, func() bool { return false })
		f.item(c, k)
		if extra.Get(c) {
			compose.Emit(c, func() *node.Element { return node.NewText("more") }, nil)
		}
	})
	extra.Set(true)
	f.settle(t)
	if diff := cmp.Diff("#1 <list>\n  #2 \"1:0\"\n  #3 \"more\"\n", f.tree()); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestUseInsideComposition(t *testing.T) {
	rt := compose.NewRuntime()
	defer rt.Close()
	ap := node.NewMemoryApplier()
	comp := compose.NewComposition(rt, ap)

	var keys state.State[[]int]
	var sub *State
	comp.SetContent(func(c *compose.Composer) {
		keys = compose.UseState(c, func() []int { return []int{1, 2} })
		host := compose.Emit(c, func() *node.Element { return node.NewElement("list") }, nil)
		sub = Use(c, host)
		ks := keys.Get(c)
		_ = For(sub, ks, func(c *compose.Composer, k int) {
			compose.Emit(c, func() *node.Element { return node.NewText("") }, func(e *node.Element) {
				e.SetText(fmt.Sprint(k))
			})
		})
	})
	if _, err := rt.RunUntilIdle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff("#1 <list>\n  #2 \"1\"\n  #3 \"2\"\n", ap.Dump(comp.Roots())); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}

	keys.Set([]int{2})
	if _, err := rt.RunUntilIdle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff("#1 <list>\n  #3 \"2\"\n", ap.Dump(comp.Roots())); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}

	comp.Dispose()
	if ap.Len() != 0 {
		t.Errorf("applier holds %d nodes after dispose", ap.Len())
	}
}
