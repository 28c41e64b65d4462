// Package composetest provides helpers for testing composable functions.
//
// # Quick Start
//
//	func TestCounter(t *testing.T) {
//	    h := composetest.New(t)
//	    var count state.State[int]
//	    h.SetContent(func(c *compose.Composer) {
//	        count = compose.UseState(c, func() int { return 0 })
//	        Counter(c, count)
//	    })
//	    h.Pump()
//	    count.Set(3)
//	    h.Pump()
//	    composetest.ExpectContains(t, h, `"3"`)
//	}
//
// The harness drives passes with a manual scheduler and a fake clock, so
// nothing runs until Pump is called.
package composetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vango-dev/recompose/pkg/compose"
	"github.com/vango-dev/recompose/pkg/node"
	"github.com/vango-dev/recompose/pkg/scheduler"
)

// FakeClock provides controllable time for deterministic budget tests.
// All methods are safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a FakeClock starting at a fixed epoch.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// OpKind is an applier call.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpGet    OpKind = "get"
	OpRemove OpKind = "remove"
)

// Op is one recorded applier call.
type Op struct {
	Kind OpKind
	ID   node.ID
}

func (o Op) String() string { return fmt.Sprintf("%s #%d", o.Kind, o.ID) }

// RecordingApplier is a MemoryApplier that logs every call.
type RecordingApplier struct {
	*node.MemoryApplier

	mu  sync.Mutex
	ops []Op
}

// NewRecordingApplier creates an empty RecordingApplier.
func NewRecordingApplier() *RecordingApplier {
	return &RecordingApplier{MemoryApplier: node.NewMemoryApplier()}
}

func (a *RecordingApplier) record(k OpKind, id node.ID) {
	a.mu.Lock()
	a.ops = append(a.ops, Op{Kind: k, ID: id})
	a.mu.Unlock()
}

// Create implements node.Applier.
func (a *RecordingApplier) Create(n any) node.ID {
	id := a.MemoryApplier.Create(n)
	a.record(OpCreate, id)
	return id
}

// Get implements node.Applier.
func (a *RecordingApplier) Get(id node.ID) (any, error) {
	a.record(OpGet, id)
	return a.MemoryApplier.Get(id)
}

// Remove implements node.Applier.
func (a *RecordingApplier) Remove(id node.ID) error {
	a.record(OpRemove, id)
	return a.MemoryApplier.Remove(id)
}

// Ops returns the calls recorded since the last Reset.
func (a *RecordingApplier) Ops() []Op {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Op(nil), a.ops...)
}

// Count returns how many calls of kind were recorded.
func (a *RecordingApplier) Count(kind OpKind) int {
	n := 0
	for _, op := range a.Ops() {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// Reset clears the log.
func (a *RecordingApplier) Reset() {
	a.mu.Lock()
	a.ops = nil
	a.mu.Unlock()
}

// Harness owns a runtime, a manual scheduler, a fake clock and one
// composition backed by a RecordingApplier.
type Harness struct {
	t       testing.TB
	rt      *compose.Runtime
	sched   *scheduler.Manual
	clock   *FakeClock
	applier *RecordingApplier
	comp    *compose.Composition
	reports []compose.PassReport
}

// New creates a Harness that is closed when the test ends. opts are passed
// to the runtime after the harness's own scheduler and clock.
func New(t testing.TB, opts ...compose.Option) *Harness {
	t.Helper()
	h := &Harness{
		t:       t,
		sched:   scheduler.NewManual(),
		clock:   NewFakeClock(),
		applier: NewRecordingApplier(),
	}
	all := append([]compose.Option{compose.WithScheduler(h.sched), compose.WithClock(h.clock)}, opts...)
	h.rt = compose.NewRuntime(all...)
	h.sched.Attach(h.rt)
	h.comp = compose.NewComposition(h.rt, h.applier, compose.WithName("test"))
	t.Cleanup(func() { _ = h.rt.Close() })
	return h
}

// Runtime returns the runtime.
func (h *Harness) Runtime() *compose.Runtime { return h.rt }

// Composition returns the composition.
func (h *Harness) Composition() *compose.Composition { return h.comp }

// Applier returns the recording applier.
func (h *Harness) Applier() *RecordingApplier { return h.applier }

// Clock returns the fake clock.
func (h *Harness) Clock() *FakeClock { return h.clock }

// Scheduler returns the manual scheduler.
func (h *Harness) Scheduler() *scheduler.Manual { return h.sched }

// SetContent sets the composition's content. Nothing runs until Pump.
func (h *Harness) SetContent(content func(*compose.Composer)) {
	h.comp.SetContent(content)
}

// Pump runs passes until idle and fails the test on error. It returns the
// reports of the passes run.
func (h *Harness) Pump() []compose.PassReport {
	h.t.Helper()
	reps, err := h.PumpErr()
	if err != nil {
		h.t.Fatalf("pass failed: %v", err)
	}
	return reps
}

// PumpErr is Pump returning the error instead of failing.
func (h *Harness) PumpErr() ([]compose.PassReport, error) {
	reps, err := h.sched.Flush(context.Background(), 0)
	h.reports = append(h.reports, reps...)
	return reps, err
}

// Reports returns every report seen by Pump.
func (h *Harness) Reports() []compose.PassReport {
	return append([]compose.PassReport(nil), h.reports...)
}

// Tree renders the composition's node tree.
func (h *Harness) Tree() string {
	return h.applier.Dump(h.comp.Roots())
}

// ExpectTree fails the test if the rendered tree differs from want.
func ExpectTree(t *testing.T, h *Harness, want string) {
	t.Helper()
	if diff := cmp.Diff(want, h.Tree()); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

// ExpectContains fails the test if the rendered tree lacks expected.
func ExpectContains(t *testing.T, h *Harness, expected string) {
	t.Helper()
	tree := h.Tree()
	if !strings.Contains(tree, expected) {
		t.Errorf("expected tree to contain %q, got:\n%s", expected, truncate(tree, 500))
	}
}

// ExpectNotContains fails the test if the rendered tree contains unexpected.
func ExpectNotContains(t *testing.T, h *Harness, unexpected string) {
	t.Helper()
	tree := h.Tree()
	if strings.Contains(tree, unexpected) {
		t.Errorf("expected tree not to contain %q, got:\n%s", unexpected, truncate(tree, 500))
	}
}

// ExpectNoStructuralChange fails the test if a pass created or removed
// nodes.
func ExpectNoStructuralChange(t *testing.T, reps ...compose.PassReport) {
	t.Helper()
	for _, r := range reps {
		if r.Created != 0 || r.Removed != 0 {
			t.Errorf("pass %d created %d and removed %d nodes", r.ID, r.Created, r.Removed)
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
