package demo

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	rerrors "github.com/vango-dev/recompose/internal/errors"
	"github.com/vango-dev/recompose/pkg/compose"
	"github.com/vango-dev/recompose/pkg/scheduler"
	"github.com/vango-dev/recompose/pkg/subcompose"
)

func newApp(t *testing.T, opts ...Option) (*App, *scheduler.Manual) {
	t.Helper()
	sched := scheduler.NewManual()
	rt := compose.NewRuntime(compose.WithScheduler(sched))
	sched.Attach(rt)
	t.Cleanup(func() { _ = rt.Close() })
	return New(rt, opts...), sched
}

func TestScript(t *testing.T) {
	a, sched := newApp(t)
	var out bytes.Buffer
	if err := Run(context.Background(), a, sched, Script, &out); err != nil {
		t.Fatalf("Run: %v\n%s", err, out.String())
	}

	tree := a.Tree()
	for _, want := range []string{`<h1> "Groceries"`, `<span class=count> "1"`, `<li theme=dark> "item 1"`} {
		if !strings.Contains(tree, want) {
			t.Errorf("tree lacks %q:\n%s", want, tree)
		}
	}
	if strings.Contains(tree, "item 3") {
		t.Errorf("tree still holds item 3:\n%s", tree)
	}

	snap := a.Snapshot()
	if diff := cmp.Diff([]any{1}, snap.Active); diff != "" {
		t.Errorf("active mismatch (-want +got):\n%s", diff)
	}
	if len(snap.Pooled) != subcompose.DefaultCapacity {
		t.Errorf("pooled = %v", snap.Pooled)
	}
	if snap.Pool.Reused < 2 {
		t.Errorf("Reused = %d, want at least 2", snap.Pool.Reused)
	}
	if diff := cmp.Diff([]any{2, 3, 4, 5, 6}, a.Evicted()); diff != "" {
		t.Errorf("evicted mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(out.String(), "step 8: items 1") {
		t.Errorf("output lacks last step:\n%s", out.String())
	}
}

func TestCounterChangeIsPartial(t *testing.T) {
	a, sched := newApp(t)
	if _, err := sched.Flush(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if err := a.Exec("inc 5", nil); err != nil {
		t.Fatal(err)
	}
	reps, err := sched.Flush(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(reps) != 1 || reps[0].Kind != compose.PassPartial || reps[0].Recomposed != 1 {
		t.Errorf("reports = %+v", reps)
	}
	if !strings.Contains(a.Tree(), `"5"`) {
		t.Errorf("tree = %s", a.Tree())
	}
}

func TestExecErrors(t *testing.T) {
	a, _ := newApp(t)
	for _, line := range []string{"jump", "inc many", "add", "items 1,x", "theme"} {
		err := a.Exec(line, nil)
		if rerrors.CodeOf(err) != rerrors.CodeUnknownScript {
			t.Errorf("Exec(%q) = %v, want E151", line, err)
		}
	}
	if err := a.Exec("   ", nil); err != nil {
		t.Errorf("blank line: %v", err)
	}
}

func TestReadCommands(t *testing.T) {
	a, sched := newApp(t)
	_ = a.Exec("items 7", nil)
	if _, err := sched.Flush(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	for _, cmd := range []string{"tree", "slots", "pool"} {
		if err := a.Exec(cmd, &out); err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
	}
	for _, want := range []string{"item 7", "group key=", "active=[7]"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output lacks %q:\n%s", want, out.String())
		}
	}
}
