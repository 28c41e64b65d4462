package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/vango-dev/recompose/pkg/compose"
	"github.com/vango-dev/recompose/pkg/node"
	"github.com/vango-dev/recompose/pkg/state"
)

func TestManualFlush(t *testing.T) {
	m := NewManual()
	rt := compose.NewRuntime(compose.WithScheduler(m))
	defer rt.Close()
	m.Attach(rt)

	comp := compose.NewComposition(rt, node.NewMemoryApplier())
	var s state.State[int]
	comp.SetContent(func(c *compose.Composer) {
		s = compose.UseState(c, func() int { return 0 })
		_ = s.Get(c)
	})
	if !m.Pending() || m.Requests() != 1 {
		t.Fatalf("Pending=%v Requests=%d after SetContent", m.Pending(), m.Requests())
	}

	reps, err := m.Flush(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(reps) != 1 || reps[0].Kind != compose.PassFull {
		t.Fatalf("reports = %+v", reps)
	}
	if m.Pending() {
		t.Error("still pending after Flush")
	}

	s.Set(1)
	if !m.Pending() {
		t.Error("write did not request a pass")
	}
	reps, _ = m.Flush(context.Background(), 0)
	if len(reps) != 1 || reps[0].Kind != compose.PassFull {
		t.Errorf("reports = %+v", reps)
	}
}

func TestLoopRunsRequestedPasses(t *testing.T) {
	reports := make(chan compose.PassReport, 4)
	loop := NewLoop(time.Millisecond, WithReportHandler(func(r compose.PassReport) { reports <- r }))
	rt := compose.NewRuntime(compose.WithScheduler(loop))
	defer rt.Close()
	loop.Attach(rt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	ap := node.NewMemoryApplier()
	frames := make(chan time.Time, 1)
	loop.OnNextFrame(func(now time.Time) {
		compose.NewComposition(rt, ap).SetContent(func(c *compose.Composer) {
			compose.Emit(c, func() *node.Element { return node.NewText("hi") }, nil)
		})
		frames <- now
	})

	select {
	case <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("frame callback did not run")
	}
	select {
	case rep := <-reports:
		if rep.Created != 1 {
			t.Errorf("report = %+v", rep)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pass did not run")
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	if loop.Frames() == 0 || loop.Passes() == 0 {
		t.Errorf("frames=%d passes=%d", loop.Frames(), loop.Passes())
	}
}

func TestFrameWithoutWorkSkipsPass(t *testing.T) {
	loop := NewLoop(0)
	rt := compose.NewRuntime(compose.WithScheduler(loop))
	defer rt.Close()
	loop.Attach(rt)

	loop.Frame(context.Background(), time.Now())
	if loop.Passes() != 0 {
		t.Errorf("Passes() = %d, want 0", loop.Passes())
	}
	if loop.Interval() != DefaultInterval {
		t.Errorf("Interval() = %v", loop.Interval())
	}
}
