package inspect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/recompose/pkg/compose"
	"github.com/vango-dev/recompose/pkg/node"
)

func newRuntime(t *testing.T, in *Inspector) *compose.Runtime {
	t.Helper()
	rt := compose.NewRuntime(compose.WithObserver(in))
	in.Attach(rt)
	t.Cleanup(func() { _ = rt.Close() })
	comp := compose.NewComposition(rt, node.NewMemoryApplier(), compose.WithName("main"))
	comp.SetContent(func(c *compose.Composer) {
		compose.Emit(c, func() *node.Element { return node.NewText("hello") }, nil)
	})
	return rt
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestDebugRoutes(t *testing.T) {
	in := New(WithGatherer(prometheus.NewRegistry()))
	rt := newRuntime(t, in)
	if _, err := rt.RunPassNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	h := in.Handler()

	t.Run("passes", func(t *testing.T) {
		rec := get(t, h, "/debug/passes")
		var reps []compose.PassReport
		if err := json.Unmarshal(rec.Body.Bytes(), &reps); err != nil {
			t.Fatalf("decode: %v (%s)", err, rec.Body.String())
		}
		if len(reps) != 1 || reps[0].Created != 1 {
			t.Errorf("passes = %+v", reps)
		}
	})

	t.Run("slots by name", func(t *testing.T) {
		rec := get(t, h, "/debug/slots/main")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var snap CompositionSnapshot
		if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			t.Fatal(err)
		}
		if len(snap.Slots) == 0 || snap.Tree != "#1 \"hello\"\n" {
			t.Errorf("snapshot = %+v", snap)
		}
	})

	t.Run("unknown composition", func(t *testing.T) {
		if rec := get(t, h, "/debug/slots/nope"); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("nodes", func(t *testing.T) {
		rec := get(t, h, "/debug/nodes")
		if !strings.Contains(rec.Body.String(), "\"hello\"") {
			t.Errorf("body = %q", rec.Body.String())
		}
	})

	t.Run("metrics", func(t *testing.T) {
		if rec := get(t, h, "/metrics"); rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestHistoryIsBounded(t *testing.T) {
	in := New(WithHistory(2))
	for i := 1; i <= 3; i++ {
		in.PassFinished(context.Background(), compose.PassReport{ID: uint64(i)}, nil)
	}
	h := in.History()
	if len(h) != 2 || h[0].ID != 2 || h[1].ID != 3 {
		t.Errorf("history = %+v", h)
	}
}

func TestWebSocketStreamsReports(t *testing.T) {
	in := New()
	srv := httptest.NewServer(in.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for in.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	in.PassFinished(context.Background(), compose.PassReport{ID: 7, Kind: compose.PassPartial}, nil)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "pass" || msg.Report.ID != 7 {
		t.Errorf("message = %+v", msg)
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	in := New(WithWriteTimeout(time.Nanosecond))
	srv := httptest.NewServer(in.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for in.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if in.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", in.ClientCount())
	}

	in.PassFinished(context.Background(), compose.PassReport{ID: 1}, nil)
	if n := in.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d after a timed-out write, want 0", n)
	}
}
