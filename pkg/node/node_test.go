package node

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	rerrors "github.com/vango-dev/recompose/internal/errors"
)

func TestMemoryApplierLifecycle(t *testing.T) {
	a := NewMemoryApplier()
	el := NewElement("div")

	id := a.Create(el)
	if id != 1 {
		t.Errorf("expected first id 1, got %d", id)
	}
	if !el.Mounted() || el.ID() != id {
		t.Error("expected element to be mounted with its id")
	}

	got, err := a.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != el {
		t.Error("expected Get to return the stored element")
	}

	if err := a.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if el.Mounted() {
		t.Error("expected element to be unmounted")
	}
	if a.Len() != 0 {
		t.Errorf("expected 0 nodes, got %d", a.Len())
	}
}

func TestMemoryApplierMissing(t *testing.T) {
	a := NewMemoryApplier()
	_, err := a.Get(42)
	if !errors.Is(err, rerrors.New(rerrors.CodeNodeMissing)) {
		t.Errorf("expected node missing, got %v", err)
	}
	if err := a.Remove(42); err == nil {
		t.Error("expected error removing unknown node")
	}
}

func TestElementChildren(t *testing.T) {
	e := NewElement("ul")
	e.InsertChild(0, 1)
	e.InsertChild(1, 2)
	e.InsertChild(1, 3)
	if diff := cmp.Diff([]ID{1, 3, 2}, e.Children()); diff != "" {
		t.Errorf("after inserts (-want +got):\n%s", diff)
	}

	e.MoveChild(0, 2)
	if diff := cmp.Diff([]ID{3, 2, 1}, e.Children()); diff != "" {
		t.Errorf("after move (-want +got):\n%s", diff)
	}

	e.RemoveChild(2)
	if diff := cmp.Diff([]ID{3, 1}, e.Children()); diff != "" {
		t.Errorf("after remove (-want +got):\n%s", diff)
	}

	e.InsertChild(99, 4)
	if diff := cmp.Diff([]ID{3, 1, 4}, e.Children()); diff != "" {
		t.Errorf("out of range insert appends (-want +got):\n%s", diff)
	}
}

func TestDump(t *testing.T) {
	a := NewMemoryApplier()
	root := NewElement("ul")
	rootID := a.Create(root)
	item := NewText("hello")
	itemID := a.Create(item)
	root.InsertChild(0, itemID)
	root.InsertChild(1, 99)

	out := a.Dump([]ID{rootID})
	want := "#1 <ul>\n  #2 \"hello\"\n  #99 <missing>\n"
	if out != want {
		t.Errorf("Dump() =\n%s\nwant\n%s", out, want)
	}
}

func TestElementString(t *testing.T) {
	e := NewElement("button")
	e.SetProp("b", 2)
	e.SetProp("a", 1)
	if got := e.String(); got != "<button a=1 b=2>" {
		t.Errorf("String() = %q", got)
	}
	if e.Updates() != 2 {
		t.Errorf("expected 2 updates, got %d", e.Updates())
	}
	if !strings.Contains(NewText("x").String(), `"x"`) {
		t.Error("expected quoted text")
	}
}
