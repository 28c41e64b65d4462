package slots

import (
	"fmt"
	"strings"

	"github.com/vango-dev/recompose/pkg/node"
)

// Entry is a printable view of one slot.
type Entry struct {
	Index int     `json:"index"`
	Depth int     `json:"depth"`
	Kind  string  `json:"kind"`
	Key   Key     `json:"key,omitempty"`
	Len   int     `json:"len,omitempty"`
	Scope uint64  `json:"scope,omitempty"`
	Flags uint8   `json:"flags,omitempty"`
	Value string  `json:"value,omitempty"`
	Type  string  `json:"type,omitempty"`
	Node  node.ID `json:"node,omitempty"`
}

// Dump returns one entry per slot with its nesting depth.
func (t *Table) Dump() []Entry {
	out := make([]Entry, 0, len(t.slots))
	var ends []int
	for i, s := range t.slots {
		for len(ends) > 0 && i >= ends[len(ends)-1] {
			ends = ends[:len(ends)-1]
		}
		e := Entry{Index: i, Depth: len(ends), Kind: s.kind.String()}
		switch s.kind {
		case KindGroup:
			g := t.groups[s.group]
			e.Key, e.Len, e.Scope, e.Flags = g.Key, g.Len, g.Scope, uint8(g.Flags)
			ends = append(ends, i+g.Len)
		case KindValue:
			e.Value = s.value.Kind.String()
			e.Type = s.value.TypeName()
		case KindNode:
			e.Node = s.node
		}
		out = append(out, e)
	}
	return out
}

// String renders the table as an indented listing.
func (t *Table) String() string {
	var b strings.Builder
	for _, e := range t.Dump() {
		b.WriteString(strings.Repeat("  ", e.Depth))
		switch e.Kind {
		case "group":
			fmt.Fprintf(&b, "%d group key=%x len=%d", e.Index, uint64(e.Key), e.Len)
			if e.Scope != 0 {
				fmt.Fprintf(&b, " scope=%d", e.Scope)
			}
		case "value":
			fmt.Fprintf(&b, "%d value %s %s", e.Index, e.Value, e.Type)
		case "node":
			fmt.Fprintf(&b, "%d node #%d", e.Index, e.Node)
		}
		b.WriteString("\n")
	}
	return b.String()
}
