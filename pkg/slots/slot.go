package slots

import (
	"fmt"

	"github.com/vango-dev/recompose/pkg/node"
)

// Key identifies a group across passes. Keys are derived from call sites or
// supplied by callers; only equality matters.
type Key uint64

// Kind is the slot shape.
type Kind uint8

const (
	KindGroup Kind = iota + 1
	KindValue
	KindNode
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindValue:
		return "value"
	case KindNode:
		return "node"
	default:
		return "unknown"
	}
}

// ValueKind is the closed set of records the composer remembers, plus
// ValueOpaque for caller data.
type ValueKind uint8

const (
	ValueOpaque ValueKind = iota
	ValueScope
	ValueState
	ValueEffect
	ValueChildren
	ValueParams
	ValueLocal
)

var valueKindNames = [...]string{
	ValueOpaque:   "opaque",
	ValueScope:    "scope",
	ValueState:    "state",
	ValueEffect:   "effect",
	ValueChildren: "children",
	ValueParams:   "params",
	ValueLocal:    "local",
}

// String returns the string representation of the ValueKind.
func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return "unknown"
}

// Value is a remembered entry. Data is usually a pointer so callers can
// mutate it in place across passes.
type Value struct {
	Kind ValueKind
	Data any
}

// TypeName returns the dynamic type of Data.
func (v Value) TypeName() string {
	if v.Data == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v.Data)
}

// GroupFlags mark special groups.
type GroupFlags uint8

const (
	// FlagRestartable groups carry a scope record as their first slot.
	FlagRestartable GroupFlags = 1 << iota
	// FlagParent groups hold the children of the node slot preceding them.
	FlagParent
)

// GroupEntry is the side-table metadata of a group header.
type GroupEntry struct {
	Key   Key
	Len   int // header plus descendants
	Scope uint64
	Flags GroupFlags
}

// Slot is one entry of the table.
type Slot struct {
	kind  Kind
	group int32
	value Value
	node  node.ID
}

// Kind returns the slot shape.
func (s Slot) Kind() Kind { return s.kind }

// Value returns the remembered value of a value slot.
func (s Slot) Value() Value { return s.value }

// Node returns the node ID of a node slot.
func (s Slot) Node() node.ID { return s.node }
