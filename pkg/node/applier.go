// Package node defines the contract between the composer and the store that
// owns materialized output nodes, plus an in-memory reference store.
package node

// ID is an opaque handle to a node owned by an Applier.
// The zero ID never refers to a node.
type ID uint64

// Applier owns output nodes. The composer calls Create once when a call site
// first emits a node, Get on every later pass to reapply properties, and
// Remove once when the slot holding the node is discarded.
type Applier interface {
	Create(n any) ID
	Get(id ID) (any, error)
	Remove(id ID) error
}

// Parent is implemented by nodes that hold an ordered child list.
type Parent interface {
	InsertChild(index int, child ID)
	RemoveChild(child ID)
	MoveChild(from, to int)
	Children() []ID
}

// Mounter is notified when its node is stored by an Applier.
type Mounter interface {
	Mount(id ID)
}

// Unmounter is notified when its node is removed from an Applier.
type Unmounter interface {
	Unmount()
}
