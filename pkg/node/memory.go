package node

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	rerrors "github.com/vango-dev/recompose/internal/errors"
)

// MemoryApplier keeps nodes in a map keyed by sequential IDs.
// It is safe for concurrent use so that tree dumps can be taken from
// outside the composing goroutine.
type MemoryApplier struct {
	mu     sync.RWMutex
	nodes  map[ID]any
	nextID ID
}

// NewMemoryApplier creates an empty applier. IDs start at 1.
func NewMemoryApplier() *MemoryApplier {
	return &MemoryApplier{nodes: make(map[ID]any)}
}

// Create stores n and returns its new ID.
func (a *MemoryApplier) Create(n any) ID {
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	a.nodes[id] = n
	a.mu.Unlock()

	if m, ok := n.(Mounter); ok {
		m.Mount(id)
	}
	return id
}

// Get returns the node stored under id.
func (a *MemoryApplier) Get(id ID) (any, error) {
	a.mu.RLock()
	n, ok := a.nodes[id]
	a.mu.RUnlock()
	if !ok {
		return nil, rerrors.New(rerrors.CodeNodeMissing).WithDetailf("node %d is not in the applier", id)
	}
	return n, nil
}

// Remove deletes the node stored under id. Children are not removed; the
// composer removes every node it created itself.
func (a *MemoryApplier) Remove(id ID) error {
	a.mu.Lock()
	n, ok := a.nodes[id]
	delete(a.nodes, id)
	a.mu.Unlock()
	if !ok {
		return rerrors.New(rerrors.CodeNodeMissing).WithDetailf("node %d is not in the applier", id)
	}
	if u, ok := n.(Unmounter); ok {
		u.Unmount()
	}
	return nil
}

// Len returns the number of live nodes.
func (a *MemoryApplier) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.nodes)
}

// IDs returns the live node IDs in ascending order.
func (a *MemoryApplier) IDs() []ID {
	a.mu.RLock()
	ids := make([]ID, 0, len(a.nodes))
	for id := range a.nodes {
		ids = append(ids, id)
	}
	a.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Dump renders the subtrees rooted at roots, one node per line, children
// indented by two spaces.
func (a *MemoryApplier) Dump(roots []ID) string {
	var b strings.Builder
	for _, id := range roots {
		a.dump(&b, id, 0)
	}
	return b.String()
}

func (a *MemoryApplier) dump(b *strings.Builder, id ID, depth int) {
	a.mu.RLock()
	n, ok := a.nodes[id]
	a.mu.RUnlock()

	b.WriteString(strings.Repeat("  ", depth))
	if !ok {
		fmt.Fprintf(b, "#%d <missing>\n", id)
		return
	}
	fmt.Fprintf(b, "#%d %s\n", id, describe(n))

	if p, ok := n.(Parent); ok {
		for _, child := range p.Children() {
			a.dump(b, child, depth+1)
		}
	}
}

func describe(n any) string {
	if s, ok := n.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", n)
}
