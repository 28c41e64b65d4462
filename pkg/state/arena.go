// Package state holds observable values for composition.
//
// Cells live in an Arena and are addressed by generation-checked handles.
// Watchers are scope IDs owned by the runtime; a cell never keeps its
// watchers alive, and a released cell is detected by its generation rather
// than dereferenced.
package state

import (
	"fmt"
	"slices"
	"sync"

	rerrors "github.com/vango-dev/recompose/internal/errors"
)

// ErrStaleHandle matches errors from handles whose cell was released.
var ErrStaleHandle = rerrors.New(rerrors.CodeStaleHandle)

// ScopeID identifies a recompose scope that can watch cells.
type ScopeID uint64

// Handle addresses a cell. The zero Handle is never valid.
type Handle struct {
	Index uint32
	Gen   uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool { return h.Gen == 0 }

// String returns "index@gen".
func (h Handle) String() string { return fmt.Sprintf("%d@%d", h.Index, h.Gen) }

// Invalidator receives the watchers of a cell whose value changed.
// It is called without the arena lock held.
type Invalidator interface {
	Invalidate(scopes []ScopeID)
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(scopes []ScopeID)

// Invalidate implements Invalidator.
func (f InvalidatorFunc) Invalidate(scopes []ScopeID) { f(scopes) }

type cell struct {
	gen      uint32
	live     bool
	value    any
	equal    func(a, b any) bool
	watchers []ScopeID
}

// Arena stores cells. It is safe for concurrent use.
type Arena struct {
	mu      sync.Mutex
	cells   []cell
	free    []uint32
	sources map[ScopeID][]Handle
	inv     Invalidator
}

// NewArena creates an arena reporting changes to inv. inv may be nil.
func NewArena(inv Invalidator) *Arena {
	return &Arena{
		sources: make(map[ScopeID][]Handle),
		inv:     inv,
	}
}

// Alloc stores value in a new cell. equal decides whether a later Store is
// a no-op; nil means Equal.
func (a *Arena) Alloc(value any, equal func(a, b any) bool) Handle {
	if equal == nil {
		equal = Equal
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.cells = append(a.cells, cell{})
		idx = uint32(len(a.cells) - 1)
	}
	c := &a.cells[idx]
	c.gen++
	if c.gen == 0 {
		c.gen = 1
	}
	c.live = true
	c.value = value
	c.equal = equal
	c.watchers = c.watchers[:0]
	return Handle{Index: idx, Gen: c.gen}
}

// lookup returns the live cell for h. Callers hold a.mu.
func (a *Arena) lookup(h Handle) (*cell, error) {
	if h.IsZero() || int(h.Index) >= len(a.cells) {
		return nil, rerrors.New(rerrors.CodeStaleHandle).WithDetailf("handle %s was never allocated", h)
	}
	c := &a.cells[h.Index]
	if !c.live || c.gen != h.Gen {
		return nil, rerrors.New(rerrors.CodeStaleHandle).WithDetailf("handle %s, cell is at generation %d", h, c.gen)
	}
	return c, nil
}

// Free releases the cell. Later use of h fails with ErrStaleHandle.
func (a *Arena) Free(h Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, err := a.lookup(h)
	if err != nil {
		return err
	}
	c.live = false
	c.value = nil
	c.equal = nil
	c.watchers = c.watchers[:0]
	c.gen++
	a.free = append(a.free, h.Index)
	return nil
}

// Valid reports whether h addresses a live cell.
func (a *Arena) Valid(h Handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.lookup(h)
	return err == nil
}

// Load returns the cell's value.
func (a *Arena) Load(h Handle) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, err := a.lookup(h)
	if err != nil {
		return nil, err
	}
	return c.value, nil
}

// Store replaces the value. When the new value differs, every watcher is
// passed to the Invalidator. Store never runs composition.
func (a *Arena) Store(h Handle, value any) (bool, error) {
	return a.Modify(h, func(any) any { return value })
}

// Modify replaces the value with fn(current) under the arena lock.
func (a *Arena) Modify(h Handle, fn func(any) any) (bool, error) {
	a.mu.Lock()
	c, err := a.lookup(h)
	if err != nil {
		a.mu.Unlock()
		return false, err
	}
	next := fn(c.value)
	if c.equal(c.value, next) {
		a.mu.Unlock()
		return false, nil
	}
	c.value = next
	watchers := slices.Clone(c.watchers)
	inv := a.inv
	a.mu.Unlock()

	if inv != nil && len(watchers) > 0 {
		inv.Invalidate(watchers)
	}
	return true, nil
}

// Watch records scope as a watcher of h. Duplicates are ignored.
func (a *Arena) Watch(h Handle, scope ScopeID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, err := a.lookup(h)
	if err != nil {
		return err
	}
	if slices.Contains(c.watchers, scope) {
		return nil
	}
	c.watchers = append(c.watchers, scope)
	a.sources[scope] = append(a.sources[scope], h)
	return nil
}

// Forget removes scope from every cell it watches. The runtime calls it
// before a scope re-runs and when its group is discarded, so only reads from
// the latest successful run remain recorded.
func (a *Arena) Forget(scope ScopeID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, h := range a.sources[scope] {
		c, err := a.lookup(h)
		if err != nil {
			continue
		}
		if i := slices.Index(c.watchers, scope); i >= 0 {
			last := len(c.watchers) - 1
			c.watchers[i] = c.watchers[last]
			c.watchers = c.watchers[:last]
		}
	}
	delete(a.sources, scope)
}

// Watchers returns the scopes currently watching h.
func (a *Arena) Watchers(h Handle) []ScopeID {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, err := a.lookup(h)
	if err != nil {
		return nil
	}
	return slices.Clone(c.watchers)
}

// Sources returns the live cells scope watches.
func (a *Arena) Sources(scope ScopeID) []Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Handle
	for _, h := range a.sources[scope] {
		if _, err := a.lookup(h); err == nil {
			out = append(out, h)
		}
	}
	return out
}

// Stats describes arena occupancy.
type Stats struct {
	Live     int
	Capacity int
	Watched  int
}

// Stats returns current occupancy.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Live:     len(a.cells) - len(a.free),
		Capacity: len(a.cells),
		Watched:  len(a.sources),
	}
}
