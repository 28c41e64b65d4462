package slots

import (
	"fmt"
	"slices"

	rerrors "github.com/vango-dev/recompose/internal/errors"
	"github.com/vango-dev/recompose/internal/inline"
	"github.com/vango-dev/recompose/pkg/node"
)

// Sentinels for errors.Is. Errors returned by the table carry detail but
// match these by code.
var (
	ErrUnbalancedGroup  = rerrors.New(rerrors.CodeUnbalancedGroup)
	ErrDanglingNodeRead = rerrors.New(rerrors.CodeDanglingNodeRead)
)

// DisposeFunc is called exactly once for every slot removed from the table,
// last slot first. g is the zero entry for value and node slots.
type DisposeFunc func(s Slot, g GroupEntry)

// Outcome reports what Remember did.
type Outcome uint8

const (
	// Reused means the value at the cursor was accepted.
	Reused Outcome = iota
	// Inserted means a new value was written where nothing compatible was.
	Inserted
	// Replaced means a value of another type was discarded inside a group
	// whose key matched the previous pass.
	Replaced
)

// Handle closes a group opened by Start.
type Handle struct {
	start int
	depth int
}

// Index returns the slot index of the group header.
func (h Handle) Index() int { return h.start }

type frame struct {
	start  int
	end    int
	entry  int32
	reused bool
	outer  bool
}

// Stats counts structural work since the last TakeStats.
type Stats struct {
	Inserted int
	Disposed int
	Moved    int
}

// Table is the flat slot store for one composition.
// It is not safe for concurrent use.
type Table struct {
	slots   []Slot
	groups  []GroupEntry
	free    []int32
	cursor  int
	frames  inline.Stack[frame]
	dispose DisposeFunc
	stats   Stats
}

// New creates an empty table. dispose may be nil.
func New(dispose DisposeFunc) *Table {
	return &Table{dispose: dispose}
}

// SetDisposer replaces the disposal hook.
func (t *Table) SetDisposer(fn DisposeFunc) {
	t.dispose = fn
}

// Len returns the number of slots.
func (t *Table) Len() int { return len(t.slots) }

// Cursor returns the next slot index to read or write.
func (t *Table) Cursor() int { return t.cursor }

// Depth returns the number of open groups.
func (t *Table) Depth() int { return t.frames.Len() }

// Slot returns slot i.
func (t *Table) Slot(i int) Slot { return t.slots[i] }

// Group returns the entry of the group header at index i.
func (t *Table) Group(i int) (GroupEntry, bool) {
	if i < 0 || i >= len(t.slots) || t.slots[i].kind != KindGroup {
		return GroupEntry{}, false
	}
	return t.groups[t.slots[i].group], true
}

// TakeStats returns and clears the structural counters.
func (t *Table) TakeStats() Stats {
	s := t.stats
	t.stats = Stats{}
	return s
}

// Reset rewinds the cursor for a full pass.
func (t *Table) Reset() {
	t.cursor = 0
	t.frames.Reset()
}

// limit is the end of the innermost open group, or the table end.
func (t *Table) limit() int {
	if f := t.frames.Top(); f != nil {
		return f.end
	}
	return len(t.slots)
}

// Start opens a group. A group with the same key at the cursor is reused.
// A matching sibling further along the open group is moved to the cursor.
// Otherwise the rest of the open group is discarded and a new header written.
func (t *Table) Start(key Key) Handle {
	limit := t.limit()
	if t.cursor < limit {
		at := t.findSibling(key, limit)
		if at > t.cursor {
			t.moveToCursor(at)
		}
		if at >= 0 {
			s := t.slots[t.cursor]
			h := Handle{start: t.cursor, depth: t.frames.Len()}
			t.frames.Push(frame{
				start:  t.cursor,
				end:    t.cursor + t.groups[s.group].Len,
				entry:  s.group,
				reused: true,
			})
			t.cursor++
			return h
		}
		t.discard(t.cursor, limit)
	}

	entry := t.allocGroup(GroupEntry{Key: key, Len: 1})
	t.insert(Slot{kind: KindGroup, group: entry})
	h := Handle{start: t.cursor - 1, depth: t.frames.Len()}
	t.frames.Push(frame{start: t.cursor - 1, end: t.cursor, entry: entry})
	return h
}

// findSibling returns the index of the first group with key among the groups
// at the cursor's nesting level, or -1.
func (t *Table) findSibling(key Key, limit int) int {
	for i := t.cursor; i < limit; {
		s := t.slots[i]
		if s.kind != KindGroup {
			i++
			continue
		}
		g := t.groups[s.group]
		if g.Key == key {
			return i
		}
		i += g.Len
	}
	return -1
}

// moveToCursor rotates the group at index at so it starts at the cursor.
// The skipped groups shift right and stay inside the open group.
func (t *Table) moveToCursor(at int) {
	n := t.groups[t.slots[at].group].Len
	moved := make([]Slot, n)
	copy(moved, t.slots[at:at+n])
	copy(t.slots[t.cursor+n:at+n], t.slots[t.cursor:at])
	copy(t.slots[t.cursor:], moved)
	t.stats.Moved++
}

// End closes the group opened by h. Unvisited old content of the group is
// discarded and the group's extent set to the cursor.
func (t *Table) End(h Handle) error {
	f := t.frames.Top()
	if f == nil {
		return rerrors.New(rerrors.CodeUnbalancedGroup).WithDetail("End called with no open group")
	}
	if f.outer || f.start != h.start || t.frames.Len()-1 != h.depth {
		return rerrors.New(rerrors.CodeUnbalancedGroup).
			WithDetailf("End for group at %d but the innermost open group starts at %d", h.start, f.start)
	}
	if t.cursor < f.end {
		t.discard(t.cursor, f.end)
	}
	t.groups[f.entry].Len = t.cursor - f.start
	t.frames.Pop()
	return nil
}

// Mark records the scope and flags of the group opened by h.
func (t *Table) Mark(h Handle, scope uint64, flags GroupFlags) {
	e := t.slots[h.start].group
	t.groups[e].Scope = scope
	t.groups[e].Flags = flags
}

// Reused reports whether the innermost open group matched a group from the
// previous pass.
func (t *Table) Reused() bool {
	f := t.frames.Top()
	return f != nil && f.reused
}

// SkipGroup moves the cursor to the end of the innermost open group without
// visiting its content.
func (t *Table) SkipGroup() {
	if f := t.frames.Top(); f != nil {
		t.cursor = f.end
	}
}

// SkipCurrentGroup moves the cursor past the group at the cursor without
// opening it. It reports false when the cursor is not on a group.
func (t *Table) SkipCurrentGroup() bool {
	if t.cursor >= t.limit() {
		return false
	}
	s := t.slots[t.cursor]
	if s.kind != KindGroup {
		return false
	}
	t.cursor += t.groups[s.group].Len
	return true
}

// Remember returns the value at the cursor if it has kind and accept
// approves it. Otherwise the rest of the open group is discarded and init()
// is written.
func (t *Table) Remember(kind ValueKind, accept func(Value) bool, init func() Value) (Value, Outcome) {
	limit := t.limit()
	outcome := Inserted
	if t.cursor < limit {
		s := t.slots[t.cursor]
		if s.kind == KindValue {
			if s.value.Kind == kind && (accept == nil || accept(s.value)) {
				t.cursor++
				return s.value, Reused
			}
			if t.Reused() {
				outcome = Replaced
			}
		}
		t.discard(t.cursor, limit)
	}
	v := init()
	t.insert(Slot{kind: KindValue, value: v})
	return v, outcome
}

// RecordNode reuses Node(id) at the cursor or discards the rest of the open
// group and writes it.
func (t *Table) RecordNode(id node.ID) {
	limit := t.limit()
	if t.cursor < limit {
		s := t.slots[t.cursor]
		if s.kind == KindNode && s.node == id {
			t.cursor++
			return
		}
		t.discard(t.cursor, limit)
	}
	t.insert(Slot{kind: KindNode, node: id})
}

// PeekNode returns the node at the cursor without advancing.
func (t *Table) PeekNode() (node.ID, bool) {
	if t.cursor < t.limit() && t.slots[t.cursor].kind == KindNode {
		return t.slots[t.cursor].node, true
	}
	return 0, false
}

// ReadNode returns the node at the cursor and advances.
func (t *Table) ReadNode() (node.ID, error) {
	id, ok := t.PeekNode()
	if !ok {
		return 0, rerrors.New(rerrors.CodeDanglingNodeRead).WithDetailf("slot %d is not a node", t.cursor)
	}
	t.cursor++
	return id, nil
}

// Truncate disposes every slot at or after from and shrinks the table.
func (t *Table) Truncate(from int) {
	if from < 0 {
		from = 0
	}
	if from >= len(t.slots) {
		return
	}
	t.discard(from, len(t.slots))
	if t.cursor > from {
		t.cursor = from
	}
}

// TrimToCursor discards the residual tail after a full pass.
func (t *Table) TrimToCursor() {
	t.Truncate(t.cursor)
}

// StartRecompose positions the table to re-run the group at index. Its
// ancestors are opened as outer frames so their extents follow any size
// change. Close with End(h) and then EndRecompose.
func (t *Table) StartRecompose(index int) (Handle, error) {
	if t.frames.Len() != 0 {
		return Handle{}, rerrors.New(rerrors.CodeUnbalancedGroup).WithDetail("recompose started with groups still open")
	}
	if index < 0 || index >= len(t.slots) || t.slots[index].kind != KindGroup {
		return Handle{}, fmt.Errorf("slots: index %d is not a group", index)
	}
	for _, a := range t.Ancestors(index) {
		s := t.slots[a]
		t.frames.Push(frame{
			start:  a,
			end:    a + t.groups[s.group].Len,
			entry:  s.group,
			reused: true,
			outer:  true,
		})
	}
	s := t.slots[index]
	h := Handle{start: index, depth: t.frames.Len()}
	t.frames.Push(frame{
		start:  index,
		end:    index + t.groups[s.group].Len,
		entry:  s.group,
		reused: true,
	})
	t.cursor = index + 1
	return h, nil
}

// EndRecompose closes the outer frames opened by StartRecompose.
func (t *Table) EndRecompose() error {
	for {
		f, ok := t.frames.Pop()
		if !ok {
			return nil
		}
		if !f.outer {
			t.frames.Reset()
			return rerrors.New(rerrors.CodeUnbalancedGroup).WithDetailf("group at %d left open", f.start)
		}
		t.groups[f.entry].Len = f.end - f.start
	}
}

// Unwind closes every open frame at its current extent. Content the
// aborted pass did not reach keeps its slots for the next pass; the table is
// well-formed afterwards.
func (t *Table) Unwind() {
	for {
		f := t.frames.Top()
		if f == nil {
			return
		}
		t.groups[f.entry].Len = f.end - f.start
		if t.cursor < f.end {
			t.cursor = f.end
		}
		t.frames.Pop()
	}
}

// Ancestors returns the header indices of the groups containing index,
// outermost first.
func (t *Table) Ancestors(index int) []int {
	var path []int
	i, end := 0, len(t.slots)
	for i < end && i != index {
		s := t.slots[i]
		if s.kind != KindGroup {
			i++
			continue
		}
		gend := i + t.groups[s.group].Len
		if index < gend {
			path = append(path, i)
			end = gend
			i++
			continue
		}
		i = gend
	}
	return path
}

// FindScope returns the header index of the group marked with scope, or -1.
func (t *Table) FindScope(scope uint64) int {
	for i, s := range t.slots {
		if s.kind == KindGroup && t.groups[s.group].Scope == scope {
			return i
		}
	}
	return -1
}

// DirectNodes returns the nodes in [from, to) that are not inside a
// FlagParent group, in order. These are the nodes a parent at that level
// would hold as children.
func (t *Table) DirectNodes(from, to int) []node.ID {
	if to > len(t.slots) {
		to = len(t.slots)
	}
	var out []node.ID
	for i := from; i < to; {
		s := t.slots[i]
		switch s.kind {
		case KindNode:
			out = append(out, s.node)
		case KindGroup:
			if g := t.groups[s.group]; g.Flags&FlagParent != 0 {
				i += g.Len
				continue
			}
		}
		i++
	}
	return out
}

// Validate checks that group extents nest properly.
func (t *Table) Validate() error {
	return t.validate(0, len(t.slots))
}

func (t *Table) validate(from, to int) error {
	for i := from; i < to; {
		s := t.slots[i]
		if s.kind != KindGroup {
			i++
			continue
		}
		g := t.groups[s.group]
		if g.Len < 1 || i+g.Len > to {
			return fmt.Errorf("slots: group at %d with length %d escapes its parent ending at %d", i, g.Len, to)
		}
		if err := t.validate(i+1, i+g.Len); err != nil {
			return err
		}
		i += g.Len
	}
	return nil
}

func (t *Table) insert(s Slot) {
	if t.cursor == len(t.slots) {
		t.slots = append(t.slots, s)
	} else {
		t.slots = slices.Insert(t.slots, t.cursor, s)
	}
	t.cursor++
	t.frames.Each(func(f *frame) { f.end++ })
	t.stats.Inserted++
}

func (t *Table) discard(from, to int) {
	if from >= to {
		return
	}
	removed := make([]Slot, to-from)
	copy(removed, t.slots[from:to])
	entries := make([]GroupEntry, len(removed))
	for i, s := range removed {
		if s.kind == KindGroup {
			entries[i] = t.groups[s.group]
			t.releaseGroup(s.group)
		}
	}

	t.slots = slices.Delete(t.slots, from, to)
	delta := to - from
	t.frames.Each(func(f *frame) {
		switch {
		case f.end >= to:
			f.end -= delta
		case f.end > from:
			f.end = from
		}
	})
	t.stats.Disposed += delta

	if t.dispose != nil {
		for i := len(removed) - 1; i >= 0; i-- {
			t.dispose(removed[i], entries[i])
		}
	}
}

func (t *Table) allocGroup(g GroupEntry) int32 {
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		t.groups[idx] = g
		return idx
	}
	t.groups = append(t.groups, g)
	return int32(len(t.groups) - 1)
}

func (t *Table) releaseGroup(idx int32) {
	t.groups[idx] = GroupEntry{}
	t.free = append(t.free, idx)
}
