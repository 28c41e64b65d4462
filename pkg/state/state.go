package state

// Reader is the composition context that a tracked read is attributed to.
// The composer implements it; ok is false outside a restartable scope.
type Reader interface {
	CurrentScope() (id ScopeID, ok bool)
}

// State is a typed view of an arena cell. It is a small value and can be
// copied freely; copies address the same cell.
type State[T any] struct {
	arena *Arena
	h     Handle
}

// New allocates a cell holding initial with default equality.
func New[T any](a *Arena, initial T) State[T] {
	return State[T]{arena: a, h: a.Alloc(initial, nil)}
}

// NewWithEquals allocates a cell with a custom equality. Useful where
// reflect.DeepEqual is too expensive or has the wrong semantics.
func NewWithEquals[T any](a *Arena, initial T, eq func(a, b T) bool) State[T] {
	return State[T]{arena: a, h: a.Alloc(initial, typedEqual(eq))}
}

// From returns a typed view of an existing handle.
func From[T any](a *Arena, h Handle) State[T] {
	return State[T]{arena: a, h: h}
}

func typedEqual[T any](eq func(a, b T) bool) func(a, b any) bool {
	return func(a, b any) bool {
		av, aok := a.(T)
		bv, bok := b.(T)
		if !aok || !bok {
			return false
		}
		return eq(av, bv)
	}
}

// Handle returns the cell handle.
func (s State[T]) Handle() Handle { return s.h }

// Valid reports whether the cell is still live.
func (s State[T]) Valid() bool {
	return s.arena != nil && s.arena.Valid(s.h)
}

// Get returns the value and records r's current scope as a watcher.
// A released cell yields the zero value.
func (s State[T]) Get(r Reader) T {
	v, err := s.Load()
	if err != nil {
		return v
	}
	if r != nil {
		if id, ok := r.CurrentScope(); ok {
			_ = s.arena.Watch(s.h, id)
		}
	}
	return v
}

// Peek returns the value without tracking.
func (s State[T]) Peek() T {
	v, _ := s.Load()
	return v
}

// Load returns the value or ErrStaleHandle.
func (s State[T]) Load() (T, error) {
	var zero T
	if s.arena == nil {
		return zero, ErrStaleHandle
	}
	v, err := s.arena.Load(s.h)
	if err != nil {
		return zero, err
	}
	t, _ := v.(T)
	return t, nil
}

// Set replaces the value. Watchers are marked dirty only if the value
// changed; composition never runs synchronously. Safe from any goroutine.
func (s State[T]) Set(v T) {
	_, _ = s.TrySet(v)
}

// TrySet is Set reporting whether the value changed.
func (s State[T]) TrySet(v T) (bool, error) {
	if s.arena == nil {
		return false, ErrStaleHandle
	}
	return s.arena.Store(s.h, v)
}

// Update atomically replaces the value with fn(current).
func (s State[T]) Update(fn func(T) T) {
	if s.arena == nil {
		return
	}
	_, _ = s.arena.Modify(s.h, func(cur any) any {
		t, _ := cur.(T)
		return fn(t)
	})
}

// Release frees the cell.
func (s State[T]) Release() error {
	if s.arena == nil {
		return ErrStaleHandle
	}
	return s.arena.Free(s.h)
}
