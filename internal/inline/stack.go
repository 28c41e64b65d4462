// Package inline provides a LIFO stack that keeps its first entries in a
// fixed array and spills into a heap slice only when nesting gets deep.
package inline

// Capacity is the number of entries held without allocating.
const Capacity = 16

// Stack is a LIFO stack. The zero value is ready to use.
type Stack[T any] struct {
	buf      [Capacity]T
	n        int
	overflow []T
}

// Len returns the number of entries.
func (s *Stack[T]) Len() int {
	return s.n + len(s.overflow)
}

// Spilled reports whether entries currently live on the heap.
func (s *Stack[T]) Spilled() bool {
	return len(s.overflow) > 0
}

// Push appends v.
func (s *Stack[T]) Push(v T) {
	if s.n < Capacity && len(s.overflow) == 0 {
		s.buf[s.n] = v
		s.n++
		return
	}
	s.overflow = append(s.overflow, v)
}

// Pop removes and returns the top entry.
func (s *Stack[T]) Pop() (T, bool) {
	var zero T
	if k := len(s.overflow); k > 0 {
		v := s.overflow[k-1]
		s.overflow[k-1] = zero
		s.overflow = s.overflow[:k-1]
		return v, true
	}
	if s.n == 0 {
		return zero, false
	}
	s.n--
	v := s.buf[s.n]
	s.buf[s.n] = zero
	return v, true
}

// Top returns a pointer to the top entry, or nil when empty.
// The pointer is invalidated by the next Push or Pop.
func (s *Stack[T]) Top() *T {
	if k := len(s.overflow); k > 0 {
		return &s.overflow[k-1]
	}
	if s.n == 0 {
		return nil
	}
	return &s.buf[s.n-1]
}

// At returns a pointer to entry i, counted from the bottom.
func (s *Stack[T]) At(i int) *T {
	if i < s.n {
		return &s.buf[i]
	}
	return &s.overflow[i-s.n]
}

// Each calls fn for every entry from bottom to top.
func (s *Stack[T]) Each(fn func(*T)) {
	for i := 0; i < s.n; i++ {
		fn(&s.buf[i])
	}
	for i := range s.overflow {
		fn(&s.overflow[i])
	}
}

// Reset empties the stack, keeping the overflow capacity.
func (s *Stack[T]) Reset() {
	var zero T
	for i := 0; i < s.n; i++ {
		s.buf[i] = zero
	}
	s.n = 0
	for i := range s.overflow {
		s.overflow[i] = zero
	}
	s.overflow = s.overflow[:0]
}
