package compose

import (
	"github.com/vango-dev/recompose/pkg/state"
)

// Scope is the restartable unit of recomposition. Every WithGroup call owns
// one; it is stored as the first slot of its group and lives as long as
// that slot.
//
// A scope watches the state cells its body read during its last run. When
// one of them changes the scope is marked invalid and the runtime re-enters
// its group at its current position in the table.
type Scope struct {
	id     state.ScopeID
	comp   *Composition
	body   func(*Composer)
	locals []localEntry
	site   CallSite
	derive func()

	invalid  bool
	disposed bool
	params   bool
	runs     int
}

// ID returns the scope identifier used as a state watcher.
func (s *Scope) ID() state.ScopeID { return s.id }

// Invalid reports whether the scope is waiting to be recomposed.
func (s *Scope) Invalid() bool { return s.invalid }

// Disposed reports whether the scope's group has been discarded.
func (s *Scope) Disposed() bool { return s.disposed }

// Runs returns how often the scope's body has run.
func (s *Scope) Runs() int { return s.runs }

// Site returns the call site that opened the scope's group, if known.
func (s *Scope) Site() CallSite { return s.site }

// Invalidate forces the scope to recompose on the next pass even though none
// of its state changed. Safe from any goroutine.
func (s *Scope) Invalidate() {
	if s.comp == nil {
		return
	}
	s.comp.rt.Invalidate([]state.ScopeID{s.id})
}

func (s *Scope) dispose() {
	if s.disposed {
		return
	}
	s.disposed = true
	s.body = nil
	s.derive = nil
	s.locals = nil
	if s.comp != nil {
		s.comp.rt.forgetScope(s.id)
	}
}
