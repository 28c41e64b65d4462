// Package subcompose composes keyed items into their own slot tables so a
// host can decide late, and per item, what to compose: lazy lists, pagers
// and other layouts that only know their items at measure time.
//
// Items that stop being requested are not destroyed right away. Their tables
// move to a bounded reuse pool with state and nodes intact, and come back
// without a rebuild when their key (or a compatible one) is requested again.
package subcompose

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"

	rerrors "github.com/vango-dev/recompose/internal/errors"
	"github.com/vango-dev/recompose/pkg/compose"
	"github.com/vango-dev/recompose/pkg/node"
)

// DefaultCapacity is the reuse pool size used when none is configured.
const DefaultCapacity = 8

// ErrDuplicateKey is returned when a key is composed twice in one batch.
var ErrDuplicateKey = errors.New("subcompose: key composed twice in one batch")

// ErrInvalidKey is returned for keys that cannot be compared with ==, such
// as slices and maps.
var ErrInvalidKey = errors.New("subcompose: key is not comparable")

func checkKey(key any) error {
	if key == nil {
		return nil
	}
	if t := reflect.TypeOf(key); !t.Comparable() {
		return fmt.Errorf("%w: %s", ErrInvalidKey, t)
	}
	return nil
}

// ReusePolicy controls which deactivated tables are pooled and which pooled
// tables may serve another key.
type ReusePolicy struct {
	// Retain reports whether the table of a deactivated key is worth
	// pooling. Nil retains every key.
	Retain func(key any) bool
	// Compatible reports whether a pooled table last used for prev may be
	// recycled for key. Nil allows exact key matches only.
	Compatible func(prev, key any) bool
}

// Option configures a State.
type Option func(*State)

// WithCapacity bounds the reuse pool. Zero disables pooling.
func WithCapacity(n int) Option {
	return func(s *State) {
		if n >= 0 {
			s.capacity = n
		}
	}
}

// WithPolicy sets the reuse policy.
func WithPolicy(p ReusePolicy) Option {
	return func(s *State) { s.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *State) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEvictionHook is called with the key of every pooled table disposed for
// lack of room.
func WithEvictionHook(fn func(key any)) Option {
	return func(s *State) { s.onEvict = fn }
}

type entry struct {
	key   any
	comp  *compose.Composition
	nodes []node.ID
	pos   int
	batch uint64
	where location
}

type location uint8

const (
	locActive location = iota
	locPrecomposed
	locPooled
	locDisposed
)

// Stats counts what a State has done.
type Stats struct {
	Active      int `json:"active"`
	Pooled      int `json:"pooled"`
	Precomposed int `json:"precomposed"`
	Created     int `json:"created"`
	Reused      int `json:"reused"`
	Recycled    int `json:"recycled"`
	Evicted     int `json:"evicted"`
	Disposed    int `json:"disposed"`
}

// State owns the item tables of one host node. Its methods must be called
// on the composing goroutine.
type State struct {
	rt       *compose.Runtime
	applier  node.Applier
	host     node.ID
	logger   *slog.Logger
	policy   ReusePolicy
	capacity int
	onEvict  func(key any)

	active      []*entry
	precomposed map[any]*entry
	pool        []*entry
	current     int
	batching    bool
	batch       uint64
	attached    []node.ID
	stats       Stats
	disposed    bool
}

// New creates a State whose items become children of host.
func New(rt *compose.Runtime, applier node.Applier, host node.ID, opts ...Option) *State {
	s := &State{
		rt:          rt,
		applier:     applier,
		host:        host,
		logger:      rt.Logger().With("component", "subcompose"),
		capacity:    DefaultCapacity,
		precomposed: make(map[any]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Use returns the State remembered at this call site. It is disposed when
// the call site disappears.
func Use(c *compose.Composer, host node.ID, opts ...Option) *State {
	s := *compose.Remember(c, func() *State {
		return New(c.Runtime(), c.Applier(), host, opts...)
	})
	s.host = host
	return s
}

// Host returns the node that receives the items' nodes.
func (s *State) Host() node.ID { return s.host }

// Begin starts a batch of ComposeFor calls.
func (s *State) Begin() {
	s.current = 0
	s.batching = true
}

// ComposeFor composes content into key's table and places key at the next
// position of the batch. An active, precomposed or pooled table for key is
// revalidated in place; otherwise a compatible pooled table is recycled or a
// new one created. It returns the item's top-level nodes.
func (s *State) ComposeFor(key any, content func(*compose.Composer)) ([]node.ID, error) {
	if s.disposed {
		return nil, compose.ErrDisposed
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if slices.ContainsFunc(s.active[:min(s.current, len(s.active))], func(e *entry) bool { return e.key == key }) {
		return nil, fmt.Errorf("%w: %v", ErrDuplicateKey, key)
	}

	e := s.takeActive(key)
	if e == nil {
		e = s.take(key)
		s.active = slices.Insert(s.active, s.current, e)
	}
	e.where = locActive
	e.pos = s.current
	s.current++

	err := e.comp.ComposeNow(content)
	e.nodes = e.comp.Roots()
	if !s.batching {
		s.syncHost()
	}
	return slices.Clone(e.nodes), err
}

// takeActive moves key's active entry, if it is at or after the cursor, to
// the cursor.
func (s *State) takeActive(key any) *entry {
	for j := s.current; j < len(s.active); j++ {
		if s.active[j].key != key {
			continue
		}
		e := s.active[j]
		if j != s.current {
			s.active = slices.Delete(s.active, j, j+1)
			s.active = slices.Insert(s.active, s.current, e)
		}
		s.stats.Reused++
		return e
	}
	return nil
}

// take finds a table for key outside the active list.
func (s *State) take(key any) *entry {
	if e, ok := s.precomposed[key]; ok {
		delete(s.precomposed, key)
		s.stats.Reused++
		return e
	}
	if i := slices.IndexFunc(s.pool, func(e *entry) bool { return e.key == key }); i >= 0 {
		s.stats.Reused++
		return s.unpool(i, key)
	}
	if s.policy.Compatible != nil {
		if i := slices.IndexFunc(s.pool, func(e *entry) bool { return s.policy.Compatible(e.key, key) }); i >= 0 {
			s.stats.Recycled++
			s.logger.Debug("recycled pooled table", "from", s.pool[i].key, "to", key)
			return s.unpool(i, key)
		}
	}
	s.stats.Created++
	return s.newEntry(key)
}

func (s *State) unpool(i int, key any) *entry {
	e := s.pool[i]
	s.pool = slices.Delete(s.pool, i, i+1)
	e.key = key
	e.comp.SetActive(true)
	return e
}

func (s *State) newEntry(key any) *entry {
	e := &entry{key: key}
	e.comp = compose.NewComposition(s.rt, s.applier,
		compose.WithName(fmt.Sprintf("item %v", key)),
		compose.WithRootsListener(func(_, roots []node.ID) {
			e.nodes = roots
			if e.where == locActive && !s.batching {
				s.syncHost()
			}
		}),
	)
	return e
}

// Precompose composes content into key's table without attaching its nodes
// to the host. A later ComposeFor for key reuses the table and its nodes.
func (s *State) Precompose(key any, content func(*compose.Composer)) error {
	if s.disposed {
		return compose.ErrDisposed
	}
	if err := checkKey(key); err != nil {
		return err
	}
	if slices.ContainsFunc(s.active, func(e *entry) bool { return e.key == key }) {
		return nil
	}
	e, ok := s.precomposed[key]
	if !ok {
		e = s.take(key)
		e.where = locPrecomposed
		s.precomposed[key] = e
	}
	err := e.comp.ComposeNow(content)
	e.nodes = e.comp.Roots()
	return err
}

// End finishes the batch: keys not requested since Begin are deactivated and
// the host's children are brought up to date.
func (s *State) End() {
	s.DisposeOrReuseStartingFromIndex(s.current)
	s.batching = false
	s.syncHost()
}

// DisposeOrReuseStartingFromIndex deactivates the active keys at positions
// i and after. Their tables join the reuse pool in ascending position order
// unless the policy declines them. When the pool exceeds its capacity the
// oldest entries are disposed: earlier batches first and, within a batch,
// lower positions first.
func (s *State) DisposeOrReuseStartingFromIndex(i int) {
	if i < 0 {
		i = 0
	}
	if i >= len(s.active) {
		return
	}
	stale := slices.Clone(s.active[i:])
	clear(s.active[i:])
	s.active = s.active[:i]
	s.batch++

	for n, e := range stale {
		e.pos = i + n
		if s.capacity == 0 || (s.policy.Retain != nil && !s.policy.Retain(e.key)) {
			s.dispose(e)
			continue
		}
		e.comp.SetActive(false)
		e.batch = s.batch
		e.where = locPooled
		s.pool = append(s.pool, e)
	}

	for len(s.pool) > s.capacity {
		e := s.pool[0]
		s.pool = slices.Delete(s.pool, 0, 1)
		s.stats.Evicted++
		err := rerrors.New(rerrors.CodeReuseCapacityExceeded).
			WithDetailf("pool holds %d tables; disposing key %v", s.capacity, e.key)
		s.logger.Debug("reuse pool full", "key", e.key, "batch", e.batch, "position", e.pos, "error", err)
		if s.onEvict != nil {
			s.onEvict(e.key)
		}
		s.dispose(e)
	}
}

func (s *State) dispose(e *entry) {
	e.where = locDisposed
	e.nodes = nil
	e.comp.Dispose()
	s.stats.Disposed++
}

// DrainPrecomposed disposes precomposed tables that were never attached.
func (s *State) DrainPrecomposed() {
	keys := make([]any, 0, len(s.precomposed))
	for k, e := range s.precomposed {
		keys = append(keys, k)
		s.dispose(e)
	}
	for _, k := range keys {
		delete(s.precomposed, k)
	}
}

func (s *State) syncHost() {
	var children []node.ID
	for _, e := range s.active {
		children = append(children, e.nodes...)
	}
	if slices.Equal(children, s.attached) {
		return
	}
	s.attached = children
	s.rt.SetChildren(s.applier, s.host, children)
}

// ActiveKeys returns the attached keys in order.
func (s *State) ActiveKeys() []any {
	keys := make([]any, len(s.active))
	for i, e := range s.active {
		keys[i] = e.key
	}
	return keys
}

// PooledKeys returns the pooled keys, next to be evicted first.
func (s *State) PooledKeys() []any {
	keys := make([]any, len(s.pool))
	for i, e := range s.pool {
		keys[i] = e.key
	}
	return keys
}

// NodesFor returns the top-level nodes of key's table, active or not.
func (s *State) NodesFor(key any) ([]node.ID, bool) {
	if checkKey(key) != nil {
		return nil, false
	}
	for _, e := range s.active {
		if e.key == key {
			return slices.Clone(e.nodes), true
		}
	}
	if e, ok := s.precomposed[key]; ok {
		return slices.Clone(e.nodes), true
	}
	for _, e := range s.pool {
		if e.key == key {
			return slices.Clone(e.nodes), true
		}
	}
	return nil, false
}

// Stats returns counters and current sizes.
func (s *State) Stats() Stats {
	st := s.stats
	st.Active = len(s.active)
	st.Pooled = len(s.pool)
	st.Precomposed = len(s.precomposed)
	return st
}

// Dispose disposes every table. The State is unusable afterwards.
func (s *State) Dispose() {
	if s.disposed {
		return
	}
	for _, e := range s.active {
		s.dispose(e)
	}
	for _, e := range s.pool {
		s.dispose(e)
	}
	s.active, s.pool = nil, nil
	s.DrainPrecomposed()
	s.disposed = true
}

// For composes one item per key in order and deactivates every other key.
func For[K comparable](s *State, keys []K, content func(c *compose.Composer, key K)) error {
	s.Begin()
	defer s.End()
	var errs []error
	for _, k := range keys {
		if _, err := s.ComposeFor(k, func(c *compose.Composer) { content(c, k) }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
