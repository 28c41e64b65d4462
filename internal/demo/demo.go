// Package demo is a small composed application driven by text commands.
// The CLI uses it for the scripted demo, the REPL, the inspector server and
// slot table dumps.
package demo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/vango-dev/recompose/internal/errors"
	"github.com/vango-dev/recompose/pkg/compose"
	"github.com/vango-dev/recompose/pkg/node"
	"github.com/vango-dev/recompose/pkg/slots"
	"github.com/vango-dev/recompose/pkg/state"
	"github.com/vango-dev/recompose/pkg/subcompose"
)

// Theme is provided by the app and read by every row.
var Theme = compose.NewLocal("theme", "light")

// Script is the scenario run by `recompose demo`.
var Script = []string{
	"items 1,2,3",
	"inc",
	"title Groceries",
	"remove 2",
	"add 2",
	"theme dark",
	"items 3,4,5,6,7,8,9,10,11,12,13,14",
	"items 1",
}

// Option configures an App.
type Option func(*App)

// WithCapacity sets the row pool size.
func WithCapacity(n int) Option {
	return func(a *App) { a.capacity = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithEvictionHook is called with each row key evicted from the pool.
func WithEvictionHook(fn func(key any)) Option {
	return func(a *App) { a.onEvict = fn }
}

// App is a titled counter above a keyed list of rows. Rows live in their
// own subcompositions so removed rows are pooled and reused.
type App struct {
	rt       *compose.Runtime
	applier  *node.MemoryApplier
	comp     *compose.Composition
	logger   *slog.Logger
	capacity int

	title state.State[string]
	count state.State[int]
	items state.State[[]int]
	theme state.State[string]

	list    *subcompose.State
	evicted []any
	onEvict func(key any)
}

// New creates the app and sets its content. Nothing is composed until the
// runtime runs a pass.
func New(rt *compose.Runtime, opts ...Option) *App {
	a := &App{
		rt:       rt,
		applier:  node.NewMemoryApplier(),
		logger:   rt.Logger().With("component", "demo"),
		capacity: subcompose.DefaultCapacity,
	}
	for _, opt := range opts {
		opt(a)
	}
	arena := rt.Arena()
	a.title = state.New(arena, "Untitled")
	a.count = state.New(arena, 0)
	a.items = state.NewWithEquals(arena, []int(nil), slices.Equal[[]int])
	a.theme = state.New(arena, Theme.Default())
	a.comp = compose.NewComposition(rt, a.applier, compose.WithName("demo"))
	a.comp.SetContent(a.content)
	return a
}

func (a *App) content(c *compose.Composer) {
	compose.Node(c, func() *node.Element { return node.NewElement("app") }, nil, func(c *compose.Composer) {
		header(c, a.title)
		counter(c, a.count)
		compose.Provide(c, Theme, a.theme.Get(c), func(c *compose.Composer) {
			c.Group(a.rows)
		})
	})
}

func header(c *compose.Composer, title state.State[string]) {
	c.Group(func(c *compose.Composer) {
		t := title.Get(c)
		compose.Emit(c, func() *node.Element { return node.NewElement("h1") }, func(e *node.Element) {
			e.SetText(t)
		})
	})
}

func counter(c *compose.Composer, count state.State[int]) {
	c.Skippable(compose.KeyOf("counter"), count.Handle(), func(c *compose.Composer) {
		n := count.Get(c)
		compose.Emit(c, func() *node.Element { return node.NewElement("span") }, func(e *node.Element) {
			e.SetProp("class", "count")
			e.SetText(strconv.Itoa(n))
		})
	})
}

func (a *App) rows(c *compose.Composer) {
	list := compose.Emit(c, func() *node.Element { return node.NewElement("ul") }, nil)
	a.list = subcompose.Use(c, list,
		subcompose.WithCapacity(a.capacity),
		subcompose.WithLogger(a.logger),
		subcompose.WithEvictionHook(a.evict),
	)
	theme := Theme.Current(c)
	if err := subcompose.For(a.list, a.items.Get(c), func(c *compose.Composer, id int) {
		row(c, id, theme)
	}); err != nil {
		c.Abort(err)
	}
}

func (a *App) evict(key any) {
	a.evicted = append(a.evicted, key)
	if a.onEvict != nil {
		a.onEvict(key)
	}
}

func row(c *compose.Composer, id int, theme string) {
	compose.Emit(c, func() *node.Element { return node.NewElement("li") }, func(e *node.Element) {
		e.SetProp("theme", theme)
		e.SetText(fmt.Sprintf("item %d", id))
	})
}

// Runtime returns the runtime.
func (a *App) Runtime() *compose.Runtime { return a.rt }

// Composition returns the root composition.
func (a *App) Composition() *compose.Composition { return a.comp }

// Applier returns the node store.
func (a *App) Applier() *node.MemoryApplier { return a.applier }

// Tree renders the current node tree.
func (a *App) Tree() string { return a.applier.Dump(a.comp.Roots()) }

// Evicted returns the row keys evicted from the pool so far.
func (a *App) Evicted() []any { return append([]any(nil), a.evicted...) }

// Snapshot is a serializable view of the app.
type Snapshot struct {
	Slots  []slots.Entry    `json:"slots"`
	Roots  []node.ID        `json:"roots"`
	Tree   string           `json:"tree"`
	Active []any            `json:"active,omitempty"`
	Pooled []any            `json:"pooled,omitempty"`
	Pool   subcompose.Stats `json:"pool"`
}

// Snapshot captures the app. Call it between passes.
func (a *App) Snapshot() Snapshot {
	s := Snapshot{
		Slots: a.comp.Dump(),
		Roots: a.comp.Roots(),
		Tree:  a.Tree(),
	}
	if a.list != nil {
		s.Active = a.list.ActiveKeys()
		s.Pooled = a.list.PooledKeys()
		s.Pool = a.list.Stats()
	}
	return s
}

// Commands lists the verbs accepted by Exec.
var Commands = []string{"title", "inc", "dec", "add", "remove", "items", "theme", "tree", "slots", "pool"}

// Exec applies one command. State edits only schedule work; read commands
// write to w.
func (a *App) Exec(line string, w io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]
	switch verb {
	case "title":
		a.title.Set(strings.Join(args, " "))
	case "inc", "dec":
		n := 1
		if len(args) > 0 {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return badArg(verb, args[0])
			}
			n = v
		}
		if verb == "dec" {
			n = -n
		}
		a.count.Update(func(c int) int { return c + n })
	case "add", "remove":
		if len(args) != 1 {
			return badArg(verb, strings.Join(args, " "))
		}
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return badArg(verb, args[0])
		}
		a.items.Update(func(ids []int) []int {
			out := make([]int, 0, len(ids)+1)
			for _, v := range ids {
				if v != id {
					out = append(out, v)
				}
			}
			if verb == "add" {
				out = append(out, id)
			}
			return out
		})
	case "items":
		ids, err := parseIDs(strings.Join(args, ""))
		if err != nil {
			return err
		}
		a.items.Set(ids)
	case "theme":
		if len(args) != 1 {
			return badArg(verb, strings.Join(args, " "))
		}
		a.theme.Set(args[0])
	case "tree":
		fmt.Fprint(w, a.Tree())
	case "slots":
		fmt.Fprint(w, a.comp.Table().String())
	case "pool":
		if a.list == nil {
			fmt.Fprintln(w, "no list yet")
			return nil
		}
		st := a.list.Stats()
		fmt.Fprintf(w, "active=%v pooled=%v reused=%d recycled=%d evicted=%d\n",
			a.list.ActiveKeys(), a.list.PooledKeys(), st.Reused, st.Recycled, st.Evicted)
	default:
		return errors.New(errors.CodeUnknownScript).
			WithDetailf("unknown command %q", verb).
			WithSuggestion("Available: " + strings.Join(Commands, ", "))
	}
	return nil
}

// Flusher runs pending passes. *scheduler.Manual implements it.
type Flusher interface {
	Flush(ctx context.Context, limit int) ([]compose.PassReport, error)
}

// Run executes script one line at a time, settling after each and printing
// the pass reports and the resulting tree to w.
func Run(ctx context.Context, a *App, f Flusher, script []string, w io.Writer) error {
	for i, line := range script {
		fmt.Fprintf(w, "── step %d: %s\n", i+1, line)
		if err := a.Exec(line, w); err != nil {
			return err
		}
		reps, err := f.Flush(ctx, 0)
		for _, r := range reps {
			fmt.Fprintf(w, "   %s\n", Summary(r))
		}
		if err != nil {
			return err
		}
		for _, l := range strings.Split(strings.TrimRight(a.Tree(), "\n"), "\n") {
			fmt.Fprintf(w, "   %s\n", l)
		}
	}
	return nil
}

// Summary renders a pass report on one line.
func Summary(r compose.PassReport) string {
	return fmt.Sprintf("pass %d %s: recomposed=%d skipped=%d created=%d removed=%d moved=%d disposed=%d",
		r.ID, r.Kind, r.Recomposed, r.Skipped, r.Created, r.Removed, r.Moved, r.Disposed)
}

func parseIDs(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, badArg("items", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func badArg(verb, arg string) error {
	return errors.New(errors.CodeUnknownScript).
		WithDetailf("bad argument %q for %s", arg, verb)
}
