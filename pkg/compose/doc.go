// Package compose is a positional memoization runtime for declarative trees.
//
// Content is an ordinary Go function that receives a *Composer and calls
// primitives on it: groups (WithGroup, WithKey, Skippable), remembered
// values (Remember, UseState), nodes (Emit, WithParent) and effects.
// Every call is recorded in the composition's slot table. On the next pass
// the same calls at the same positions find their previous values, so only
// what changed touches the node store.
//
// Reading a state cell with Get(c) subscribes the enclosing restartable
// group. Writing it marks that group dirty; the next pass re-runs just that
// group's body in place:
//
//	rt := compose.NewRuntime()
//	comp := compose.NewComposition(rt, node.NewMemoryApplier())
//	comp.SetContent(func(c *compose.Composer) {
//		count := compose.UseState(c, func() int { return 0 })
//		c.Group(func(c *compose.Composer) {
//			n := count.Get(c)
//			compose.Emit(c, func() *node.Element { return node.NewText("") },
//				func(e *node.Element) { e.SetText(strconv.Itoa(n)) })
//		})
//	})
//	rt.RunUntilIdle(ctx)
//
// # Threading
//
// State may be written from any goroutine. Passes run on whichever
// goroutine calls Runtime.RunPassNow, and all composition, applier and
// effect callbacks happen there. A Scheduler decides when that is.
//
// # Errors
//
// A body that breaks group nesting or reads a node that is not there aborts
// the pass for its composition. The table is unwound, already queued child
// list changes are applied, effects are dropped and the composition is
// recomposed from its root on the next pass. Type changes at a remembered
// call site are not fatal: they are logged and listed in
// PassReport.Mismatches.
package compose
