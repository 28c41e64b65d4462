package compose

import (
	"context"
	"fmt"

	rerrors "github.com/vango-dev/recompose/internal/errors"
	"github.com/vango-dev/recompose/pkg/slots"
	"github.com/vango-dev/recompose/pkg/state"
)

// Disposer is implemented by remembered values that hold resources.
type Disposer interface {
	Dispose()
}

type effectRecord interface {
	dispose()
}

func (c *Composer) queueEffect(fn func()) {
	c.effects.Push(fn)
}

func (c *Composer) rememberEffect(accept func(slots.Value) bool, init func() effectRecord) effectRecord {
	v, out := c.table.Remember(slots.ValueEffect, accept, func() slots.Value {
		return slots.Value{Kind: slots.ValueEffect, Data: init()}
	})
	if out == slots.Replaced {
		c.mismatch(rerrors.CodeStructuralMismatch, fmt.Sprintf("effect %T replaced an effect of another kind", v.Data))
	}
	return v.Data.(effectRecord)
}

// SideEffect runs fn once the pass has been applied, every time the
// enclosing scope runs. Effects of an aborted pass never run.
func SideEffect(c *Composer, fn func()) {
	c.queueEffect(fn)
}

type disposableEffect struct {
	keys     any
	set      bool
	cleanup  func()
	disposed bool
}

func (e *disposableEffect) dispose() {
	e.disposed = true
	e.runCleanup()
}

func (e *disposableEffect) runCleanup() {
	if e.cleanup != nil {
		fn := e.cleanup
		e.cleanup = nil
		fn()
	}
}

// DisposableEffect runs fn after the pass whenever keys change, including
// the first pass. The function fn returns (if any) runs before the next
// invocation and when the call site disappears.
func DisposableEffect(c *Composer, keys any, fn func() func()) {
	e := c.rememberEffect(isData[*disposableEffect], func() effectRecord {
		return &disposableEffect{}
	}).(*disposableEffect)
	if e.set && state.Equal(e.keys, keys) {
		return
	}
	e.keys, e.set = keys, true
	c.queueEffect(func() {
		if e.disposed {
			return
		}
		e.runCleanup()
		e.cleanup = fn()
	})
}

type launchedEffect struct {
	keys     any
	set      bool
	cancel   context.CancelFunc
	disposed bool
}

func (e *launchedEffect) dispose() {
	e.disposed = true
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// LaunchedEffect starts fn on its own goroutine after the pass whenever keys
// change. Its context is cancelled when keys change again, when the call
// site disappears and when the runtime closes.
func LaunchedEffect(c *Composer, keys any, fn func(ctx context.Context)) {
	e := c.rememberEffect(isData[*launchedEffect], func() effectRecord {
		return &launchedEffect{}
	}).(*launchedEffect)
	if e.set && state.Equal(e.keys, keys) {
		return
	}
	e.keys, e.set = keys, true
	rt := c.rt
	c.queueEffect(func() {
		if e.disposed {
			return
		}
		if e.cancel != nil {
			e.cancel()
		}
		ctx, cancel := context.WithCancel(rt.ctx)
		e.cancel = cancel
		rt.launch(ctx, fn)
	})
}

type disposeEffect struct {
	fn func()
}

func (e *disposeEffect) dispose() {
	if e.fn != nil {
		fn := e.fn
		e.fn = nil
		fn()
	}
}

// OnDispose registers fn to run when the call site disappears. The latest
// fn passed wins.
func OnDispose(c *Composer, fn func()) {
	e := c.rememberEffect(isData[*disposeEffect], func() effectRecord {
		return &disposeEffect{}
	}).(*disposeEffect)
	e.fn = fn
}
