package compose

import (
	rerrors "github.com/vango-dev/recompose/internal/errors"
	"github.com/vango-dev/recompose/pkg/slots"
	"github.com/vango-dev/recompose/pkg/state"
)

// Sentinels for errors.Is. Errors returned by passes carry detail and the
// call site of the group involved, and match these by code.
var (
	ErrUnbalancedGroup    = slots.ErrUnbalancedGroup
	ErrDanglingNodeRead   = slots.ErrDanglingNodeRead
	ErrStructuralMismatch = rerrors.New(rerrors.CodeStructuralMismatch)
	ErrStaleHandle        = state.ErrStaleHandle
	ErrNodeTypeMismatch   = rerrors.New(rerrors.CodeNodeTypeMismatch)
	ErrPassReentered      = rerrors.New(rerrors.CodePassReentered)
	ErrCompositionPanic   = rerrors.New(rerrors.CodeCompositionPanic)
	ErrRuntimeClosed      = rerrors.New(rerrors.CodeRuntimeClosed)
	ErrDisposed           = rerrors.New(rerrors.CodeDisposed)
)

// abort carries a fatal error out of composable bodies to the pass boundary.
type abort struct {
	err error
}
