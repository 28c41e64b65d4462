package compose

import (
	"context"
	"time"
)

// Phase is the runtime's position in the pass cycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseScheduled
	PhaseComposing
	PhaseApplying
)

// String returns the string representation of the Phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScheduled:
		return "scheduled"
	case PhaseComposing:
		return "composing"
	case PhaseApplying:
		return "applying"
	default:
		return "unknown"
	}
}

// PassKind says how much of the table a pass visited.
type PassKind string

const (
	// PassFull re-ran at least one composition from its root.
	PassFull PassKind = "full"
	// PassPartial only re-entered dirty scopes.
	PassPartial PassKind = "partial"
	// PassEmpty found nothing to do.
	PassEmpty PassKind = "empty"
)

// PassInfo is handed to observers when a pass starts.
type PassInfo struct {
	ID      uint64
	Pending int
}

// PassReport summarizes one pass.
type PassReport struct {
	ID         uint64        `json:"id"`
	Kind       PassKind      `json:"kind"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	Dirty      int           `json:"dirty"`
	Full       int           `json:"full"`
	Recomposed int           `json:"recomposed"`
	Deferred   int           `json:"deferred"`
	Skipped    int           `json:"skipped"`
	Created    int           `json:"created"`
	Updated    int           `json:"updated"`
	Removed    int           `json:"removed"`
	Disposed   int           `json:"disposed"`
	Moved      int           `json:"moved"`
	ChildOps   int           `json:"childOps"`
	Effects    int           `json:"effects"`
	TableSize  int           `json:"tableSize"`
	Mismatches []error       `json:"mismatches,omitempty"`
	Err        string        `json:"error,omitempty"`
}

// PassObserver is notified around every pass. PassStarted may return a
// derived context (for example one carrying a trace span) that is passed
// back to PassFinished.
type PassObserver interface {
	PassStarted(ctx context.Context, info PassInfo) context.Context
	PassFinished(ctx context.Context, report PassReport, err error)
}

type observers []PassObserver

func (o observers) PassStarted(ctx context.Context, info PassInfo) context.Context {
	for _, obs := range o {
		ctx = obs.PassStarted(ctx, info)
	}
	return ctx
}

func (o observers) PassFinished(ctx context.Context, report PassReport, err error) {
	for i := len(o) - 1; i >= 0; i-- {
		o[i].PassFinished(ctx, report, err)
	}
}
