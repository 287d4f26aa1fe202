// Package focusprobe defines the interface the core consumes to learn what
// window currently has the user's attention. Per-OS implementations are an
// external collaborator; this package only carries the interface, the data
// it returns, and a default best-effort implementation built from
// cross-platform process inspection.
package focusprobe

import (
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/TokenRollAI/engram/internal/types"
)

// Probe produces a FocusContext. Implementations must be non-blocking
// (the capture loop budgets at most 50ms for a probe call) and must not
// panic on unsupported platforms — they should return the zero-value
// context instead.
type Probe interface {
	Focus() types.FocusContext
}

// ProbeFunc adapts a plain function to the Probe interface.
type ProbeFunc func() types.FocusContext

// Focus implements Probe.
func (f ProbeFunc) Focus() types.FocusContext { return f() }

// NullProbe always returns an empty FocusContext. It is the safe fallback
// on platforms with no window-probing backend wired in.
var NullProbe Probe = ProbeFunc(func() types.FocusContext { return types.FocusContext{} })

// PidEnrichedProbe wraps another probe and, when it reports a PID but no
// AppName, fills AppName from the OS process table via gopsutil. This is
// the one piece of focus-probing genuinely portable across platforms: the
// per-OS "what window is focused" logic stays external, but once a PID is
// known, naming the process is not.
type PidEnrichedProbe struct {
	inner Probe
}

// NewPidEnrichedProbe wraps inner, falling back to NullProbe if inner is nil.
func NewPidEnrichedProbe(inner Probe) *PidEnrichedProbe {
	if inner == nil {
		inner = NullProbe
	}
	return &PidEnrichedProbe{inner: inner}
}

// Focus implements Probe.
func (p *PidEnrichedProbe) Focus() types.FocusContext {
	ctx := p.inner.Focus()
	if ctx.AppName != "" || !ctx.HasPID {
		return ctx
	}

	proc, err := process.NewProcess(ctx.PID)
	if err != nil {
		return ctx
	}
	name, err := proc.Name()
	if err != nil || name == "" {
		return ctx
	}
	ctx.AppName = name
	return ctx
}

// WithTimeout wraps a Probe so that a slow implementation cannot stall the
// capture loop past its 50ms budget; on timeout it returns the zero-value
// context.
func WithTimeout(inner Probe, timeout time.Duration) Probe {
	return ProbeFunc(func() types.FocusContext {
		resultCh := make(chan types.FocusContext, 1)
		go func() {
			resultCh <- inner.Focus()
		}()
		select {
		case ctx := <-resultCh:
			return ctx
		case <-time.After(timeout):
			return types.FocusContext{}
		}
	})
}
