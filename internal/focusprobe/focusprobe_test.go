package focusprobe

import (
	"testing"
	"time"

	"github.com/TokenRollAI/engram/internal/types"
)

func TestNullProbeReturnsZeroValue(t *testing.T) {
	ctx := NullProbe.Focus()
	if ctx.AppName != "" || ctx.HasPID {
		t.Fatalf("expected zero-value context, got %+v", ctx)
	}
}

func TestPidEnrichedProbeLeavesExistingAppName(t *testing.T) {
	base := ProbeFunc(func() types.FocusContext {
		return types.FocusContext{AppName: "explicit", HasPID: true, PID: 1}
	})
	p := NewPidEnrichedProbe(base)
	ctx := p.Focus()
	if ctx.AppName != "explicit" {
		t.Fatalf("expected AppName untouched, got %q", ctx.AppName)
	}
}

func TestPidEnrichedProbeWithoutPidIsNoop(t *testing.T) {
	base := ProbeFunc(func() types.FocusContext {
		return types.FocusContext{WindowTitle: "some title"}
	})
	p := NewPidEnrichedProbe(base)
	ctx := p.Focus()
	if ctx.AppName != "" {
		t.Fatalf("expected AppName empty without a PID, got %q", ctx.AppName)
	}
}

func TestWithTimeoutReturnsZeroValueOnSlowProbe(t *testing.T) {
	slow := ProbeFunc(func() types.FocusContext {
		time.Sleep(50 * time.Millisecond)
		return types.FocusContext{AppName: "too-slow"}
	})
	wrapped := WithTimeout(slow, 5*time.Millisecond)
	ctx := wrapped.Focus()
	if ctx.AppName != "" {
		t.Fatalf("expected timeout to yield zero value, got %+v", ctx)
	}
}

func TestWithTimeoutPassesThroughFastProbe(t *testing.T) {
	fast := ProbeFunc(func() types.FocusContext {
		return types.FocusContext{AppName: "quick"}
	})
	wrapped := WithTimeout(fast, 50*time.Millisecond)
	ctx := wrapped.Focus()
	if ctx.AppName != "quick" {
		t.Fatalf("expected AppName 'quick', got %q", ctx.AppName)
	}
}
