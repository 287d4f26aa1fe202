// Package idle reports how long the user has left the system untouched.
//
// The OS-level probe (no keyboard/mouse events observed) is platform
// specific and, like FocusProbe, is injected rather than hard-coded so the
// threshold logic in Detector stays independently testable. ProbeFunc
// implementations live outside this package (per-OS, cgo or syscalls);
// DefaultProbe is the only one shipped here and always reports zero idle
// time (so it is "not idle" for any positive threshold), matching the corpus's convention of an inert fallback on unsupported
// platforms (see FocusProbe's no-op default).
package idle

import "time"

// ProbeFunc returns the OS-reported idle duration: time since the last
// keyboard or mouse event, system-wide.
type ProbeFunc func() time.Duration

// DefaultProbe always reports zero idle time. Real daemons wire a
// platform-specific probe at startup; this exists so Detector is usable
// (and testable) without one.
func DefaultProbe() time.Duration { return 0 }

// Detector decides idleness from a threshold and a pluggable probe.
type Detector struct {
	probe     ProbeFunc
	threshold time.Duration
}

// New creates a Detector with the given idle threshold.
func New(thresholdMs int64, probe ProbeFunc) *Detector {
	if probe == nil {
		probe = DefaultProbe
	}
	return &Detector{
		probe:     probe,
		threshold: time.Duration(thresholdMs) * time.Millisecond,
	}
}

// SetThreshold updates the idle threshold.
func (d *Detector) SetThreshold(thresholdMs int64) {
	d.threshold = time.Duration(thresholdMs) * time.Millisecond
}

// IdleMillis returns the current OS-reported idle time in milliseconds.
func (d *Detector) IdleMillis() int64 {
	return d.probe().Milliseconds()
}

// IsIdle reports whether the user has been idle for at least the threshold.
// At-threshold counts as idle (idle >= threshold, not strictly greater).
func (d *Detector) IsIdle() bool {
	return d.probe() >= d.threshold
}
