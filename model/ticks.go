package model

import "math"

// Ticks is a point on the simulation time axis. The representable range is
// [MinTicks, MaxTicks); MaxTicks doubles as "open ended".
type Ticks int64

const (
	MinTicks Ticks = 0
	MaxTicks Ticks = math.MaxInt64
)

// Window is a half-open span of ticks [Start, End).
type Window struct {
	Start Ticks
	End   Ticks
}

// Duration returns End-Start, or 0 for inverted windows.
func (w Window) Duration() Ticks {
	if w.End <= w.Start {
		return 0
	}
	return w.End - w.Start
}

// Contains reports whether t falls inside [Start, End).
func (w Window) Contains(t Ticks) bool {
	return w.Start <= t && t < w.End
}

// Overlaps reports whether the two windows share at least one tick.
func (w Window) Overlaps(o Window) bool {
	return w.Start < o.End && o.Start < w.End
}

// Intersect returns the common part of w and o. ok is false when they do not overlap.
func (w Window) Intersect(o Window) (Window, bool) {
	out := Window{Start: max(w.Start, o.Start), End: min(w.End, o.End)}
	if out.Start >= out.End {
		return Window{}, false
	}
	return out, true
}
