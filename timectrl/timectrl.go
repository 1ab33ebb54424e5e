package timectrl

import (
	"sync"

	"github.com/signalsfoundry/capacity-allocator/model"
)

// SimClock is an interface for reading simulation time. Allocation
// components depend on it rather than on the concrete controller so tests
// can supply a fixed clock.
type SimClock interface {
	// Now returns the current simulation tick.
	Now() model.Ticks
}

// Fixed is a SimClock that always reports the same tick.
type Fixed model.Ticks

// Now implements SimClock.
func (f Fixed) Now() model.Ticks { return model.Ticks(f) }

// TimeController drives simulation time and notifies registered listeners.
// Time only moves forward; the discrete-event loop decides how far.
type TimeController struct {
	mu sync.RWMutex

	start   model.Ticks
	current model.Ticks

	listeners []func(model.Ticks)
}

// NewTimeController constructs a controller positioned at start.
func NewTimeController(start model.Ticks) *TimeController {
	return &TimeController{
		start:   start,
		current: start,
	}
}

// Now returns the current simulation tick. Implements SimClock.
func (tc *TimeController) Now() model.Ticks {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.current
}

// Start returns the tick the controller was created (or last reset) at.
func (tc *TimeController) Start() model.Ticks {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.start
}

// AddListener registers a callback invoked every time the clock advances.
func (tc *TimeController) AddListener(fn func(model.Ticks)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// AdvanceTo moves the clock forward to t and notifies listeners. Moving
// backwards or standing still is a no-op and reports false.
func (tc *TimeController) AdvanceTo(t model.Ticks) bool {
	tc.mu.Lock()
	if t <= tc.current {
		tc.mu.Unlock()
		return false
	}
	tc.current = t
	listeners := append([]func(model.Ticks){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
	return true
}

// Step advances the clock by d ticks.
func (tc *TimeController) Step(d model.Ticks) bool {
	return tc.AdvanceTo(tc.Now() + d)
}

// Reset rewinds the clock to start without notifying listeners. It is used
// when a new simulation run begins.
func (tc *TimeController) Reset(start model.Ticks) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.start = start
	tc.current = start
}
