// Package dispatch runs callbacks at simulation ticks. The allocation core
// never blocks; callers that see a false allocation result schedule a retry
// here.
package dispatch

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/capacity-allocator/model"
	"github.com/signalsfoundry/capacity-allocator/timectrl"
)

// EventScheduler schedules callbacks against a SimClock.
type EventScheduler interface {
	// Schedule registers f to run at tick at and returns an ID usable with
	// Cancel.
	Schedule(at model.Ticks, f func()) (id string)

	// Cancel is a no-op for unknown or already executed IDs.
	Cancel(id string)

	// Now returns the clock's current tick.
	Now() model.Ticks

	// RunDue executes every event scheduled at or before Now, in tick order.
	// Events scheduled by a callback for a tick already due run in the same
	// call. It returns the number of callbacks executed.
	RunDue() int

	// NextAt returns the tick of the earliest pending event.
	NextAt() (model.Ticks, bool)

	// Len returns the number of pending events.
	Len() int
}

type scheduledEvent struct {
	id        string
	when      model.Ticks
	f         func()
	cancelled bool
}

type eventScheduler struct {
	clock timectrl.SimClock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // ordered by when, FIFO for equal ticks
	index   map[string]*scheduledEvent
}

// NewEventScheduler returns a scheduler driven by clock.
func NewEventScheduler(clock timectrl.SimClock) EventScheduler {
	return &eventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

func (s *eventScheduler) Schedule(at model.Ticks, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)
	ev := &scheduledEvent{id: id, when: at, f: f}
	s.addEventLocked(ev)
	s.index[id] = ev
	return id
}

// addEventLocked keeps events ordered; equal ticks run in scheduling order.
func (s *eventScheduler) addEventLocked(ev *scheduledEvent) {
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when > ev.when
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
}

func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, id)
}

func (s *eventScheduler) Now() model.Ticks {
	return s.clock.Now()
}

func (s *eventScheduler) NextAt() (model.Ticks, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.events {
		if !ev.cancelled {
			return ev.when, true
		}
	}
	return 0, false
}

func (s *eventScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// popDueLocked removes and returns the earliest due event, dropping
// cancelled ones on the way.
func (s *eventScheduler) popDueLocked(now model.Ticks) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when > now {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		return ev
	}
	return nil
}

func (s *eventScheduler) RunDue() int {
	ran := 0
	for {
		s.mu.Lock()
		ev := s.popDueLocked(s.clock.Now())
		s.mu.Unlock()
		if ev == nil {
			return ran
		}
		// Outside the lock so callbacks may schedule or cancel.
		if ev.f != nil {
			ev.f()
		}
		ran++
	}
}
