package sched

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/lfp-tracker/timectrl"
)

// EventScheduler runs callbacks at simulation times read from a SimClock.
//
// The host loop advances the clock and then calls RunDue; summation engines
// use Schedule and Cancel to drive their periodic wake.
type EventScheduler interface {
	// Schedule registers f to run at simulation time 'at' and returns an
	// opaque ID usable with Cancel.
	Schedule(at time.Time, f func()) (id string)

	// Cancel drops a scheduled event. Unknown or already-run IDs are ignored.
	Cancel(id string)

	// Now returns the current simulation time.
	Now() time.Time

	// RunDue executes every event scheduled at or before Now(), including
	// events scheduled by callbacks that are themselves already due.
	RunDue()

	// Pending returns the number of events still waiting to run.
	Pending() int
}

type scheduledEvent struct {
	id        string
	seq       uint64
	when      time.Time
	f         func()
	cancelled bool
}

type eventScheduler struct {
	clock timectrl.SimClock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // ordered by (when, seq)
	index   map[string]*scheduledEvent
}

// NewEventScheduler creates a scheduler backed by clock. Pass the host's
// TimeController in normal runs.
func NewEventScheduler(clock timectrl.SimClock) EventScheduler {
	return &eventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

func (s *eventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)
	ev := &scheduledEvent{id: id, seq: s.counter, when: at, f: f}
	s.events = insertEvent(s.events, ev)
	s.index[id] = ev
	return id
}

// insertEvent keeps events ordered by time; equal times keep scheduling
// order so two engines sharing a period always wake in creation order.
func insertEvent(events []*scheduledEvent, ev *scheduledEvent) []*scheduledEvent {
	idx := sort.Search(len(events), func(i int) bool {
		return events[i].when.After(ev.when)
	})
	events = append(events, nil)
	copy(events[idx+1:], events[idx:])
	events[idx] = ev
	return events
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

func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

func (s *eventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// popDueLocked removes and returns the earliest live event due at now.
// Caller must hold s.mu.
func (s *eventScheduler) popDueLocked(now time.Time) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(now) {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		return ev
	}
	return nil
}

func (s *eventScheduler) RunDue() {
	now := s.clock.Now()
	for {
		s.mu.Lock()
		ev := s.popDueLocked(now)
		s.mu.Unlock()
		if ev == nil {
			return
		}
		// Callbacks run outside the lock so they can reschedule.
		if ev.f != nil {
			ev.f()
		}
	}
}
