package sched

import (
	"fmt"
	"sync"
	"time"
)

// FakeEventScheduler keeps its own simulation time, letting tests move it
// forward explicitly with AdvanceTo.
type FakeEventScheduler struct {
	mu      sync.Mutex
	now     time.Time
	counter uint64

	events []*scheduledEvent
	index  map[string]*scheduledEvent
}

// NewFakeEventScheduler creates a fake scheduler starting at start.
func NewFakeEventScheduler(start time.Time) *FakeEventScheduler {
	return &FakeEventScheduler{
		now:   start,
		index: make(map[string]*scheduledEvent),
	}
}

// Now returns the current fake simulation time.
func (s *FakeEventScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Schedule registers a callback to run at the specified simulation time.
func (s *FakeEventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("fake-ev-%d", s.counter)
	ev := &scheduledEvent{id: id, seq: s.counter, when: at, f: f}
	s.events = insertEvent(s.events, ev)
	s.index[id] = ev
	return id
}

// Cancel drops a scheduled event.
func (s *FakeEventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev, ok := s.index[id]; ok {
		ev.cancelled = true
		delete(s.index, id)
	}
}

// Pending returns the number of live events.
func (s *FakeEventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// RunDue executes all events whose scheduled time is <= now.
func (s *FakeEventScheduler) RunDue() {
	for {
		s.mu.Lock()
		var next *scheduledEvent
		for len(s.events) > 0 {
			ev := s.events[0]
			if ev.cancelled {
				s.events = s.events[1:]
				continue
			}
			if ev.when.After(s.now) {
				break
			}
			s.events = s.events[1:]
			delete(s.index, ev.id)
			next = ev
			break
		}
		s.mu.Unlock()

		if next == nil {
			return
		}
		if next.f != nil {
			next.f()
		}
	}
}

// AdvanceTo moves fake time to t and runs all due events. Time never goes
// backwards.
func (s *FakeEventScheduler) AdvanceTo(t time.Time) {
	s.mu.Lock()
	if t.Before(s.now) {
		s.mu.Unlock()
		return
	}
	s.now = t
	s.mu.Unlock()

	s.RunDue()
}

// Advance moves fake time forward by d and runs all due events.
func (s *FakeEventScheduler) Advance(d time.Duration) {
	s.AdvanceTo(s.Now().Add(d))
}
