package lfp

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/lfp-tracker/core"
)

// fakeCollection is a minimal host: a straight compartment whose segment
// currents live in a slice that can be moved.
type fakeCollection struct {
	name     string
	start    core.Vec3
	end      core.Vec3
	diameter float64
	currents []float64
	lookups  int
}

func newFakeCollection(name string, start, end core.Vec3, currents ...float64) *fakeCollection {
	return &fakeCollection{
		name:     name,
		start:    start,
		end:      end,
		diameter: 1,
		currents: append([]float64(nil), currents...),
	}
}

func (c *fakeCollection) Name() string     { return c.name }
func (c *fakeCollection) NumSegments() int { return len(c.currents) }

func (c *fakeCollection) Geometry(i int) SegmentGeometry {
	n := float64(len(c.currents))
	return SegmentGeometry{
		Start:    c.start,
		End:      c.end,
		Diameter: c.diameter,
		X:        (float64(i) + 0.5) / n,
		Area:     1,
	}
}

func (c *fakeCollection) CurrentRef(i int, _ Mode) CurrentRef {
	c.lookups++
	return Bind(&c.currents[i])
}

// relocate moves the currents to fresh storage, leaving old handles
// pointing at a frozen copy.
func (c *fakeCollection) relocate() {
	moved := make([]float64, len(c.currents))
	copy(moved, c.currents)
	c.currents = moved
}

// staleRef reports itself invalid.
type staleRef struct{ v float64 }

func (r staleRef) Read() float64 { return r.v }
func (r staleRef) Valid() bool   { return false }

// manualScheduler queues callbacks without running them so tests can
// interleave a wake with other engine calls.
type manualScheduler struct {
	now    time.Time
	next   int
	order  []string
	queued map[string]func()
}

func newManualScheduler(now time.Time) *manualScheduler {
	return &manualScheduler{now: now, queued: make(map[string]func())}
}

func (m *manualScheduler) Now() time.Time { return m.now }

func (m *manualScheduler) Schedule(_ time.Time, f func()) string {
	m.next++
	id := fmt.Sprintf("wake-%d", m.next)
	m.queued[id] = f
	m.order = append(m.order, id)
	return id
}

func (m *manualScheduler) Cancel(id string) { delete(m.queued, id) }

func (m *manualScheduler) Pending() int { return len(m.queued) }

// take removes the oldest queued callback and returns it unrun.
func (m *manualScheduler) take() func() {
	for len(m.order) > 0 {
		id := m.order[0]
		m.order = m.order[1:]
		if f, ok := m.queued[id]; ok {
			delete(m.queued, id)
			return f
		}
	}
	return nil
}
