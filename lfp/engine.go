package lfp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/lfp-tracker/internal/logging"
)

// DefaultSamplePeriod is the sampling cadence used when none is configured.
const DefaultSamplePeriod = 50 * time.Microsecond

// Scheduler is the timed-callback surface an Engine needs from the host.
// internal/sched.EventScheduler satisfies it.
type Scheduler interface {
	Schedule(at time.Time, f func()) (id string)
	Cancel(id string)
	Now() time.Time
}

// State is the lifecycle position of an Engine.
type State int

const (
	StateUninitialized State = iota
	StateScheduled
	StateSampling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateScheduled:
		return "scheduled"
	case StateSampling:
		return "sampling"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Signal is a message delivered to an Engine by the host.
type Signal int

const (
	// SignalToggle starts a stopped engine or stops a running one.
	SignalToggle Signal = iota + 1
	// SignalExternal is passed to the external hook; it never changes the
	// sampled value.
	SignalExternal
)

// Sample is one computed aggregate.
type Sample struct {
	Tracker string
	Time    time.Time
	Value   float64
	// Skipped counts sources that were unbound or stale at this wake.
	Skipped int
}

// Engine samples a Registry on a fixed period driven by a Scheduler. All
// wakes run on the host step loop; the mutex only guards readers on other
// goroutines.
type Engine struct {
	name     string
	registry *Registry
	sched    Scheduler
	period   time.Duration
	log      logging.Logger
	verbose  bool
	external func(payload any)

	mu          sync.RWMutex
	state       State
	on          bool
	summed      float64
	samples     uint64
	lastSkipped int
	pending     string
	epoch       uint64
	observers   []func(Sample)
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger used by the engine.
func WithEngineLogger(l logging.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithVerbose logs every sample at info level.
func WithVerbose(v bool) EngineOption {
	return func(e *Engine) { e.verbose = v }
}

// WithExternalHook installs the handler for SignalExternal.
func WithExternalHook(fn func(payload any)) EngineOption {
	return func(e *Engine) { e.external = fn }
}

// WithName labels samples and log lines.
func WithName(name string) EngineOption {
	return func(e *Engine) { e.name = name }
}

// NewEngine builds an engine over reg and schedules its first wake one
// period after the scheduler's current time. period <= 0 selects
// DefaultSamplePeriod.
func NewEngine(reg *Registry, sched Scheduler, period time.Duration, opts ...EngineOption) *Engine {
	if period <= 0 {
		period = DefaultSamplePeriod
	}
	e := &Engine{
		registry: reg,
		sched:    sched,
		period:   period,
		log:      logging.Noop(),
		state:    StateUninitialized,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.mu.Lock()
	e.on = true
	e.scheduleLocked(sched.Now().Add(period))
	e.state = StateScheduled
	e.mu.Unlock()
	return e
}

// Period returns the sampling period.
func (e *Engine) Period() time.Duration { return e.period }

// Summed returns the most recent sample, or zero before the first wake.
func (e *Engine) Summed() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.summed
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// On reports whether the engine is sampling or waiting for its first wake.
func (e *Engine) On() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.on
}

// Samples returns the number of wakes that produced a value.
func (e *Engine) Samples() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.samples
}

// OnSample registers fn to receive every new sample. Observers run on the
// host step loop after the value is stored.
func (e *Engine) OnSample(fn func(Sample)) {
	e.mu.Lock()
	e.observers = append(e.observers, fn)
	e.mu.Unlock()
}

// Signal delivers a host message to the engine.
func (e *Engine) Signal(sig Signal, payload any) {
	switch sig {
	case SignalToggle:
		e.Toggle()
	case SignalExternal:
		e.log.Debug(context.Background(), "external event", logging.String("tracker", e.name), logging.Any("payload", payload))
		if e.external != nil {
			e.external(payload)
		}
	default:
		e.log.Warn(context.Background(), "ignoring unknown signal", logging.String("tracker", e.name), logging.Int("signal", int(sig)))
	}
}

// Toggle stops a running engine, cancelling its pending wake, or restarts
// a stopped one with the next wake one period from now.
func (e *Engine) Toggle() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.epoch++
	if e.on {
		e.on = false
		if e.pending != "" {
			e.sched.Cancel(e.pending)
			e.pending = ""
		}
		e.state = StateStopped
		e.log.Info(context.Background(), "sampling stopped", logging.String("tracker", e.name))
		return
	}

	e.on = true
	e.scheduleLocked(e.sched.Now().Add(e.period))
	e.state = StateScheduled
	e.log.Info(context.Background(), "sampling started", logging.String("tracker", e.name))
}

// scheduleLocked arms the next wake. Caller must hold e.mu.
func (e *Engine) scheduleLocked(at time.Time) {
	ep := e.epoch
	e.pending = e.sched.Schedule(at, func() { e.wake(at, ep) })
}

// wake samples the registry. A wake armed before the latest Toggle is
// stale and must not touch pending, which may already name a newer wake.
func (e *Engine) wake(due time.Time, ep uint64) {
	e.mu.Lock()
	if ep != e.epoch || !e.on {
		e.mu.Unlock()
		return
	}
	e.pending = ""

	total, skipped := e.registry.sum()
	e.summed = total
	e.samples++
	e.state = StateSampling
	changed := skipped != e.lastSkipped
	e.lastSkipped = skipped
	e.scheduleLocked(due.Add(e.period))
	observers := e.observers
	e.mu.Unlock()

	ctx := context.Background()
	if changed && skipped > 0 {
		e.log.Warn(ctx, "sources skipped while sampling",
			logging.String("tracker", e.name),
			logging.Int("skipped", skipped),
			logging.Int("sources", e.registry.Len()),
		)
	}
	if e.verbose {
		e.log.Info(ctx, "sample", logging.String("tracker", e.name), logging.Any("t", due), logging.Any("summed", total))
	}

	s := Sample{Tracker: e.name, Time: due, Value: total, Skipped: skipped}
	for _, fn := range observers {
		fn(s)
	}
}
