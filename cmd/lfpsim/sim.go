package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/lfp-tracker/cell"
	"github.com/signalsfoundry/lfp-tracker/internal/logging"
	"github.com/signalsfoundry/lfp-tracker/internal/sched"
	"github.com/signalsfoundry/lfp-tracker/internal/store/sqlite"
	"github.com/signalsfoundry/lfp-tracker/internal/traceplot"
	"github.com/signalsfoundry/lfp-tracker/lfp"
	"github.com/signalsfoundry/lfp-tracker/scenario"
	"github.com/signalsfoundry/lfp-tracker/timectrl"
)

// simOptions are the run-time knobs that do not come from the scenario.
type simOptions struct {
	Start      time.Time
	Mode       timectrl.Mode
	Rebind     bool // announce relocations to trackers and probes
	Probes     bool // cross-check every tracker with per-segment probes
	Metrics    lfp.MetricsRecorder
	Store      *sqlite.SampleStore
	KeepTraces bool
	Log        logging.Logger
}

// simulation wires a population, its host clock and one tracker per
// electrode.
type simulation struct {
	scenario *scenario.Scenario
	opts     simOptions
	log      logging.Logger

	pop      *cell.Population
	clock    *timectrl.TimeController
	sched    sched.EventScheduler
	trackers []*lfp.Tracker
	probes   []*probeSet

	relocations []time.Time
	nextReloc   int

	traces    map[string][]lfp.Sample
	storeErrs int
	ticks     int
}

// probeSet shadows one tracker with a SegmentProbe per segment. Summed
// every host step, it must match the tracker's registry sum.
type probeSet struct {
	tracker *lfp.Tracker
	mode    lfp.Mode
	sites   []lfp.Site
	probes  []*lfp.SegmentProbe
	maxDiff float64
}

func newSimulation(ctx context.Context, sc *scenario.Scenario, opts simOptions) (*simulation, error) {
	if opts.Log == nil {
		opts.Log = logging.Noop()
	}
	if opts.Start.IsZero() {
		opts.Start = time.Now().UTC().Truncate(time.Second)
	}

	s := &simulation{
		scenario: sc,
		opts:     opts,
		log:      opts.Log,
		pop:      cell.NewPopulation(opts.Start),
		clock:    timectrl.NewTimeController(opts.Start, sc.Run.Tick, opts.Mode),
		traces:   make(map[string][]lfp.Sample),
	}
	s.sched = sched.NewEventScheduler(s.clock)

	for _, def := range sc.Cells {
		if _, err := s.pop.AddCell(def); err != nil {
			return nil, err
		}
	}
	for _, off := range sc.Run.RelocateAt {
		s.relocations = append(s.relocations, opts.Start.Add(off))
	}

	for _, e := range sc.Electrodes {
		cols, err := s.pop.Collections(e.Cells...)
		if err != nil {
			return nil, fmt.Errorf("electrode %q: %w", e.Name, err)
		}
		trackerOpts := []lfp.Option{lfp.WithLogger(s.log)}
		if opts.Metrics != nil {
			trackerOpts = append(trackerOpts, lfp.WithMetrics(opts.Metrics))
		}
		cfg := scenario.TrackerConfig(e)
		tr, err := lfp.NewTracker(ctx, cfg, s.sched, cols, trackerOpts...)
		if err != nil {
			return nil, fmt.Errorf("electrode %q: %w", e.Name, err)
		}
		tr.Engine().OnSample(s.recordSample)
		s.trackers = append(s.trackers, tr)

		if opts.Probes {
			ps, err := newProbeSet(tr, cols)
			if err != nil {
				return nil, fmt.Errorf("electrode %q probes: %w", e.Name, err)
			}
			s.probes = append(s.probes, ps)
		}
	}

	if opts.Rebind {
		s.pop.Subscribe(func(ev cell.Event) {
			if ev.Type != cell.EventStorageRelocated {
				return
			}
			s.rebind(ctx, ev.Generation)
		})
	}
	s.clock.AddListener(s.step)
	return s, nil
}

func newProbeSet(tr *lfp.Tracker, cols []lfp.Collection) (*probeSet, error) {
	ps := &probeSet{tracker: tr, mode: tr.Mode()}
	err := lfp.Traverse(cols, func(site lfp.Site) error {
		p, err := lfp.NewSegmentProbe(tr.Config(), site.Collection.Geometry(site.SegmentIndex), site.Collection.CurrentRef(site.SegmentIndex, ps.mode))
		if err != nil {
			return fmt.Errorf("%s[%d]: %w", site.Collection.Name(), site.SegmentIndex, err)
		}
		ps.sites = append(ps.sites, site)
		ps.probes = append(ps.probes, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ps, nil
}

func (ps *probeSet) rebind() {
	for i, site := range ps.sites {
		ps.probes[i].Rebind(site.Collection.CurrentRef(site.SegmentIndex, ps.mode))
	}
}

func (ps *probeSet) check() {
	var total float64
	for _, p := range ps.probes {
		total += p.Evaluate()
	}
	want := ps.tracker.Registry().Sum()
	if diff := math.Abs(total - want); diff > ps.maxDiff {
		ps.maxDiff = diff
	}
}

func (s *simulation) rebind(ctx context.Context, gen uint64) {
	for _, tr := range s.trackers {
		if err := tr.OnStorageRelocated(ctx); err != nil {
			s.log.Error(ctx, "rebind failed", logging.String("tracker", tr.Name()), logging.Err(err))
		}
	}
	for _, ps := range s.probes {
		ps.rebind()
	}
	s.log.Info(ctx, "current storage relocated", logging.Any("generation", gen))
}

// step is the host loop body: integrate, relocate when due, then run the
// trackers' due wakes against the fresh currents.
func (s *simulation) step(now time.Time) {
	s.ticks++
	s.pop.Advance(now)
	for s.nextReloc < len(s.relocations) && !now.Before(s.relocations[s.nextReloc]) {
		s.nextReloc++
		s.pop.Relocate()
	}
	s.sched.RunDue()
	for _, ps := range s.probes {
		ps.check()
	}
}

func (s *simulation) recordSample(smp lfp.Sample) {
	if s.opts.KeepTraces {
		s.traces[smp.Tracker] = append(s.traces[smp.Tracker], smp)
	}
	if s.opts.Store == nil {
		return
	}
	if err := s.opts.Store.Record(context.Background(), smp); err != nil {
		s.storeErrs++
		if s.storeErrs == 1 {
			s.log.Warn(context.Background(), "failed to record sample", logging.String("tracker", smp.Tracker), logging.Err(err))
		}
	}
}

// run drives the clock for the scenario duration on the calling goroutine.
func (s *simulation) run(ctx context.Context) error {
	s.log.Info(ctx, "starting simulation",
		logging.Duration("duration", s.scenario.Run.Duration),
		logging.Duration("tick", s.scenario.Run.Tick),
		logging.String("mode", s.opts.Mode.String()),
		logging.Int("trackers", len(s.trackers)),
	)
	s.clock.Run(s.scenario.Run.Duration)

	var errs []error
	if s.opts.Store != nil {
		if err := s.opts.Store.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush samples: %w", err))
		}
	}
	if s.storeErrs > 0 {
		errs = append(errs, fmt.Errorf("%d samples could not be recorded", s.storeErrs))
	}

	for _, tr := range s.trackers {
		s.log.Info(ctx, "tracker finished",
			logging.String("tracker", tr.Name()),
			logging.String("scheme", tr.Scheme().String()),
			logging.Any("samples", tr.Engine().Samples()),
			logging.Float64("summed", tr.Summed()),
		)
	}
	for _, ps := range s.probes {
		s.log.Info(ctx, "probe cross-check",
			logging.String("tracker", ps.tracker.Name()),
			logging.Int("probes", len(ps.probes)),
			logging.Float64("max_abs_diff", ps.maxDiff),
		)
	}
	return errors.Join(errs...)
}

// traceList returns the kept traces in tracker order.
func (s *simulation) traceList() []traceplot.Trace {
	out := make([]traceplot.Trace, 0, len(s.trackers))
	for _, tr := range s.trackers {
		out = append(out, traceplot.Trace{Name: tr.Name(), Samples: s.traces[tr.Name()]})
	}
	return out
}
