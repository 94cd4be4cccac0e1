//go:build perf || perf_large

package perf

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/signalsfoundry/lfp-tracker/cell"
	"github.com/signalsfoundry/lfp-tracker/core"
	"github.com/signalsfoundry/lfp-tracker/internal/sched"
	"github.com/signalsfoundry/lfp-tracker/lfp"
	"github.com/signalsfoundry/lfp-tracker/model"
)

type perfConfig struct {
	Cells           int
	SectionsPerCell int
	SegsPerSection  int
	Samples         int
}

var start = time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)

func newPopulation(b *testing.B, cfg perfConfig) (*cell.Population, []lfp.Collection) {
	b.Helper()
	pop := cell.NewPopulation(start)
	for c := 0; c < cfg.Cells; c++ {
		origin := core.Vec3{X: float64(c%50) * 40, Y: float64(c/50) * 40}
		def := model.CellDefinition{
			ID:    fmt.Sprintf("cell-%d", c),
			Drive: model.DriveDefinition{AmplitudeNA: 0.5, FrequencyHz: 10 + float64(c%7)},
		}
		from := origin
		for s := 0; s < cfg.SectionsPerCell; s++ {
			to := from.Add(core.Vec3{X: 15, Z: 10 + float64(s)})
			def.Sections = append(def.Sections, model.SectionDefinition{
				Name:     fmt.Sprintf("sec-%d", s),
				Start:    from,
				End:      to,
				Diameter: 1.5,
				NSeg:     cfg.SegsPerSection,
			})
			from = to
		}
		if _, err := pop.AddCell(def); err != nil {
			b.Fatalf("AddCell(%s): %v", def.ID, err)
		}
	}
	cols, err := pop.Collections()
	if err != nil {
		b.Fatalf("Collections: %v", err)
	}
	return pop, cols
}

func newTracker(b *testing.B, scheme string, s lfp.Scheduler, cols []lfp.Collection) *lfp.Tracker {
	b.Helper()
	tr, err := lfp.NewTracker(context.Background(), lfp.Config{
		Name:      scheme,
		Electrode: core.Vec3{X: 500, Y: 200, Z: 50},
		Sigma:     0.3,
		Scheme:    scheme,
		Mode:      "fastImem",
	}, s, cols)
	if err != nil {
		b.Fatalf("NewTracker(%s): %v", scheme, err)
	}
	return tr
}

func benchmarkSetup(b *testing.B, cfg perfConfig, scheme string) {
	_, cols := newPopulation(b, cfg)
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		tr := newTracker(b, scheme, sched.NewFakeEventScheduler(start), cols)
		tr.Stop()
	}
}

func benchmarkSampling(b *testing.B, cfg perfConfig) {
	pop, cols := newPopulation(b, cfg)
	s := sched.NewFakeEventScheduler(start)
	newTracker(b, "LSA", s, cols)
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		for j := 0; j < cfg.Samples; j++ {
			now := s.Now().Add(lfp.DefaultSamplePeriod)
			pop.Advance(now)
			s.AdvanceTo(now)
		}
	}
}

func benchmarkRebind(b *testing.B, cfg perfConfig) {
	pop, cols := newPopulation(b, cfg)
	tr := newTracker(b, "PSA", sched.NewFakeEventScheduler(start), cols)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		pop.Relocate()
		if err := tr.OnStorageRelocated(ctx); err != nil {
			b.Fatalf("OnStorageRelocated: %v", err)
		}
	}
}
