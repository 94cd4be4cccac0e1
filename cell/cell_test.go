package cell

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/lfp-tracker/core"
	"github.com/signalsfoundry/lfp-tracker/internal/sched"
	"github.com/signalsfoundry/lfp-tracker/lfp"
	"github.com/signalsfoundry/lfp-tracker/model"
)

var start = time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)

func pyramidal() model.CellDefinition {
	return model.CellDefinition{
		ID: "pyr",
		Sections: []model.SectionDefinition{
			{Name: "soma", Start: core.Vec3{X: -10}, End: core.Vec3{X: 10}, Diameter: 20, NSeg: 1},
			{Name: "apical", Start: core.Vec3{X: 10}, End: core.Vec3{X: 210}, Diameter: 2, NSeg: 5},
			{Name: "tuft", Start: core.Vec3{X: 210}, End: core.Vec3{X: 260, Y: 50}, Diameter: 1, NSeg: 3},
		},
		Drive: model.DriveDefinition{AmplitudeNA: 0.5, FrequencyHz: 8},
	}
}

func newPopulation(t *testing.T, defs ...model.CellDefinition) *Population {
	t.Helper()
	p := NewPopulation(start)
	for _, d := range defs {
		if _, err := p.AddCell(d); err != nil {
			t.Fatalf("AddCell(%s): %v", d.ID, err)
		}
	}
	return p
}

func TestAddCellValidatesSections(t *testing.T) {
	p := newPopulation(t, pyramidal())
	if _, err := p.AddCell(pyramidal()); !errors.Is(err, ErrCellExists) {
		t.Fatalf("duplicate AddCell error = %v, want ErrCellExists", err)
	}

	bad := []model.SectionDefinition{
		{Name: "flat", Start: core.Vec3{}, End: core.Vec3{}, Diameter: 1, NSeg: 1},
		{Name: "thin", Start: core.Vec3{}, End: core.Vec3{X: 1}, Diameter: 0, NSeg: 1},
		{Name: "empty", Start: core.Vec3{}, End: core.Vec3{X: 1}, Diameter: 1, NSeg: 0},
	}
	for i, sd := range bad {
		def := model.CellDefinition{ID: string(rune('a' + i)), Sections: []model.SectionDefinition{sd}}
		if _, err := p.AddCell(def); !errors.Is(err, ErrInvalidSection) {
			t.Fatalf("%s: error = %v, want ErrInvalidSection", sd.Name, err)
		}
	}
}

func TestSectionGeometry(t *testing.T) {
	p := newPopulation(t, pyramidal())
	apical := p.Cell("pyr").Sections()[1]

	if apical.Name() != "pyr/apical" || apical.NumSegments() != 5 {
		t.Fatalf("section = %s/%d", apical.Name(), apical.NumSegments())
	}
	g := apical.Geometry(2)
	if g.X != 0.5 {
		t.Fatalf("X = %v, want 0.5", g.X)
	}
	if want := math.Pi * 2 * 40; math.Abs(g.Area-want) > 1e-9 {
		t.Fatalf("Area = %v, want %v", g.Area, want)
	}
	if pos := g.Position(); pos != (core.Vec3{X: 110}) {
		t.Fatalf("Position = %+v", pos)
	}
}

func TestAdvanceConservesCurrentAndConvertsDensity(t *testing.T) {
	p := newPopulation(t, pyramidal())
	c := p.Cell("pyr")

	for _, ms := range []int{0, 13, 31, 77} {
		p.Advance(start.Add(time.Duration(ms) * time.Millisecond))
		if total := c.TotalCurrent(); math.Abs(total) > 1e-12 {
			t.Fatalf("t=%dms: total current = %v, want 0", ms, total)
		}
		for k := range c.imem {
			if got := c.density[k] * c.areas[k] * densityToNA; math.Abs(got-c.imem[k]) > 1e-12 {
				t.Fatalf("t=%dms seg %d: density·area = %v nA, imem = %v", ms, k, got, c.imem[k])
			}
		}
	}
}

func TestRelocateInvalidatesHandlesAndNotifies(t *testing.T) {
	p := newPopulation(t, pyramidal())
	p.Advance(start.Add(20 * time.Millisecond))
	soma := p.Cell("pyr").Sections()[0]

	before := soma.CurrentRef(0, lfp.FastImem)
	value := before.Read()

	var events []Event
	unsubscribe := p.Subscribe(func(ev Event) { events = append(events, ev) })

	p.Relocate()
	if len(events) != 1 || events[0].Type != EventStorageRelocated || events[0].Generation != 1 {
		t.Fatalf("events = %+v", events)
	}
	if v, ok := before.(lfp.Validity); !ok || v.Valid() {
		t.Fatalf("handle issued before relocation still valid")
	}

	after := soma.CurrentRef(0, lfp.FastImem)
	if after.Read() != value || !after.(lfp.Validity).Valid() {
		t.Fatalf("relocated value = %v, want %v", after.Read(), value)
	}

	p.Advance(start.Add(40 * time.Millisecond))
	if before.Read() != value {
		t.Fatalf("old storage was written after relocation")
	}

	unsubscribe()
	unsubscribe()
	p.Relocate()
	if len(events) != 1 {
		t.Fatalf("unsubscribed callback still invoked")
	}
}

func TestUnsubscribeInAnyOrderRemovesOnlyThatCallback(t *testing.T) {
	p := newPopulation(t, pyramidal())

	var a, b, c int
	unsubA := p.Subscribe(func(Event) { a++ })
	unsubB := p.Subscribe(func(Event) { b++ })
	unsubC := p.Subscribe(func(Event) { c++ })

	unsubA()
	p.Relocate()
	if a != 0 || b != 1 || c != 1 {
		t.Fatalf("after removing first: a=%d b=%d c=%d, want 0/1/1", a, b, c)
	}

	unsubB()
	p.Relocate()
	if a != 0 || b != 1 || c != 2 {
		t.Fatalf("after removing second: a=%d b=%d c=%d, want 0/1/2", a, b, c)
	}

	unsubA()
	unsubC()
	p.Relocate()
	if a != 0 || b != 1 || c != 2 {
		t.Fatalf("after removing all: a=%d b=%d c=%d, want 0/1/2", a, b, c)
	}
}

func TestCollectionsOrder(t *testing.T) {
	other := pyramidal()
	other.ID = "int"
	p := newPopulation(t, pyramidal(), other)

	all, err := p.Collections()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 6 || all[0].Name() != "pyr/soma" || all[3].Name() != "int/soma" {
		t.Fatalf("Collections() = %v", names(all))
	}

	picked, err := p.Collections("int")
	if err != nil || len(picked) != 3 || picked[0].Name() != "int/soma" {
		t.Fatalf("Collections(int) = %v, %v", names(picked), err)
	}

	if _, err := p.Collections("ghost"); !errors.Is(err, ErrCellNotFound) {
		t.Fatalf("Collections(ghost) error = %v", err)
	}
}

func names(cs []lfp.Collection) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name()
	}
	return out
}

// Both extraction modes describe the same physical current, so trackers in
// either mode must agree.
func TestTrackerModesAgree(t *testing.T) {
	p := newPopulation(t, pyramidal())
	s := sched.NewFakeEventScheduler(start)
	cols, _ := p.Collections()

	var trackers []*lfp.Tracker
	for _, mode := range []string{"areaScaled", "fastImem"} {
		tr, err := lfp.NewTracker(context.Background(), lfp.Config{
			Name:      mode,
			Electrode: core.Vec3{X: 100, Y: 50, Z: 20},
			Sigma:     0.3,
			Scheme:    "LSA",
			Mode:      mode,
		}, s, cols)
		if err != nil {
			t.Fatalf("NewTracker(%s): %v", mode, err)
		}
		trackers = append(trackers, tr)
	}

	for i := 1; i <= 40; i++ {
		now := start.Add(time.Duration(i) * lfp.DefaultSamplePeriod * 50)
		p.Advance(now)
		s.AdvanceTo(now)
		a, b := trackers[0].Summed(), trackers[1].Summed()
		if math.Abs(a-b) > 1e-9*math.Max(1, math.Abs(a)) {
			t.Fatalf("step %d: areaScaled=%v fastImem=%v", i, a, b)
		}
	}
	if trackers[0].Summed() == 0 {
		t.Fatalf("trackers never saw a nonzero field")
	}
}

// Relocation without a rebind is caught by the generation check: stale
// sources are skipped and reported instead of read.
func TestRelocationWithoutRebindIsReported(t *testing.T) {
	p := newPopulation(t, pyramidal())
	s := sched.NewFakeEventScheduler(start)
	cols, _ := p.Collections()

	tr, err := lfp.NewTracker(context.Background(), lfp.Config{
		Name: "e", Electrode: core.Vec3{Z: 50}, Sigma: 0.3, Scheme: "PSA", Mode: "fastImem",
	}, s, cols)
	if err != nil {
		t.Fatal(err)
	}
	var last lfp.Sample
	tr.Engine().OnSample(func(smp lfp.Sample) { last = smp })

	p.Advance(start.Add(10 * time.Millisecond))
	s.AdvanceTo(start.Add(10 * time.Millisecond))
	if last.Skipped != 0 {
		t.Fatalf("Skipped = %d before relocation", last.Skipped)
	}
	want := tr.Summed()

	p.Relocate()
	s.Advance(lfp.DefaultSamplePeriod)
	if last.Skipped != 9 || last.Value != 0 {
		t.Fatalf("after unannounced relocation sample = %+v", last)
	}

	if err := tr.OnStorageRelocated(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Advance(lfp.DefaultSamplePeriod)
	if last.Skipped != 0 || last.Value != want {
		t.Fatalf("after rebind sample = %+v, want value %v", last, want)
	}
}
