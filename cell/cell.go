package cell

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/lfp-tracker/lfp"
	"github.com/signalsfoundry/lfp-tracker/model"
)

var (
	// ErrCellExists is returned when a cell ID is added twice.
	ErrCellExists = errors.New("cell already exists")
	// ErrCellNotFound is returned for an unknown cell ID.
	ErrCellNotFound = errors.New("cell not found")
	// ErrInvalidSection is returned for sections with no length, diameter
	// or segments.
	ErrInvalidSection = errors.New("invalid section")
)

// densityToNA converts mA/cm² times µm² into nA.
const densityToNA = 1e-2

// EventType indicates what kind of change happened in the population.
type EventType int

const (
	// EventStorageRelocated means every previously issued current handle
	// is stale and must be re-resolved.
	EventStorageRelocated EventType = iota
)

// Event is emitted to subscribers when the population changes.
type Event struct {
	Type       EventType
	Generation uint64
}

// Population is a reference host: a set of cells whose membrane currents
// are recomputed on every step and whose current storage can be moved.
// It is driven from a single step loop; the mutex only protects the cell
// index and subscriber list.
type Population struct {
	mu    sync.RWMutex
	start time.Time
	cells []*Cell
	byID  map[string]*Cell

	subs     map[uint64]func(Event)
	subOrder []uint64
	nextSub  uint64

	generation atomic.Uint64
}

// NewPopulation creates an empty population whose drive phase is measured
// from start.
func NewPopulation(start time.Time) *Population {
	return &Population{
		start: start,
		byID:  make(map[string]*Cell),
		subs:  make(map[uint64]func(Event)),
	}
}

// AddCell builds a cell from def. Sections are laid end to end along the
// path in the order given.
func (p *Population) AddCell(def model.CellDefinition) (*Cell, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byID[def.ID]; exists {
		return nil, fmt.Errorf("%w: %q", ErrCellExists, def.ID)
	}

	c := &Cell{pop: p, id: def.ID, drive: def.Drive}
	path := 0.0
	for _, sd := range def.Sections {
		length := sd.End.Sub(sd.Start).Norm()
		if sd.NSeg < 1 || !(sd.Diameter > 0) || !(length > 0) {
			return nil, fmt.Errorf("%w: %s/%s (nseg=%d diam=%v len=%v)", ErrInvalidSection, def.ID, sd.Name, sd.NSeg, sd.Diameter, length)
		}
		sec := &Section{cell: c, def: sd, offset: len(c.areas), length: length}
		segLen := length / float64(sd.NSeg)
		for i := 0; i < sd.NSeg; i++ {
			c.areas = append(c.areas, math.Pi*sd.Diameter*segLen)
			c.paths = append(c.paths, path+(float64(i)+0.5)*segLen)
		}
		path += length
		c.sections = append(c.sections, sec)
	}
	c.pathLength = path
	c.imem = make([]float64, len(c.areas))
	c.density = make([]float64, len(c.areas))

	p.cells = append(p.cells, c)
	p.byID[def.ID] = c
	return c, nil
}

// Cell returns the cell with the given ID, or nil.
func (p *Population) Cell(id string) *Cell {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byID[id]
}

// Cells returns the cells in insertion order.
func (p *Population) Cells() []*Cell {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Cell(nil), p.cells...)
}

// Collections lists the sections of the named cells, in the order the IDs
// are given, or of every cell in insertion order when ids is empty.
func (p *Population) Collections(ids ...string) ([]lfp.Collection, error) {
	cells := p.Cells()
	if len(ids) > 0 {
		cells = cells[:0:0]
		for _, id := range ids {
			c := p.Cell(id)
			if c == nil {
				return nil, fmt.Errorf("%w: %q", ErrCellNotFound, id)
			}
			cells = append(cells, c)
		}
	}

	var out []lfp.Collection
	for _, c := range cells {
		for _, s := range c.sections {
			out = append(out, s)
		}
	}
	return out, nil
}

// Generation counts storage relocations.
func (p *Population) Generation() uint64 {
	return p.generation.Load()
}

// Advance recomputes every membrane current for simulation time now.
func (p *Population) Advance(now time.Time) {
	t := now.Sub(p.start).Seconds()
	for _, c := range p.Cells() {
		c.advance(t)
	}
}

// Relocate moves every cell's current storage to freshly allocated slices,
// invalidating all issued handles, and notifies subscribers. Values carry
// over unchanged.
func (p *Population) Relocate() {
	for _, c := range p.Cells() {
		c.relocate()
	}
	gen := p.generation.Add(1)

	p.mu.RLock()
	subs := make([]func(Event), 0, len(p.subOrder))
	for _, id := range p.subOrder {
		subs = append(subs, p.subs[id])
	}
	p.mu.RUnlock()

	for _, sub := range subs {
		sub(Event{Type: EventStorageRelocated, Generation: gen})
	}
}

// Subscribe registers a callback for population events. It returns an
// idempotent unsubscribe function.
func (p *Population) Subscribe(fn func(Event)) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSub++
	id := p.nextSub
	p.subs[id] = fn
	p.subOrder = append(p.subOrder, id)

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subs[id]; !ok {
			return
		}
		delete(p.subs, id)
		for i, other := range p.subOrder {
			if other == id {
				p.subOrder = append(p.subOrder[:i], p.subOrder[i+1:]...)
				break
			}
		}
	}
}

// Cell is one multicompartment cell. Its currents are stored in two
// parallel slices: total current in nA and membrane density in mA/cm².
type Cell struct {
	pop        *Population
	id         string
	drive      model.DriveDefinition
	sections   []*Section
	areas      []float64 // µm²
	paths      []float64 // µm from the start of the first section
	pathLength float64

	imem    []float64
	density []float64
}

// ID returns the cell ID.
func (c *Cell) ID() string { return c.id }

// Sections returns the cell's sections in path order.
func (c *Cell) Sections() []*Section { return append([]*Section(nil), c.sections...) }

// NumSegments returns the total segment count.
func (c *Cell) NumSegments() int { return len(c.areas) }

// TotalCurrent returns the sum of all segment currents in nA.
func (c *Cell) TotalCurrent() float64 {
	var total float64
	for _, v := range c.imem {
		total += v
	}
	return total
}

// advance evaluates the drive as a sinusoid travelling along the path,
// then removes the mean so the cell's currents sum to zero.
func (c *Cell) advance(t float64) {
	d := c.drive
	wavelength := d.WavelengthUm
	if wavelength <= 0 {
		wavelength = c.pathLength
	}
	omega := 2 * math.Pi * d.FrequencyHz

	var mean float64
	for k, s := range c.paths {
		c.imem[k] = d.AmplitudeNA * math.Sin(omega*t-2*math.Pi*s/wavelength+d.PhaseRad)
		mean += c.imem[k]
	}
	mean /= float64(len(c.imem))
	for k := range c.imem {
		c.imem[k] -= mean
		c.density[k] = c.imem[k] / (c.areas[k] * densityToNA)
	}
}

func (c *Cell) relocate() {
	imem := make([]float64, len(c.imem))
	copy(imem, c.imem)
	density := make([]float64, len(c.density))
	copy(density, c.density)
	c.imem, c.density = imem, density
}

// Section is an unbranched run of segments and the unit a tracker walks.
type Section struct {
	cell   *Cell
	def    model.SectionDefinition
	offset int
	length float64
}

// Name is "<cell>/<section>".
func (s *Section) Name() string { return s.cell.id + "/" + s.def.Name }

// NumSegments returns the section's segment count.
func (s *Section) NumSegments() int { return s.def.NSeg }

// Geometry returns the geometry of segment i.
func (s *Section) Geometry(i int) lfp.SegmentGeometry {
	return lfp.SegmentGeometry{
		Start:    s.def.Start,
		End:      s.def.End,
		Diameter: s.def.Diameter,
		X:        (float64(i) + 0.5) / float64(s.def.NSeg),
		Area:     s.cell.areas[s.offset+i],
	}
}

// CurrentRef returns a handle to segment i's current in the current
// storage generation: nA for FastImem, mA/cm² for AreaScaled.
func (s *Section) CurrentRef(i int, mode lfp.Mode) lfp.CurrentRef {
	k := s.offset + i
	slot := &s.cell.density[k]
	if mode == lfp.FastImem {
		slot = &s.cell.imem[k]
	}
	return slotRef{p: slot, gen: s.cell.pop.Generation(), pop: s.cell.pop}
}

// slotRef reads a storage slot and goes stale once the population
// relocates.
type slotRef struct {
	p   *float64
	gen uint64
	pop *Population
}

func (r slotRef) Read() float64 { return *r.p }
func (r slotRef) Valid() bool   { return r.gen == r.pop.Generation() }
