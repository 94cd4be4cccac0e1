package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"github.com/signalsfoundry/lfp-tracker/core"
	"github.com/signalsfoundry/lfp-tracker/lfp"
	"github.com/signalsfoundry/lfp-tracker/model"
)

// ErrInvalidScenario wraps structural problems in a scenario file.
var ErrInvalidScenario = errors.New("invalid scenario")

const (
	defaultSigma    = 0.3
	defaultDuration = 100 * time.Millisecond
	defaultTick     = 25 * time.Microsecond
)

// Scenario is a loaded, defaulted run description.
type Scenario struct {
	Cells      []model.CellDefinition
	Electrodes []model.ElectrodeDefinition
	Run        Run
}

// Run holds the host loop parameters.
type Run struct {
	Duration time.Duration
	Tick     time.Duration
	// RelocateAt lists simulation offsets at which the host moves its
	// current storage, sorted ascending.
	RelocateAt []time.Duration
}

// internal JSON shapes, unexported so they can evolve independently.
type scenarioJSON struct {
	Cells      []cellJSON      `json:"cells"`
	Electrodes []electrodeJSON `json:"electrodes"`
	Run        runJSON         `json:"run"`
}

type cellJSON struct {
	ID       string        `json:"id"`
	Sections []sectionJSON `json:"sections"`
	Drive    driveJSON     `json:"drive"`
}

type sectionJSON struct {
	Name     string  `json:"name"`
	Start    vecJSON `json:"start"`
	End      vecJSON `json:"end"`
	Diameter float64 `json:"diameter"`
	NSeg     int     `json:"nseg"` // optional; defaults to 1
}

type driveJSON struct {
	AmplitudeNA  float64 `json:"amplitude_na"`
	FrequencyHz  float64 `json:"frequency_hz"`
	WavelengthUm float64 `json:"wavelength_um"`
	PhaseRad     float64 `json:"phase_rad"`
}

type electrodeJSON struct {
	Name           string   `json:"name"`
	Position       vecJSON  `json:"position"`
	Sigma          *float64 `json:"sigma"` // optional; defaults to 0.3
	Scheme         string   `json:"scheme"`
	Mode           string   `json:"mode"`
	SamplePeriodMs float64  `json:"sample_period_ms"`
	Verbose        bool     `json:"verbose"`
	AxialFallback  bool     `json:"axial_fallback"`
	Cells          []string `json:"cells"`
}

type runJSON struct {
	DurationMs   float64   `json:"duration_ms"`
	TickUs       float64   `json:"tick_us"`
	RelocateAtMs []float64 `json:"relocate_at_ms"`
}

type vecJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v vecJSON) vec() core.Vec3 { return core.Vec3{X: v.X, Y: v.Y, Z: v.Z} }

// Load decodes a JSON scenario from r and applies defaults. It fails on
// decode errors and on structural problems (no cells, duplicate names,
// references to unknown cells). Scheme and mode strings are left for the
// tracker to reject so the error surfaces where the tracker is built.
func Load(r io.Reader) (*Scenario, error) {
	var payload scenarioJSON
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("scenario: decode failed: %w", err)
	}
	if len(payload.Cells) == 0 {
		return nil, fmt.Errorf("%w: no cells", ErrInvalidScenario)
	}

	sc := &Scenario{}
	cellIDs := make(map[string]struct{}, len(payload.Cells))
	for _, cj := range payload.Cells {
		if cj.ID == "" {
			return nil, fmt.Errorf("%w: cell without id", ErrInvalidScenario)
		}
		if _, dup := cellIDs[cj.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate cell %q", ErrInvalidScenario, cj.ID)
		}
		cellIDs[cj.ID] = struct{}{}

		def := model.CellDefinition{
			ID: cj.ID,
			Drive: model.DriveDefinition{
				AmplitudeNA:  cj.Drive.AmplitudeNA,
				FrequencyHz:  cj.Drive.FrequencyHz,
				WavelengthUm: cj.Drive.WavelengthUm,
				PhaseRad:     cj.Drive.PhaseRad,
			},
		}
		for _, sj := range cj.Sections {
			nseg := sj.NSeg
			if nseg == 0 {
				nseg = 1
			}
			def.Sections = append(def.Sections, model.SectionDefinition{
				Name:     sj.Name,
				Start:    sj.Start.vec(),
				End:      sj.End.vec(),
				Diameter: sj.Diameter,
				NSeg:     nseg,
			})
		}
		sc.Cells = append(sc.Cells, def)
	}

	names := make(map[string]struct{}, len(payload.Electrodes))
	for i, ej := range payload.Electrodes {
		name := ej.Name
		if name == "" {
			name = fmt.Sprintf("electrode-%d", i)
		}
		if _, dup := names[name]; dup {
			return nil, fmt.Errorf("%w: duplicate electrode %q", ErrInvalidScenario, name)
		}
		names[name] = struct{}{}
		if ej.SamplePeriodMs < 0 {
			return nil, fmt.Errorf("%w: electrode %q has negative sample period %v ms", ErrInvalidScenario, name, ej.SamplePeriodMs)
		}
		for _, id := range ej.Cells {
			if _, ok := cellIDs[id]; !ok {
				return nil, fmt.Errorf("%w: electrode %q references unknown cell %q", ErrInvalidScenario, name, id)
			}
		}

		sigma := defaultSigma
		if ej.Sigma != nil {
			sigma = *ej.Sigma
		}
		sc.Electrodes = append(sc.Electrodes, model.ElectrodeDefinition{
			Name:           name,
			Position:       ej.Position.vec(),
			Sigma:          sigma,
			Scheme:         ej.Scheme,
			Mode:           ej.Mode,
			SamplePeriodMs: ej.SamplePeriodMs,
			Verbose:        ej.Verbose,
			AxialFallback:  ej.AxialFallback,
			Cells:          ej.Cells,
		})
	}

	sc.Run = Run{
		Duration: msToDuration(payload.Run.DurationMs, defaultDuration),
		Tick:     usToDuration(payload.Run.TickUs, defaultTick),
	}
	for _, ms := range payload.Run.RelocateAtMs {
		if ms < 0 {
			return nil, fmt.Errorf("%w: negative relocation time %v ms", ErrInvalidScenario, ms)
		}
		sc.Run.RelocateAt = append(sc.Run.RelocateAt, msToDuration(ms, 0))
	}
	sort.Slice(sc.Run.RelocateAt, func(i, j int) bool { return sc.Run.RelocateAt[i] < sc.Run.RelocateAt[j] })

	return sc, nil
}

// LoadFile opens and loads a scenario file.
func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: open %q: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// TrackerConfig converts an electrode definition into tracker setup.
func TrackerConfig(e model.ElectrodeDefinition) lfp.Config {
	return lfp.Config{
		Name:          e.Name,
		Electrode:     e.Position,
		Sigma:         e.Sigma,
		Scheme:        e.Scheme,
		Mode:          e.Mode,
		SamplePeriod:  msToDuration(e.SamplePeriodMs, 0),
		Verbose:       e.Verbose,
		AxialFallback: e.AxialFallback,
	}
}

func msToDuration(ms float64, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(math.Round(ms * float64(time.Millisecond)))
}

func usToDuration(us float64, fallback time.Duration) time.Duration {
	if us <= 0 {
		return fallback
	}
	return time.Duration(math.Round(us * float64(time.Microsecond)))
}
