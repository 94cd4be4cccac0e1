package lfp

import (
	"fmt"
	"math"
)

// probeOriginZ replaces the z coordinate of an electrode placed exactly at
// the origin. Only SegmentProbe applies it.
const probeOriginZ = 1.0

// SegmentProbe is the uncoordinated per-segment variant: it exposes one
// segment's weighted contribution, recomputed on every host step, and
// leaves the summing to the host.
type SegmentProbe struct {
	factor  float64
	ref     CurrentRef
	contrib float64
}

// NewSegmentProbe weights a single segment. The scheme and mode strings are
// parsed exactly as for a Tracker.
func NewSegmentProbe(cfg Config, geom SegmentGeometry, ref CurrentRef) (*SegmentProbe, error) {
	scheme, err := ParseScheme(cfg.Scheme)
	if err != nil {
		return nil, err
	}
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if !(cfg.Sigma > 0) {
		return nil, fmt.Errorf("%w: sigma must be positive, got %v", ErrInvalidConfig, cfg.Sigma)
	}

	electrode := cfg.Electrode
	if electrode.IsZero() {
		electrode.Z = probeOriginZ
	}
	factor := Factor(FactorInput{
		Scheme:        scheme,
		Mode:          mode,
		Electrode:     electrode,
		Sigma:         cfg.Sigma,
		Segment:       geom,
		AxialFallback: cfg.AxialFallback,
	})
	if math.IsNaN(factor) || math.IsInf(factor, 0) {
		return nil, fmt.Errorf("%w: %v", ErrNonFiniteWeight, factor)
	}
	return &SegmentProbe{factor: factor, ref: ref}, nil
}

// Factor returns the probe's unit-scaled weight.
func (p *SegmentProbe) Factor() float64 { return p.factor }

// Evaluate recomputes and returns the contribution from the current value.
// An unbound or stale handle yields zero.
func (p *SegmentProbe) Evaluate() float64 {
	p.contrib = 0
	if p.ref != nil {
		if v, ok := p.ref.(Validity); !ok || v.Valid() {
			p.contrib = p.ref.Read() * p.factor
		}
	}
	return p.contrib
}

// Contrib returns the value computed by the last Evaluate.
func (p *SegmentProbe) Contrib() float64 { return p.contrib }

// Rebind points the probe at relocated storage.
func (p *SegmentProbe) Rebind(ref CurrentRef) { p.ref = ref }
