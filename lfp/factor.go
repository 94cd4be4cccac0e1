package lfp

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/signalsfoundry/lfp-tracker/core"
)

var (
	// ErrUnknownScheme is returned when a scheme name does not match any
	// supported approximation. It is a fatal configuration error.
	ErrUnknownScheme = errors.New("unknown LFP scheme")
	// ErrUnknownMode is returned for an unrecognised current-extraction mode.
	ErrUnknownMode = errors.New("unknown current extraction mode")
)

// Scheme selects the electrostatic approximation used to weight a segment.
type Scheme int

const (
	// PointSource treats each segment as a point current source (PSA).
	PointSource Scheme = iota
	// LineSource treats the compartment as a uniform line source (LSA).
	LineSource
	// RCFilter is a heuristic exponential attenuation with distance. It is
	// a propagation-delay proxy, not a field solution.
	RCFilter
)

func (s Scheme) String() string {
	switch s {
	case PointSource:
		return "PSA"
	case LineSource:
		return "LSA"
	case RCFilter:
		return "RC"
	default:
		return fmt.Sprintf("Scheme(%d)", int(s))
	}
}

// ParseScheme maps a configuration string onto a Scheme.
func ParseScheme(name string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "psa", "point":
		return PointSource, nil
	case "lsa", "line":
		return LineSource, nil
	case "rc":
		return RCFilter, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
}

// Mode describes how the host exposes segment currents.
type Mode int

const (
	// AreaScaled reads a membrane current density (mA/cm²); the weight
	// carries the segment area.
	AreaScaled Mode = iota
	// FastImem reads the total segment current directly (nA).
	FastImem
)

func (m Mode) String() string {
	switch m {
	case AreaScaled:
		return "areaScaled"
	case FastImem:
		return "fastImem"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps a configuration string onto a Mode.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "areascaled", "area", "":
		return AreaScaled, nil
	case "fastimem", "fast":
		return FastImem, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
}

const (
	// clampOffset is added to the compartment radius when the electrode
	// sits inside the membrane.
	clampOffset = 0.1
	// rcCapacitance is the fixed specific capacitance of the RC scheme.
	rcCapacitance = 1.0
	// rcVelocity is the propagation speed of the RC scheme in µm/ms.
	rcVelocity = 240.0
	// fastImemScale converts nA into the density-times-area unit used by
	// the area-scaled path.
	fastImemScale = 1e2
	// axialEpsilon bounds r² below which the straddling LSA branch counts
	// as on-axis when AxialFallback is set.
	axialEpsilon = 1e-12
)

// SegmentGeometry is the host-supplied geometry of one segment.
type SegmentGeometry struct {
	// Start and End are the compartment endpoints in µm.
	Start, End core.Vec3
	// Diameter of the compartment in µm.
	Diameter float64
	// X is the fractional position of the segment along the compartment.
	X float64
	// Area is the membrane area of the segment in µm². Only used in
	// AreaScaled mode.
	Area float64
}

// Position returns the segment location on the compartment axis.
func (g SegmentGeometry) Position() core.Vec3 {
	return g.Start.Lerp(g.End, g.X)
}

// FactorInput bundles everything needed to weight a single segment.
type FactorInput struct {
	Scheme    Scheme
	Mode      Mode
	Electrode core.Vec3
	Sigma     float64
	Segment   SegmentGeometry
	// AxialFallback evaluates the on-axis LSA case as a point source
	// instead of dividing by a vanishing r².
	AxialFallback bool
}

// Factor returns the unit-scaled weight of a segment. It has no side
// effects.
func Factor(in FactorInput) float64 {
	var spatial float64
	switch in.Scheme {
	case PointSource:
		spatial = pointSource(clampedDistance(in.Electrode, in.Segment), in.Sigma)
	case LineSource:
		spatial = lineSource(in.Electrode, in.Segment, in.Sigma, in.AxialFallback)
	case RCFilter:
		spatial = rcAttenuation(clampedDistance(in.Electrode, in.Segment), in.Sigma)
	default:
		return math.NaN()
	}
	return spatial * unitScale(in.Mode, in.Segment.Area)
}

func unitScale(mode Mode, area float64) float64 {
	if mode == FastImem {
		return fastImemScale
	}
	return area
}

// clampedDistance is the electrode distance to the segment position, never
// less than the compartment radius plus clampOffset.
func clampedDistance(electrode core.Vec3, seg SegmentGeometry) float64 {
	dis := electrode.DistanceTo(seg.Position())
	radius := seg.Diameter / 2
	if dis < radius {
		dis = radius + clampOffset
	}
	return dis
}

func pointSource(dis, sigma float64) float64 {
	return 1 / (4 * math.Pi * dis * sigma)
}

func rcAttenuation(dis, sigma float64) float64 {
	rcConst := sigma * rcCapacitance
	timeConst := dis / rcVelocity
	return math.Exp(-timeConst / rcConst)
}

// lineSource integrates a uniform line source from Start to End.
//
// h is the projection of (electrode - End) onto the axis, L = h + len, and
// r² the squared perpendicular distance. The logarithm is evaluated in the
// form that avoids cancellation for the sign pattern of h and L. In the
// straddling branch r² sits in the denominator; an electrode on the axis
// yields ±Inf or NaN unless axialFallback is set.
func lineSource(electrode core.Vec3, seg SegmentGeometry, sigma float64, axialFallback bool) float64 {
	axis := seg.End.Sub(seg.Start)
	length := axis.Norm()
	radius := seg.Diameter / 2
	if length < radius {
		length = radius + clampOffset
	}

	delta := electrode.Sub(seg.End)
	h := delta.Dot(axis) / length
	r2 := delta.Dot(delta) - h*h
	if r2 < 0 {
		r2 = -r2
	}
	l := h + length

	var phi float64
	switch {
	case h < 0 && l <= 0:
		phi = math.Log((math.Sqrt(h*h+r2) - h) / (math.Sqrt(l*l+r2) - l))
	case h > 0 && l > 0:
		phi = math.Log((math.Sqrt(l*l+r2) + l) / (math.Sqrt(h*h+r2) + h))
	default:
		if axialFallback && r2 < axialEpsilon {
			return pointSource(clampedDistance(electrode, seg), sigma)
		}
		phi = math.Log((math.Sqrt(l*l+r2) + l) * (math.Sqrt(h*h+r2) - h) / r2)
	}
	return phi / (4 * math.Pi * length * sigma)
}
