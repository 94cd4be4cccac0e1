package lfp

import (
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/lfp-tracker/core"
)

// tenMicron is the reference compartment: (0,0,0) to (10,0,0) µm, 1 µm
// diameter, midpoint segment, unit area so AreaScaled leaves the spatial
// factor untouched.
func tenMicron() SegmentGeometry {
	return SegmentGeometry{
		Start:    core.Vec3{},
		End:      core.Vec3{X: 10},
		Diameter: 1,
		X:        0.5,
		Area:     1,
	}
}

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func TestParseScheme(t *testing.T) {
	cases := []struct {
		in   string
		want Scheme
	}{
		{"PSA", PointSource},
		{"psa", PointSource},
		{"point", PointSource},
		{"LSA", LineSource},
		{" line ", LineSource},
		{"RC", RCFilter},
		{"rc", RCFilter},
	}
	for _, tc := range cases {
		got, err := ParseScheme(tc.in)
		if err != nil {
			t.Fatalf("ParseScheme(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseScheme(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	if _, err := ParseScheme("dipole"); !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("ParseScheme(dipole) error = %v, want ErrUnknownScheme", err)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"areaScaled": AreaScaled,
		"":           AreaScaled,
		"fastImem":   FastImem,
		"FAST":       FastImem,
	} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("density"); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("ParseMode(density) error = %v, want ErrUnknownMode", err)
	}
}

func TestPointSourceInverseDistance(t *testing.T) {
	seg := tenMicron()
	for _, sigma := range []float64{0.1, 0.3, 1, 3.5} {
		for _, z := range []float64{0.6, 1, 7.5, 100, 2500} {
			electrode := core.Vec3{X: 5, Z: z}
			f := Factor(FactorInput{Scheme: PointSource, Mode: AreaScaled, Electrode: electrode, Sigma: sigma, Segment: seg})
			if got := f * 4 * math.Pi * z * sigma; !approx(got, 1, 1e-12) {
				t.Fatalf("sigma=%v dis=%v: factor·4π·dis·σ = %v, want 1", sigma, z, got)
			}
		}
	}
}

func TestPointSourceReferenceScenario(t *testing.T) {
	f := Factor(FactorInput{
		Scheme:    PointSource,
		Mode:      AreaScaled,
		Electrode: core.Vec3{Z: 100},
		Sigma:     0.3,
		Segment:   tenMicron(),
	})
	dis := math.Sqrt(25 + 100*100)
	if math.Abs(dis-100.125) > 1e-3 {
		t.Fatalf("reference distance = %v, want ≈100.125", dis)
	}
	want := 1 / (4 * math.Pi * dis * 0.3)
	if !approx(f, want, 1e-12) {
		t.Fatalf("PSA factor = %v, want %v", f, want)
	}
	if math.Abs(f-0.002649) > 5e-6 {
		t.Fatalf("PSA factor = %v, want ≈0.00265", f)
	}
}

func TestDistanceClampInsideMembrane(t *testing.T) {
	seg := tenMicron()
	f := Factor(FactorInput{Scheme: PointSource, Mode: AreaScaled, Electrode: core.Vec3{X: 5, Y: 0.2}, Sigma: 0.3, Segment: seg})
	want := 1 / (4 * math.Pi * 0.6 * 0.3)
	if !approx(f, want, 1e-12) {
		t.Fatalf("clamped PSA factor = %v, want %v", f, want)
	}
}

func TestRCFilterReferenceScenario(t *testing.T) {
	f := Factor(FactorInput{
		Scheme:    RCFilter,
		Mode:      AreaScaled,
		Electrode: core.Vec3{Z: 100},
		Sigma:     0.3,
		Segment:   tenMicron(),
	})
	dis := math.Sqrt(25 + 100*100)
	if tc := dis / 240; math.Abs(tc-0.417) > 1e-3 {
		t.Fatalf("time constant = %v, want ≈0.417", tc)
	}
	if want := math.Exp(-(dis / 240) / 0.3); !approx(f, want, 1e-12) {
		t.Fatalf("RC factor = %v, want %v", f, want)
	}
	if math.Abs(f-0.2489) > 1e-3 {
		t.Fatalf("RC factor = %v, want ≈0.248", f)
	}
}

func TestRCFilterMonotone(t *testing.T) {
	if got := rcAttenuation(0, 0.3); got != 1 {
		t.Fatalf("rcAttenuation(0) = %v, want 1", got)
	}
	prev := rcAttenuation(0, 0.3)
	for dis := 0.5; dis < 2000; dis *= 1.5 {
		cur := rcAttenuation(dis, 0.3)
		if !(cur < prev) {
			t.Fatalf("rcAttenuation not strictly decreasing at dis=%v: %v >= %v", dis, cur, prev)
		}
		prev = cur
	}
}

func lsa(electrode core.Vec3) float64 {
	return Factor(FactorInput{Scheme: LineSource, Mode: AreaScaled, Electrode: electrode, Sigma: 0.3, Segment: tenMicron()})
}

func TestLineSourceContinuousAcrossBranches(t *testing.T) {
	const eps = 1e-7
	cases := []struct {
		name       string
		below, abv core.Vec3
	}{
		// Electrode abreast of End: h changes sign, L stays positive.
		{"h=0", core.Vec3{X: 10 - eps, Z: 5}, core.Vec3{X: 10 + eps, Z: 5}},
		// Electrode abreast of Start: L changes sign, h stays negative.
		{"L=0", core.Vec3{X: -eps, Z: 5}, core.Vec3{X: eps, Z: 5}},
		{"h=0 far", core.Vec3{X: 10 - eps, Y: 30, Z: 40}, core.Vec3{X: 10 + eps, Y: 30, Z: 40}},
		{"L=0 far", core.Vec3{X: -eps, Y: -30, Z: 40}, core.Vec3{X: eps, Y: -30, Z: 40}},
	}
	for _, tc := range cases {
		lo, hi := lsa(tc.below), lsa(tc.abv)
		if math.IsNaN(lo) || math.IsNaN(hi) {
			t.Fatalf("%s: NaN factor (%v, %v)", tc.name, lo, hi)
		}
		if !approx(lo, hi, 1e-5) {
			t.Fatalf("%s: discontinuity %v vs %v", tc.name, lo, hi)
		}
	}
}

func TestLineSourceApproachesPointSourceFarAway(t *testing.T) {
	electrode := core.Vec3{X: 5, Y: 700, Z: 700}
	line := lsa(electrode)
	point := Factor(FactorInput{Scheme: PointSource, Mode: AreaScaled, Electrode: electrode, Sigma: 0.3, Segment: tenMicron()})
	if !approx(line, point, 1e-4) {
		t.Fatalf("far-field LSA = %v, PSA = %v", line, point)
	}
}

func TestLineSourceIsSymmetricAboutMidpoint(t *testing.T) {
	a := lsa(core.Vec3{X: -20, Z: 3})
	b := lsa(core.Vec3{X: 30, Z: 3})
	if !approx(a, b, 1e-9) {
		t.Fatalf("LSA not symmetric: %v vs %v", a, b)
	}
}

func TestLineSourceOnAxisInsideSegment(t *testing.T) {
	electrode := core.Vec3{X: 5}

	raw := lsa(electrode)
	if !math.IsInf(raw, 0) && !math.IsNaN(raw) {
		t.Fatalf("on-axis LSA without fallback = %v, want non-finite", raw)
	}

	fallback := Factor(FactorInput{Scheme: LineSource, Mode: AreaScaled, Electrode: electrode, Sigma: 0.3, Segment: tenMicron(), AxialFallback: true})
	want := 1 / (4 * math.Pi * 0.6 * 0.3)
	if !approx(fallback, want, 1e-12) {
		t.Fatalf("on-axis LSA with fallback = %v, want %v", fallback, want)
	}
}

func TestLineSourceOnAxisOutsideSegmentIsFinite(t *testing.T) {
	f := lsa(core.Vec3{X: 25})
	want := math.Log(25.0/15.0) / (4 * math.Pi * 10 * 0.3)
	if !approx(f, want, 1e-12) {
		t.Fatalf("collinear LSA beyond End = %v, want %v", f, want)
	}
}

func TestUnitScaling(t *testing.T) {
	seg := tenMicron()
	seg.Area = 31.4
	electrode := core.Vec3{Z: 100}
	spatial := 1 / (4 * math.Pi * electrode.DistanceTo(seg.Position()) * 0.3)

	fast := Factor(FactorInput{Scheme: PointSource, Mode: FastImem, Electrode: electrode, Sigma: 0.3, Segment: seg})
	if !approx(fast, spatial*100, 1e-12) {
		t.Fatalf("fastImem factor = %v, want %v", fast, spatial*100)
	}
	area := Factor(FactorInput{Scheme: PointSource, Mode: AreaScaled, Electrode: electrode, Sigma: 0.3, Segment: seg})
	if !approx(area, spatial*31.4, 1e-12) {
		t.Fatalf("areaScaled factor = %v, want %v", area, spatial*31.4)
	}
}
