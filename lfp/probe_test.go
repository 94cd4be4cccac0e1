package lfp

import (
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/lfp-tracker/core"
)

func TestSegmentProbeEvaluatesEveryCall(t *testing.T) {
	current := 2.0
	p, err := NewSegmentProbe(Config{Electrode: core.Vec3{Z: 100}, Sigma: 0.3, Scheme: "PSA", Mode: "fastImem"}, tenMicron(), Bind(&current))
	if err != nil {
		t.Fatalf("NewSegmentProbe: %v", err)
	}
	want := 100 / (4 * math.Pi * math.Sqrt(25+10000) * 0.3)
	if !approx(p.Factor(), want, 1e-12) {
		t.Fatalf("Factor() = %v, want %v", p.Factor(), want)
	}

	if got := p.Evaluate(); !approx(got, 2*want, 1e-12) {
		t.Fatalf("Evaluate() = %v, want %v", got, 2*want)
	}
	current = -1
	if got := p.Evaluate(); !approx(got, -want, 1e-12) || p.Contrib() != got {
		t.Fatalf("Evaluate() = %v after update, want %v", got, -want)
	}

	moved := 4.0
	p.Rebind(Bind(&moved))
	if got := p.Evaluate(); !approx(got, 4*want, 1e-12) {
		t.Fatalf("Evaluate() after Rebind = %v", got)
	}
	p.Rebind(staleRef{v: 9})
	if got := p.Evaluate(); got != 0 {
		t.Fatalf("stale probe contributed %v", got)
	}
}

func TestSegmentProbeMovesElectrodeOffOrigin(t *testing.T) {
	seg := SegmentGeometry{Start: core.Vec3{X: -5}, End: core.Vec3{X: 5}, Diameter: 0.5, X: 0.5, Area: 1}
	p, err := NewSegmentProbe(Config{Sigma: 1, Scheme: "PSA", Mode: "areaScaled"}, seg, nil)
	if err != nil {
		t.Fatalf("NewSegmentProbe: %v", err)
	}
	if want := 1 / (4 * math.Pi * probeOriginZ); !approx(p.Factor(), want, 1e-12) {
		t.Fatalf("Factor() = %v, want %v", p.Factor(), want)
	}
	if p.Evaluate() != 0 {
		t.Fatalf("unbound probe contributed")
	}
}

func TestSegmentProbeRejectsBadConfig(t *testing.T) {
	if _, err := NewSegmentProbe(Config{Sigma: 1, Scheme: "CSD"}, tenMicron(), nil); !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("error = %v, want ErrUnknownScheme", err)
	}
	if _, err := NewSegmentProbe(Config{Sigma: 0, Scheme: "RC"}, tenMicron(), nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("error = %v, want ErrInvalidConfig", err)
	}
}
