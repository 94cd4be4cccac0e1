// Package traceplot renders recorded tracker samples as line plots.
package traceplot

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/signalsfoundry/lfp-tracker/lfp"
)

// ErrNoData is returned when no trace has a finite sample.
var ErrNoData = errors.New("no finite samples to plot")

const (
	defaultWidth  = 8 * vg.Inch
	defaultHeight = 4 * vg.Inch
)

// Trace is one tracker's recorded samples.
type Trace struct {
	Name    string
	Samples []lfp.Sample
}

// Build lays out traces against simulation time in milliseconds, measured
// from the earliest sample. Non-finite values are dropped.
func Build(title string, traces []Trace) (*plot.Plot, error) {
	origin, ok := earliest(traces)
	if !ok {
		return nil, ErrNoData
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "t (ms)"
	p.Y.Label.Text = "LFP (mV)"
	p.Add(plotter.NewGrid())

	var lines []interface{}
	for _, tr := range traces {
		xys := points(tr.Samples, origin)
		if len(xys) == 0 {
			continue
		}
		lines = append(lines, tr.Name, xys)
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return nil, fmt.Errorf("traceplot: add lines: %w", err)
	}
	return p, nil
}

// WritePNG renders traces as a PNG to w.
func WritePNG(w io.Writer, title string, traces []Trace) error {
	p, err := Build(title, traces)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(defaultWidth, defaultHeight, "png")
	if err != nil {
		return fmt.Errorf("traceplot: render: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("traceplot: write: %w", err)
	}
	return nil
}

// SavePNG renders traces to the file at path.
func SavePNG(path, title string, traces []Trace) error {
	p, err := Build(title, traces)
	if err != nil {
		return err
	}
	if err := p.Save(defaultWidth, defaultHeight, path); err != nil {
		return fmt.Errorf("traceplot: save %q: %w", path, err)
	}
	return nil
}

func earliest(traces []Trace) (time.Time, bool) {
	var (
		origin time.Time
		found  bool
	)
	for _, tr := range traces {
		for _, s := range tr.Samples {
			if !finite(s.Value) {
				continue
			}
			if !found || s.Time.Before(origin) {
				origin, found = s.Time, true
			}
		}
	}
	return origin, found
}

func points(samples []lfp.Sample, origin time.Time) plotter.XYs {
	xys := make(plotter.XYs, 0, len(samples))
	for _, s := range samples {
		if !finite(s.Value) {
			continue
		}
		xys = append(xys, plotter.XY{
			X: float64(s.Time.Sub(origin)) / float64(time.Millisecond),
			Y: s.Value,
		})
	}
	return xys
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
