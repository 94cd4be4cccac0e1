package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/lfp-tracker/lfp"
)

// LFPCollector exposes tracker activity as Prometheus metrics. It
// implements lfp.MetricsRecorder.
type LFPCollector struct {
	gatherer prometheus.Gatherer

	Summed        *prometheus.GaugeVec
	Samples       *prometheus.CounterVec
	StaleReads    *prometheus.CounterVec
	Rebinds       *prometheus.CounterVec
	Sources       *prometheus.GaugeVec
	SetupDuration *prometheus.HistogramVec
}

var _ lfp.MetricsRecorder = (*LFPCollector)(nil)

// NewLFPCollector registers tracker metrics against reg, defaulting to the
// global registry when nil.
func NewLFPCollector(reg prometheus.Registerer) (*LFPCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	summed, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lfp_summed",
		Help: "Most recent LFP sample per tracker.",
	}, []string{"tracker"}), "lfp_summed")
	if err != nil {
		return nil, err
	}
	samples, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lfp_samples_total",
		Help: "Number of LFP samples computed per tracker.",
	}, []string{"tracker"}), "lfp_samples_total")
	if err != nil {
		return nil, err
	}
	stale, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lfp_stale_reads_total",
		Help: "Source reads skipped because the handle was unbound or stale.",
	}, []string{"tracker"}), "lfp_stale_reads_total")
	if err != nil {
		return nil, err
	}
	rebinds, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lfp_rebinds_total",
		Help: "Number of storage-relocation rebinds per tracker.",
	}, []string{"tracker"}), "lfp_rebinds_total")
	if err != nil {
		return nil, err
	}
	sources, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lfp_sources",
		Help: "Number of weighted sources registered per tracker.",
	}, []string{"tracker"}), "lfp_sources")
	if err != nil {
		return nil, err
	}
	setup, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lfp_setup_duration_seconds",
		Help:    "Time spent weighting sources when a tracker is built.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"tracker"}), "lfp_setup_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &LFPCollector{
		gatherer:      gatherer,
		Summed:        summed,
		Samples:       samples,
		StaleReads:    stale,
		Rebinds:       rebinds,
		Sources:       sources,
		SetupDuration: setup,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *LFPCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveSample records one engine wake.
func (c *LFPCollector) ObserveSample(s lfp.Sample) {
	if c == nil {
		return
	}
	c.Summed.WithLabelValues(s.Tracker).Set(s.Value)
	c.Samples.WithLabelValues(s.Tracker).Inc()
	if s.Skipped > 0 {
		c.StaleReads.WithLabelValues(s.Tracker).Add(float64(s.Skipped))
	}
}

// SetSources records the registry size of a tracker.
func (c *LFPCollector) SetSources(tracker string, n int) {
	if c == nil {
		return
	}
	c.Sources.WithLabelValues(tracker).Set(float64(n))
}

// IncRebinds counts a rebind.
func (c *LFPCollector) IncRebinds(tracker string) {
	if c == nil {
		return
	}
	c.Rebinds.WithLabelValues(tracker).Inc()
}

// ObserveSetup records how long tracker setup took.
func (c *LFPCollector) ObserveSetup(tracker string, d time.Duration) {
	if c == nil {
		return
	}
	c.SetupDuration.WithLabelValues(tracker).Observe(d.Seconds())
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
