package lfp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/lfp-tracker/core"
	"github.com/signalsfoundry/lfp-tracker/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalsfoundry/lfp-tracker/lfp"

// ErrInvalidConfig wraps tracker configuration errors other than an
// unknown scheme or mode.
var ErrInvalidConfig = errors.New("invalid tracker config")

// Config is the setup-time surface of a tracker.
type Config struct {
	Name      string
	Electrode core.Vec3
	// Sigma is the extracellular conductivity; it must be positive.
	Sigma float64
	// Scheme is one of PSA, LSA or RC.
	Scheme string
	// Mode is areaScaled or fastImem.
	Mode string
	// SamplePeriod defaults to DefaultSamplePeriod when zero.
	SamplePeriod  time.Duration
	Verbose       bool
	AxialFallback bool
}

// MetricsRecorder receives tracker activity. observability.LFPCollector
// implements it.
type MetricsRecorder interface {
	ObserveSample(s Sample)
	SetSources(tracker string, n int)
	IncRebinds(tracker string)
	ObserveSetup(tracker string, d time.Duration)
}

// Tracker computes the LFP seen by one electrode. It owns its registry and
// engine; the currents it reads belong to the host.
type Tracker struct {
	cfg         Config
	scheme      Scheme
	mode        Mode
	collections []Collection
	registry    *Registry
	engine      *Engine
	log         logging.Logger
	metrics     MetricsRecorder
}

// Option customises a Tracker.
type Option func(*trackerOptions)

type trackerOptions struct {
	log        logging.Logger
	metrics    MetricsRecorder
	engineOpts []EngineOption
}

// WithLogger sets the tracker and engine logger.
func WithLogger(l logging.Logger) Option {
	return func(o *trackerOptions) { o.log = l }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *trackerOptions) { o.metrics = m }
}

// WithEngineOptions forwards options to the summation engine.
func WithEngineOptions(opts ...EngineOption) Option {
	return func(o *trackerOptions) { o.engineOpts = append(o.engineOpts, opts...) }
}

// NewTracker weights every segment of collections for the configured
// electrode and starts a summation engine on sched. Configuration errors
// are returned before any source is registered.
func NewTracker(ctx context.Context, cfg Config, sched Scheduler, collections []Collection, opts ...Option) (*Tracker, error) {
	o := trackerOptions{log: logging.Noop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Noop()
	}

	scheme, err := ParseScheme(cfg.Scheme)
	if err != nil {
		return nil, err
	}
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg, sched, collections); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "lfp.tracker.setup", trace.WithAttributes(
		attribute.String("tracker", cfg.Name),
		attribute.String("scheme", scheme.String()),
		attribute.String("mode", mode.String()),
	))
	defer span.End()
	started := time.Now()

	t := &Tracker{
		cfg:         cfg,
		scheme:      scheme,
		mode:        mode,
		collections: append([]Collection(nil), collections...),
		log:         o.log.With(logging.String("tracker", cfg.Name)),
		metrics:     o.metrics,
	}
	t.registry = NewRegistry(CountSegments(t.collections))

	err = Traverse(t.collections, func(site Site) error {
		weight := Factor(FactorInput{
			Scheme:        scheme,
			Mode:          mode,
			Electrode:     cfg.Electrode,
			Sigma:         cfg.Sigma,
			Segment:       site.Collection.Geometry(site.SegmentIndex),
			AxialFallback: cfg.AxialFallback,
		})
		if err := t.registry.Append(weight, site.Collection.CurrentRef(site.SegmentIndex, mode)); err != nil {
			return fmt.Errorf("%s[%d]: %w", site.Collection.Name(), site.SegmentIndex, err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("tracker %q setup: %w", cfg.Name, err)
	}
	span.SetAttributes(attribute.Int("sources", t.registry.Len()))

	engineOpts := append([]EngineOption{
		WithName(cfg.Name),
		WithEngineLogger(o.log),
		WithVerbose(cfg.Verbose),
	}, o.engineOpts...)
	t.engine = NewEngine(t.registry, sched, cfg.SamplePeriod, engineOpts...)

	if t.metrics != nil {
		t.engine.OnSample(t.metrics.ObserveSample)
		t.metrics.SetSources(cfg.Name, t.registry.Len())
		t.metrics.ObserveSetup(cfg.Name, time.Since(started))
	}

	t.log.Info(ctx, "tracker ready",
		logging.String("scheme", scheme.String()),
		logging.String("mode", mode.String()),
		logging.Int("collections", len(t.collections)),
		logging.Int("sources", t.registry.Len()),
		logging.Any("electrode", cfg.Electrode),
		logging.Any("sigma", cfg.Sigma),
		logging.Any("period", t.engine.Period()),
	)
	return t, nil
}

func validate(cfg Config, sched Scheduler, collections []Collection) error {
	if sched == nil {
		return fmt.Errorf("%w: nil scheduler", ErrInvalidConfig)
	}
	if !(cfg.Sigma > 0) || math.IsInf(cfg.Sigma, 0) {
		return fmt.Errorf("%w: sigma must be positive, got %v", ErrInvalidConfig, cfg.Sigma)
	}
	if cfg.SamplePeriod < 0 {
		return fmt.Errorf("%w: negative sample period %v", ErrInvalidConfig, cfg.SamplePeriod)
	}
	seen := make(map[string]struct{}, len(collections))
	for i, c := range collections {
		if c == nil {
			return fmt.Errorf("%w: collection %d is nil", ErrInvalidConfig, i)
		}
		if _, dup := seen[c.Name()]; dup {
			return fmt.Errorf("%w: collection %q listed twice", ErrInvalidConfig, c.Name())
		}
		seen[c.Name()] = struct{}{}
	}
	return nil
}

// OnStorageRelocated re-resolves every current handle after the host moved
// its current storage. The host must call it after any such move; the
// tracker cannot detect one on its own. Calling it repeatedly is safe.
func (t *Tracker) OnStorageRelocated(ctx context.Context) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "lfp.tracker.rebind", trace.WithAttributes(
		attribute.String("tracker", t.cfg.Name),
	))
	defer span.End()

	refs := make([]CurrentRef, 0, t.registry.Len())
	_ = Traverse(t.collections, func(site Site) error {
		refs = append(refs, site.Collection.CurrentRef(site.SegmentIndex, t.mode))
		return nil
	})
	if err := t.registry.RebindAll(refs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.log.Error(ctx, "rebind failed", logging.String("error", err.Error()))
		return fmt.Errorf("tracker %q: %w", t.cfg.Name, err)
	}

	if t.metrics != nil {
		t.metrics.IncRebinds(t.cfg.Name)
	}
	t.log.Debug(ctx, "sources rebound",
		logging.Int("sources", len(refs)),
		logging.Any("generation", t.registry.Generation()),
	)
	return nil
}

// Name returns the configured tracker name.
func (t *Tracker) Name() string { return t.cfg.Name }

// Config returns the configuration the tracker was built with.
func (t *Tracker) Config() Config { return t.cfg }

// Scheme returns the parsed weighting scheme.
func (t *Tracker) Scheme() Scheme { return t.scheme }

// Mode returns the parsed current-extraction mode.
func (t *Tracker) Mode() Mode { return t.mode }

// Registry exposes the tracker's sources.
func (t *Tracker) Registry() *Registry { return t.registry }

// Engine exposes the tracker's summation engine.
func (t *Tracker) Engine() *Engine { return t.engine }

// Summed returns the most recent sample.
func (t *Tracker) Summed() float64 { return t.engine.Summed() }

// Toggle starts or stops sampling.
func (t *Tracker) Toggle() { t.engine.Signal(SignalToggle, nil) }

// Stop halts sampling if it is running.
func (t *Tracker) Stop() {
	if t.engine.On() {
		t.Toggle()
	}
}
