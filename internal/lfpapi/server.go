package lfpapi

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/lfp-tracker/internal/logging"
	"github.com/signalsfoundry/lfp-tracker/internal/observability"
	"github.com/signalsfoundry/lfp-tracker/lfp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Server implements TrackerServiceServer over a fixed set of trackers.
// Trackers run on the host step loop; the server only reads their published
// state and forwards toggles.
type Server struct {
	log      logging.Logger
	trackers []*lfp.Tracker
	byName   map[string]*lfp.Tracker

	mu   sync.RWMutex
	last map[string]lfp.Sample
}

var _ TrackerServiceServer = (*Server)(nil)

// NewServer indexes trackers by name and starts recording their samples.
func NewServer(trackers []*lfp.Tracker, log logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{
		log:    log,
		byName: make(map[string]*lfp.Tracker, len(trackers)),
		last:   make(map[string]lfp.Sample, len(trackers)),
	}
	for _, t := range trackers {
		if t == nil {
			return nil, fmt.Errorf("%w: nil tracker", ErrInvalidRequest)
		}
		if _, dup := s.byName[t.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate tracker %q", ErrInvalidRequest, t.Name())
		}
		s.byName[t.Name()] = t
		s.trackers = append(s.trackers, t)
		t.Engine().OnSample(s.record)
	}
	return s, nil
}

func (s *Server) record(smp lfp.Sample) {
	s.mu.Lock()
	s.last[smp.Tracker] = smp
	s.mu.Unlock()
}

// Len returns the number of trackers served.
func (s *Server) Len() int { return len(s.trackers) }

// ListTrackers reports every tracker's configuration and lifecycle state.
func (s *Server) ListTrackers(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	list := make([]interface{}, 0, len(s.trackers))
	for _, t := range s.trackers {
		list = append(list, s.status(t))
	}
	out, err := structpb.NewStruct(map[string]interface{}{"trackers": list})
	if err != nil {
		return nil, ToStatusError(err)
	}
	logging.FromContext(ctx, s.log).Debug(ctx, "listed trackers", logging.Int("count", len(list)))
	return out, nil
}

// GetSample returns the latest sample of the named tracker. Time is empty
// until the first wake.
func (s *Server) GetSample(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	t, err := s.lookup(req)
	if err != nil {
		return nil, ToStatusError(err)
	}

	s.mu.RLock()
	smp, ok := s.last[t.Name()]
	s.mu.RUnlock()

	fields := map[string]interface{}{
		"tracker": t.Name(),
		"value":   t.Summed(),
		"samples": t.Engine().Samples(),
		"on":      t.Engine().On(),
		"skipped": 0,
		"time":    "",
	}
	if ok {
		fields["value"] = smp.Value
		fields["skipped"] = smp.Skipped
		fields["time"] = smp.Time.UTC().Format(time.RFC3339Nano)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// Toggle starts or stops the named tracker and returns its new on state.
func (s *Server) Toggle(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	t, err := s.lookup(req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	t.Toggle()
	on := t.Engine().On()
	logging.FromContext(ctx, s.log).Info(ctx, "tracker toggled",
		logging.String("tracker", t.Name()),
		logging.Any("on", on),
	)
	return wrapperspb.Bool(on), nil
}

func (s *Server) lookup(req *wrapperspb.StringValue) (*lfp.Tracker, error) {
	name := strings.TrimSpace(req.GetValue())
	if name == "" {
		return nil, fmt.Errorf("%w: tracker name is required", ErrInvalidRequest)
	}
	t, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTrackerNotFound, name)
	}
	return t, nil
}

func (s *Server) status(t *lfp.Tracker) map[string]interface{} {
	cfg := t.Config()
	e := t.Engine()
	return map[string]interface{}{
		"name":             t.Name(),
		"scheme":           t.Scheme().String(),
		"mode":             t.Mode().String(),
		"sigma":            cfg.Sigma,
		"electrode":        []interface{}{cfg.Electrode.X, cfg.Electrode.Y, cfg.Electrode.Z},
		"sample_period_ms": float64(e.Period()) / float64(time.Millisecond),
		"sources":          t.Registry().Len(),
		"samples":          e.Samples(),
		"on":               e.On(),
		"state":            e.State().String(),
	}
}

// NewGRPCServer builds a gRPC server with request-ID, tracing and metrics
// interceptors plus the OpenTelemetry stats handler, and registers srv.
func NewGRPCServer(srv *Server, log logging.Logger, collector *observability.APICollector, extra ...grpc.ServerOption) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(log),
			TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
		),
	}
	opts = append(opts, extra...)

	gs := grpc.NewServer(opts...)
	RegisterTrackerServiceServer(gs, srv)
	collector.SetTrackers(srv.Len())
	return gs
}
