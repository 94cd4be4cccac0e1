package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/lfp-tracker/internal/lfpapi"
	"github.com/signalsfoundry/lfp-tracker/internal/logging"
	"github.com/signalsfoundry/lfp-tracker/internal/observability"
	"github.com/signalsfoundry/lfp-tracker/internal/store/sqlite"
	"github.com/signalsfoundry/lfp-tracker/internal/traceplot"
	"github.com/signalsfoundry/lfp-tracker/scenario"
	"github.com/signalsfoundry/lfp-tracker/timectrl"
	"google.golang.org/grpc"
)

func main() {
	scenarioPath := flag.String("scenario", "configs/scenario.json", "Path to a JSON scenario (cells, electrodes, run)")
	accelerated := flag.Bool("accelerated", true, "run in accelerated mode (vs real-time)")
	rebind := flag.Bool("rebind", true, "announce storage relocations to trackers; false leaves stale handles to be skipped")
	probes := flag.Bool("probes", false, "cross-check each tracker against per-segment probes")
	dbPath := flag.String("db", "", "SQLite file to record samples into (empty disables)")
	plotPath := flag.String("plot", "", "PNG file to plot the recorded traces into (empty disables)")
	grpcAddr := flag.String("grpc-addr", "", "TCP address for the tracker query gRPC server (empty disables)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (empty disables)")
	serve := flag.Bool("serve", false, "keep serving gRPC and metrics after the run until interrupted")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdownTracing, log)

	if err := run(ctx, log, config{
		scenarioPath: *scenarioPath,
		accelerated:  *accelerated,
		rebind:       *rebind,
		probes:       *probes,
		dbPath:       *dbPath,
		plotPath:     *plotPath,
		grpcAddr:     *grpcAddr,
		metricsAddr:  *metricsAddr,
		serve:        *serve,
	}); err != nil {
		log.Error(ctx, "lfpsim failed", logging.Err(err))
		observability.ShutdownWithTimeout(ctx, shutdownTracing, log)
		os.Exit(1)
	}
}

type config struct {
	scenarioPath string
	accelerated  bool
	rebind       bool
	probes       bool
	dbPath       string
	plotPath     string
	grpcAddr     string
	metricsAddr  string
	serve        bool
}

func run(ctx context.Context, log logging.Logger, cfg config) error {
	sc, err := scenario.LoadFile(cfg.scenarioPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	lfpMetrics, err := observability.NewLFPCollector(reg)
	if err != nil {
		return fmt.Errorf("lfp metrics: %w", err)
	}
	apiMetrics, err := observability.NewAPICollector(reg)
	if err != nil {
		return fmt.Errorf("api metrics: %w", err)
	}

	var store *sqlite.SampleStore
	if cfg.dbPath != "" {
		store, err = sqlite.Open(cfg.dbPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Warn(ctx, "closing sample store failed", logging.Err(err))
			}
		}()
	}

	mode := timectrl.RealTime
	if cfg.accelerated {
		mode = timectrl.Accelerated
	}
	sim, err := newSimulation(ctx, sc, simOptions{
		Mode:       mode,
		Rebind:     cfg.rebind,
		Probes:     cfg.probes,
		Metrics:    lfpMetrics,
		Store:      store,
		KeepTraces: cfg.plotPath != "",
		Log:        log,
	})
	if err != nil {
		return err
	}

	metricsSrv := serveMetrics(cfg.metricsAddr, apiMetrics, log)
	grpcSrv, err := serveGRPC(ctx, cfg.grpcAddr, sim, apiMetrics, log)
	if err != nil {
		return err
	}
	defer func() {
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	if err := sim.run(ctx); err != nil {
		return err
	}

	if cfg.plotPath != "" {
		if err := traceplot.SavePNG(cfg.plotPath, sc.Run.Duration.String()+" LFP", sim.traceList()); err != nil {
			return err
		}
		log.Info(ctx, "plotted traces", logging.String("path", cfg.plotPath))
	}
	if store != nil {
		log.Info(ctx, "recorded samples", logging.String("path", store.Path()))
	}

	if cfg.serve && (grpcSrv != nil || metricsSrv != nil) {
		stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
		log.Info(ctx, "run complete; serving until interrupted")
		<-stopCtx.Done()
	}
	return nil
}

func serveGRPC(ctx context.Context, addr string, sim *simulation, collector *observability.APICollector, log logging.Logger) (*grpc.Server, error) {
	if addr == "" {
		return nil, nil
	}
	srv, err := lfpapi.NewServer(sim.trackers, log)
	if err != nil {
		return nil, err
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	gs := lfpapi.NewGRPCServer(srv, log, collector)
	log.Info(ctx, "starting tracker gRPC server", logging.String("addr", lis.Addr().String()))
	go func() {
		if err := gs.Serve(lis); err != nil {
			log.Error(ctx, "gRPC server exited", logging.Err(err))
		}
	}()
	return gs, nil
}

func serveMetrics(addr string, collector *observability.APICollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
