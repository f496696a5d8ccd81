package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/meshroute/internal/config"
	"github.com/signalsfoundry/meshroute/internal/logging"
	"github.com/signalsfoundry/meshroute/internal/nbi"
	"github.com/signalsfoundry/meshroute/internal/observability"
	sim "github.com/signalsfoundry/meshroute/internal/sim/state"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	grpcAddr := flag.String("grpc-addr", "", "TCP address the gRPC transmission service listens on (overrides config)")
	httpAddr := flag.String("http-addr", "", "TCP address the HTTP API listens on (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics; empty disables (overrides config)")
	flag.Parse()

	ctx := context.Background()
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			logging.NewFromEnv().Error(ctx, "failed to load config", logging.Err(err))
			os.Exit(1)
		}
	}
	if *grpcAddr != "" {
		cfg.Server.GRPCAddr = *grpcAddr
	}
	if *httpAddr != "" {
		cfg.Server.HTTPAddr = *httpAddr
	}
	if *metricsAddr != "" {
		cfg.Server.MetricsAddr = *metricsAddr
	}

	log := newLogger(cfg)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingWithEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdownTracing, log)

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Server.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}
	httpLis, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.Server.HTTPAddr), logging.Err(err))
		os.Exit(1)
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(stopCtx, cfg, log, prometheus.DefaultRegisterer, grpcLis, httpLis); err != nil {
		log.Error(ctx, "server exited", logging.Err(err))
		os.Exit(1)
	}
}

// newLogger honours MESHROUTE_LOG_LEVEL and MESHROUTE_LOG_FORMAT first and falls back to the
// logging section of the config.
func newLogger(cfg config.Config) logging.Logger {
	lc := logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}
	if v := os.Getenv("MESHROUTE_LOG_LEVEL"); v != "" {
		lc.Level = v
	}
	if v := os.Getenv("MESHROUTE_LOG_FORMAT"); v != "" {
		lc.Format = v
	}
	return logging.New(lc)
}

// run serves gRPC on grpcLis and HTTP on httpLis until ctx is done.
func run(ctx context.Context, cfg config.Config, log logging.Logger, reg prometheus.Registerer, grpcLis, httpLis net.Listener) error {
	collector, err := observability.NewNBICollector(reg)
	if err != nil {
		return err
	}
	simMetrics, err := observability.NewSimulatorCollector(reg)
	if err != nil {
		return err
	}

	factory := nbi.NewScenarioFactory(cfg, log,
		sim.WithMetricsRecorder(simMetrics),
		sim.WithTransmitMetrics(simMetrics),
		sim.WithRouteObserver(simMetrics.ObserveEvaluation),
		sim.WithDecisionObserver(simMetrics.ObserveDecision),
	)
	svc := nbi.NewTransmissionService(factory, log)

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			nbi.RequestIDUnaryServerInterceptor(log),
			collector.UnaryServerInterceptor(),
			nbi.TracingUnaryServerInterceptor(),
		),
	)
	nbi.RegisterTransmissionServer(server, svc)

	metricsSrv := serveMetrics(cfg.Server.MetricsAddr, collector, log)

	httpSrv := &http.Server{
		Handler: nbi.NewHTTPHandler(svc, log,
			nbi.WithHTTPMetrics(collector),
			nbi.WithMetricsEndpoint(collector.Handler()),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	log.Info(ctx, "starting gRPC transmission service", logging.String("addr", grpcLis.Addr().String()))
	go func() {
		errCh <- server.Serve(grpcLis)
	}()
	log.Info(ctx, "starting HTTP API", logging.String("addr", httpLis.Addr().String()))
	go func() {
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	log.Info(context.Background(), "shutting down servers")
	server.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return serveErr
}

func serveMetrics(addr string, collector *observability.NBICollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
