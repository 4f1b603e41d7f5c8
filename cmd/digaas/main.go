package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/digaas/internal/auth"
	"github.com/jmerrifield20/digaas/internal/dnsquery"
	"github.com/jmerrifield20/digaas/internal/metrics"
	"github.com/jmerrifield20/digaas/internal/observer/handler"
	"github.com/jmerrifield20/digaas/internal/observer/service"
	"github.com/jmerrifield20/digaas/internal/poller"
	"github.com/jmerrifield20/digaas/internal/stats"
	"github.com/jmerrifield20/digaas/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "digaas:", err)
		os.Exit(1)
	}
	logger, err := newLogger(cfg.Development)
	if err != nil {
		fmt.Fprintln(os.Stderr, "digaas: build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("digaas exited with error", zap.Error(err))
	}
}

func run(cfg config, logger *zap.Logger) error {
	cfg.logSources(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Tracing ──────────────────────────────────────────────────────────────
	shutdownTracing, err := telemetry.SetupTracing(cfg.TracingEnabled, os.Stdout, handler.Version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	// ── Storage ──────────────────────────────────────────────────────────────
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// ── Metrics sinks ────────────────────────────────────────────────────────
	sinks := []metrics.Sink{metrics.NewPrometheus(prometheus.DefaultRegisterer)}
	if cfg.GraphiteAddr != "" {
		g := metrics.NewGraphite(metrics.GraphiteConfig{Addr: cfg.GraphiteAddr}, logger)
		defer g.Close()
		sinks = append(sinks, g)
		logger.Info("metrics: graphite", zap.String("addr", cfg.GraphiteAddr))
	}
	if cfg.NATSURL != "" {
		n, err := metrics.NewNATS(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			logger.Warn("metrics: nats disabled", zap.Error(err))
		} else {
			defer n.Close()
			sinks = append(sinks, n)
			logger.Info("metrics: nats", zap.String("subject", cfg.NATSSubject))
		}
	}
	if cfg.QueryLog {
		ql := metrics.NewQueryLog(st, 0, logger)
		defer ql.Close()
		sinks = append(sinks, ql)
	}
	sink := metrics.NewMulti(logger, sinks...)

	// ── Observation pipeline ─────────────────────────────────────────────────
	dnsClient := dnsquery.New(
		dnsquery.WithEDNS0Size(cfg.EDNS0Size),
		dnsquery.WithReporter(sink),
		dnsquery.WithLogger(logger),
	)
	p := poller.New(dnsClient, st, sink, poller.Config{
		QueryTimeout:    cfg.QueryTimeout,
		FinalizeRetries: cfg.FinalizeRetries,
	}, logger)
	group := poller.NewGroup(logger)

	renderer := stats.NewRenderer(cfg.GnuplotPath, cfg.PlotTmpDir, logger)
	if !renderer.Enabled() {
		logger.Info("plotting disabled (set stats.gnuplot_path to enable)")
	}

	obsSvc := service.NewObserverService(st, p, group, logger)
	statsSvc := service.NewStatsService(st, st, st, renderer, group, logger)

	sweeper := service.NewSweeper(st, p, group, cfg.SweepInterval, cfg.StaleGrace, logger)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweeper.Run(sweepCtx)

	// ── Auth ─────────────────────────────────────────────────────────────────
	var tokens *auth.Issuer
	if cfg.AuthSecret != "" {
		tokens, err = auth.NewIssuer(cfg.AuthSecret, cfg.AuthIssuer, 0)
		if err != nil {
			return err
		}
		logger.Info("auth: bearer tokens required for POST routes")
	} else {
		logger.Warn("auth: disabled (set auth.secret to require tokens)")
	}

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.NewRouter(ctx, handler.RouterConfig{
		CORSOrigins:  cfg.CORSOrigins,
		RateLimitRPS: cfg.RateLimitRPS,
	},
		handler.NewObserverHandler(obsSvc, tokens, logger),
		handler.NewStatsHandler(statsSvc, tokens, logger),
		logger,
	)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("digaas HTTP listening", zap.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP listen: %w", err)
		}
	}()

	// ── gRPC health (optional) ───────────────────────────────────────────────
	grpcSrv, healthSvc := newHealthServer(logger)
	if cfg.GRPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
		if err != nil {
			return fmt.Errorf("gRPC listen on :%d: %w", cfg.GRPCPort, err)
		}
		go func() {
			logger.Info("digaas gRPC health listening", zap.Int("port", cfg.GRPCPort))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("gRPC serve: %w", err)
			}
		}()
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}
	logger.Info("shutting down digaas...")
	healthSvc.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelHTTP()
	if err := httpSrv.Shutdown(httpCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if cfg.GRPCPort > 0 {
		grpcSrv.GracefulStop()
	}

	stopSweep()
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancelDrain()
	if err := group.Drain(drainCtx); err != nil {
		logger.Warn("in-flight observers interrupted", zap.Error(err))
	}

	logger.Info("digaas stopped")
	return runErr
}
