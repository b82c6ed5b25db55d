// Package main provides the entry point for the startup optimizer service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/config"
	apperrors "github.com/gomo-hub/startup-optimizer/internal/errors"
	"github.com/gomo-hub/startup-optimizer/internal/handler"
	"github.com/gomo-hub/startup-optimizer/internal/health"
	"github.com/gomo-hub/startup-optimizer/internal/metrics"
	"github.com/gomo-hub/startup-optimizer/internal/server"
	"github.com/gomo-hub/startup-optimizer/internal/service"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	healthCheckInterval   = 10 * time.Second
	gossipRefreshInterval = 5 * time.Second
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config file")
	flag.Parse()
	if *configPath == "" {
		*configPath = "./configs/optimizer.yaml"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Startup optimizer failed", zap.Error(err))
	}
	logger.Info("Startup optimizer shutdown complete")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting startup optimizer",
		zap.String("node_id", cfg.Server.NodeID),
		zap.Int("admin_port", cfg.Admin.Port),
		zap.Int("grpc_port", cfg.Server.GRPCPort),
		zap.String("manifest", cfg.Server.ManifestPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics(cfg.Server.NodeID)

	// Registry
	manifest, err := config.LoadManifest(cfg.Server.ManifestPath)
	if err != nil {
		return fmt.Errorf("failed to load component manifest: %w", err)
	}
	registry := service.NewRegistryService(logger)
	registry.RegisterAll(manifest.Registrations())
	logger.Info("Components registered", zap.Int("count", len(manifest.Components)))

	// Stores
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close(logger)

	// Services
	var host service.MemoryReader
	if proc, err := service.NewProcMemoryReader(); err != nil {
		logger.Warn("Host memory unavailable, using conservative threshold", zap.Error(err))
	} else {
		host = proc
	}
	resources := service.NewResourceMonitorService(service.RuntimeHeapReader, host, m, logger)

	orchestrator := service.NewOrchestratorService(
		registry,
		resources,
		service.NewWarmupInitializer(registry, cfg.Loader.InitTimeout, logger),
		service.OrchestratorConfig{
			BackgroundDelay:       cfg.Loader.BackgroundDelay,
			ResourceCheckBoundary: cfg.Loader.ResourceCheckBoundary(),
			InitTimeout:           cfg.Loader.InitTimeout,
		},
		m,
		logger,
	)

	patterns := service.NewPatternService(service.PatternConfig{
		MaxEvents:      cfg.Analyzer.MaxEvents,
		SequenceWindow: cfg.Analyzer.SequenceWindow,
	}, m, logger)
	decisions := service.NewDecisionService(registry, orchestrator, patterns, st.ledger, m, logger)
	tracker := service.NewUsageTracker(patterns, decisions, st.usage, service.UsageTrackerConfig{
		Workers:          cfg.Tracker.Workers,
		QueueSize:        cfg.Tracker.QueueSize,
		PreloadFollowers: cfg.Tracker.PreloadFollowers,
	}, m, logger)
	learning := service.NewLearningService(registry, st.usage, decisions, cfg.Learning.WindowDays, logger)
	scheduler := service.NewSchedulerService(service.SchedulerConfig{
		Enabled:            cfg.Scheduler.Enabled,
		ClassifyInterval:   cfg.Scheduler.ClassifyInterval,
		PreloadInterval:    cfg.Scheduler.PreloadInterval,
		ValidateInterval:   cfg.Scheduler.ValidateInterval,
		CleanupCheckPeriod: cfg.Scheduler.CleanupCheckPeriod,
		CleanupHour:        cfg.Scheduler.CleanupHour,
		RetentionDays:      cfg.Scheduler.RetentionDays,
		ClassifyPeriodDays: cfg.Scheduler.ClassifyPeriodDays,
		SnapshotInterval:   cfg.Scheduler.SnapshotInterval,
	}, patterns, decisions, service.SchedulerStores{
		Usage:     st.usage,
		Patterns:  st.patterns,
		Snapshots: st.snapshots,
	}, m, logger)

	checker := health.NewHealthChecker(resources, m, logger)
	for name, p := range st.pingers {
		checker.AddStore(name, p)
	}

	var gossip *service.GossipService
	if cfg.Gossip.Enabled {
		gossip = service.NewGossipService(service.GossipConfig{
			BindPort:       cfg.Gossip.BindPort,
			SeedNodes:      cfg.Gossip.SeedNodes,
			GossipInterval: cfg.Gossip.GossipInterval,
			ProbeTimeout:   cfg.Gossip.ProbeTimeout,
			ProbeInterval:  cfg.Gossip.ProbeInterval,
		}, cfg.Server.NodeID, service.LocalNodeState(cfg.Server.NodeID, registry, resources), m, logger)
		if err := gossip.Start(); err != nil {
			logger.Warn("Gossip disabled, failed to start", zap.Error(err))
			gossip = nil
		}
	}

	// Warm start: restore analyzer stats, then learn tiers before the first load
	if err := scheduler.RestoreStats(ctx); err != nil {
		logger.Warn("Failed to restore usage stats", zap.Error(err))
	}
	if cfg.Learning.Enabled {
		result := learning.Relearn(ctx)
		logger.Info("Learned tiers applied",
			zap.Int("promoted", len(result.Promoted)),
			zap.Int("demoted", len(result.Demoted)))
	}

	// Servers
	errorHandler := apperrors.NewHandler(logger)
	admin := handler.NewAdminHandler(handler.AdminDeps{
		Registry:     registry,
		Resources:    resources,
		Orchestrator: orchestrator,
		Decisions:    decisions,
		Scheduler:    scheduler,
		Learning:     learning,
		Gossip:       gossip,
		Usage:        st.usage,
		Patterns:     st.patterns,
		NodeID:       cfg.Server.NodeID,
	}, errorHandler, cfg.Admin.WriteTimeout, logger)

	adminServer := server.NewAdminServer(cfg.Admin, cfg.RateLimiter, server.AdminServerDeps{
		Admin:   admin,
		Gateway: handler.NewGatewayHandler(registry, errorHandler, logger),
		Health:  checker,
		Routes:  registry,
		Loader:  orchestrator,
		Tracker: tracker,
		Metrics: m,
	}, logger)
	adminServer.SetupRoutes()

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, checker.GRPCServer())

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = server.NewMetricsServer(server.MetricsServerConfig{
			Port:           cfg.Metrics.Port,
			Path:           cfg.Metrics.Path,
			StatusInterval: cfg.Loader.SampleInterval,
		}, checker, resources, logger)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(adminServer.Start)
	if metricsServer != nil {
		g.Go(metricsServer.Start)
	}
	g.Go(func() error {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			return fmt.Errorf("failed to listen for gRPC: %w", err)
		}
		logger.Info("Starting gRPC health server", zap.Int("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		resources.Run(gctx, cfg.Loader.SampleInterval)
		return nil
	})
	g.Go(func() error {
		checker.Start(gctx, healthCheckInterval)
		return nil
	})
	if gossip != nil {
		g.Go(func() error {
			gossip.Run(gctx, gossipRefreshInterval)
			return nil
		})
	}

	// Bootstrap: INSTANT gates readiness, ESSENTIAL follows, BACKGROUND later
	bootstrapDone := orchestrator.Bootstrap(gctx, checker.MarkReady)
	scheduler.Start(gctx)
	logger.Info("Startup optimizer running",
		zap.Bool("scheduler_enabled", scheduler.Enabled()),
		zap.Bool("gossip_enabled", gossip != nil))

	g.Go(func() error {
		<-gctx.Done()
		shutdown(cfg, logger, shutdownDeps{
			checker:       checker,
			scheduler:     scheduler,
			tracker:       tracker,
			adminServer:   adminServer,
			metricsServer: metricsServer,
			grpcServer:    grpcServer,
			gossip:        gossip,
		})
		<-bootstrapDone
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type shutdownDeps struct {
	checker       *health.HealthChecker
	scheduler     *service.SchedulerService
	tracker       *service.UsageTracker
	adminServer   *server.AdminServer
	metricsServer *server.MetricsServer
	grpcServer    *grpc.Server
	gossip        *service.GossipService
}

// shutdown drains readiness first so load balancers stop routing, then
// stops the jobs, persists analyzer stats and flushes queued usage
func shutdown(cfg *config.Config, logger *zap.Logger, d shutdownDeps) {
	logger.Info("Initiating graceful shutdown")
	d.checker.Drain()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := d.adminServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown admin server", zap.Error(err))
	}

	d.scheduler.Stop()
	if err := d.scheduler.SnapshotStats(ctx); err != nil {
		logger.Warn("Failed to snapshot usage stats", zap.Error(err))
	}
	if err := d.tracker.Stop(ctx); err != nil {
		logger.Warn("Failed to flush usage tracker", zap.Error(err))
	}

	if d.gossip != nil {
		if err := d.gossip.Shutdown(); err != nil {
			logger.Warn("Failed to leave gossip cluster", zap.Error(err))
		}
	}

	d.grpcServer.GracefulStop()

	if d.metricsServer != nil {
		if err := d.metricsServer.Stop(ctx); err != nil {
			logger.Error("Failed to shutdown metrics server", zap.Error(err))
		}
	}
}

// initLogger initializes the zap logger
func initLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
