package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/health"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MemorySampler refreshes the memory gauges
type MemorySampler interface {
	LogStatus()
}

// MetricsServer serves Prometheus metrics and the probes via HTTP
type MetricsServer struct {
	httpServer *http.Server
	resources  MemorySampler
	interval   time.Duration
	logger     *zap.Logger
	stopChan   chan struct{}
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Port int
	Path string
	// StatusInterval controls how often resource status is logged; zero disables it
	StatusInterval time.Duration
}

// NewMetricsServer creates a new metrics server. resources may be nil.
func NewMetricsServer(cfg MetricsServerConfig, checker *health.HealthChecker, resources MemorySampler, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()

	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.Handler())
	mux.HandleFunc("/health", checker.LivenessHandler)
	mux.HandleFunc("/ready", checker.ReadinessHandler)

	return &MetricsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		resources: resources,
		interval:  cfg.StatusInterval,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start serves until Stop is called
func (s *MetricsServer) Start() error {
	s.logger.Info("Starting metrics server", zap.String("addr", s.httpServer.Addr))

	if s.resources != nil && s.interval > 0 {
		go s.logResourceStatus()
	}

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the metrics server
func (s *MetricsServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping metrics server")

	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}

// Handler returns the metrics mux
func (s *MetricsServer) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *MetricsServer) logResourceStatus() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.resources.LogStatus()
		case <-s.stopChan:
			return
		}
	}
}
