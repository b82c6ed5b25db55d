// Package server provides the HTTP servers of the startup optimizer.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gomo-hub/startup-optimizer/internal/config"
	apperrors "github.com/gomo-hub/startup-optimizer/internal/errors"
	"github.com/gomo-hub/startup-optimizer/internal/handler"
	"github.com/gomo-hub/startup-optimizer/internal/health"
	"github.com/gomo-hub/startup-optimizer/internal/metrics"
	"github.com/gomo-hub/startup-optimizer/internal/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// AdminServerDeps groups what the admin server routes to
type AdminServerDeps struct {
	Admin   *handler.AdminHandler
	Gateway http.Handler
	Health  *health.HealthChecker
	Routes  middleware.RouteResolver
	Loader  middleware.RouteLoader
	Tracker middleware.AccessTracker
	Metrics *metrics.Metrics
}

// AdminServer serves the admin API under the base path and forwards every
// other path to the component that owns it
type AdminServer struct {
	router       *mux.Router
	httpServer   *http.Server
	deps         AdminServerDeps
	errorHandler *apperrors.Handler
	cfg          config.AdminConfig
	rateLimiter  config.RateLimiterConfig
	logger       *zap.Logger
}

// NewAdminServer creates the admin HTTP server
func NewAdminServer(cfg config.AdminConfig, rl config.RateLimiterConfig, deps AdminServerDeps, logger *zap.Logger) *AdminServer {
	router := mux.NewRouter()

	return &AdminServer{
		router: router,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		deps:         deps,
		errorHandler: apperrors.NewHandler(logger),
		cfg:          cfg,
		rateLimiter:  rl,
		logger:       logger,
	}
}

// SetupRoutes configures all HTTP routes
func (s *AdminServer) SetupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
		middleware.CORS(s.cfg.CORSOrigins),
	}
	if s.rateLimiter.Enabled {
		limiter := middleware.NewRateLimiter(s.rateLimiter.RequestsPerSecond, s.rateLimiter.BurstSize, s.logger)
		middlewareChain = append(middlewareChain, limiter.Limit)
	}
	middlewareChain = append(middlewareChain, metrics.MetricsMiddleware(s.deps.Metrics, routeTemplate))

	chain := middleware.Chain(middlewareChain...)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	// Probes
	s.router.HandleFunc("/health", s.deps.Health.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.deps.Health.ReadinessHandler).Methods(http.MethodGet)

	// Admin API
	base := "/" + strings.Trim(s.cfg.BasePath, "/")
	s.deps.Admin.Register(s.router.PathPrefix(base).Subrouter())

	// Host traffic: load on demand, track, forward
	if s.deps.Gateway != nil {
		tracked := middleware.UsageTracking(s.deps.Routes, s.deps.Loader, s.deps.Tracker, s.logger)(s.deps.Gateway)
		s.router.PathPrefix("/").Handler(tracked)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(middleware.HeaderRequestID)
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, apperrors.ResponseCodeInvalidRequest, "endpoint not found", requestID)
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(middleware.HeaderRequestID)
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, apperrors.ResponseCodeInvalidRequest, "method not allowed", requestID)
	})
}

// routeTemplate labels metrics with the matched route template
func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return tpl
}

// Start serves until Shutdown is called
func (s *AdminServer) Start() error {
	s.logger.Info("Starting admin server",
		zap.Int("port", s.cfg.Port),
		zap.String("base_path", s.cfg.BasePath))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start admin server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *AdminServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down admin server")
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the http.Handler for the server
func (s *AdminServer) GetHandler() http.Handler {
	return s.router
}
