package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	opterrors "github.com/gomo-hub/startup-optimizer/internal/errors"
	"github.com/gomo-hub/startup-optimizer/internal/metrics"
	"github.com/gomo-hub/startup-optimizer/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("startup-optimizer/loader")

// ErrAlreadyInitialized is returned by an Initializer whose component was
// already brought up elsewhere. The orchestrator treats it as success.
var ErrAlreadyInitialized = errors.New("component already initialized")

// Initializer brings a component up
type Initializer interface {
	Initialize(ctx context.Context, name string) error
}

// InitializerFunc adapts a function to Initializer
type InitializerFunc func(ctx context.Context, name string) error

// Initialize calls f
func (f InitializerFunc) Initialize(ctx context.Context, name string) error {
	return f(ctx, name)
}

// Admitter decides whether memory allows another load
type Admitter interface {
	Admission() (ok bool, usagePercent, threshold int)
	Latest() (model.ResourceSnapshot, bool)
	Sample() model.ResourceSnapshot
	LogStatus()
}

// OrchestratorConfig controls the tiered bootstrap
type OrchestratorConfig struct {
	BackgroundDelay       time.Duration
	ResourceCheckBoundary model.Tier
	InitTimeout           time.Duration
}

const defaultBackgroundDelay = 2 * time.Second

// OrchestratorService loads components tier by tier and on demand
type OrchestratorService struct {
	registry    *RegistryService
	resources   Admitter
	initializer Initializer
	config      OrchestratorConfig

	flight            singleflight.Group
	bootstrapComplete atomic.Bool
	failures          atomic.Int64

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewOrchestratorService creates an orchestrator
func NewOrchestratorService(
	registry *RegistryService,
	resources Admitter,
	initializer Initializer,
	cfg OrchestratorConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *OrchestratorService {
	if cfg.BackgroundDelay <= 0 {
		cfg.BackgroundDelay = defaultBackgroundDelay
	}
	if !cfg.ResourceCheckBoundary.Valid() {
		cfg.ResourceCheckBoundary = model.TierBackground
	}
	return &OrchestratorService{
		registry:    registry,
		resources:   resources,
		initializer: initializer,
		config:      cfg,
		metrics:     m,
		logger:      logger,
	}
}

// LoadTier loads every component of a tier in registry order. A failing or
// deferred component does not stop the pass.
func (o *OrchestratorService) LoadTier(ctx context.Context, tier model.Tier) model.TierLoadReport {
	ctx, span := tracer.Start(ctx, "loader.LoadTier",
		trace.WithAttributes(attribute.String("tier", tier.String())))
	defer span.End()

	regs := o.registry.GetByTier(tier)
	report := model.TierLoadReport{Tier: tier, Components: len(regs)}

	o.logger.Info("Loading tier",
		zap.String("tier", tier.String()),
		zap.Int("components", len(regs)))

	start := time.Now()
	for _, reg := range regs {
		if ctx.Err() != nil {
			break
		}
		err := o.load(ctx, reg)
		switch {
		case err == nil:
			report.Loaded++
		case isDeferral(err):
			report.Deferred++
		default:
			report.Failed++
		}
	}
	report.Elapsed = time.Since(start)

	span.SetAttributes(
		attribute.Int("loaded", report.Loaded),
		attribute.Int("deferred", report.Deferred),
		attribute.Int("failed", report.Failed))
	if report.Failed > 0 {
		span.SetStatus(codes.Error, "component initialization failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}

	o.publishCounts()
	o.logger.Info("Tier loaded",
		zap.String("tier", tier.String()),
		zap.Duration("elapsed", report.Elapsed),
		zap.Int("components", report.Components),
		zap.Int("loaded", report.Loaded),
		zap.Int("deferred", report.Deferred),
		zap.Int("failed", report.Failed))

	return report
}

// LoadOne loads a single component. It reports false when the component was
// deferred or failed to initialize.
func (o *OrchestratorService) LoadOne(ctx context.Context, reg *model.ComponentRegistration) bool {
	if reg == nil {
		return false
	}
	err := o.load(ctx, reg)
	o.publishCounts()
	return err == nil
}

// EnsureLoaded loads a component by name if needed
func (o *OrchestratorService) EnsureLoaded(ctx context.Context, name string) bool {
	if o.registry.IsLoaded(name) {
		return true
	}
	reg, ok := o.registry.Get(name)
	if !ok {
		o.logger.Warn("Unknown component", zap.String("component", name))
		return false
	}
	return o.LoadOne(ctx, reg)
}

// EnsureLoadedForRoute loads the component owning path. Paths no component
// owns need nothing and report true.
func (o *OrchestratorService) EnsureLoadedForRoute(ctx context.Context, path string) bool {
	reg, ok := o.registry.GetByRoute(path)
	if !ok {
		return true
	}
	return o.EnsureLoaded(ctx, reg.Name)
}

// load runs the checks and the initializer. Concurrent loads of the same
// component share one initializer call, which is detached from the
// cancellation of whichever caller started it and bounded by InitTimeout.
func (o *OrchestratorService) load(ctx context.Context, reg *model.ComponentRegistration) error {
	_, err, _ := o.flight.Do(reg.Name, func() (interface{}, error) {
		return nil, o.loadLocked(context.WithoutCancel(ctx), reg)
	})
	return err
}

func (o *OrchestratorService) loadLocked(ctx context.Context, reg *model.ComponentRegistration) error {
	name := reg.Name
	tier := reg.Tier.String()

	if o.registry.IsLoaded(name) {
		return nil
	}

	// Dependencies
	missing, known := o.registry.MissingDependencies(name)
	if !known {
		return opterrors.UnknownComponent(name)
	}
	if len(missing) > 0 {
		o.logger.Warn("Deferring component load, dependencies not ready",
			zap.String("component", name),
			zap.Strings("missing", missing))
		o.metrics.RecordComponentLoad(name, tier, "deferred_dependencies", 0)
		return opterrors.DependenciesNotReady(name, missing)
	}

	// Memory admission
	if reg.Tier >= o.config.ResourceCheckBoundary && o.resources != nil {
		if ok, usage, threshold := o.resources.Admission(); !ok {
			o.logger.Warn("Deferring component load, system memory constrained",
				zap.String("component", name),
				zap.Int("heap_percent", usage),
				zap.Int("threshold", threshold))
			o.metrics.RecordComponentLoad(name, tier, "deferred_memory", 0)
			return opterrors.ResourceConstrained(name, usage, threshold)
		}
	}

	ctx, span := tracer.Start(ctx, "loader.Initialize",
		trace.WithAttributes(
			attribute.String("component", name),
			attribute.String("tier", tier)))
	defer span.End()

	if o.config.InitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.InitTimeout)
		defer cancel()
	}

	start := time.Now()
	err := o.initializer.Initialize(ctx, name)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		o.logger.Debug("Component loaded",
			zap.String("component", name),
			zap.Duration("elapsed", elapsed))
	case errors.Is(err, ErrAlreadyInitialized):
		o.logger.Debug("Component already initialized",
			zap.String("component", name))
	default:
		o.failures.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.RecordComponentLoad(name, tier, "failed", elapsed)
		o.logger.Error("Failed to load component",
			zap.String("component", name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return opterrors.InitializationFailed(name, err)
	}

	o.registry.MarkLoaded(name)
	span.SetStatus(codes.Ok, "")
	o.metrics.RecordComponentLoad(name, tier, "loaded", elapsed)
	return nil
}

func isDeferral(err error) bool {
	switch opterrors.GetCode(err) {
	case opterrors.ErrCodeDependenciesNotReady, opterrors.ErrCodeResourceConstrained:
		return true
	default:
		return false
	}
}

// Bootstrap loads INSTANT, signals ready, loads ESSENTIAL, then schedules
// BACKGROUND after the configured delay. The background pass is skipped if
// ctx ends first. The returned channel closes when the background pass
// finishes or is skipped.
func (o *OrchestratorService) Bootstrap(ctx context.Context, ready func()) <-chan struct{} {
	start := time.Now()
	o.LoadTier(ctx, model.TierInstant)
	o.metrics.RecordBootstrapPhase(model.TierInstant.String(), time.Since(start))

	if ready != nil {
		ready()
	}
	if o.resources != nil {
		o.resources.LogStatus()
	}

	start = time.Now()
	o.LoadTier(ctx, model.TierEssential)
	o.metrics.RecordBootstrapPhase(model.TierEssential.String(), time.Since(start))

	done := make(chan struct{})
	go func() {
		defer close(done)

		timer := time.NewTimer(o.config.BackgroundDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			o.logger.Info("Background tier skipped", zap.Error(ctx.Err()))
			return
		case <-timer.C:
		}

		start := time.Now()
		o.LoadTier(ctx, model.TierBackground)
		o.metrics.RecordBootstrapPhase(model.TierBackground.String(), time.Since(start))
		if o.resources != nil {
			o.resources.LogStatus()
		}
	}()

	o.bootstrapComplete.Store(true)
	o.metrics.SetBootstrapComplete(true)
	return done
}

// BootstrapComplete reports whether INSTANT and ESSENTIAL have been processed
func (o *OrchestratorService) BootstrapComplete() bool {
	return o.bootstrapComplete.Load()
}

// Failures counts initializer failures since start
func (o *OrchestratorService) Failures() int64 {
	return o.failures.Load()
}

// Stats reports registry state, the latest memory snapshot and bootstrap state
func (o *OrchestratorService) Stats() model.OrchestratorStats {
	stats := model.OrchestratorStats{
		Modules:           o.registry.Stats(),
		BootstrapComplete: o.bootstrapComplete.Load(),
	}
	if o.resources != nil {
		snap, ok := o.resources.Latest()
		if !ok {
			snap = o.resources.Sample()
		}
		stats.Resources = &snap
	}
	return stats
}

func (o *OrchestratorService) publishCounts() {
	stats := o.registry.Stats()
	o.metrics.UpdateComponentCounts(stats.Total, stats.Loaded)
}
