package service

import (
	"context"
	"errors"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/metrics"
	"github.com/gomo-hub/startup-optimizer/internal/model"
	"github.com/gomo-hub/startup-optimizer/internal/store"
	"github.com/gomo-hub/startup-optimizer/internal/util/workerpool"
	"go.uber.org/zap"
)

// DefaultCallerID is recorded when an access carries no caller
const DefaultCallerID = "system"

const (
	followerQueueSize  = 64
	followerJobTimeout = 30 * time.Second
)

// UsageTrackerConfig sizes the persistence pool. PreloadFollowers preloads
// the components that usually follow an accessed one.
type UsageTrackerConfig struct {
	Workers          int
	QueueSize        int
	WriteTimeout     time.Duration
	PreloadFollowers bool
}

// UsageTracker feeds every access into the analyzer and the preload history
// synchronously, and persists it asynchronously
type UsageTracker struct {
	patterns  *PatternService
	decisions *DecisionService
	usage     store.UsageStore
	pool      *workerpool.Pool
	followers *workerpool.Pool

	now     func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewUsageTracker creates a tracker. With a nil usage store accesses are not persisted.
func NewUsageTracker(
	patterns *PatternService,
	decisions *DecisionService,
	usage store.UsageStore,
	cfg UsageTrackerConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *UsageTracker {
	t := &UsageTracker{
		patterns:  patterns,
		decisions: decisions,
		usage:     usage,
		now:       time.Now,
		metrics:   m,
		logger:    logger,
	}
	if usage != nil {
		if cfg.WriteTimeout <= 0 {
			cfg.WriteTimeout = 5 * time.Second
		}
		t.pool = workerpool.New(workerpool.Config{
			Name:       "usage-tracker",
			Workers:    cfg.Workers,
			QueueSize:  cfg.QueueSize,
			JobTimeout: cfg.WriteTimeout,
			Logger:     logger,
		})
	}
	if cfg.PreloadFollowers && decisions != nil {
		t.followers = workerpool.New(workerpool.Config{
			Name:       "sequence-preload",
			Workers:    1,
			QueueSize:  followerQueueSize,
			JobTimeout: followerJobTimeout,
			Logger:     logger,
		})
	}
	return t
}

// Track records one access of a component
func (t *UsageTracker) Track(component, route string, loadTimeMs int64, callerID string) {
	if component == "" {
		return
	}

	t.patterns.RecordAccess(component, loadTimeMs, callerID)
	if t.decisions != nil {
		t.decisions.MarkAsUsed(component)
	}
	t.preloadFollowers(component)

	if t.pool == nil {
		return
	}
	if callerID == "" {
		callerID = DefaultCallerID
	}
	record := &model.UsageRecord{
		CallerID:   callerID,
		Component:  component,
		Route:      route,
		LoadTimeMs: loadTimeMs,
		AccessedAt: t.now(),
	}

	err := t.pool.Submit(workerpool.Job{
		Name: "record-usage",
		Run: func(ctx context.Context) error {
			return t.usage.RecordUsage(ctx, record)
		},
	})
	switch {
	case err == nil:
	case errors.Is(err, workerpool.ErrQueueFull):
		t.metrics.RecordTrackerDropped()
		t.logger.Warn("Usage queue full, dropping access record",
			zap.String("component", component))
	default:
		t.logger.Debug("Usage tracker stopped, dropping access record",
			zap.String("component", component))
	}
	t.metrics.UpdateTrackerQueue(t.pool.Stats().Queued)
}

// preloadFollowers queues a preload of the components that usually follow
// component. Mining runs on the pool, off the request path; a full queue skips.
func (t *UsageTracker) preloadFollowers(component string) {
	if t.followers == nil {
		return
	}
	_ = t.followers.Submit(workerpool.Job{
		Name: "preload-followers",
		Run: func(ctx context.Context) error {
			next := t.patterns.PreloadRecommendation(component)
			pending := make([]string, 0, len(next))
			for _, name := range next {
				if !t.decisions.registry.IsLoaded(name) {
					pending = append(pending, name)
				}
			}
			if len(pending) == 0 {
				return nil
			}
			t.logger.Debug("Preloading sequence followers",
				zap.String("component", component),
				zap.Strings("followers", pending))
			t.decisions.Preload(ctx, pending)
			return nil
		},
	})
}

// Stats returns persistence pool counters, zero when persistence is disabled
func (t *UsageTracker) Stats() workerpool.Stats {
	if t.pool == nil {
		return workerpool.Stats{Name: "usage-tracker"}
	}
	return t.pool.Stats()
}

// Stop flushes queued records and pending follower preloads
func (t *UsageTracker) Stop(ctx context.Context) error {
	var errs []error
	if t.followers != nil {
		errs = append(errs, t.followers.Stop(ctx))
	}
	if t.pool != nil {
		errs = append(errs, t.pool.Stop(ctx))
	}
	return errors.Join(errs...)
}
