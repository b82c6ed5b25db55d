package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/metrics"
	"github.com/gomo-hub/startup-optimizer/internal/model"
	"github.com/gomo-hub/startup-optimizer/internal/store"
	"go.uber.org/zap"
)

const (
	autoPreloadConfidence = 75
	preloadedTier         = "PRELOADED"
	validationDaysBack    = 1
	validationLimit       = 50
	validationStatsDays   = 7
	weeklyReportPeriod    = 7 * 24 * time.Hour
)

// SchedulerConfig holds job periods and retention settings
type SchedulerConfig struct {
	Enabled            bool
	ClassifyInterval   time.Duration
	PreloadInterval    time.Duration
	ValidateInterval   time.Duration
	CleanupCheckPeriod time.Duration
	CleanupHour        int
	RetentionDays      int
	ClassifyPeriodDays int
	SnapshotInterval   time.Duration
}

// SchedulerStores groups the persistence the scheduler works against. Any
// of them may be nil, which disables the jobs that need it.
type SchedulerStores struct {
	Usage     store.UsageStore
	Patterns  store.PatternStore
	Snapshots store.StatsSnapshotStore
}

// SchedulerService runs the periodic optimization jobs. Every job is also
// callable directly; the enabled switch only gates the timers.
type SchedulerService struct {
	config    SchedulerConfig
	analyzer  *PatternService
	decisions *DecisionService
	stores    SchedulerStores

	enabled atomic.Bool

	mu        sync.Mutex
	parent    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastClean string

	now     func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewSchedulerService creates a scheduler. Call Start to run the timers.
func NewSchedulerService(
	cfg SchedulerConfig,
	analyzer *PatternService,
	decisions *DecisionService,
	stores SchedulerStores,
	m *metrics.Metrics,
	logger *zap.Logger,
) *SchedulerService {
	if cfg.ClassifyPeriodDays <= 0 {
		cfg.ClassifyPeriodDays = 7
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	s := &SchedulerService{
		config:    cfg,
		analyzer:  analyzer,
		decisions: decisions,
		stores:    stores,
		now:       time.Now,
		metrics:   m,
		logger:    logger,
	}
	s.enabled.Store(cfg.Enabled)
	return s
}

// Start runs the timers until ctx ends or Stop is called
func (s *SchedulerService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.parent = ctx
	if s.enabled.Load() {
		s.startLocked()
	}
}

// Stop halts the timers and waits for running jobs
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

// Enabled reports whether the timers are running jobs
func (s *SchedulerService) Enabled() bool {
	return s.enabled.Load()
}

// SetEnabled starts or stops the timers
func (s *SchedulerService) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enabled.Store(enabled)
	if enabled {
		if s.parent != nil {
			s.startLocked()
		}
	} else {
		s.stopLocked()
	}
	s.logger.Info("Scheduler toggled", zap.Bool("enabled", enabled))
}

func (s *SchedulerService) startLocked() {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(s.parent)
	s.cancel = cancel

	s.every(ctx, "classify", s.config.ClassifyInterval, func(ctx context.Context) error {
		_, err := s.ClassifyModules(ctx, s.config.ClassifyPeriodDays)
		return err
	})
	s.every(ctx, "analyze_preload", s.config.PreloadInterval, func(ctx context.Context) error {
		_, err := s.AnalyzeAndPreload(ctx)
		return err
	})
	s.every(ctx, "validate", s.config.ValidateInterval, func(ctx context.Context) error {
		_, err := s.ValidateRecentDecisions(ctx)
		return err
	})
	s.every(ctx, "cleanup", s.config.CleanupCheckPeriod, s.dailyCleanupTick)
	s.every(ctx, "snapshot", s.config.SnapshotInterval, s.SnapshotStats)
	s.every(ctx, "weekly_report", weeklyReportPeriod, func(ctx context.Context) error {
		_, err := s.WeeklyReport(ctx)
		return err
	})

	s.logger.Info("Scheduler timers started")
}

func (s *SchedulerService) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.logger.Info("Scheduler timers stopped")
}

func (s *SchedulerService) every(ctx context.Context, name string, period time.Duration, job func(context.Context) error) {
	if period <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !s.enabled.Load() {
					continue
				}
				s.runJob(ctx, name, job)
			}
		}
	}()
}

func (s *SchedulerService) runJob(ctx context.Context, name string, job func(context.Context) error) {
	start := time.Now()
	err := job(ctx)
	s.metrics.RecordJob(name, err, time.Since(start))
	if err != nil {
		s.logger.Error("Scheduled job failed", zap.String("job", name), zap.Error(err))
	}
}

// ClassifyModules buckets components into HOT/WARM/COLD over the period and
// persists the analyzer's hot-at-this-hour entries and sequences
func (s *SchedulerService) ClassifyModules(ctx context.Context, periodDays int) (map[string]model.Classification, error) {
	if s.stores.Patterns == nil {
		return map[string]model.Classification{}, nil
	}
	if periodDays <= 0 {
		periodDays = s.config.ClassifyPeriodDays
	}

	s.logger.Info("Running module classification", zap.Int("period_days", periodDays))

	classes, err := s.stores.Patterns.ClassifyModules(ctx, periodDays)
	if err != nil {
		return nil, fmt.Errorf("failed to classify modules: %w", err)
	}

	if s.analyzer != nil {
		if err := s.persistAnalyzerPatterns(ctx); err != nil {
			return classes, err
		}
	}

	s.logger.Info("Module classification completed", zap.Int("components", len(classes)))
	return classes, nil
}

// persistAnalyzerPatterns saves the analyzer's cumulative counts as snapshot
// rows so repeated runs do not add them up again
func (s *SchedulerService) persistAnalyzerPatterns(ctx context.Context) error {
	p := s.analyzer.Patterns()

	for _, hot := range p.HotAtThisHour {
		hour := p.CurrentHour
		if err := s.stores.Patterns.SavePattern(ctx, &model.UsagePattern{
			Component:      hot.Component,
			PatternType:    model.PatternHourly,
			Hour:           &hour,
			Count:          hot.AccessesAtHour,
			Confidence:     max(hot.PercentOfTotal, model.DefaultDecisionConfidence),
			Classification: model.ClassificationHot,
			Snapshot:       true,
		}); err != nil {
			return fmt.Errorf("failed to save hourly pattern: %w", err)
		}
	}

	for _, seq := range p.Sequences {
		if err := s.stores.Patterns.SavePattern(ctx, &model.UsagePattern{
			Component:        seq.From,
			PatternType:      model.PatternSequence,
			RelatedComponent: seq.To,
			Count:            seq.Occurrences,
			Confidence:       seq.Confidence,
			Snapshot:         true,
		}); err != nil {
			return fmt.Errorf("failed to save sequence pattern: %w", err)
		}
	}
	return nil
}

// AnalyzeAndPreload preloads components persisted as HOT for the current
// hour and records a PRELOAD decision for each
func (s *SchedulerService) AnalyzeAndPreload(ctx context.Context) (model.PreloadResponse, error) {
	empty := model.PreloadResponse{Success: true, Loaded: []string{}, AlreadyLoaded: []string{}, Failed: []string{}}
	if s.decisions == nil {
		return empty, nil
	}

	analysis := s.decisions.AnalyzePatterns()
	if len(analysis.Recommendations) > 0 {
		s.logger.Info("Recommendations generated", zap.Strings("recommendations", analysis.Recommendations))
	}

	if s.stores.Patterns == nil {
		return empty, nil
	}
	hour := s.now().Hour()
	hot, err := s.stores.Patterns.HotModulesAtHour(ctx, hour)
	if err != nil {
		return empty, fmt.Errorf("failed to get hot modules: %w", err)
	}
	if len(hot) == 0 {
		return empty, nil
	}

	resp := s.decisions.Preload(ctx, hot)
	for _, name := range hot {
		_ = s.decisions.RecordDecision(ctx, &model.TierDecision{
			Component:    name,
			ToTier:       preloadedTier,
			DecisionType: model.DecisionPreload,
			Reason:       fmt.Sprintf("Auto-preload: HOT module at hour %d", hour),
			Confidence:   autoPreloadConfidence,
		})
	}

	s.logger.Info("Preloaded hot modules",
		zap.Int("hour", hour),
		zap.Int("loaded", len(resp.Loaded)),
		zap.Int("already_loaded", len(resp.AlreadyLoaded)),
		zap.Int("failed", len(resp.Failed)))
	return resp, nil
}

// ValidateRecentDecisions marks yesterday's unvalidated PRELOAD and PROMOTE
// decisions effective when their component was accessed after the decision
func (s *SchedulerService) ValidateRecentDecisions(ctx context.Context) (model.ValidationResult, error) {
	var result model.ValidationResult
	ledger := s.ledger()
	if ledger == nil || s.stores.Usage == nil {
		return result, nil
	}

	recent, err := ledger.DecisionHistory(ctx, store.DecisionFilter{
		DaysBack: validationDaysBack,
		Limit:    validationLimit,
	})
	if err != nil {
		return result, fmt.Errorf("failed to get decision history: %w", err)
	}

	for _, d := range recent {
		if d.Validated() {
			continue
		}
		result.Checked++
		if d.DecisionType != model.DecisionPreload && d.DecisionType != model.DecisionPromote {
			continue
		}

		accesses, err := s.stores.Usage.CountSince(ctx, d.Component, d.DecidedAt)
		if err != nil {
			return result, fmt.Errorf("failed to count accesses of %s: %w", d.Component, err)
		}
		effective := accesses > 0

		var timeToUse *int64
		if effective {
			summary, err := s.stores.Usage.ModuleStats(ctx, d.Component, "", validationStatsDays)
			if err != nil {
				return result, fmt.Errorf("failed to get module stats of %s: %w", d.Component, err)
			}
			avg := summary.AvgLoadTimeMs
			timeToUse = &avg
			result.Effective++
		}

		if err := ledger.ValidateDecision(ctx, d.ID, effective, timeToUse); err != nil {
			return result, fmt.Errorf("failed to validate decision %s: %w", d.ID, err)
		}
		result.Validated++
	}

	if result.Checked > 0 {
		s.logger.Info("Validated decisions",
			zap.Int("checked", result.Checked),
			zap.Int("validated", result.Validated),
			zap.Int("effective", result.Effective))
	}
	return result, nil
}

func (s *SchedulerService) dailyCleanupTick(ctx context.Context) error {
	now := s.now()
	if now.Hour() != s.config.CleanupHour {
		return nil
	}
	day := now.Format("2006-01-02")

	s.mu.Lock()
	if s.lastClean == day {
		s.mu.Unlock()
		return nil
	}
	s.lastClean = day
	s.mu.Unlock()

	_, err := s.DailyCleanup(ctx, s.config.RetentionDays)
	return err
}

// DailyCleanup deletes usage records and decisions older than retentionDays
func (s *SchedulerService) DailyCleanup(ctx context.Context, retentionDays int) (model.CleanupResult, error) {
	if retentionDays <= 0 {
		retentionDays = s.config.RetentionDays
	}
	result := model.CleanupResult{RetentionDays: retentionDays}
	cutoff := s.now().AddDate(0, 0, -retentionDays)

	s.logger.Info("Running cleanup", zap.Int("retention_days", retentionDays))

	if s.stores.Usage != nil {
		n, err := s.stores.Usage.CleanupUsage(ctx, cutoff)
		if err != nil {
			return result, fmt.Errorf("failed to clean up usage: %w", err)
		}
		result.UsageDeleted = n
	}
	if ledger := s.ledger(); ledger != nil {
		n, err := ledger.CleanupDecisions(ctx, cutoff)
		if err != nil {
			return result, fmt.Errorf("failed to clean up decisions: %w", err)
		}
		result.DecisionsDeleted = n
	}

	s.logger.Info("Cleanup completed",
		zap.Int64("usage_deleted", result.UsageDeleted),
		zap.Int64("decisions_deleted", result.DecisionsDeleted))
	return result, nil
}

// WeeklyReport logs and returns decision effectiveness
func (s *SchedulerService) WeeklyReport(ctx context.Context) (*model.DecisionEffectiveness, error) {
	ledger := s.ledger()
	if ledger == nil {
		return &model.DecisionEffectiveness{}, nil
	}
	eff, err := ledger.DecisionEffectiveness(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get decision effectiveness: %w", err)
	}

	s.logger.Info("Weekly optimization report",
		zap.Int("total", eff.Total),
		zap.Int("validated", eff.Validated),
		zap.Int("effective", eff.Effective),
		zap.Int("effectiveness_rate", eff.EffectivenessRate),
		zap.Int64("avg_time_to_use_ms", eff.AvgTimeToUseMs))
	return eff, nil
}

// SnapshotStats saves analyzer statistics to the snapshot store
func (s *SchedulerService) SnapshotStats(ctx context.Context) error {
	if s.stores.Snapshots == nil || s.analyzer == nil {
		return nil
	}
	stats := s.analyzer.AllStats()
	if err := s.stores.Snapshots.SaveStats(ctx, stats); err != nil {
		return fmt.Errorf("failed to save stats snapshot: %w", err)
	}
	s.logger.Debug("Saved usage stats snapshot", zap.Int("components", len(stats)))
	return nil
}

// RestoreStats imports the last saved snapshot into the analyzer. A missing
// snapshot leaves the analyzer empty.
func (s *SchedulerService) RestoreStats(ctx context.Context) error {
	if s.stores.Snapshots == nil || s.analyzer == nil {
		return nil
	}
	stats, err := s.stores.Snapshots.LoadStats(ctx)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("No usage stats snapshot found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load stats snapshot: %w", err)
	}
	s.analyzer.ImportStats(stats)
	return nil
}

func (s *SchedulerService) ledger() store.DecisionLedger {
	if s.decisions == nil {
		return nil
	}
	return s.decisions.Ledger()
}
