package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/metrics"
	"github.com/gomo-hub/startup-optimizer/internal/model"
	"github.com/gomo-hub/startup-optimizer/internal/store"
	"go.uber.org/zap"
)

const (
	recommendSequences       = 3
	recommendSequenceMinConf = 50
	recommendColdModules     = 3
	recommendHotModules      = 2
	recommendHotMinPercent   = 30
	contextListLimit         = 5
	fallbackRecommendation   = "Collect more usage data for better recommendations"
	unregisteredTier         = "UNREGISTERED"
)

// ComponentLoader loads components on demand
type ComponentLoader interface {
	EnsureLoaded(ctx context.Context, name string) bool
}

type preloadEntry struct {
	component    string
	preloadedAt  time.Time
	used         bool
	usedWithinMs int64
}

// DecisionService turns observed patterns into preload and promotion actions
// and keeps track of how useful past preloads were
type DecisionService struct {
	registry *RegistryService
	loader   ComponentLoader
	patterns *PatternService
	ledger   store.DecisionLedger

	mu      sync.Mutex
	history []preloadEntry

	now     func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewDecisionService creates a decision service. A nil ledger disables decision recording.
func NewDecisionService(
	registry *RegistryService,
	loader ComponentLoader,
	patterns *PatternService,
	ledger store.DecisionLedger,
	m *metrics.Metrics,
	logger *zap.Logger,
) *DecisionService {
	return &DecisionService{
		registry: registry,
		loader:   loader,
		patterns: patterns,
		ledger:   ledger,
		now:      time.Now,
		metrics:  m,
		logger:   logger,
	}
}

// Preload loads each named component and aggregates the outcome
func (d *DecisionService) Preload(ctx context.Context, names []string) model.PreloadResponse {
	d.logger.Info("Preload requested", zap.Strings("components", names))

	resp := model.PreloadResponse{
		Loaded:        make([]string, 0),
		AlreadyLoaded: make([]string, 0),
		Failed:        make([]string, 0),
	}
	for _, name := range names {
		r := d.PreloadOne(ctx, name)
		switch {
		case r.AlreadyLoaded:
			resp.AlreadyLoaded = append(resp.AlreadyLoaded, name)
		case r.Success:
			resp.Loaded = append(resp.Loaded, name)
			resp.TotalLoadTimeMs += r.LoadTimeMs
		default:
			resp.Failed = append(resp.Failed, name)
		}
	}
	resp.Success = len(resp.Failed) == 0
	return resp
}

// PreloadOne loads a single component ahead of demand. Newly loaded
// components enter the preload history.
func (d *DecisionService) PreloadOne(ctx context.Context, name string) model.PreloadResult {
	if d.registry.IsLoaded(name) {
		d.metrics.RecordPreload("already_loaded")
		return model.PreloadResult{Component: name, Success: true, AlreadyLoaded: true}
	}

	start := d.now()
	loaded := d.loader.EnsureLoaded(ctx, name)
	elapsed := d.now().Sub(start).Milliseconds()

	if !loaded {
		d.metrics.RecordPreload("failed")
		d.logger.Warn("Failed to preload component", zap.String("component", name))
		return model.PreloadResult{Component: name, LoadTimeMs: elapsed}
	}

	d.metrics.RecordPreload("loaded")
	d.logger.Info("Preloaded component",
		zap.String("component", name),
		zap.Int64("load_time_ms", elapsed))

	d.mu.Lock()
	d.history = append(d.history, preloadEntry{component: name, preloadedAt: d.now()})
	d.mu.Unlock()

	return model.PreloadResult{Component: name, Success: true, LoadTimeMs: elapsed}
}

// Promote loads a component immediately regardless of its tier
func (d *DecisionService) Promote(ctx context.Context, name string) model.PromotionResult {
	d.logger.Info("Promotion requested", zap.String("component", name))

	if d.registry.IsLoaded(name) {
		return model.PromotionResult{
			Success:          true,
			Component:        name,
			WasAlreadyLoaded: true,
			Message:          fmt.Sprintf("%s was already loaded", name),
		}
	}

	start := d.now()
	loaded := d.loader.EnsureLoaded(ctx, name)
	elapsed := d.now().Sub(start).Milliseconds()

	result := model.PromotionResult{
		Success:    loaded,
		Component:  name,
		LoadTimeMs: elapsed,
	}
	if loaded {
		result.Message = fmt.Sprintf("%s promoted and loaded in %dms", name, elapsed)
		d.logger.Info("Promoted component",
			zap.String("component", name),
			zap.Int64("load_time_ms", elapsed))
	} else {
		result.Message = fmt.Sprintf("Failed to load %s", name)
		d.logger.Warn("Failed to promote component", zap.String("component", name))
	}
	return result
}

// Recommendations derives human readable actions from patterns. Rules apply
// in order: confident sequences, cold components, hot components, fallback.
func (d *DecisionService) Recommendations(patterns model.UsagePatterns) []string {
	recs := make([]string, 0)

	for i, seq := range patterns.Sequences {
		if i == recommendSequences {
			break
		}
		if seq.Confidence >= recommendSequenceMinConf {
			recs = append(recs, fmt.Sprintf("Preload %s when %s is accessed (%d%% confidence)",
				seq.To, seq.From, seq.Confidence))
		}
	}

	if len(patterns.ColdModules) > 0 {
		recs = append(recs, "Consider moving to DORMANT: "+
			strings.Join(firstN(patterns.ColdModules, recommendColdModules), ", "))
	}

	for i, hot := range patterns.HotAtThisHour {
		if i == recommendHotModules {
			break
		}
		if hot.PercentOfTotal > recommendHotMinPercent {
			recs = append(recs, fmt.Sprintf("%s is hot at %d:00 - ensure loaded",
				hot.Component, patterns.CurrentHour))
		}
	}

	if len(recs) == 0 {
		recs = append(recs, fallbackRecommendation)
	}
	return recs
}

// AnalyzePatterns bundles current patterns, preload metrics and recommendations
func (d *DecisionService) AnalyzePatterns() model.TierAnalysis {
	patterns := d.patterns.Patterns()
	return model.TierAnalysis{
		Timestamp:       d.now(),
		Patterns:        patterns,
		PreloadMetrics:  d.PreloadMetrics(),
		Recommendations: d.Recommendations(patterns),
	}
}

// MarkAsUsed marks the oldest unused preload of a component as used
func (d *DecisionService) MarkAsUsed(name string) {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.history {
		e := &d.history[i]
		if e.component == name && !e.used {
			e.used = true
			e.usedWithinMs = now.Sub(e.preloadedAt).Milliseconds()
			d.logger.Debug("Preloaded component used",
				zap.String("component", name),
				zap.Int64("used_within_ms", e.usedWithinMs))
			return
		}
	}
}

// PreloadMetrics reports the preload hit rate and mean time to first use
func (d *DecisionService) PreloadMetrics() model.PreloadMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()

	var used int
	var sum int64
	for _, e := range d.history {
		if e.used {
			used++
			sum += e.usedWithinMs
		}
	}

	total := len(d.history)
	m := model.PreloadMetrics{
		TotalPreloads:  total,
		UsedPreloads:   used,
		UnusedPreloads: total - used,
	}
	if total > 0 {
		m.HitRate = roundPercent(float64(used), float64(total))
	}
	m.AvgTimeToUseMs = int64(math.Round(float64(sum) / float64(max(used, 1))))
	return m
}

// ClearHistory forgets all preloads
func (d *DecisionService) ClearHistory() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = nil
}

// ModuleStatus reports load state, tier and in-memory usage of a component
func (d *DecisionService) ModuleStatus(name string) model.ModuleStatus {
	status := model.ModuleStatus{Component: name, Tier: unregisteredTier}
	if reg, ok := d.registry.Get(name); ok {
		status.IsLoaded = reg.Loaded
		status.Tier = reg.Tier.String()
	}
	if st, ok := d.patterns.Stats(name); ok {
		status.Stats = &model.ModuleStatusStat{
			TotalAccesses:     st.TotalAccesses,
			AvgResponseTimeMs: st.AvgResponseTimeMs,
			LastAccessedAt:    st.LastAccessedAt,
		}
	}
	return status
}

// AllModuleStatuses reports every registered component in registry order
func (d *DecisionService) AllModuleStatuses() []model.ModuleStatus {
	regs := d.registry.All()
	out := make([]model.ModuleStatus, 0, len(regs))
	for _, reg := range regs {
		out = append(out, d.ModuleStatus(reg.Name))
	}
	return out
}

// OptimizationContext renders the current state as a markdown report
func (d *DecisionService) OptimizationContext() string {
	p := d.patterns.Patterns()
	pm := d.PreloadMetrics()

	var b strings.Builder
	b.WriteString("## Tier Optimization Context\n\n")

	b.WriteString("### Current Time\n")
	fmt.Fprintf(&b, "Hour: %d:00 (affects which modules are typically active)\n\n", p.CurrentHour)

	b.WriteString("### Top Accessed Modules\n")
	for _, m := range firstN(p.TopModules, contextListLimit) {
		fmt.Fprintf(&b, "- %s: %d accesses, avg %dms\n", m.Component, m.TotalAccesses, m.AvgResponseTimeMs)
	}
	b.WriteString("\n### Hot at This Hour\n")
	for _, m := range firstN(p.HotAtThisHour, contextListLimit) {
		fmt.Fprintf(&b, "- %s: %d accesses (%d%% of total)\n", m.Component, m.AccessesAtHour, m.PercentOfTotal)
	}

	b.WriteString("\n### Cold Modules (potential DORMANT candidates)\n")
	if len(p.ColdModules) == 0 {
		b.WriteString("None\n")
	} else {
		b.WriteString(strings.Join(firstN(p.ColdModules, contextListLimit), ", ") + "\n")
	}

	b.WriteString("\n### Access Sequences (A→B patterns)\n")
	if len(p.Sequences) == 0 {
		b.WriteString("No patterns detected yet\n")
	}
	for _, s := range firstN(p.Sequences, contextListLimit) {
		fmt.Fprintf(&b, "- %s → %s: %d times (%d%% confidence)\n", s.From, s.To, s.Occurrences, s.Confidence)
	}

	b.WriteString("\n### Preload Effectiveness\n")
	fmt.Fprintf(&b, "- Total preloads: %d\n", pm.TotalPreloads)
	fmt.Fprintf(&b, "- Hit rate: %d%%\n", pm.HitRate)
	fmt.Fprintf(&b, "- Avg time to use: %dms\n", pm.AvgTimeToUseMs)

	b.WriteString("\n### Recommended Actions\n")
	for _, r := range d.Recommendations(p) {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	return b.String()
}

// RecordDecision writes a decision to the ledger. Failures are logged and
// returned; callers treat them as non-fatal.
func (d *DecisionService) RecordDecision(ctx context.Context, decision *model.TierDecision) error {
	if d.ledger == nil {
		return nil
	}
	if err := d.ledger.RecordDecision(ctx, decision); err != nil {
		d.logger.Warn("Failed to record tier decision",
			zap.String("component", decision.Component),
			zap.String("decision_type", string(decision.DecisionType)),
			zap.Error(err))
		return err
	}
	d.metrics.RecordDecision(string(decision.DecisionType))
	return nil
}

// Ledger exposes the decision ledger, nil when recording is disabled
func (d *DecisionService) Ledger() store.DecisionLedger {
	return d.ledger
}

func firstN[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
