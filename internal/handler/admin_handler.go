package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/gomo-hub/startup-optimizer/internal/errors"
	"github.com/gomo-hub/startup-optimizer/internal/model"
	"github.com/gomo-hub/startup-optimizer/internal/service"
	"github.com/gomo-hub/startup-optimizer/internal/store"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	defaultDecisionDays  = 7
	defaultDecisionLimit = 50
	sequenceMinConfident = 30
	topSequencesLimit    = 10
	manualConfidence     = 100
)

// AdminDeps groups the services behind the admin API. Stores and gossip may be nil.
type AdminDeps struct {
	Registry     *service.RegistryService
	Resources    *service.ResourceMonitorService
	Orchestrator *service.OrchestratorService
	Decisions    *service.DecisionService
	Scheduler    *service.SchedulerService
	Learning     *service.LearningService
	Gossip       *service.GossipService
	Usage        store.UsageStore
	Patterns     store.PatternStore
	NodeID       string
}

// AdminHandler serves the optimizer admin API
type AdminHandler struct {
	deps         AdminDeps
	errorHandler *apperrors.Handler
	logger       *zap.Logger
	timeout      time.Duration
	now          func() time.Time
}

// NewAdminHandler creates the admin handlers
func NewAdminHandler(deps AdminDeps, errorHandler *apperrors.Handler, timeout time.Duration, logger *zap.Logger) *AdminHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AdminHandler{
		deps:         deps,
		errorHandler: errorHandler,
		logger:       logger,
		timeout:      timeout,
		now:          time.Now,
	}
}

// Register mounts the admin routes on r
func (h *AdminHandler) Register(r *mux.Router) {
	r.HandleFunc("/dashboard", h.Dashboard).Methods(http.MethodGet)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/modules", h.Modules).Methods(http.MethodGet)
	r.HandleFunc("/modules/{name}", h.ModuleDetail).Methods(http.MethodGet)
	r.HandleFunc("/tiers", h.Tiers).Methods(http.MethodGet)
	r.HandleFunc("/ai/decisions", h.Decisions).Methods(http.MethodGet)
	r.HandleFunc("/ai/context", h.Context).Methods(http.MethodGet)
	r.HandleFunc("/patterns", h.Patterns).Methods(http.MethodGet)
	r.HandleFunc("/cluster", h.Cluster).Methods(http.MethodGet)

	r.HandleFunc("/actions/preload", h.Preload).Methods(http.MethodPost)
	r.HandleFunc("/actions/promote", h.Promote).Methods(http.MethodPost)
	r.HandleFunc("/actions/classify", h.Classify).Methods(http.MethodPost)
	r.HandleFunc("/actions/cleanup", h.Cleanup).Methods(http.MethodPost)
	r.HandleFunc("/actions/relearn", h.Relearn).Methods(http.MethodPost)
	r.HandleFunc("/actions/scheduler", h.SetScheduler).Methods(http.MethodPost)
}

// SystemHealth is the body of GET /health
type SystemHealth struct {
	Status            string             `json:"status"`
	Resources         ResourceView       `json:"resources"`
	Memory            model.SystemMemory `json:"memory"`
	Thresholds        ThresholdView      `json:"thresholds"`
	BootstrapComplete bool               `json:"bootstrapComplete"`
}

// ResourceView is the process memory part of SystemHealth
type ResourceView struct {
	HeapUsedMB         int64 `json:"heapUsedMB"`
	HeapTotalMB        int64 `json:"heapTotalMB"`
	MemoryUsagePercent int   `json:"memoryUsagePercent"`
}

// ThresholdView is the admission part of SystemHealth
type ThresholdView struct {
	Dynamic     int               `json:"dynamic"`
	MemoryTrend model.MemoryTrend `json:"memoryTrend"`
}

// ModuleStats is the body of GET /modules
type ModuleStats struct {
	Total         int                  `json:"total"`
	Loaded        int                  `json:"loaded"`
	Pending       int                  `json:"pending"`
	LoadedPercent int                  `json:"loadedPercent"`
	Modules       []model.ModuleStatus `json:"modules"`
}

// ModuleDetail is the body of GET /modules/{name}
type ModuleDetail struct {
	model.ModuleStatus
	Usage    *model.ModuleUsageSummary `json:"usage"`
	Patterns []*model.UsagePattern     `json:"patterns"`
}

// TierBucket counts the components of one tier
type TierBucket struct {
	Count   int      `json:"count"`
	Loaded  int      `json:"loaded"`
	Modules []string `json:"modules"`
}

// TierDistribution is the body of GET /tiers
type TierDistribution struct {
	Distribution map[string]*TierBucket `json:"distribution"`
	Summary      map[string]int         `json:"summary"`
}

// DecisionView is one entry of GET /ai/decisions
type DecisionView struct {
	ID           string             `json:"id"`
	Component    string             `json:"moduleName"`
	Type         model.DecisionType `json:"type"`
	FromTier     string             `json:"fromTier,omitempty"`
	ToTier       string             `json:"toTier"`
	Confidence   int                `json:"confidence"`
	WasEffective *bool              `json:"wasEffective"`
	DecidedAt    time.Time          `json:"decidedAt"`
}

// DecisionsReport is the body of GET /ai/decisions
type DecisionsReport struct {
	Effectiveness   *model.DecisionEffectiveness `json:"effectiveness"`
	RecentDecisions []DecisionView               `json:"recentDecisions"`
}

// PatternsReport is the body of GET /patterns
type PatternsReport struct {
	CurrentHour   int                     `json:"currentHour"`
	HotModulesNow []string                `json:"hotModulesNow"`
	TopSequences  []model.SequencePattern `json:"topSequences"`
	Analysis      model.TierAnalysis      `json:"analysis"`
}

// ClusterView is the body of GET /cluster
type ClusterView struct {
	NodeID  string                `json:"nodeId"`
	Enabled bool                  `json:"enabled"`
	Local   *model.NodeState      `json:"local,omitempty"`
	Members []model.ClusterMember `json:"members"`
}

// Health handles GET /health
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, h.systemHealth())
}

func (h *AdminHandler) systemHealth() SystemHealth {
	res := h.deps.Resources
	snap, ok := res.Latest()
	if !ok {
		snap = res.Sample()
	}

	health := SystemHealth{
		Status: "healthy",
		Resources: ResourceView{
			HeapUsedMB:         snap.HeapUsedMB,
			HeapTotalMB:        snap.HeapTotalMB,
			MemoryUsagePercent: snap.UsagePercent,
		},
		Memory: res.SystemMemory(),
		Thresholds: ThresholdView{
			Dynamic:     res.DynamicThreshold(),
			MemoryTrend: res.Trend(),
		},
	}
	if h.deps.Orchestrator != nil {
		health.BootstrapComplete = h.deps.Orchestrator.BootstrapComplete()
	}
	if snap.UsagePercent > health.Thresholds.Dynamic {
		health.Status = "degraded"
	}
	return health
}

// Modules handles GET /modules
func (h *AdminHandler) Modules(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, h.moduleStats())
}

func (h *AdminHandler) moduleStats() ModuleStats {
	statuses := h.deps.Decisions.AllModuleStatuses()
	stats := ModuleStats{Total: len(statuses), Modules: statuses}
	for _, s := range statuses {
		if s.IsLoaded {
			stats.Loaded++
		} else {
			stats.Pending++
		}
	}
	if stats.Total > 0 {
		stats.LoadedPercent = int(float64(stats.Loaded)/float64(stats.Total)*100 + 0.5)
	}
	return stats
}

// ModuleDetail handles GET /modules/{name}
func (h *AdminHandler) ModuleDetail(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	detail := ModuleDetail{
		ModuleStatus: h.deps.Decisions.ModuleStatus(name),
		Patterns:     make([]*model.UsagePattern, 0),
	}
	if h.deps.Usage != nil {
		usage, err := h.deps.Usage.ModuleStats(ctx, name, "", defaultDecisionDays)
		if err != nil {
			h.errorHandler.HandleError(w, r, apperrors.StoreFailure("failed to get module usage", err))
			return
		}
		detail.Usage = usage
	}
	if h.deps.Patterns != nil {
		patterns, err := h.deps.Patterns.Patterns(ctx, name, "")
		if err != nil {
			h.errorHandler.HandleError(w, r, apperrors.StoreFailure("failed to get module patterns", err))
			return
		}
		detail.Patterns = patterns
	}

	h.writeJSONResponse(w, http.StatusOK, detail)
}

// Tiers handles GET /tiers
func (h *AdminHandler) Tiers(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, h.tierDistribution())
}

func (h *AdminHandler) tierDistribution() TierDistribution {
	dist := TierDistribution{
		Distribution: make(map[string]*TierBucket),
		Summary:      make(map[string]int),
	}
	for _, t := range model.AllTiers() {
		dist.Distribution[t.String()] = &TierBucket{Modules: make([]string, 0)}
	}

	for _, s := range h.deps.Decisions.AllModuleStatuses() {
		bucket, ok := dist.Distribution[s.Tier]
		if !ok {
			bucket = &TierBucket{Modules: make([]string, 0)}
			dist.Distribution[s.Tier] = bucket
		}
		bucket.Count++
		bucket.Modules = append(bucket.Modules, s.Component)
		if s.IsLoaded {
			bucket.Loaded++
		}
	}

	for _, t := range model.AllTiers() {
		dist.Summary[strings.ToLower(t.String())+"Loaded"] = dist.Distribution[t.String()].Loaded
	}
	return dist
}

// Decisions handles GET /ai/decisions?days=&limit=
func (h *AdminHandler) Decisions(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	days, err := intQuery(r, "days", defaultDecisionDays)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}
	limit, err := intQuery(r, "limit", defaultDecisionLimit)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	report, err := h.aiDecisions(ctx, days, limit)
	if err != nil {
		h.errorHandler.HandleError(w, r, apperrors.StoreFailure("failed to get decisions", err))
		return
	}
	h.writeJSONResponse(w, http.StatusOK, report)
}

func (h *AdminHandler) aiDecisions(ctx context.Context, days, limit int) (DecisionsReport, error) {
	report := DecisionsReport{
		Effectiveness:   &model.DecisionEffectiveness{},
		RecentDecisions: make([]DecisionView, 0),
	}
	ledger := h.deps.Decisions.Ledger()
	if ledger == nil {
		return report, nil
	}

	history, err := ledger.DecisionHistory(ctx, store.DecisionFilter{DaysBack: days, Limit: limit})
	if err != nil {
		return report, err
	}
	eff, err := ledger.DecisionEffectiveness(ctx)
	if err != nil {
		return report, err
	}

	report.Effectiveness = eff
	for _, d := range history {
		report.RecentDecisions = append(report.RecentDecisions, DecisionView{
			ID:           d.ID,
			Component:    d.Component,
			Type:         d.DecisionType,
			FromTier:     d.FromTier,
			ToTier:       d.ToTier,
			Confidence:   d.Confidence,
			WasEffective: d.WasEffective,
			DecidedAt:    d.DecidedAt,
		})
	}
	return report, nil
}

// Context handles GET /ai/context
func (h *AdminHandler) Context(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, map[string]string{
		"context": h.deps.Decisions.OptimizationContext(),
	})
}

// Patterns handles GET /patterns
func (h *AdminHandler) Patterns(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	report, err := h.usagePatterns(ctx)
	if err != nil {
		h.errorHandler.HandleError(w, r, apperrors.StoreFailure("failed to get patterns", err))
		return
	}
	h.writeJSONResponse(w, http.StatusOK, report)
}

func (h *AdminHandler) usagePatterns(ctx context.Context) (PatternsReport, error) {
	report := PatternsReport{
		CurrentHour:   h.now().Hour(),
		HotModulesNow: make([]string, 0),
		TopSequences:  make([]model.SequencePattern, 0),
		Analysis:      h.deps.Decisions.AnalyzePatterns(),
	}
	if h.deps.Patterns == nil {
		return report, nil
	}

	hot, err := h.deps.Patterns.HotModulesAtHour(ctx, report.CurrentHour)
	if err != nil {
		return report, err
	}
	seqs, err := h.deps.Patterns.SequencePatterns(ctx, sequenceMinConfident)
	if err != nil {
		return report, err
	}
	if len(seqs) > topSequencesLimit {
		seqs = seqs[:topSequencesLimit]
	}
	report.HotModulesNow = hot
	report.TopSequences = seqs
	return report, nil
}

// Cluster handles GET /cluster
func (h *AdminHandler) Cluster(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, h.clusterView())
}

func (h *AdminHandler) clusterView() ClusterView {
	view := ClusterView{NodeID: h.deps.NodeID, Members: make([]model.ClusterMember, 0)}
	if g := h.deps.Gossip; g != nil {
		local := g.Local()
		view.Enabled = true
		view.Local = &local
		view.Members = g.Members()
	}
	return view
}

type preloadRequest struct {
	ModuleNames []string `json:"moduleNames"`
}

// Preload handles POST /actions/preload
func (h *AdminHandler) Preload(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	var req preloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid request body", requestID)
		return
	}
	if len(req.ModuleNames) == 0 {
		h.errorHandler.WriteValidationError(w, "moduleNames is required", requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := h.deps.Decisions.Preload(ctx, req.ModuleNames)
	for _, name := range req.ModuleNames {
		h.record(ctx, &model.TierDecision{
			Component:    name,
			ToTier:       "PRELOADED",
			DecisionType: model.DecisionPreload,
			Reason:       "Manual admin preload",
			Confidence:   manualConfidence,
		})
	}

	h.writeJSONResponse(w, http.StatusOK, resp)
}

type promoteRequest struct {
	ModuleName string `json:"moduleName"`
	Reason     string `json:"reason"`
}

// Promote handles POST /actions/promote
func (h *AdminHandler) Promote(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid request body", requestID)
		return
	}
	if req.ModuleName == "" {
		h.errorHandler.WriteValidationError(w, "moduleName is required", requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result := h.deps.Decisions.Promote(ctx, req.ModuleName)
	if result.Success {
		reason := req.Reason
		if reason == "" {
			reason = "Manual admin promotion"
		}
		h.record(ctx, &model.TierDecision{
			Component:    req.ModuleName,
			ToTier:       "PROMOTED",
			DecisionType: model.DecisionPromote,
			Reason:       reason,
			Confidence:   manualConfidence,
		})
	}

	h.writeJSONResponse(w, http.StatusOK, result)
}

// Classify handles POST /actions/classify
func (h *AdminHandler) Classify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PeriodDays int `json:"periodDays"`
	}
	if !h.decodeOptional(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	classes, err := h.deps.Scheduler.ClassifyModules(ctx, req.PeriodDays)
	if err != nil {
		h.errorHandler.HandleError(w, r, apperrors.StoreFailure("classification failed", err))
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"message":         "Classification completed",
		"classifications": classes,
	})
}

// Cleanup handles POST /actions/cleanup
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RetentionDays int `json:"retentionDays"`
	}
	if !h.decodeOptional(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.deps.Scheduler.DailyCleanup(ctx, req.RetentionDays)
	if err != nil {
		h.errorHandler.HandleError(w, r, apperrors.StoreFailure("cleanup failed", err))
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Cleanup completed",
		"result":  result,
	})
}

// Relearn handles POST /actions/relearn
func (h *AdminHandler) Relearn(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.writeJSONResponse(w, http.StatusOK, h.deps.Learning.Relearn(ctx))
}

// SetScheduler handles POST /actions/scheduler
func (h *AdminHandler) SetScheduler(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		h.errorHandler.WriteValidationError(w, "enabled is required", requestID)
		return
	}

	h.deps.Scheduler.SetEnabled(*req.Enabled)
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"enabled": h.deps.Scheduler.Enabled(),
	})
}

func (h *AdminHandler) record(ctx context.Context, d *model.TierDecision) {
	if err := h.deps.Decisions.RecordDecision(ctx, d); err != nil {
		h.logger.Warn("Failed to record admin decision",
			zap.String("component", d.Component),
			zap.Error(err))
	}
}

// decodeOptional decodes a JSON body when one is present
func (h *AdminHandler) decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.errorHandler.WriteValidationError(w, "invalid request body", r.Header.Get("X-Request-ID"))
		return false
	}
	return true
}

func intQuery(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return v, nil
}

// writeJSONResponse writes a JSON response.
func (h *AdminHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
