package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/gomo-hub/startup-optimizer/internal/errors"
	"github.com/gomo-hub/startup-optimizer/internal/model"
	"github.com/gomo-hub/startup-optimizer/internal/service"
	"github.com/gomo-hub/startup-optimizer/internal/store"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type adminFixture struct {
	mem      *store.MemoryStore
	registry *service.RegistryService
	patterns *service.PatternService
	handler  *AdminHandler
	router   *mux.Router
}

func lightHeap() service.HeapStats {
	return service.HeapStats{HeapAlloc: 20 << 20, HeapSys: 100 << 20, Sys: 120 << 20}
}

func newAdminFixture(t *testing.T, regs ...*model.ComponentRegistration) *adminFixture {
	t.Helper()
	logger := zap.NewNop()
	mem := store.NewMemoryStore()

	registry := service.NewRegistryService(logger)
	registry.RegisterAll(regs)

	resources := service.NewResourceMonitorService(lightHeap, nil, nil, logger)
	initializer := service.InitializerFunc(func(context.Context, string) error { return nil })
	orchestrator := service.NewOrchestratorService(registry, resources, initializer, service.OrchestratorConfig{}, nil, logger)
	patterns := service.NewPatternService(service.PatternConfig{}, nil, logger)
	decisions := service.NewDecisionService(registry, orchestrator, patterns, mem, nil, logger)
	scheduler := service.NewSchedulerService(service.SchedulerConfig{}, patterns, decisions,
		service.SchedulerStores{Usage: mem, Patterns: mem, Snapshots: mem}, nil, logger)
	learning := service.NewLearningService(registry, mem, decisions, 7, logger)

	h := NewAdminHandler(AdminDeps{
		Registry:     registry,
		Resources:    resources,
		Orchestrator: orchestrator,
		Decisions:    decisions,
		Scheduler:    scheduler,
		Learning:     learning,
		Usage:        mem,
		Patterns:     mem,
		NodeID:       "node-test",
	}, apperrors.NewHandler(logger), time.Second, logger)

	router := mux.NewRouter()
	h.Register(router)

	return &adminFixture{mem: mem, registry: registry, patterns: patterns, handler: h, router: router}
}

func (f *adminFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func component(name string, tier model.Tier) *model.ComponentRegistration {
	return &model.ComponentRegistration{Name: name, Tier: tier}
}

func TestAdminHandler_Health(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	h := decode[SystemHealth](t, rec)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 20, h.Resources.MemoryUsagePercent)
	assert.Equal(t, model.TrendStable, h.Thresholds.MemoryTrend)
}

func TestAdminHandler_ModulesAndTiers(t *testing.T) {
	f := newAdminFixture(t,
		component("auth", model.TierInstant),
		component("billing", model.TierLazy),
		component("reports", model.TierLazy))
	f.registry.MarkLoaded("auth")

	rec := f.do(t, http.MethodGet, "/modules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[ModuleStats](t, rec)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Loaded)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 33, stats.LoadedPercent)

	rec = f.do(t, http.MethodGet, "/tiers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dist := decode[TierDistribution](t, rec)
	assert.Equal(t, 2, dist.Distribution["LAZY"].Count)
	assert.Equal(t, []string{"billing", "reports"}, dist.Distribution["LAZY"].Modules)
	assert.Equal(t, 0, dist.Distribution["DORMANT"].Count)
	assert.Equal(t, 1, dist.Summary["instantLoaded"])
}

func TestAdminHandler_ModuleDetail(t *testing.T) {
	f := newAdminFixture(t, component("billing", model.TierLazy))
	require.NoError(t, f.mem.RecordUsage(context.Background(), &model.UsageRecord{Component: "billing", LoadTimeMs: 30, AccessedAt: time.Now()}))

	rec := f.do(t, http.MethodGet, "/modules/billing", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	detail := decode[ModuleDetail](t, rec)
	assert.Equal(t, "billing", detail.Component)
	assert.Equal(t, "LAZY", detail.Tier)
	require.NotNil(t, detail.Usage)
	assert.Equal(t, 1, detail.Usage.TotalAccesses)
	assert.Empty(t, detail.Patterns)
}

func TestAdminHandler_PreloadRecordsDecisions(t *testing.T) {
	f := newAdminFixture(t, component("billing", model.TierLazy))

	rec := f.do(t, http.MethodPost, "/actions/preload", map[string][]string{"moduleNames": {"billing"}})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[model.PreloadResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"billing"}, resp.Loaded)
	assert.True(t, f.registry.IsLoaded("billing"))

	history, err := f.mem.DecisionHistory(context.Background(), store.DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.DecisionPreload, history[0].DecisionType)
	assert.Equal(t, 100, history[0].Confidence)
	assert.Equal(t, "Manual admin preload", history[0].Reason)
}

func TestAdminHandler_PreloadValidation(t *testing.T) {
	f := newAdminFixture(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"empty list", map[string][]string{"moduleNames": {}}},
		{"missing body", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/actions/preload", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAdminHandler_Promote(t *testing.T) {
	f := newAdminFixture(t, component("billing", model.TierDormant))

	rec := f.do(t, http.MethodPost, "/actions/promote", map[string]string{"moduleName": "billing", "reason": "quarter close"})
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[model.PromotionResult](t, rec)
	assert.True(t, result.Success)

	history, err := f.mem.DecisionHistory(context.Background(), store.DecisionFilter{DecisionType: model.DecisionPromote})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "quarter close", history[0].Reason)

	rec = f.do(t, http.MethodPost, "/actions/promote", map[string]string{"moduleName": "ghost"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[model.PromotionResult](t, rec).Success)

	history, err = f.mem.DecisionHistory(context.Background(), store.DecisionFilter{DecisionType: model.DecisionPromote})
	require.NoError(t, err)
	assert.Len(t, history, 1, "failed promotions are not recorded")
}

func TestAdminHandler_Decisions(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, f.mem.RecordDecision(ctx, &model.TierDecision{Component: name, DecisionType: model.DecisionPreload, ToTier: "PRELOADED"}))
	}

	rec := f.do(t, http.MethodGet, "/ai/decisions?days=1&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[DecisionsReport](t, rec)
	assert.Len(t, report.RecentDecisions, 2)
	assert.Equal(t, 3, report.Effectiveness.Total)

	rec = f.do(t, http.MethodGet, "/ai/decisions?days=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminHandler_ContextAndPatterns(t *testing.T) {
	f := newAdminFixture(t)
	f.patterns.RecordAccess("billing", 10, "")

	rec := f.do(t, http.MethodGet, "/ai/context", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["context"], "billing")

	rec = f.do(t, http.MethodGet, "/patterns", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[PatternsReport](t, rec)
	assert.Empty(t, report.HotModulesNow)
	assert.NotEmpty(t, report.Analysis.Recommendations)
}

func TestAdminHandler_Actions(t *testing.T) {
	f := newAdminFixture(t, component("billing", model.TierLazy))

	rec := f.do(t, http.MethodPost, "/actions/classify", map[string]int{"periodDays": 3})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/actions/cleanup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "Cleanup completed", body["message"])

	rec = f.do(t, http.MethodPost, "/actions/relearn", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[model.RelearnResult](t, rec).Promoted)

	rec = f.do(t, http.MethodPost, "/actions/scheduler", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]interface{}](t, rec)["enabled"])
	f.handler.deps.Scheduler.SetEnabled(false)

	rec = f.do(t, http.MethodPost, "/actions/scheduler", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminHandler_Cluster(t *testing.T) {
	f := newAdminFixture(t)

	rec := f.do(t, http.MethodGet, "/cluster", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[ClusterView](t, rec)
	assert.Equal(t, "node-test", view.NodeID)
	assert.False(t, view.Enabled)
	assert.Empty(t, view.Members)
}

func TestAdminHandler_Dashboard(t *testing.T) {
	f := newAdminFixture(t, component("auth", model.TierInstant))
	f.registry.MarkLoaded("auth")

	rec := f.do(t, http.MethodGet, "/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	view := decode[DashboardView](t, rec)
	assert.Equal(t, 1, view.ModuleStats.Loaded)
	assert.Equal(t, 1, view.TierDistribution.Summary["instantLoaded"])
	assert.Equal(t, "healthy", view.SystemHealth.Status)
	assert.NotNil(t, view.AIDecisions.Effectiveness)
	assert.False(t, view.TierDistribution.Distribution["INSTANT"] == nil)
}
