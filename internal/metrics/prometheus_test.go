package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_Singleton(t *testing.T) {
	a := NewMetrics("node-1")
	b := NewMetrics("node-2")
	assert.Same(t, a, b)
}

func TestMetrics_RecordComponentLoad(t *testing.T) {
	m := NewMetrics("node-1")

	before := testutil.ToFloat64(m.componentLoads.WithLabelValues("auth", "INSTANT", "loaded"))
	m.RecordComponentLoad("auth", "INSTANT", "loaded", 20*time.Millisecond)
	m.RecordComponentLoad("auth", "INSTANT", "deferred", 0)

	assert.Equal(t, before+1, testutil.ToFloat64(m.componentLoads.WithLabelValues("auth", "INSTANT", "loaded")))
}

func TestMetrics_Gauges(t *testing.T) {
	m := NewMetrics("node-1")

	m.UpdateComponentCounts(10, 4)
	m.UpdateMemory(72, 95)
	m.SetBootstrapComplete(true)
	m.SetHealthStatus(false)

	assert.Equal(t, float64(10), testutil.ToFloat64(m.componentsRegistered))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.componentsLoaded))
	assert.Equal(t, float64(72), testutil.ToFloat64(m.heapUsagePercent))
	assert.Equal(t, float64(95), testutil.ToFloat64(m.memoryThreshold))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.bootstrapComplete))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.healthStatus))
}

func TestMetrics_RecordJob(t *testing.T) {
	m := NewMetrics("node-1")

	before := testutil.ToFloat64(m.jobRuns.WithLabelValues("classify", "error"))
	m.RecordJob("classify", fmt.Errorf("db down"), time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(m.jobRuns.WithLabelValues("classify", "error")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	// none of these may panic
	m.RecordComponentLoad("x", "LAZY", "loaded", time.Millisecond)
	m.UpdateComponentCounts(1, 1)
	m.RecordBootstrapPhase("instant", time.Millisecond)
	m.UpdateMemory(1, 2)
	m.RecordAdmissionRejected()
	m.RecordAccess("x")
	m.RecordPreload("loaded")
	m.RecordDecision("PRELOAD")
	m.UpdateTrackerQueue(3)
	m.RecordTrackerDropped()
	m.RecordJob("x", nil, time.Millisecond)
	m.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
	m.SetGossipMembers(2)
	m.SetHealthStatus(true)
}

func TestMetricsMiddleware(t *testing.T) {
	m := NewMetrics("node-1")

	handler := MetricsMiddleware(m, func(*http.Request) string { return "/teapot" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	)

	before := testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/teapot", "418"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot/123", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/teapot", "418")))
}
