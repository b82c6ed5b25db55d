package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type fixedGate struct {
	ok               bool
	usage, threshold int
}

func (g fixedGate) Admission() (bool, int, int) { return g.ok, g.usage, g.threshold }

func grpcStatus(t *testing.T, h *HealthChecker) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := h.GRPCServer().Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	return resp.Status
}

func TestHealthChecker_ReadyAfterInstantTier(t *testing.T) {
	h := NewHealthChecker(fixedGate{ok: true, usage: 40, threshold: 85}, nil, zap.NewNop())
	h.RunChecks(context.Background())

	assert.False(t, h.IsReady())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, grpcStatus(t, h))

	h.MarkReady()
	assert.True(t, h.IsReady())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, grpcStatus(t, h))
}

func TestHealthChecker_Checks(t *testing.T) {
	tests := []struct {
		name      string
		gate      MemoryGate
		pingErr   error
		wantReady bool
		wantMem   string
		wantStore string
	}{
		{"all healthy", fixedGate{ok: true, usage: 40, threshold: 85}, nil, true, StatusHealthy, StatusHealthy},
		{"memory pressure is a warning", fixedGate{ok: false, usage: 90, threshold: 85}, nil, true, StatusWarning, StatusHealthy},
		{"store down", fixedGate{ok: true, usage: 40, threshold: 85}, errors.New("connection refused"), false, StatusHealthy, StatusCritical},
		{"no memory gate", nil, nil, true, StatusHealthy, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := new(MockPinger)
			p.On("Ping", mock.Anything).Return(tt.pingErr)

			h := NewHealthChecker(tt.gate, nil, zap.NewNop())
			h.AddStore("postgres", p)
			h.MarkReady()
			h.RunChecks(context.Background())

			assert.Equal(t, tt.wantReady, h.IsReady())

			byName := map[string]string{}
			for _, c := range h.Checks() {
				byName[c.Name] = c.Status
			}
			assert.Equal(t, StatusHealthy, byName["bootstrap"])
			assert.Equal(t, tt.wantMem, byName["memory_pressure"])
			assert.Equal(t, tt.wantStore, byName["postgres"])
		})
	}
}

func TestHealthChecker_Drain(t *testing.T) {
	h := NewHealthChecker(nil, nil, zap.NewNop())
	h.MarkReady()
	require.True(t, h.IsReady())

	h.Drain()
	assert.False(t, h.IsReady())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, grpcStatus(t, h))

	h.RunChecks(context.Background())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, grpcStatus(t, h))
}

func TestHealthChecker_Handlers(t *testing.T) {
	h := NewHealthChecker(nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.MarkReady()
	h.RunChecks(context.Background())

	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, StatusHealthy, body.Checks["bootstrap"])
}
