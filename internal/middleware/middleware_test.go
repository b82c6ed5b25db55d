package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gomo-hub/startup-optimizer/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestID(t *testing.T) {
	t.Run("generates an ID", func(t *testing.T) {
		var seen string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
	})

	t.Run("keeps the caller's ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "req-1")

		rec := httptest.NewRecorder()
		RequestID(okHandler).ServeHTTP(rec, req)
		assert.Equal(t, "req-1", rec.Header().Get(HeaderRequestID))
	})
}

func TestRecovery(t *testing.T) {
	h := Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body["error_code"])
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed origin", http.MethodGet, "https://admin.example.com", http.StatusOK, "https://admin.example.com"},
		{"unknown origin", http.MethodGet, "https://evil.example.com", http.StatusOK, ""},
		{"preflight", http.MethodOptions, "https://admin.example.com", http.StatusNoContent, "https://admin.example.com"},
	}

	h := CORS([]string{"https://admin.example.com"})(okHandler)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			req.Header.Set("Origin", tt.origin)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantAllow, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0.001, 2, zap.NewNop())
	h := rl.Limit(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	Chain(mw("a"), mw("b"), mw("c"))(okHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

type MockRouteLoader struct {
	mock.Mock
}

func (m *MockRouteLoader) EnsureLoadedForRoute(ctx context.Context, path string) bool {
	return m.Called(ctx, path).Bool(0)
}

type MockTracker struct {
	mock.Mock
}

func (m *MockTracker) Track(component, route string, loadTimeMs int64, callerID string) {
	m.Called(component, route, loadTimeMs, callerID)
}

type routeTable map[string]string

func (t routeTable) GetByRoute(path string) (*model.ComponentRegistration, bool) {
	name, ok := t[path]
	if !ok {
		return nil, false
	}
	return &model.ComponentRegistration{Name: name}, true
}

func TestUsageTracking(t *testing.T) {
	routes := routeTable{"/billing/invoices": "billing", "/reports": "reports"}

	t.Run("loads and tracks owned routes", func(t *testing.T) {
		loader := new(MockRouteLoader)
		loader.On("EnsureLoadedForRoute", mock.Anything, "/billing/invoices").Return(true)
		tracker := new(MockTracker)
		tracker.On("Track", "billing", "/billing/invoices", mock.AnythingOfType("int64"), "org-7").Return()

		var caller string
		h := UsageTracking(routes, loader, tracker, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, _ = r.Context().Value(CallerIDKey).(string)
		}))

		req := httptest.NewRequest(http.MethodGet, "/billing/invoices", nil)
		req.Header.Set(HeaderOrgID, "org-7")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "org-7", caller)
		loader.AssertExpectations(t)
		tracker.AssertExpectations(t)
	})

	t.Run("not ready still tracks", func(t *testing.T) {
		loader := new(MockRouteLoader)
		loader.On("EnsureLoadedForRoute", mock.Anything, "/reports").Return(false)
		tracker := new(MockTracker)
		tracker.On("Track", "reports", "/reports", mock.AnythingOfType("int64"), "system").Return()

		called := false
		h := UsageTracking(routes, loader, tracker, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports", nil))

		assert.False(t, called)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		tracker.AssertExpectations(t)
	})

	t.Run("unowned paths pass through", func(t *testing.T) {
		loader := new(MockRouteLoader)
		tracker := new(MockTracker)

		rec := httptest.NewRecorder()
		UsageTracking(routes, loader, tracker, zap.NewNop())(okHandler).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		loader.AssertNotCalled(t, "EnsureLoadedForRoute", mock.Anything, mock.Anything)
		tracker.AssertNotCalled(t, "Track", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
