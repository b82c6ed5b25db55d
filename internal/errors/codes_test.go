package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestOptimizerError_GRPCMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      *OptimizerError
		expected codes.Code
		deferral bool
	}{
		{"invalid argument", InvalidArgument("bad body", nil), codes.InvalidArgument, false},
		{"unknown component", UnknownComponent("billing"), codes.NotFound, false},
		{"dependencies not ready", DependenciesNotReady("billing", []string{"auth"}), codes.FailedPrecondition, true},
		{"resource constrained", ResourceConstrained("billing", 97, 95), codes.ResourceExhausted, true},
		{"initialization failed", InitializationFailed("billing", fmt.Errorf("boom")), codes.Internal, false},
		{"store failure", StoreFailure("insert failed", nil), codes.Unavailable, false},
		{"unavailable", Unavailable("shutting down", nil), codes.Unavailable, false},
		{"internal", InternalError("oops", nil), codes.Internal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.ToGRPCStatus().Code())
			assert.Equal(t, tt.deferral, tt.err.Deferral())
		})
	}
}

func TestOptimizerError_Wrapping(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := InitializationFailed("billing", cause)

	assert.Equal(t, "failed to initialize billing: connection refused", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "billing", err.Details["component"])

	wrapped := fmt.Errorf("bootstrap: %w", err)
	assert.True(t, IsOptimizerError(wrapped))
	assert.Equal(t, ErrCodeInitializationFailed, GetCode(wrapped))
	assert.Equal(t, ErrCodeInternal, GetCode(fmt.Errorf("plain")))
	assert.False(t, IsOptimizerError(fmt.Errorf("plain")))
}

func TestResourceConstrained_Message(t *testing.T) {
	err := ResourceConstrained("reports", 96, 95)
	assert.Equal(t, "memory constrained: heap 96% (threshold 95%)", err.Error())
	assert.Equal(t, 96, err.Details["usage_percent"])
}

func TestCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code     codes.Code
		expected int
	}{
		{codes.OK, http.StatusOK},
		{codes.InvalidArgument, http.StatusBadRequest},
		{codes.NotFound, http.StatusNotFound},
		{codes.FailedPrecondition, http.StatusServiceUnavailable},
		{codes.ResourceExhausted, http.StatusServiceUnavailable},
		{codes.Unavailable, http.StatusServiceUnavailable},
		{codes.DeadlineExceeded, http.StatusGatewayTimeout},
		{codes.Internal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, CodeToHTTPStatus(tt.code))
		})
	}
}

func TestHandler_HandleError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedCode int
		expectedBody ResponseCode
	}{
		{"unknown component", UnknownComponent("ghost"), http.StatusNotFound, ResponseCodeUnknownComponent},
		{"deferred", DependenciesNotReady("billing", nil), http.StatusServiceUnavailable, ResponseCodeNotReady},
		{"grpc status", status.Error(codes.InvalidArgument, "bad"), http.StatusBadRequest, ResponseCodeInvalidRequest},
		{"plain error", fmt.Errorf("boom"), http.StatusInternalServerError, ResponseCodeInternalError},
	}

	h := NewHandler(zap.NewNop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set("X-Request-ID", "req-1")
			rec := httptest.NewRecorder()

			h.HandleError(rec, req, tt.err)

			assert.Equal(t, tt.expectedCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "error", body.Status)
			assert.Equal(t, tt.expectedBody, body.ErrorCode)
			assert.Equal(t, "req-1", body.RequestID)
		})
	}
}

func TestHandler_WriteRateLimitedError(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(zap.NewNop()).WriteRateLimitedError(rec, "")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
}
