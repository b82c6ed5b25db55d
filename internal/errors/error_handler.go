package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ResponseCode is the string error code written in HTTP error bodies.
type ResponseCode string

const (
	ResponseCodeInvalidRequest   ResponseCode = "INVALID_REQUEST"
	ResponseCodeUnknownComponent ResponseCode = "UNKNOWN_COMPONENT"
	ResponseCodeNotReady         ResponseCode = "COMPONENT_NOT_READY"
	ResponseCodeRateLimited      ResponseCode = "RATE_LIMITED"
	ResponseCodeServiceDown      ResponseCode = "SERVICE_UNAVAILABLE"
	ResponseCodeInternalError    ResponseCode = "INTERNAL_ERROR"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string       `json:"status"`
	ErrorCode ResponseCode `json:"error_code"`
	Message   string       `json:"message"`
	RequestID string       `json:"request_id,omitempty"`
}

// Handler writes structured error responses.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{logger: logger}
}

// HandleError maps err to an HTTP status and writes the error body.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := r.Header.Get("X-Request-ID")

	st := toStatus(err)
	h.WriteErrorResponse(w, CodeToHTTPStatus(st.Code()), codeToResponseCode(st.Code()), st.Message(), requestID)
}

func toStatus(err error) *status.Status {
	var oe *OptimizerError
	if errors.As(err, &oe) {
		return oe.ToGRPCStatus()
	}
	if st, ok := status.FromError(err); ok {
		return st
	}
	return status.New(codes.Internal, err.Error())
}

// CodeToHTTPStatus converts a gRPC code to an HTTP status code.
func CodeToHTTPStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusServiceUnavailable
	case codes.ResourceExhausted:
		return http.StatusServiceUnavailable
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func codeToResponseCode(code codes.Code) ResponseCode {
	switch code {
	case codes.InvalidArgument, codes.OutOfRange:
		return ResponseCodeInvalidRequest
	case codes.NotFound:
		return ResponseCodeUnknownComponent
	case codes.FailedPrecondition, codes.ResourceExhausted:
		return ResponseCodeNotReady
	case codes.Unavailable:
		return ResponseCodeServiceDown
	default:
		return ResponseCodeInternalError
	}
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ResponseCode, message string, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(errorCode)),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// WriteValidationError writes a validation error response.
func (h *Handler) WriteValidationError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ResponseCodeInvalidRequest, message, requestID)
}

// WriteInternalError writes an internal error response.
func (h *Handler) WriteInternalError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusInternalServerError, ResponseCodeInternalError, message, requestID)
}

// WriteServiceUnavailable writes a service unavailable response.
func (h *Handler) WriteServiceUnavailable(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusServiceUnavailable, ResponseCodeServiceDown, message, requestID)
}

// WriteRateLimitedError writes a rate limit exceeded response.
func (h *Handler) WriteRateLimitedError(w http.ResponseWriter, requestID string) {
	h.WriteErrorResponse(w, http.StatusTooManyRequests, ResponseCodeRateLimited, "rate limit exceeded", requestID)
}
