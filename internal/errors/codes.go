package errors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for optimizer operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeInvalidArgument  ErrorCode = 1000
	ErrCodeUnknownComponent ErrorCode = 1001

	// Expected deferrals
	ErrCodeDependenciesNotReady ErrorCode = 1500
	ErrCodeResourceConstrained  ErrorCode = 1501

	// Server errors
	ErrCodeInternal             ErrorCode = 2000
	ErrCodeUnavailable          ErrorCode = 2001
	ErrCodeInitializationFailed ErrorCode = 2002
	ErrCodeStoreFailure         ErrorCode = 2003
)

// OptimizerError represents a structured error with code and context
type OptimizerError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *OptimizerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *OptimizerError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts OptimizerError to gRPC status
func (e *OptimizerError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *OptimizerError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument:
		return codes.InvalidArgument
	case ErrCodeUnknownComponent:
		return codes.NotFound
	case ErrCodeDependenciesNotReady:
		return codes.FailedPrecondition
	case ErrCodeResourceConstrained:
		return codes.ResourceExhausted
	case ErrCodeUnavailable, ErrCodeStoreFailure:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// Deferral reports whether the error is an expected, retryable deferral
func (e *OptimizerError) Deferral() bool {
	return e.Code == ErrCodeDependenciesNotReady || e.Code == ErrCodeResourceConstrained
}

// NewOptimizerError creates a new OptimizerError
func NewOptimizerError(code ErrorCode, message string, cause error) *OptimizerError {
	return &OptimizerError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *OptimizerError) WithDetail(key string, value interface{}) *OptimizerError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *OptimizerError {
	return NewOptimizerError(ErrCodeInvalidArgument, message, cause)
}

func UnknownComponent(name string) *OptimizerError {
	return NewOptimizerError(ErrCodeUnknownComponent, fmt.Sprintf("unknown component: %s", name), nil).
		WithDetail("component", name)
}

func DependenciesNotReady(name string, missing []string) *OptimizerError {
	return NewOptimizerError(ErrCodeDependenciesNotReady, fmt.Sprintf("dependencies of %s not loaded", name), nil).
		WithDetail("component", name).
		WithDetail("missing", missing)
}

func ResourceConstrained(name string, usagePercent, threshold int) *OptimizerError {
	return NewOptimizerError(ErrCodeResourceConstrained,
		fmt.Sprintf("memory constrained: heap %d%% (threshold %d%%)", usagePercent, threshold), nil).
		WithDetail("component", name).
		WithDetail("usage_percent", usagePercent).
		WithDetail("threshold", threshold)
}

func InitializationFailed(name string, cause error) *OptimizerError {
	return NewOptimizerError(ErrCodeInitializationFailed, fmt.Sprintf("failed to initialize %s", name), cause).
		WithDetail("component", name)
}

func StoreFailure(message string, cause error) *OptimizerError {
	return NewOptimizerError(ErrCodeStoreFailure, message, cause)
}

func InternalError(message string, cause error) *OptimizerError {
	return NewOptimizerError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *OptimizerError {
	return NewOptimizerError(ErrCodeUnavailable, message, cause)
}

// IsOptimizerError checks if an error is an OptimizerError
func IsOptimizerError(err error) bool {
	var oe *OptimizerError
	return errors.As(err, &oe)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var oe *OptimizerError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ErrCodeInternal
}
