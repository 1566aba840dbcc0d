// Package errors defines the structured error taxonomy shared by the
// resolution hot path and the background pipelines.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeNotFound represents an unknown or deleted link key
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeGone represents an expired or deactivated link
	ErrTypeGone ErrorType = "gone"
	// ErrTypeValidationDegraded represents a malformed context field that
	// was recovered locally by falling back to default routing
	ErrTypeValidationDegraded ErrorType = "validation_degraded"
	// ErrTypeDeliveryFailed represents a transient webhook delivery failure
	ErrTypeDeliveryFailed ErrorType = "delivery_failed"
	// ErrTypeDeliveryExhausted represents a delivery that used up its retry budget
	ErrTypeDeliveryExhausted ErrorType = "delivery_exhausted"
	// ErrTypeStoreUnavailable represents an unreachable rule store or durable queue
	ErrTypeStoreUnavailable ErrorType = "store_unavailable"
	// ErrTypeValidation represents invalid input
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeConnection represents connection-related errors
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// NotFoundError creates a not found error for a resource
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// GoneError creates an error for an expired or deactivated link
func GoneError(key string) *AppError {
	return &AppError{
		Type:    ErrTypeGone,
		Message: fmt.Sprintf("link %s is expired or inactive", key),
	}
}

// ValidationDegradedError records a malformed context field that was
// treated as a non-match rather than a hard failure
func ValidationDegradedError(field string) *AppError {
	return &AppError{
		Type:    ErrTypeValidationDegraded,
		Message: fmt.Sprintf("malformed %s, degraded to default routing", field),
	}
}

// DeliveryFailedError creates a transient delivery error
func DeliveryFailedError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeDeliveryFailed,
		Message: msg,
		Cause:   cause,
	}
}

// DeliveryExhaustedError creates a terminal delivery error
func DeliveryExhaustedError(eventID, subscriptionID string, attempts int) *AppError {
	return &AppError{
		Type:    ErrTypeDeliveryExhausted,
		Message: fmt.Sprintf("delivery of event %s to subscription %s exhausted after %d attempts", eventID, subscriptionID, attempts),
	}
}

// StoreUnavailableError creates an error for an unreachable store
func StoreUnavailableError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeStoreUnavailable,
		Message: msg,
		Cause:   cause,
	}
}

// ValidationError creates a validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// ConnectionError creates a connection error
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeConnection,
		Message: msg,
		Cause:   cause,
	}
}

// InternalError creates an internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// GetType returns the error type, or ErrTypeInternal for plain errors
func GetType(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrTypeInternal
}
