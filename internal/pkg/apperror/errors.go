// Package apperror defines the error kinds shared by the payment, invoice,
// compliance and reminder services and maps them onto HTTP status codes.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports a malformed or missing request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError with a formatted message.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a referenced record that does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ProviderError wraps a non-2xx or undecodable response from an external
// payment or email API. Body carries the raw response text.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s provider error: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s provider error: status=%d body=%s", e.Provider, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ConflictError reports a state clash such as a concurrent refund that
// would exceed the captured amount.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func Conflict(format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ConfigurationError reports a required configuration value that is absent.
type ConfigurationError struct {
	Key string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required configuration %s", e.Key)
}

// UnauthorizedError reports a missing or wrong bearer credential.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string { return e.Message }

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsProvider(err error) bool {
	var target *ProviderError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

func IsUnauthorized(err error) bool {
	var target *UnauthorizedError
	return errors.As(err, &target)
}

// HTTPStatus maps an error onto the response status used by the API.
// Provider failures are reported as 400 so callers treat them as retryable
// client-visible failures rather than server crashes.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err), IsProvider(err):
		return http.StatusBadRequest
	case IsUnauthorized(err):
		return http.StatusUnauthorized
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Kind returns the snake_case error identifier rendered in JSON responses.
func Kind(err error) string {
	switch {
	case IsValidation(err):
		return "validation_error"
	case IsProvider(err):
		return "provider_error"
	case IsUnauthorized(err):
		return "unauthorized"
	case IsNotFound(err):
		return "not_found"
	case IsConflict(err):
		return "conflict"
	case IsConfiguration(err):
		return "configuration_error"
	default:
		return "internal_server_error"
	}
}
