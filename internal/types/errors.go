package types

import (
	"fmt"
	"maps"
	"net/http"
	"strings"
)

// ErrorCode is the machine-readable error identifier returned to API
// clients. Its prefix selects the HTTP status.
type ErrorCode string

const (
	ErrCodeValidationInvalidDatetime ErrorCode = "validation_invalid_datetime"
	ErrCodeValidationInvalidID       ErrorCode = "validation_invalid_id"
	ErrCodeValidationInvalidDuration ErrorCode = "validation_invalid_duration"
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"

	ErrCodeNotFoundRace       ErrorCode = "not_found_race"
	ErrCodeNotFoundCheckpoint ErrorCode = "not_found_checkpoint"

	// Failures talking to yr.no, or a payload it sent that cannot be used.
	ErrCodeUpstreamUnavailable     ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited     ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamForecastInvalid ErrorCode = "upstream_forecast_invalid"

	ErrCodeInternalDB                ErrorCode = "internal_database_error"
	ErrCodeInternalCacheInconsistent ErrorCode = "internal_cache_inconsistent"
	ErrCodeInternalUnexpected        ErrorCode = "internal_unexpected_error"
)

var statusByPrefix = []struct {
	prefix string
	status int
}{
	{"validation_", http.StatusBadRequest},
	{"not_found_", http.StatusNotFound},
	{"upstream_", http.StatusBadGateway},
}

// HTTPStatus returns the response status for c. Internal and unknown codes
// map to 500.
func (c ErrorCode) HTTPStatus() int {
	for _, p := range statusByPrefix {
		if strings.HasPrefix(string(c), p.prefix) {
			return p.status
		}
	}
	return http.StatusInternalServerError
}

// AppError carries a code, a client-safe message, optional structured
// details and the wrapped cause. Only Code, Message and Details are ever
// serialized.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus is shorthand for e.Code.HTTPStatus().
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of e with details merged over the existing ones.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	maps.Copy(merged, e.Details)
	maps.Copy(merged, details)
	cp := *e
	cp.Details = merged
	return &cp
}

// NewAppError wraps err under code.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewAppErrorWithDetails is NewAppError with structured details attached.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Details: details}
}
