package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationInvalidJSON     ErrorCode = "validation_invalid_json"
	ErrCodeValidationSchema          ErrorCode = "validation_schema_failed"
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidCounty   ErrorCode = "validation_invalid_county_code"
	ErrCodeValidationUnknownCounty   ErrorCode = "validation_unknown_county"
	ErrCodeValidationInvalidPeriod   ErrorCode = "validation_invalid_period"
	ErrCodeValidationInvalidVariable ErrorCode = "validation_invalid_variable"
	ErrCodeValidationSchemaVersion   ErrorCode = "validation_unsupported_schema_version"
	ErrCodeValidationImageFormat     ErrorCode = "validation_invalid_image_format"
	ErrCodeValidationImageSize       ErrorCode = "validation_image_too_large"
	ErrCodeValidationInvalidStatus   ErrorCode = "validation_invalid_status_filter"

	// Not Found (404)
	ErrCodeNotFoundExecution ErrorCode = "not_found_execution"
	ErrCodeNotFoundCounty    ErrorCode = "not_found_county"
	ErrCodeNotFoundMap       ErrorCode = "not_found_map"
	ErrCodeNotFoundArtifact  ErrorCode = "not_found_artifact"

	// Conflict (409)
	ErrCodeConflictTerminal       ErrorCode = "conflict_execution_terminal"
	ErrCodeConflictCountyExists   ErrorCode = "conflict_county_exists"
	ErrCodeConflictMapExists      ErrorCode = "conflict_map_exists"
	ErrCodeConflictArtifactExists ErrorCode = "conflict_artifact_exists"

	// Upstream (502) -- narrative provider failures
	ErrCodeUpstreamProvider    ErrorCode = "upstream_provider_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamTimeout     ErrorCode = "upstream_provider_timeout"

	// Internal (500)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeInternalRender     ErrorCode = "internal_render_failed"
	ErrCodeInternalStorage    ErrorCode = "internal_artifact_storage"
	ErrCodeInternalMapStore   ErrorCode = "internal_map_store_error"
	ErrCodeInternalQueue      ErrorCode = "internal_queue_dispatch_error"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodeUpstreamRateLimited):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the service.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// FieldError describes a single schema validation failure at a JSON path.
// FieldPath uses dotted notation relative to the document root, e.g.
// "variables.rainfall.daily".
type FieldError struct {
	FieldPath string `json:"field_path"`
	Message   string `json:"message"`
}

// Error implements the error interface for FieldError.
func (f FieldError) Error() string {
	return fmt.Sprintf("%s: %s", f.FieldPath, f.Message)
}
