// Package errors defines the categorized error taxonomy shared by the
// indexer, the rule engine, the store and the HTTP surface.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/auction-scanner/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryTransientFetch is an upstream timeout, 5xx or throttling response
	CategoryTransientFetch ErrorCategory = "transient_fetch"
	// CategoryUpstream is a non-retryable upstream rejection (4xx)
	CategoryUpstream ErrorCategory = "upstream"
	// CategoryMalformedRecord is an unparseable raw item
	CategoryMalformedRecord ErrorCategory = "malformed_record"
	// CategoryUnknownLocation is a raw location outside the canonical whitelist
	CategoryUnknownLocation ErrorCategory = "unknown_location"
	// CategoryConfiguration is an invalid rule or component configuration
	CategoryConfiguration ErrorCategory = "configuration"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryDatabase is a failed store operation on an otherwise reachable store
	CategoryDatabase ErrorCategory = "database"
	// CategoryStoreUnavailable means the store cannot be reached at all
	CategoryStoreUnavailable ErrorCategory = "store_unavailable"
	// CategorySystem represents everything else
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to the wire representation used by the HTTP surface
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewTransientFetchError wraps an upstream timeout/5xx for a location page
func NewTransientFetchError(location string, page int, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransientFetch,
		StatusCode: http.StatusBadGateway,
		Code:       "TRANSIENT_FETCH_ERROR",
		Message:    fmt.Sprintf("fetching %s page %d failed", location, page),
		Cause:      cause,
		Details: map[string]interface{}{
			"location": location,
			"page":     page,
		},
	}
}

// NewUpstreamError wraps an upstream rejection that retrying will not fix
func NewUpstreamError(location string, page int, statusCode int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusBadGateway,
		Code:       "UPSTREAM_REJECTED",
		Message:    fmt.Sprintf("upstream rejected %s page %d with status %d", location, page, statusCode),
		Details: map[string]interface{}{
			"location":       location,
			"page":           page,
			"upstreamStatus": statusCode,
		},
	}
}

// NewMalformedRecordError reports a raw item that cannot be normalized
func NewMalformedRecordError(reason string, details map[string]interface{}) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryMalformedRecord,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "MALFORMED_RECORD",
		Message:    reason,
		Details:    details,
	}
}

// NewUnknownLocationError reports a raw location string with no whitelist match
func NewUnknownLocationError(raw string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUnknownLocation,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "UNKNOWN_LOCATION",
		Message:    fmt.Sprintf("location %q is not a canonical location", raw),
		Details: map[string]interface{}{
			"location": raw,
		},
	}
}

// NewConfigurationError reports an invalid field value
func NewConfigurationError(field string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfiguration,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_CONFIGURATION",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewStoreUnavailableError reports that the store could not be reached
func NewStoreUnavailableError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryStoreUnavailable,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "STORE_UNAVAILABLE",
		Message:    "item store is unreachable",
		Cause:      cause,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize returns the CategorizedError in err's chain, or wraps err as internal
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}
	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}
	return NewInternalError("unexpected error", err)
}

func hasCategory(err error, category ErrorCategory) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Category == category
}

// IsTransient reports whether err is worth retrying against the upstream.
// Deadline errors from the HTTP client count as transient; a cancelled
// context does not.
func IsTransient(err error) bool {
	if err == nil || stderrors.Is(err, context.Canceled) {
		return false
	}
	return hasCategory(err, CategoryTransientFetch) || stderrors.Is(err, context.DeadlineExceeded)
}

// IsMalformed reports a MalformedRecordError
func IsMalformed(err error) bool { return hasCategory(err, CategoryMalformedRecord) }

// IsUnknownLocation reports an UnknownLocationError
func IsUnknownLocation(err error) bool { return hasCategory(err, CategoryUnknownLocation) }

// IsConfiguration reports a ConfigurationError
func IsConfiguration(err error) bool { return hasCategory(err, CategoryConfiguration) }

// IsNotFound reports a not found error
func IsNotFound(err error) bool { return hasCategory(err, CategoryNotFound) }

// IsCatastrophic reports errors that should halt a component's timer
func IsCatastrophic(err error) bool { return hasCategory(err, CategoryStoreUnavailable) }

// HTTPStatus returns the HTTP status code for an error
func HTTPStatus(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}
