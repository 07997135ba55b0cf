package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryConnectivity covers RPC, WSS and HTTP API reachability failures
	CategoryConnectivity ErrorCategory = "connectivity"
	// CategoryData covers malformed or missing upstream data
	CategoryData ErrorCategory = "data"
	// CategoryConfiguration covers unknown chains, bad addresses and bad settings
	CategoryConfiguration ErrorCategory = "configuration"
	// CategoryPersistence covers storage read and write failures
	CategoryPersistence ErrorCategory = "persistence"
	// CategoryValidation represents request validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategorySystem represents everything else (5xx)
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

// Response is the JSON body sent to API clients
type Response struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ToResponse strips the cause for client consumption
func (e *CategorizedError) ToResponse() *Response {
	return &Response{Code: e.Code, Message: e.Message, Details: e.Details}
}

// Configuration errors

// NewUnknownChainError is returned for a chain id or name missing from the table
func NewUnknownChainError(chain string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfiguration,
		StatusCode: http.StatusBadRequest,
		Code:       "UNKNOWN_CHAIN",
		Message:    fmt.Sprintf("unknown chain: %s", chain),
		Details:    map[string]interface{}{"chain": chain},
	}
}

// NewInvalidAddressError creates an invalid address error
func NewInvalidAddressError(address string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfiguration,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_ADDRESS",
		Message:    fmt.Sprintf("invalid address format: %s", address),
		Details:    map[string]interface{}{"address": address},
	}
}

// NewConfigError reports an unusable setting
func NewConfigError(setting string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfiguration,
		StatusCode: http.StatusInternalServerError,
		Code:       "INVALID_CONFIG",
		Message:    fmt.Sprintf("invalid configuration %s: %s", setting, reason),
		Details:    map[string]interface{}{"setting": setting, "reason": reason},
	}
}

// Request errors

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
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

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "rate limit exceeded",
		Details:    map[string]interface{}{"retryAfter": retryAfter},
	}
}

// Connectivity errors

// NewConnectivityError wraps a failure to reach an RPC node or HTTP API
func NewConnectivityError(endpoint string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConnectivity,
		StatusCode: http.StatusBadGateway,
		Code:       "UPSTREAM_UNREACHABLE",
		Message:    fmt.Sprintf("upstream unreachable: %s", endpoint),
		Cause:      cause,
		Details:    map[string]interface{}{"endpoint": endpoint},
	}
}

// NewUpstreamStatusError reports a non-2xx reply from an HTTP API
func NewUpstreamStatusError(endpoint string, status int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConnectivity,
		StatusCode: http.StatusBadGateway,
		Code:       "UPSTREAM_STATUS",
		Message:    fmt.Sprintf("upstream %s returned status %d", endpoint, status),
		Details:    map[string]interface{}{"endpoint": endpoint, "status": status},
	}
}

// Data errors

// NewDataError reports an upstream payload that could not be interpreted
func NewDataError(source string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryData,
		StatusCode: http.StatusBadGateway,
		Code:       "MALFORMED_DATA",
		Message:    fmt.Sprintf("malformed data from %s", source),
		Cause:      cause,
		Details:    map[string]interface{}{"source": source},
	}
}

// Persistence errors

// NewPersistenceError creates a storage error
func NewPersistenceError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPersistence,
		StatusCode: http.StatusInternalServerError,
		Code:       "PERSISTENCE_ERROR",
		Message:    fmt.Sprintf("persistence error during %s", operation),
		Cause:      cause,
		Details:    map[string]interface{}{"operation": operation},
	}
}

// System errors

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(service string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    fmt.Sprintf("service unavailable: %s", service),
		Details:    map[string]interface{}{"service": service},
	}
}

// Categorize finds the first CategorizedError in err's chain, or wraps err
// as an internal error.
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

// Is reports whether err carries the given category anywhere in its chain
func Is(err error, category ErrorCategory) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return false
	}
	return catErr.Category == category
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is worth another attempt. Only
// connectivity failures are; bad data and bad configuration will not fix
// themselves.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryConnectivity, CategoryRateLimit:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
