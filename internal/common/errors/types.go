package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeCredentialUnavailable means no usable bearer token was present for a poll cycle
	ErrTypeCredentialUnavailable ErrorType = "credential_unavailable"
	// ErrTypeListingRequest represents a failed call to the listing endpoint
	ErrTypeListingRequest ErrorType = "listing_request"
	// ErrTypeListingParse represents an unparseable listing response
	ErrTypeListingParse ErrorType = "listing_parse"
	// ErrTypeClaimDuplicate means the recording id was already in the ledger
	ErrTypeClaimDuplicate ErrorType = "claim_duplicate"
	// ErrTypeRouteUnmatched means no routing rule accepted the recording
	ErrTypeRouteUnmatched ErrorType = "route_unmatched"
	// ErrTypeFetch represents a failed recording download
	ErrTypeFetch ErrorType = "fetch"
	// ErrTypeRelayTransfer represents a failed transfer to the relay host
	ErrTypeRelayTransfer ErrorType = "relay_transfer"

	// ErrTypeConnection represents connection-related errors
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
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
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
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

// CredentialUnavailableError is returned when a poll cycle finds no usable token
func CredentialUnavailableError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeCredentialUnavailable,
		Message: msg,
	}
}

// ListingRequestError wraps a failed listing call
func ListingRequestError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeListingRequest,
		Message: msg,
		Cause:   cause,
	}
}

// ListingParseError wraps an unparseable listing body
func ListingParseError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeListingParse,
		Message: msg,
		Cause:   cause,
	}
}

// ClaimDuplicateError reports a recording that was already claimed
func ClaimDuplicateError(id string) *AppError {
	return &AppError{
		Type:    ErrTypeClaimDuplicate,
		Message: fmt.Sprintf("recording %s already claimed", id),
	}
}

// RouteUnmatchedError reports a recording that no rule accepted
func RouteUnmatchedError(id string) *AppError {
	return &AppError{
		Type:    ErrTypeRouteUnmatched,
		Message: fmt.Sprintf("no rule matched recording %s", id),
	}
}

// FetchError wraps a failed download
func FetchError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeFetch,
		Message: msg,
		Cause:   cause,
	}
}

// RelayTransferError wraps a failed relay upload
func RelayTransferError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeRelayTransfer,
		Message: msg,
		Cause:   cause,
	}
}

// ConnectionError creates a new connection error
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeConnection,
		Message: msg,
		Cause:   cause,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// IsType checks if an error, or any error it wraps, is an AppError of the given type
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return ErrTypeInternal
	}

	return appErr.Type
}
