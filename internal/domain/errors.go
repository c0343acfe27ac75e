// Package domain provides the message, event, and error types shared by the
// orchestrator, the stores, and the capability providers.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of an orchestrator error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or empty request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeNotFound indicates a missing conversation or resource.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeProviderFailure indicates a capability provider failed during
	// a turn. The turn leaves no trace in history.
	ErrorTypeProviderFailure ErrorType = "provider_failure"

	// ErrorTypeCommitFailure indicates the conversation store could not
	// durably record a completed turn.
	ErrorTypeCommitFailure ErrorType = "commit_failure"

	// ErrorTypeStaleImageRef indicates an operation against an image handle
	// that has been released.
	ErrorTypeStaleImageRef ErrorType = "stale_image_ref"

	// ErrorTypeTurnBusy indicates a second turn was started while one is
	// already in flight for the same conversation.
	ErrorTypeTurnBusy ErrorType = "turn_busy"

	// ErrorTypeServer indicates an internal error.
	ErrorTypeServer ErrorType = "server"
)

// APIError is the canonical error shape surfaced to transports. Providers
// and stores return it directly or wrapped; transports map it to an HTTP
// status code or a terminal error event.
type APIError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`

	// StatusCode overrides the default HTTP mapping when set.
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound, ErrorTypeStaleImageRef:
		return http.StatusNotFound
	case ErrorTypeTurnBusy:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates an error of the given type.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{Type: errType, Message: message}
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *APIError {
	return NewAPIError(ErrorTypeNotFound, message)
}

// ErrProviderFailure wraps a provider error for the turn's terminal event.
func ErrProviderFailure(provider string, err error) *APIError {
	return NewAPIError(ErrorTypeProviderFailure, fmt.Sprintf("%s: %v", provider, err))
}

// ErrCommitFailure wraps a store error raised while recording a turn.
func ErrCommitFailure(err error) *APIError {
	return NewAPIError(ErrorTypeCommitFailure, err.Error())
}

// ErrStaleImageRef creates an error for a released image handle.
func ErrStaleImageRef(ref string) *APIError {
	return NewAPIError(ErrorTypeStaleImageRef, fmt.Sprintf("image %s has been released", ref))
}

// ErrTurnBusy creates an error for a conversation with a turn in flight.
func ErrTurnBusy(conversationID string) *APIError {
	return NewAPIError(ErrorTypeTurnBusy, fmt.Sprintf("conversation %s already has a turn in flight", conversationID))
}

// IsErrorType reports whether err is (or wraps) an APIError of the given type.
func IsErrorType(err error, t ErrorType) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type == t
	}
	return false
}
