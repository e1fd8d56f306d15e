package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error value returned by the session manager, the
// credential broker and the broker's HTTP surface.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`

	// Status and Body carry the upstream HTTP status and the verbatim upstream
	// response body for credential exchange failures.
	Status int    `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`

	RetryAfter *int  `json:"retry_after,omitempty"`
	Cause      error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Code != "" {
		msg = fmt.Sprintf("%s (code: %s)", msg, e.Code)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// Session manager taxonomy.
	ErrCredential   ErrorType = "credential_error"
	ErrConnection   ErrorType = "connection_error"
	ErrNotConnected ErrorType = "not_connected_error"
	ErrToolConflict ErrorType = "tool_conflict_error"

	// Broker HTTP surface.
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
)

// NewCredentialError creates a credential exchange error.
func NewCredentialError(message string, cause error) *Error {
	return &Error{
		Type:    ErrCredential,
		Message: message,
		Cause:   cause,
	}
}

// NewCredentialStatusError records a non-success upstream exchange, keeping the
// upstream body verbatim.
func NewCredentialStatusError(status int, body string) *Error {
	return &Error{
		Type:    ErrCredential,
		Message: "credential exchange rejected",
		Status:  status,
		Body:    body,
	}
}

// NewConnectionError creates a channel establishment error.
func NewConnectionError(message string, cause error) *Error {
	return &Error{
		Type:    ErrConnection,
		Message: message,
		Cause:   cause,
	}
}

// NewNotConnectedError reports a send attempted without an active session.
func NewNotConnectedError(op string) *Error {
	return &Error{
		Type:    ErrNotConnected,
		Message: fmt.Sprintf("%s: no active session", op),
	}
}

// NewToolConflictError reports a duplicate tool registration.
func NewToolConflictError(name string) *Error {
	return &Error{
		Type:    ErrToolConflict,
		Message: fmt.Sprintf("tool %q is already registered", name),
		Param:   name,
	}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// IsType reports whether err (or anything it wraps) is a *Error of type t.
func IsType(err error, t ErrorType) bool {
	var coreErr *Error
	if !errors.As(err, &coreErr) || coreErr == nil {
		return false
	}
	return coreErr.Type == t
}

// IsRetryable returns true if the caller may reasonably retry the operation.
// The core itself never retries.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrAPI, ErrConnection:
		return true
	case ErrCredential:
		return e.Status == 0 || e.Status >= 500 || e.Status == 429
	default:
		return false
	}
}
