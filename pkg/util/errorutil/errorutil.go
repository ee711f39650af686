package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error codes for the coordination protocol.
const (
	CodeAccessDenied      = "ACCESS_DENIED"
	CodeAlreadyLocked     = "ALREADY_LOCKED"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeAlreadyRated      = "ALREADY_RATED"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeConflict          = "CONFLICT"
	CodeNotFound          = "NOT_FOUND"
	CodeValidation        = "VALIDATION_FAILED"
	CodeInternal          = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

// NewAccessDenied reports a mutating call made without holding the ticket lock.
// holder is the agent currently owning the lease, empty when the ticket is unlocked.
func NewAccessDenied(holder string) error {
	details := map[string]any{}
	if holder != "" {
		details["current_holder"] = holder
	}
	return NewDomainError(CodeAccessDenied, "caller does not hold the ticket lock", http.StatusForbidden, details)
}

// NewAlreadyLocked reports acquire contention against a live lease.
func NewAlreadyLocked(holder string, expiresAt time.Time) error {
	return NewDomainError(CodeAlreadyLocked, "ticket is locked by another agent", http.StatusConflict, map[string]any{
		"holder":     holder,
		"expires_at": expiresAt,
	})
}

// NewInvalidTransition reports a lifecycle event undefined for the current state.
func NewInvalidTransition(from, event string) error {
	return NewDomainError(CodeInvalidTransition, fmt.Sprintf("event %s not allowed in state %s", event, from), http.StatusUnprocessableEntity, map[string]any{
		"state": from,
		"event": event,
	})
}

// NewAlreadyRated reports a second rating attempt on a closed ticket.
func NewAlreadyRated(existing int) error {
	return NewDomainError(CodeAlreadyRated, "ticket already rated", http.StatusConflict, map[string]any{
		"rating": existing,
	})
}

// NewStoreUnavailable wraps a backing-store I/O failure. Retryable.
func NewStoreUnavailable(err error) error {
	return &DomainError{
		Code:       CodeStoreUnavailable,
		Message:    "record store unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// NewConflict reports an optimistic version mismatch on write. Retryable after re-read.
func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

// NewNotFound reports a missing record.
func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

// NewValidationError reports a malformed request at the boundary.
func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// CodeOf returns the protocol error code carried by err, or empty.
func CodeOf(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsRetryable reports whether the facade may retry the failed call after a
// re-read. Only transient store faults and version conflicts qualify;
// ownership and lifecycle violations are decisions, not faults.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeStoreUnavailable, CodeConflict:
		return true
	}
	return false
}

// IsAccessDenied reports whether err is an ownership violation.
func IsAccessDenied(err error) bool { return CodeOf(err) == CodeAccessDenied }

// IsAlreadyLocked reports whether err is acquire contention.
func IsAlreadyLocked(err error) bool { return CodeOf(err) == CodeAlreadyLocked }

// IsConflict reports whether err is an optimistic version mismatch.
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }

// IsStoreUnavailable reports whether err is a backing-store I/O failure.
func IsStoreUnavailable(err error) bool { return CodeOf(err) == CodeStoreUnavailable }

// IsNotFound reports whether err is a missing record.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// HolderFrom extracts the current lock holder from an AccessDenied or
// AlreadyLocked error, so callers can present who owns the ticket now.
func HolderFrom(err error) string {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return ""
	}
	for _, key := range []string{"current_holder", "holder"} {
		if v, ok := domainErr.Details[key].(string); ok {
			return v
		}
	}
	return ""
}
