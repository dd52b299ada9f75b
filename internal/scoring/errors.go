package scoring

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds. Every error returned by Service matches exactly one of these with errors.Is.
var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrMatchNotActive         = errors.New("match not active")
	ErrPointAlreadyUndone     = errors.New("point already undone")
	ErrInvalidToken           = errors.New("invalid token")
	ErrPersistence            = errors.New("persistence failure")
	ErrValidation             = errors.New("validation failed")
)

var (
	errMissingStore      = errors.New("store is required")
	errMissingAuthorizer = errors.New("authorizer is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ServiceError carries a stable operation.reason code alongside the failure kind.
type ServiceError struct {
	code      string
	reason    string
	kind      error
	err       error
	retryable bool
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

// Reason returns the reason segment of the code.
func (e *ServiceError) Reason() string {
	return e.reason
}

// Kind returns the failure sentinel the error belongs to.
func (e *ServiceError) Kind() error {
	return e.kind
}

// Retryable reports whether the caller may safely repeat the request.
func (e *ServiceError) Retryable() bool {
	return e.retryable
}

func newServiceError(operation, reason string, kind, cause error) *ServiceError {
	code := fmt.Sprintf("%s.%s", operation, reason)
	wrapped := kind
	if cause != nil && !errors.Is(cause, kind) {
		wrapped = fmt.Errorf("%w: %w", kind, cause)
	} else if cause != nil {
		wrapped = cause
	}
	return &ServiceError{code: code, reason: reason, kind: kind, err: wrapped}
}

// TransitionError describes a lifecycle guard failure.
type TransitionError struct {
	Action   Action
	Required []MatchStatus
	Current  MatchStatus
}

func (e *TransitionError) Error() string {
	required := make([]string, 0, len(e.Required))
	for _, status := range e.Required {
		required = append(required, string(status))
	}
	return fmt.Sprintf("%s requires status %s, match is %s", e.Action, strings.Join(required, " or "), e.Current)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}
