package core

import "fmt"

type ErrorCode string

const (
	ErrBadRequest          ErrorCode = "WPC_BAD_REQUEST"
	ErrNotFound            ErrorCode = "WPC_NOT_FOUND"
	ErrDeniedByPolicy      ErrorCode = "WPC_DENIED_BY_POLICY"
	ErrCapacityUnavailable ErrorCode = "WPC_CAPACITY_UNAVAILABLE"
	ErrUpstreamUnavailable ErrorCode = "WPC_UPSTREAM_UNAVAILABLE"
	ErrCustomizationFailed ErrorCode = "WPC_CUSTOMIZATION_FAILED"
	ErrInvalidTransition   ErrorCode = "WPC_INVALID_TRANSITION"
	ErrStateConflict       ErrorCode = "WPC_STATE_CONFLICT"
	ErrConflictIdempotent  ErrorCode = "WPC_CONFLICT_IDEMPOTENT_MISMATCH"
	ErrTimeout             ErrorCode = "WPC_TIMEOUT"
	ErrInternal            ErrorCode = "WPC_INTERNAL"
)

// HTTPStatus returns the HTTP status code for this error code.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrBadRequest:
		return 400
	case ErrDeniedByPolicy:
		return 403
	case ErrNotFound:
		return 404
	case ErrInvalidTransition, ErrStateConflict, ErrConflictIdempotent:
		return 409
	case ErrCustomizationFailed:
		return 422
	case ErrCapacityUnavailable:
		return 503
	case ErrUpstreamUnavailable:
		return 503
	case ErrTimeout:
		return 504
	default:
		return 500
	}
}

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// InvalidTransitionError builds the rejection for a state change not
// present in the transition table. Callers treat it as state-machine
// drift, not as an ignorable condition.
func InvalidTransitionError(id string, from, to WorkspaceState) *AppError {
	return NewAppError(ErrInvalidTransition,
		fmt.Sprintf("workspace %s: illegal transition %s -> %s", id, from, to))
}
