// Package provider fronts the external resource-provisioning API with
// retry, backoff, and per-dependency circuit breaking. Everything the
// control plane asks of the cloud goes through the Gateway.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ResourceSpec describes the remote resource to provision.
type ResourceSpec struct {
	WorkspaceID string
	Region      string
	Tier        string
	OS          string
	BlueprintID string
}

// RemoteResource is the provider's view of a provisioned resource.
type RemoteResource struct {
	ProviderID     string
	Region         string
	State          string
	ConnectionInfo string
}

// CloudAPI is the external provisioning surface. Implementations are
// expected to be slow, rate-limited, and intermittently unavailable.
type CloudAPI interface {
	Create(ctx context.Context, spec ResourceSpec) (*RemoteResource, error)
	Describe(ctx context.Context, providerID string) (*RemoteResource, error)
	Start(ctx context.Context, providerID string) error
	Stop(ctx context.Context, providerID string) error
	Terminate(ctx context.Context, providerID string) error
}

// ErrorClass buckets provider failures by how the gateway should
// react.
type ErrorClass string

const (
	// ClassThrottled and ClassTransient are retryable in place.
	ClassThrottled ErrorClass = "throttled"
	ClassTransient ErrorClass = "transient"

	// ClassCapacity triggers a one-time alternate-region fallback
	// instead of a same-region retry.
	ClassCapacity ErrorClass = "capacity"

	// ClassInvalid and ClassDenied fail immediately.
	ClassInvalid ErrorClass = "invalid"
	ClassDenied  ErrorClass = "denied"
)

// Error is a classified provider failure.
type Error struct {
	Class   ErrorClass
	Op      string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s (%s)", e.Op, e.Message, e.Class)
}

// Retryable reports whether the gateway may retry the call in place.
func (e *Error) Retryable() bool {
	return e.Class == ClassThrottled || e.Class == ClassTransient
}

// NewError builds a classified provider error.
func NewError(class ErrorClass, op, msg string) *Error {
	return &Error{Class: class, Op: op, Message: msg}
}

// IsCapacity reports whether err is a capacity-class provider error.
func IsCapacity(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Class == ClassCapacity
}

func retryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	// Unclassified errors are treated as non-retryable so a provider
	// bug fails loudly instead of burning five attempts.
	return false
}

// Attempt records one external-API call for backoff and audit
// bookkeeping. Retained only for the lifetime of the call chain.
type Attempt struct {
	WorkspaceID string
	Op          string
	Number      int
	StartedAt   time.Time
	Outcome     string
	ErrorClass  ErrorClass
}
