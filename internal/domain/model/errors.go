package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrIngressValidation marks a malformed or incomplete ingress payload.
	ErrIngressValidation = errors.New("invalid alert payload")

	// ErrBridgeUnavailable is returned by a publish attempted while the broker is not connected.
	ErrBridgeUnavailable = errors.New("broker bridge unavailable")

	// ErrInternal wraps unexpected failures surfaced to the ingress caller.
	ErrInternal = errors.New("internal relay error")

	// ErrConnectionClosed is returned by a send on a connection that was already closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendTimeout is returned when a connection's outbound buffer stayed full for the whole send window.
	ErrSendTimeout = errors.New("connection send timeout")
)

// ValidationError names the offending field of an ingress payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrIngressValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrIngressValidation }

// DeliveryFailure is a per-recipient send failure. It never leaves the registry.
type DeliveryFailure struct {
	ConnID uuid.UUID
	Err    error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("delivery to connection %s failed: %v", e.ConnID, e.Err)
}

func (e *DeliveryFailure) Unwrap() error { return e.Err }
