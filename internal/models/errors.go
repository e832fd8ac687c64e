package models

import "fmt"

// ValidationError flags missing or malformed request fields. Nothing is
// written when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError means a transition or claim lost a race. It always carries
// the authoritative status observed at commit time so the caller can resync,
// and, when another driver holds the ride, who holds it.
type ConflictError struct {
	RideID   string
	Status   RideStatus
	HolderID string
}

func (e *ConflictError) Error() string {
	if e.HolderID != "" {
		return fmt.Sprintf("ride %s is %s (held by driver %s)", e.RideID, e.Status, e.HolderID)
	}
	return fmt.Sprintf("ride %s is %s", e.RideID, e.Status)
}

// NotFoundError is returned for unknown ride or driver ids.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// NoCandidatesError means matching found zero qualifying drivers. Distinct
// from ConflictError; never retried automatically.
type NoCandidatesError struct {
	RideID        string
	RequiredSeats int
}

func (e *NoCandidatesError) Error() string {
	return fmt.Sprintf("no drivers available for ride %s (seats>=%d)", e.RideID, e.RequiredSeats)
}

// PaymentPreconditionError means a charge was requested that the ledger state
// cannot support, e.g. a tip for a driver with no payout destination.
type PaymentPreconditionError struct {
	RideID string
	Reason string
}

func (e *PaymentPreconditionError) Error() string {
	return fmt.Sprintf("payment precondition failed for ride %s: %s", e.RideID, e.Reason)
}

// ProcessorError wraps an external payment processor failure. Code carries
// the processor's own error code; AuthRequired marks the distinguishable
// "requires additional authentication" outcome.
type ProcessorError struct {
	Code         string
	Message      string
	AuthRequired bool
	Retryable    bool
	Err          error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("payment processor error [%s]: %s", e.Code, e.Message)
}

func (e *ProcessorError) Unwrap() error { return e.Err }
