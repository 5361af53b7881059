package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

var (
	ErrValidation               = errors.New("validation failed")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrMissingClient            = errors.New("invoice has no client")
	ErrMissingItems             = errors.New("invoice has no line items")
	ErrSerialAllocationFailed   = errors.New("serial allocation failed")
	ErrImmutableRecordViolation = errors.New("immutable record violation")
	ErrSnapshotTampered         = errors.New("snapshot payload hash mismatch")
)

// ValidationError rejects input before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field string, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TransitionError is an illegal status move or a re-finalize attempt.
type TransitionError struct {
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ImmutableRecordError is a write against a frozen invoice.
type ImmutableRecordError struct {
	InvoiceId int
	Status    string
	Field     string
}

func (e *ImmutableRecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("immutable record violation: invoice %d is %s", e.InvoiceId, e.Status)
	}
	return fmt.Sprintf("immutable record violation: invoice %d is %s, cannot write %s", e.InvoiceId, e.Status, e.Field)
}

func (e *ImmutableRecordError) Is(target error) bool { return target == ErrImmutableRecordViolation }

// SerialAllocationError is returned once the bounded retry on lock contention is exhausted.
type SerialAllocationError struct {
	TenantId string
	Prefix   string
	Attempts int
	Err      error
}

func (e *SerialAllocationError) Error() string {
	return fmt.Sprintf("serial allocation failed for tenant %s prefix %q after %d attempts: %v", e.TenantId, e.Prefix, e.Attempts, e.Err)
}

func (e *SerialAllocationError) Is(target error) bool { return target == ErrSerialAllocationFailed }

func (e *SerialAllocationError) Unwrap() error { return e.Err }

// DescribeError maps a ledger error to the message shown to the caller and whether a retry by the user makes sense.
func DescribeError(err error) (string, bool) {
	var validationErr *ValidationError
	var transitionErr *TransitionError
	switch {
	case err == nil:
		return "", false
	case errors.As(err, &validationErr):
		return validationErr.Error(), true
	case errors.As(err, &transitionErr):
		return fmt.Sprintf("invoice cannot move from %s to %s", transitionErr.From, transitionErr.To), false
	case errors.Is(err, ErrMissingClient):
		return "select a client before finalizing the invoice", true
	case errors.Is(err, ErrMissingItems):
		return "add at least one line item before finalizing the invoice", true
	case errors.Is(err, ErrSerialAllocationFailed):
		return "the invoice number could not be allocated, please retry", true
	case errors.Is(err, ErrImmutableRecordViolation), errors.Is(err, ErrSnapshotTampered):
		return "internal integrity error", false
	case errors.Is(err, ErrorRecordNotFound):
		return "record not found", false
	default:
		return "internal error", false
	}
}
