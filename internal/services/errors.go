package services

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("escrow: not found")
	ErrInvalidState = errors.New("escrow: invalid state")
	ErrUnauthorized = errors.New("escrow: unauthorized")
	ErrValidation   = errors.New("escrow: validation failed")

	// Retryable
	ErrLedgerUnavailable = errors.New("escrow: ledger unavailable")
	ErrEscrowBusy        = errors.New("escrow: busy")

	// ErrTransferRejected means the ledger refused the settlement transfer. Status is unchanged.
	ErrTransferRejected = errors.New("escrow: transfer rejected")
)

// ValidationError names the offending input field. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("escrow: invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsRetryable reports whether the same call may succeed if repeated unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLedgerUnavailable) || errors.Is(err, ErrEscrowBusy)
}
