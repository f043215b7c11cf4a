package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks a missing, malformed or unknown field.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTariffMismatch marks an automated payment whose amount is not the tariff.
	ErrTariffMismatch = errors.New("amount does not match tariff")
	// ErrNotUsable marks an operation on a toilet that is in maintenance.
	ErrNotUsable = errors.New("toilet is under maintenance")
	// ErrManualOverrideDisabled is returned by manual open and door toggle when
	// the toilet's manual_open_enabled flag is off.
	ErrManualOverrideDisabled = errors.New("manual override is disabled for this toilet")
)

// ValidationError is a rejected request. No state is mutated when one is returned.
type ValidationError struct {
	Field   string
	Message string
	kind    error
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap lets callers match the error kind with errors.Is.
func (e *ValidationError) Unwrap() error {
	return e.kind
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...), kind: ErrInvalidInput}
}

// TariffMismatch builds the rejection for an amount that is not the tariff.
// received is rendered as the caller sent it.
func TariffMismatch(tariff int64, currency, received string) *ValidationError {
	return &ValidationError{
		Field:   "amount",
		Message: fmt.Sprintf("Payment amount must be %d %s. Received: %s %s", tariff, currency, received, currency),
		kind:    ErrTariffMismatch,
	}
}
