package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every component.
var (
	// ErrConnectivity is returned when a ledger endpoint cannot be reached.
	ErrConnectivity = errors.New("connectivity error")

	// ErrSimulationFailed marks a dry-run that reports the transaction would fail.
	// It is carried inside results, never returned as a service error.
	ErrSimulationFailed = errors.New("simulation failed")

	// ErrValidation is returned for malformed input. Not retried.
	ErrValidation = errors.New("validation error")

	// ErrTimeout is returned when confirmation or an RPC exceeds its deadline.
	ErrTimeout = errors.New("timeout")
)

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Connectivity wraps err as ErrConnectivity, keeping the cause in the chain.
func Connectivity(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrConnectivity, op, err)
}
