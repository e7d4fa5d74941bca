package ca

import (
	"errors"
	"fmt"
)

// CAError represents a certificate authority operation error with
// structured context.
type CAError struct {
	Op     string // Operation that failed
	Serial string // Certificate serial in canonical hex, when known
	Err    error  // Underlying error
}

// Error implements the error interface.
func (e *CAError) Error() string {
	if e.Serial != "" {
		return fmt.Sprintf("ca %s [%s]: %v", e.Op, e.Serial, e.Err)
	}
	return fmt.Sprintf("ca %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *CAError) Unwrap() error { return e.Err }

// NewCAError creates a new CAError with the given operation and error.
func NewCAError(op string, err error) *CAError {
	return &CAError{Op: op, Err: err}
}

// NewCAErrorWithSerial creates a new CAError with operation, serial, and error.
func NewCAErrorWithSerial(op, serial string, err error) *CAError {
	return &CAError{Op: op, Serial: serial, Err: err}
}

// Common CA errors.
var (
	// ErrInvalidArgument indicates a caller mistake: missing certificate,
	// missing CSR, or otherwise unusable inputs.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrValidation indicates malformed data discovered while processing,
	// an unparsable CSR or a corrupt stored record.
	ErrValidation = errors.New("validation failed")

	// ErrNotSupported indicates a request outside the CA's capabilities,
	// such as signing with a certificate that is not a CA.
	ErrNotSupported = errors.New("operation not supported")

	// ErrPathLengthViolation indicates issuing the requested CA
	// certificate would exceed the issuer's path length constraint.
	ErrPathLengthViolation = errors.New("path length constraint violated")
)
