package types

import "errors"

// Error classes. Every package-level sentinel in the engine wraps exactly one
// of these so callers can branch on the class with errors.Is.
var (
	// ErrUnauthorized: caller is not the operator, owner, an authorized
	// caller, the arbitrator or a dispute party.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPrecondition: wrong status, window not open or already closed.
	ErrPrecondition = errors.New("precondition failed")

	// ErrInvalidValue: zero amounts, insufficient bonds or fees, bad percentages.
	ErrInvalidValue = errors.New("invalid value")

	// ErrIntegrity: bad signatures, duplicate ids, mismatched identities.
	ErrIntegrity = errors.New("integrity violation")

	// ErrInvalidTransition is returned by the status transition tables.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// classError ties a package sentinel to its error class.
type classError struct {
	class error
	msg   string
}

func (e *classError) Error() string { return e.msg }

func (e *classError) Unwrap() error { return e.class }

// NewError returns a sentinel error that matches class under errors.Is.
func NewError(class error, msg string) error {
	return &classError{class: class, msg: msg}
}
