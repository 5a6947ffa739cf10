// Package errors classifies the core's failures into the closed set of
// kinds spec'd for propagation policy: InputValidation, BoundedCapacity,
// DurabilityFailure, IntegrityFailure, NotFound, Transient, and Fatal.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors identifying each kind. Wrap a cause with Wrap to attach
// one of these; test membership with Is or recover it with Kind.
var (
	ErrInputValidation   = errors.New("input validation")
	ErrBoundedCapacity   = errors.New("bounded capacity exceeded")
	ErrDurabilityFailure = errors.New("durability failure")
	ErrIntegrityFailure  = errors.New("integrity failure")
	ErrNotFound          = errors.New("not found")
	ErrTransient         = errors.New("transient failure")
	ErrFatal             = errors.New("fatal subsystem error")
)

// kindError pairs a sentinel kind with a message and optional cause so
// both errors.Is(err, ErrX) and %w-unwrapping to the cause work.
type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *kindError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.kind, e.cause}
	}
	return []error{e.kind}
}

// Wrap produces an error that is errors.Is to kind and, if cause is
// non-nil, wraps cause as well.
func Wrap(kind error, msg string, cause error) error {
	return &kindError{kind: kind, msg: msg, cause: cause}
}

// Is reports whether err carries the given kind.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}

// Kind returns whichever of the package's sentinel kinds err carries, or
// nil if it carries none of them.
func Kind(err error) error {
	for _, kind := range []error{
		ErrInputValidation,
		ErrBoundedCapacity,
		ErrDurabilityFailure,
		ErrIntegrityFailure,
		ErrNotFound,
		ErrTransient,
		ErrFatal,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
