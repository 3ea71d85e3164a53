// Package fault classifies errors into the categories every context agrees on,
// so a failure can cross the message protocol and still be acted upon.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the class of a failure.
type Kind string

const (
	// Permission errors are terminal for the attempt; the user must grant access.
	Permission Kind = "permission"
	// Availability errors cover missing devices, unreachable backends and unloaded models.
	Availability Kind = "availability"
	// Configuration errors are never silently defaulted.
	Configuration Kind = "configuration"
	// Transport errors mean a message was not answered.
	Transport Kind = "transport"
	// Degraded results are reported but never fail the pipeline.
	Degraded Kind = "degraded"
	// Internal is used for anything that could not be classified more precisely.
	Internal Kind = "internal"
)

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with a formatted message.
func New(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of the outermost classified error in err's chain,
// or Internal when none is present.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// Classify guarantees the returned error carries a kind. Already classified
// errors pass through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: Internal, Op: op, Err: err}
}

// ParseKind maps a wire value back to a Kind. Unknown values become Internal.
func ParseKind(s string) Kind {
	switch k := Kind(s); k {
	case Permission, Availability, Configuration, Transport, Degraded, Internal:
		return k
	default:
		return Internal
	}
}
