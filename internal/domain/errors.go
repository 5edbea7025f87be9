package domain

import (
	"errors"
	"fmt"
)

// Failure kinds. Callers match them with errors.Is.
var (
	ErrValidation             = errors.New("validation error")
	ErrNotFound               = errors.New("not found")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrDependencyNotSatisfied = errors.New("dependency not satisfied")
	ErrCyclicDependency       = errors.New("cyclic dependency")
	ErrAlreadyAssigned        = errors.New("already assigned")
)

// Error is a typed engine failure carrying one of the kinds above.
type Error struct {
	Kind error
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

// Errorf builds an *Error of the given kind.
func Errorf(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the failure kind of err, or nil when err is not typed.
func KindOf(err error) error {
	for _, k := range []error{
		ErrValidation,
		ErrNotFound,
		ErrInvalidTransition,
		ErrDependencyNotSatisfied,
		ErrCyclicDependency,
		ErrAlreadyAssigned,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// KindCode is the wire name of a failure kind.
func KindCode(kind error) string {
	switch kind {
	case ErrValidation:
		return "validation_error"
	case ErrNotFound:
		return "not_found"
	case ErrInvalidTransition:
		return "invalid_transition"
	case ErrDependencyNotSatisfied:
		return "dependency_not_satisfied"
	case ErrCyclicDependency:
		return "cyclic_dependency"
	case ErrAlreadyAssigned:
		return "already_assigned"
	}
	return "internal_error"
}
