// Package otterrors defines the closed error-kind taxonomy raised by every
// layer of the execution core (spec.md §7).
package otterrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the closed set of error categories the core can raise.
type Kind int

const (
	Type Kind = iota
	Range
	Syntax
	Reference
	NotFound
	PortClosed
	BadHandle
	ResolveError
	CompileError
	Internal
)

func (k Kind) String() string {
	switch k {
	case Type:
		return "TypeError"
	case Range:
		return "RangeError"
	case Syntax:
		return "SyntaxError"
	case Reference:
		return "ReferenceError"
	case NotFound:
		return "NotFound"
	case PortClosed:
		return "PortClosed"
	case BadHandle:
		return "BadHandle"
	case ResolveError:
		return "ResolveError"
	case CompileError:
		return "CompileError"
	default:
		return "InternalError"
	}
}

// Error is the concrete error type raised across package boundaries. It
// carries a Kind so callers can switch on category without string matching,
// and wraps an underlying cause via errors.Wrap for stack context.
type Error struct {
	kind    Kind
	message string
	cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{kind: kind, message: message, cause: errors.Wrap(cause, message)}
}

func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.kind, e.cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target shares this error's Kind, so callers can use
// errors.Is(err, otterrors.New(otterrors.Type, "")) as a category match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.kind == e.kind
}

// ExportNotFound builds the linker's ExportNotFound{module, export} shape
// (spec.md §4.7 Failure modes).
func ExportNotFound(module, export string) *Error {
	return New(NotFound, fmt.Sprintf("export %q not found in module %q", export, module))
}
