// Package fault defines the error taxonomy shared by the device runtime.
//
// Errors carry a Kind so that callers at a boundary (admin routes, the command
// line, a future IPC layer) can react to the class of failure without string
// matching. The underlying cause is kept and reachable through errors.Unwrap.
package fault

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// IO covers transport read, write, flush and availability failures.
	IO Kind = iota + 1
	// Config covers malformed device configuration.
	Config
	// UnknownResource covers unknown manager sorts, handles and projects.
	UnknownResource
	// Delivery covers failed event sends.
	Delivery
	// Serialization covers malformed payloads.
	Serialization
)

func (k Kind) String() string {
	switch k {
	case IO:
		return "io"
	case Config:
		return "invalid_config"
	case UnknownResource:
		return "unknown_resource"
	case Delivery:
		return "delivery"
	case Serialization:
		return "serialization"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New returns an Error of the given kind with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// MarshalJSON renders the error the way it crosses a process boundary.
func (e *Error) MarshalJSON() ([]byte, error) {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	return json.Marshal(struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}{e.Kind.String(), msg})
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsKind reports whether err's chain holds an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
