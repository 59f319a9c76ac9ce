package dataset

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures reported in a Response.
type ErrorKind string

const (
	KindTransport     ErrorKind = "transport"
	KindAuth          ErrorKind = "authentication"
	KindNotFound      ErrorKind = "not_found"
	KindAlreadyExists ErrorKind = "already_exists"
	KindInvalid       ErrorKind = "invalid_request"
	KindApplication   ErrorKind = "application"
	KindResponseShape ErrorKind = "response_shape"
)

// ErrUnsupportedEngine is returned when a configuration names an engine
// that is not in the supported set.
var ErrUnsupportedEngine = errors.New("unsupported engine")

// Error is the vendor-neutral error produced by every engine.
type Error struct {
	Kind    ErrorKind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an *Error without an underlying cause.
func NewError(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Errorf builds an *Error with a formatted message. A %w verb is honoured.
func Errorf(kind ErrorKind, op, format string, args ...interface{}) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Op: op, Message: err.Error(), Err: errors.Unwrap(err)}
}

// KindOf returns the ErrorKind carried by err, or KindApplication for
// errors that did not originate from an engine.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, ErrUnsupportedEngine) {
		return KindInvalid
	}
	return KindApplication
}

// IsNotFound reports whether err describes a missing remote object.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsAlreadyExists reports whether err describes a create conflict.
func IsAlreadyExists(err error) bool {
	return KindOf(err) == KindAlreadyExists
}
