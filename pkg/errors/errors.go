package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies where a query failed.
type Kind int

const (
	KindInternal Kind = iota
	KindParse
	KindConnection
	KindCommand
	KindShape
	KindTimeout
	KindUnsupported
	KindCanceled
)

// StatusClientClosedRequest is returned when the caller gave up on a query.
const StatusClientClosedRequest = 499

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindConnection:
		return "connection"
	case KindCommand:
		return "command"
	case KindShape:
		return "shape"
	case KindTimeout:
		return "timeout"
	case KindUnsupported:
		return "unsupported"
	case KindCanceled:
		return "canceled"
	default:
		return "internal"
	}
}

// Error is the error type crossing the query engine boundary.
// Line is the 1-based query line for parse errors, 0 otherwise.
type Error struct {
	Kind    Kind
	Line    int
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Message == "" {
			return e.Err.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error
func New(kind Kind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Parse creates a parse error for the given 1-based line (0 when not line specific).
func Parse(line int, message string) *Error {
	e := New(KindParse, message, nil)
	e.Line = line
	return e
}

// Connection wraps a store connection failure.
func Connection(err error) *Error {
	return New(KindConnection, "", err)
}

// Command wraps an error reply the store returned for one command.
func Command(name string, err error) *Error {
	return New(KindCommand, name, err)
}

// Shape reports a reply that does not match the shape expected for its command kind.
func Shape(command, format string, args ...any) *Error {
	return New(KindShape, fmt.Sprintf("unexpected reply for %s: %s", command, fmt.Sprintf(format, args...)), nil)
}

// Timeout wraps a deadline or cancellation error.
func Timeout(err error) *Error {
	return New(KindTimeout, "query timed out", err)
}

// Canceled wraps a cancellation by the caller.
func Canceled(err error) *Error {
	return New(KindCanceled, "query canceled", err)
}

// Interrupted classifies err, raised while ctx was done, as Canceled when the
// caller cancelled ctx and as Timeout otherwise.
func Interrupted(ctx context.Context, err error) *Error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return Canceled(err)
	}
	return Timeout(err)
}

// Unsupported creates an error for a request the engine does not serve.
func Unsupported(message string) *Error {
	return New(KindUnsupported, message, nil)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if e, ok := From(err); ok {
		return e.Kind
	}
	return KindInternal
}

// From returns the first *Error in err's chain.
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error to the status code the HTTP layer replies with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindParse, KindUnsupported:
		return http.StatusBadRequest
	case KindConnection, KindCommand:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}
