package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure for callers and for the HTTP surface.
type ErrorKind string

const (
	KindMalformedInput    ErrorKind = "MALFORMED_INPUT"
	KindInvalidParameter  ErrorKind = "INVALID_PARAMETER"
	KindUnsupportedFormat ErrorKind = "UNSUPPORTED_FORMAT"
	KindAuthFailed        ErrorKind = "AUTH_FAILED"
	KindRemoteFailure     ErrorKind = "REMOTE_FAILURE"
	KindTimeout           ErrorKind = "TIMEOUT"
	KindInternal          ErrorKind = "INTERNAL"
)

// HTTPStatus maps the kind onto the status class returned to clients.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindMalformedInput, KindInvalidParameter, KindUnsupportedFormat:
		return http.StatusBadRequest
	case KindAuthFailed:
		return http.StatusUnauthorized
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindRemoteFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is the typed error surfaced by the codec, the orchestrator and the pipeline.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind. A nil err produces a generic message.
func NewError(kind ErrorKind, op string, err error) *Error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a typed error from a format string.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
