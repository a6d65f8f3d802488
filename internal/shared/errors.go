package shared

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// Service errors
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// Kind classifies failures surfaced by the store and the remote transports so callers can
// decide whether to retry, re-authenticate or give up.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindUnauthorized
	KindServer
	KindNetwork
	KindDecoding
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindServer:
		return "server_error"
	case KindNetwork:
		return "network_error"
	case KindDecoding:
		return "decoding_error"
	default:
		return "unknown"
	}
}

// Error carries a [Kind] plus the operation that failed.
//
// Code is the remote status code and is only meaningful for [KindServer].
type Error struct {
	Kind Kind
	Op   string
	Code int
	Err  error
}

// Sentinels for matching with [errors.Is]; only Kind (and Code, when non-zero) is compared.
var (
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrServer       = &Error{Kind: KindServer}
	ErrNetwork      = &Error{Kind: KindNetwork}
	ErrDecoding     = &Error{Kind: KindDecoding}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Kind == KindServer && e.Code != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Code)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind && (t.Code == 0 || t.Code == e.Code)
}

// NewError wraps err with a kind and operation name.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFoundError reports that op referenced an unknown entity.
func NotFoundError(op, what string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Err: errors.New(what)}
}

// ServerError reports a non-success status returned by a remote service.
func ServerError(op string, code int, err error) *Error {
	return &Error{Kind: KindServer, Op: op, Code: code, Err: err}
}

// KindOf classifies err, returning [KindUnknown] for errors without a [Kind].
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
