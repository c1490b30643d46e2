package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies every failure the gateways and the session manager report.
type Kind int

const (
	Internal Kind = iota
	OriginRejected
	MalformedRequest
	InvalidCredentials
	UpstreamContractViolation
	RefreshFailed
	UpstreamUnavailable
	Unauthenticated
	TooManyAttempts
)

var kindNames = map[Kind]string{
	Internal:                  "internal_error",
	OriginRejected:            "origin_rejected",
	MalformedRequest:          "malformed_request",
	InvalidCredentials:        "invalid_credentials",
	UpstreamContractViolation: "upstream_contract_violation",
	RefreshFailed:             "refresh_failed",
	UpstreamUnavailable:       "upstream_unavailable",
	Unauthenticated:           "unauthenticated",
	TooManyAttempts:           "too_many_attempts",
}

var kindStatus = map[Kind]int{
	Internal:                  http.StatusInternalServerError,
	OriginRejected:            http.StatusForbidden,
	MalformedRequest:          http.StatusBadRequest,
	InvalidCredentials:        http.StatusUnauthorized,
	UpstreamContractViolation: http.StatusBadGateway,
	RefreshFailed:             http.StatusUnauthorized,
	UpstreamUnavailable:       http.StatusBadGateway,
	Unauthenticated:           http.StatusUnauthorized,
	TooManyAttempts:           http.StatusTooManyRequests,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a wire name such as "refresh_failed" back to its Kind.
// Unknown names are Internal.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return Internal
}

// Status is the default HTTP status for the kind.
func (k Kind) Status() int {
	if status, ok := kindStatus[k]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error is the typed failure returned by gateway handlers, the identity
// client and the session manager. Status overrides the kind's default status
// when an upstream status is relayed.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// HTTPStatus returns the relayed status if set, otherwise the kind's default.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return e.Kind.Status()
}

var (
	ErrOriginRejected            = &Error{Kind: OriginRejected}
	ErrMalformedRequest          = &Error{Kind: MalformedRequest}
	ErrInvalidCredentials        = &Error{Kind: InvalidCredentials}
	ErrUpstreamContractViolation = &Error{Kind: UpstreamContractViolation}
	ErrRefreshFailed             = &Error{Kind: RefreshFailed}
	ErrUpstreamUnavailable       = &Error{Kind: UpstreamUnavailable}
	ErrUnauthenticated           = &Error{Kind: Unauthenticated}
	ErrTooManyAttempts           = &Error{Kind: TooManyAttempts}
	ErrInternal                  = &Error{Kind: Internal}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WithStatus(kind Kind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message}
}

func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// StatusOf returns the HTTP status for err; non-typed errors map to 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// MessageOf returns the human readable message carried by err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return http.StatusText(StatusOf(err))
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
