// Package errs is the error taxonomy shared by the gateway packages.
//
// Every component returns *errs.Error for failures the HTTP caller should
// see. The HTTP layer turns them into a status code and a JSON message with
// StatusOf and MessageOf; anything else becomes a 500.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind categorises a failure independently of the component that raised it.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthMissing
	KindAuthInvalid
	KindForbidden
	KindNotFound
	KindTooLarge
	KindInvalidInput
	KindUpstream
	KindTransport
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindAuthMissing:
		return "authentication_missing"
	case KindAuthInvalid:
		return "authentication_invalid"
	case KindForbidden:
		return "authorization_denied"
	case KindNotFound:
		return "not_found"
	case KindTooLarge:
		return "payload_too_large"
	case KindInvalidInput:
		return "invalid_input"
	case KindUpstream:
		return "upstream_error"
	case KindTransport:
		return "transport_error"
	case KindConfig:
		return "configuration_error"
	default:
		return "unknown"
	}
}

// Status is the HTTP status a kind maps to when the error carries none.
func (k Kind) Status() int {
	switch k {
	case KindAuthMissing, KindAuthInvalid:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUpstream:
		return http.StatusBadGateway
	case KindConfig:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the single error type surfaced to HTTP callers.
type Error struct {
	Kind    Kind
	Status  int    // 0 means Kind.Status()
	Message string // human readable, safe to show the caller
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the explicit status or the kind default.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return e.Kind.Status()
}

// New creates an *Error without a cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error that keeps cause for logging.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// FromStatus classifies a non-2xx upstream response. The status and message
// are kept verbatim so callers see what GitHub said.
func FromStatus(status int, msg string) *Error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	kind := KindUpstream
	switch status {
	case http.StatusUnauthorized:
		kind = KindAuthInvalid
	case http.StatusNotFound:
		kind = KindNotFound
	}
	return &Error{Kind: kind, Status: status, Message: msg}
}

// Transport wraps a network failure talking to the upstream API.
func Transport(cause error) *Error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return &Error{Kind: KindTransport, Message: "upstream request timed out", Cause: cause}
	}
	return &Error{Kind: KindTransport, Message: cause.Error(), Cause: cause}
}

// AuthMissing is returned when a request carries no usable credential.
func AuthMissing() *Error {
	return New(KindAuthMissing, "authentication required: send an 'Authorization: Bearer <token>' header or log in with GitHub")
}

// StatusOf returns the HTTP status for any error.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

// MessageOf returns the caller-facing message for any error.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsNotFound reports whether err is a NotFound failure.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsForbidden reports whether err is an access policy denial.
func IsForbidden(err error) bool { return KindOf(err) == KindForbidden }

// IsAuthMissing reports whether the request had no credential.
func IsAuthMissing(err error) bool { return KindOf(err) == KindAuthMissing }

// IsTransport reports whether err is a network failure.
func IsTransport(err error) bool { return KindOf(err) == KindTransport }

// KindOf extracts the Kind from any error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
