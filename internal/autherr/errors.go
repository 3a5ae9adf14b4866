// Package autherr defines the error kinds returned across the authentication
// core. Every kind maps to one HTTP status and one wire code.
package autherr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes an authentication failure.
type Kind string

const (
	KindInvalidCredentials         Kind = "INVALID_CREDENTIALS"
	KindTokenExpired               Kind = "TOKEN_EXPIRED"
	KindInvalidSignature           Kind = "INVALID_SIGNATURE"
	KindRevoked                    Kind = "REVOKED"
	KindStateExpired               Kind = "STATE_EXPIRED"
	KindStateMalformed             Kind = "STATE_MALFORMED"
	KindStateReplayed              Kind = "STATE_REPLAYED"
	KindProviderNotFound           Kind = "PROVIDER_NOT_FOUND"
	KindProviderDisabled           Kind = "PROVIDER_DISABLED"
	KindClaimsMissing              Kind = "CLAIMS_MISSING"
	KindMalformedClaims            Kind = "MALFORMED_CLAIMS"
	KindKeyNotFound                Kind = "KEY_NOT_FOUND"
	KindUnsupportedGrant           Kind = "UNSUPPORTED_GRANT"
	KindAlreadyBound               Kind = "ALREADY_BOUND"
	KindLastAuthMethod             Kind = "LAST_AUTH_METHOD"
	KindExternalServiceUnavailable Kind = "EXTERNAL_SERVICE_UNAVAILABLE"
	KindAccountPending             Kind = "ACCOUNT_PENDING"
	KindForbidden                  Kind = "FORBIDDEN"
	KindNotFound                   Kind = "NOT_FOUND"
	KindConflict                   Kind = "CONFLICT"
	KindInvalidRequest             Kind = "INVALID_REQUEST"
	KindInternal                   Kind = "INTERNAL"
)

var kindToHTTPStatus = map[Kind]int{
	KindInvalidCredentials:         http.StatusUnauthorized,
	KindTokenExpired:               http.StatusUnauthorized,
	KindInvalidSignature:           http.StatusUnauthorized,
	KindRevoked:                    http.StatusUnauthorized,
	KindStateExpired:               http.StatusBadRequest,
	KindStateMalformed:             http.StatusBadRequest,
	KindStateReplayed:              http.StatusBadRequest,
	KindProviderNotFound:           http.StatusNotFound,
	KindProviderDisabled:           http.StatusBadRequest,
	KindClaimsMissing:              http.StatusBadRequest,
	KindMalformedClaims:            http.StatusBadRequest,
	KindKeyNotFound:                http.StatusUnauthorized,
	KindUnsupportedGrant:           http.StatusBadRequest,
	KindAlreadyBound:               http.StatusConflict,
	KindLastAuthMethod:             http.StatusConflict,
	KindExternalServiceUnavailable: http.StatusBadGateway,
	KindAccountPending:             http.StatusForbidden,
	KindForbidden:                  http.StatusForbidden,
	KindNotFound:                   http.StatusNotFound,
	KindConflict:                   http.StatusConflict,
	KindInvalidRequest:             http.StatusBadRequest,
	KindInternal:                   http.StatusInternalServerError,
}

// Sentinels for errors.Is matching. Matching compares kinds only.
var (
	ErrInvalidCredentials         = &Error{Kind: KindInvalidCredentials}
	ErrTokenExpired               = &Error{Kind: KindTokenExpired}
	ErrInvalidSignature           = &Error{Kind: KindInvalidSignature}
	ErrRevoked                    = &Error{Kind: KindRevoked}
	ErrStateExpired               = &Error{Kind: KindStateExpired}
	ErrStateMalformed             = &Error{Kind: KindStateMalformed}
	ErrStateReplayed              = &Error{Kind: KindStateReplayed}
	ErrProviderNotFound           = &Error{Kind: KindProviderNotFound}
	ErrProviderDisabled           = &Error{Kind: KindProviderDisabled}
	ErrClaimsMissing              = &Error{Kind: KindClaimsMissing}
	ErrMalformedClaims            = &Error{Kind: KindMalformedClaims}
	ErrKeyNotFound                = &Error{Kind: KindKeyNotFound}
	ErrUnsupportedGrant           = &Error{Kind: KindUnsupportedGrant}
	ErrAlreadyBound               = &Error{Kind: KindAlreadyBound}
	ErrLastAuthMethod             = &Error{Kind: KindLastAuthMethod}
	ErrExternalServiceUnavailable = &Error{Kind: KindExternalServiceUnavailable}
	ErrAccountPending             = &Error{Kind: KindAccountPending}
	ErrForbidden                  = &Error{Kind: KindForbidden}
	ErrNotFound                   = &Error{Kind: KindNotFound}
	ErrConflict                   = &Error{Kind: KindConflict}
	ErrInvalidRequest             = &Error{Kind: KindInvalidRequest}
	ErrInternal                   = &Error{Kind: KindInternal}
)

// Error is an authentication error of a known kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// HTTPStatus returns the status code for this error's kind.
func (e *Error) HTTPStatus() int {
	return StatusFor(e.Kind)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// StatusFor maps a kind to an HTTP status code.
func StatusFor(kind Kind) int {
	if status, ok := kindToHTTPStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the message safe to show to a client. Internal errors
// never expose their cause.
func PublicMessage(err error) string {
	var ae *Error
	if !errors.As(err, &ae) || ae.Kind == KindInternal {
		return "An unexpected error occurred"
	}
	if ae.Message != "" {
		return ae.Message
	}
	return string(ae.Kind)
}
