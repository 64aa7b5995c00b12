// Package apperr defines the error kinds shared by the chain client, the
// record store, the HTTP API and the reconciliation flow.
//
// Callers branch on the Kind of an error, never on its message. An *Error can
// wrap a lower level cause; KindOf walks the chain with errors.As.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindConflict         Kind = "conflict"
	KindUnauthorized     Kind = "unauthorized"
	KindNotFound         Kind = "not_found"
	KindChainRejected    Kind = "chain_rejected"
	KindChainUnavailable Kind = "chain_unavailable"
	KindStoreUnavailable Kind = "store_unavailable"
	KindRateLimited      Kind = "rate_limited"
	KindInternal         Kind = "internal"
)

// Error is a classified error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error

	// AlreadyExists marks a chain rejection whose reason says the desired
	// on-chain state is already in place (entity registered, certificate
	// revoked).
	AlreadyExists bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg == "" {
			return e.Err.Error()
		}
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind with a message prefix.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsAlreadyExists reports whether err is a chain rejection meaning the
// requested state already holds.
func IsAlreadyExists(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindChainRejected && e.AlreadyExists
}

// Retryable reports whether repeating the same call may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindChainUnavailable, KindStoreUnavailable, KindRateLimited:
		return true
	}
	return false
}

// HTTPStatus maps a kind to the status code the API answers with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindChainRejected:
		return http.StatusUnprocessableEntity
	case KindChainUnavailable, KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// FromStatus rebuilds an error received over HTTP. code is the "code" field
// of the response body and wins over the status when present.
func FromStatus(status int, code, msg string) *Error {
	kind := Kind(code)
	switch kind {
	case KindValidation, KindConflict, KindUnauthorized, KindNotFound,
		KindChainRejected, KindChainUnavailable, KindStoreUnavailable, KindRateLimited, KindInternal:
	default:
		switch status {
		case http.StatusBadRequest:
			kind = KindValidation
		case http.StatusConflict:
			kind = KindConflict
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = KindUnauthorized
		case http.StatusNotFound:
			kind = KindNotFound
		case http.StatusUnprocessableEntity:
			kind = KindChainRejected
		case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
			kind = KindStoreUnavailable
		case http.StatusTooManyRequests:
			kind = KindRateLimited
		default:
			kind = KindInternal
		}
	}
	return &Error{Kind: kind, Msg: msg}
}
