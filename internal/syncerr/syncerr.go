package syncerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into one of the service's failure categories. The
// kind decides HTTP status at the edge and retryability in the queue runtime.
type Kind string

const (
	// KindConfig: invalid or missing configuration; fatal at startup.
	KindConfig Kind = "CONFIG"
	// KindAuthorization: the caller does not own the referenced resource.
	KindAuthorization Kind = "AUTHORIZATION"
	// KindNotFound: the referenced resource does not exist.
	KindNotFound Kind = "NOT_FOUND"
	// KindSignature: webhook signature verification failed.
	KindSignature Kind = "SIGNATURE"
	// KindPlatformAuth: the platform rejected our credentials (401/403).
	KindPlatformAuth Kind = "PLATFORM_AUTH"
	// KindPlatformTransient: timeouts, 429s, 5xx; retryable.
	KindPlatformTransient Kind = "PLATFORM_TRANSIENT"
	// KindPlatformUser: the platform rejected the request payload (422);
	// not retryable, surfaced to the user.
	KindPlatformUser Kind = "PLATFORM_USER"
	// KindMappingMissing: an operation needs a mapping that does not exist.
	KindMappingMissing Kind = "MAPPING_MISSING"
	// KindInternal: everything else.
	KindInternal Kind = "INTERNAL"
)

// Error carries a kind plus an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error without losing the chain.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, walking the wrap chain; unclassified errors
// report KindInternal.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// Is lets errors.Is match on kind sentinels created with New(kind, "").
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

// Retryable reports whether the queue runtime should retry a job that failed
// with err. Only transient platform failures and unclassified internals retry;
// user-caused and auth failures never do.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindPlatformTransient, KindInternal:
		return true
	default:
		return false
	}
}

// FromStatusCode classifies a platform HTTP response status.
func FromStatusCode(status int, body string) *Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return New(KindPlatformAuth, "platform rejected credentials (status %d): %s", status, body)
	case status == http.StatusNotFound:
		return New(KindNotFound, "platform resource not found: %s", body)
	case status == http.StatusUnprocessableEntity || status == http.StatusBadRequest:
		return New(KindPlatformUser, "platform rejected request (status %d): %s", status, body)
	case status == http.StatusTooManyRequests || status >= 500:
		return New(KindPlatformTransient, "platform transient failure (status %d): %s", status, body)
	default:
		return New(KindInternal, "unexpected platform status %d: %s", status, body)
	}
}

// HTTPStatus maps a kind to the status the API surface should return.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindSignature:
		return http.StatusUnauthorized
	case KindPlatformUser, KindMappingMissing:
		return http.StatusUnprocessableEntity
	case KindConfig:
		return http.StatusInternalServerError
	case KindPlatformAuth:
		return http.StatusBadGateway
	case KindPlatformTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
