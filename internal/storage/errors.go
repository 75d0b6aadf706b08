package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mrlokans/skyferry/internal/entities"
)

// ErrorKind classifies provider failures into the semantic categories the
// retry policy keys off. Classification happens here, at the provider
// boundary, never by inspecting error message text downstream.
type ErrorKind string

const (
	// KindTransient covers network failures, rate limiting and provider
	// 5xx responses; retried with backoff.
	KindTransient ErrorKind = "transient"
	// KindAuth covers expired/revoked/missing credentials; not retryable,
	// the user has to reconnect the account.
	KindAuth ErrorKind = "auth"
	// KindNotFound covers missing files and folders; not retryable.
	KindNotFound ErrorKind = "not_found"
	// KindInvalidInput covers disallowed names, unsupported file types and
	// malformed requests; not retryable.
	KindInvalidInput ErrorKind = "invalid_input"
	// KindQuotaExceeded covers storage-full and quota errors; retrying
	// immediately cannot help.
	KindQuotaExceeded ErrorKind = "quota_exceeded"
)

// Error is the typed provider error every adapter returns.
type Error struct {
	Kind     ErrorKind
	Provider entities.ProviderName
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a classification at the provider boundary.
func NewError(kind ErrorKind, provider entities.ProviderName, op string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Err: err}
}

// KindOf extracts the classification from an error chain. Unclassified
// errors are treated as transient so they get retried up to the attempt cap
// rather than silently dropped.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// IsRetryable reports whether the worker should reschedule after err.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindAuth, KindNotFound, KindInvalidInput, KindQuotaExceeded:
		return false
	}
	return true
}

// KindFromStatus maps an HTTP status code to an ErrorKind. Shared by the
// HTTP-based provider adapters.
func KindFromStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusNotFound || code == http.StatusGone:
		return KindNotFound
	case code == http.StatusTooManyRequests:
		return KindTransient
	case code == http.StatusInsufficientStorage:
		return KindQuotaExceeded
	case code >= 500:
		return KindTransient
	case code >= 400:
		return KindInvalidInput
	}
	return KindTransient
}
