package fiscal

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can map them onto transport codes.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindValidation
	KindConflict
	KindNotFound
	KindProvider
	KindTransport
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration_error"
	case KindValidation:
		return "validation_error"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindProvider:
		return "provider_error"
	case KindTransport:
		return "transport_error"
	case KindPersistence:
		return "persistence_error"
	default:
		return "internal_server_error"
	}
}

// Error is the error type returned by the fiscal pipeline. DocumentID is set
// once a local document row exists, so callers can still follow up on it.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	DocumentID uint
	// HTTPStatus is the provider status code for KindProvider.
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

// ValidationError builds a KindValidation error.
func ValidationError(op, msg string) *Error {
	return newError(KindValidation, op, msg, nil)
}

// ConfigurationError builds a KindConfiguration error.
func ConfigurationError(op, msg string) *Error {
	return newError(KindConfiguration, op, msg, nil)
}

// NotFoundError builds a KindNotFound error.
func NotFoundError(op, msg string) *Error {
	return newError(KindNotFound, op, msg, nil)
}

// PersistenceError wraps a storage failure.
func PersistenceError(op string, err error) *Error {
	return newError(KindPersistence, op, "failed to persist fiscal data", err)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// DocumentIDOf returns the document id carried by err, or 0.
func DocumentIDOf(err error) uint {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.DocumentID
	}
	return 0
}

// ProviderStatusOf returns the upstream HTTP status carried by a provider error.
func ProviderStatusOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.HTTPStatus
	}
	return 0
}
