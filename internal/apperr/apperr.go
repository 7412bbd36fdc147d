// Package apperr defines the error kinds surfaced by the delivery core.
//
// Every service returns one of these (possibly wrapped with fmt.Errorf %w).
// The HTTP layer maps a kind to a status code with HTTPStatus; anything that
// is not an *Error, *InsufficientStockError or *ExternalEndpointError is
// treated as an internal failure.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindInsufficientStock
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindExternal:
		return "external_endpoint"
	default:
		return "internal"
	}
}

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrExternalEndpoint  = errors.New("external endpoint error")
)

// Error is a validation, not-found or conflict failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (cause: %v)", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the sentinel for the kind so errors.Is works against it.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindValidation:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	default:
		return e.Cause
	}
}

// Validation reports bad or missing input.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an unknown entity.
func NotFound(entity string, id any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %v not found", entity, id)}
}

// Conflict reports an operation that is not allowed in the current state.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError is returned when a reservation cannot be satisfied.
// Available counts committed free bags, including any a concurrent
// reservation holds but has not yet committed.
type InsufficientStockError struct {
	BloodType string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.BloodType, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// ExternalEndpointError is a failed call to a drone's control surface.
type ExternalEndpointError struct {
	DroneID       int64
	Operation     string
	StatusCode    int // 0 when no HTTP response was received
	NotConfigured bool
	Message       string
	Cause         error
}

func (e *ExternalEndpointError) Error() string {
	msg := fmt.Sprintf("drone %d %s: %s", e.DroneID, e.Operation, e.Message)
	if e.Cause != nil {
		msg += fmt.Sprintf(" (cause: %v)", e.Cause)
	}
	return msg
}

func (e *ExternalEndpointError) Unwrap() error { return ErrExternalEndpoint }

// KindOf returns the kind of err, walking wrapped errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) {
		return KindInsufficientStock
	}
	var extErr *ExternalEndpointError
	if errors.As(err, &extErr) {
		return KindExternal
	}
	return KindInternal
}

// HTTPStatus maps err to the status code returned by the REST surface.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindInsufficientStock:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindExternal:
		var extErr *ExternalEndpointError
		if errors.As(err, &extErr) && extErr.NotConfigured {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
