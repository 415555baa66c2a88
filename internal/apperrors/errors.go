package apperrors

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ValidationError indicates a malformed or incomplete request. Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// SignatureMismatchError indicates a claimed payment failed authenticity
// verification. Fatal to the checkout; no order is created.
type SignatureMismatchError struct {
	GatewayOrderID string
}

func (e *SignatureMismatchError) Error() string {
	return fmt.Sprintf("payment signature mismatch for gateway order %s", e.GatewayOrderID)
}

// ConflictError indicates the request is valid but the order's current state
// forbids it (e.g. cancelling a shipped order).
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// Conflictf builds a ConflictError from a format string.
func Conflictf(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError indicates the referenced resource does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ExternalServiceError indicates a call to the payment gateway or the shipping
// carrier failed. Never fatal to the enclosing local operation; surfaced as a
// flag in the response rather than an HTTP error.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s call failed: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// External wraps err as an ExternalServiceError.
func External(service string, err error) error {
	return &ExternalServiceError{Service: service, Err: err}
}

// PersistenceError indicates a local store write failed. The one class that
// maps to a 5xx, since the caller cannot safely assume success.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError.
func Persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// HTTPStatus maps an error to the status code the handlers should respond
// with. Unknown errors map to 500.
func HTTPStatus(err error) int {
	var (
		validation  *ValidationError
		signature   *SignatureMismatchError
		conflict    *ConflictError
		notFound    *NotFoundError
		external    *ExternalServiceError
		persistence *PersistenceError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &signature):
		return fiber.StatusBadRequest
	case errors.As(err, &conflict):
		return fiber.StatusConflict
	case errors.As(err, &notFound):
		return fiber.StatusNotFound
	case errors.As(err, &persistence):
		return fiber.StatusInternalServerError
	case errors.As(err, &external):
		// External failures are absorbed by the services; one leaking this
		// far (e.g. payment intent creation) is a server-side failure.
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusInternalServerError
	}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
