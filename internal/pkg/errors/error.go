package xerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared across the pipeline. Handlers translate these into
// HTTP statuses; everything unrecognised is a 500.
var (
	ErrMissingToken     = errors.New("missing token to validate")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidSession   = errors.New("error in token")
	ErrSessionNotFound  = errors.New("token does not exist")
	ErrInsufficientPerm = errors.New("Insuficient Permissions")
	ErrInvalidTable     = errors.New("invalid table")
	ErrInvalidID        = errors.New("invalid id")
	ErrInvalidRequest   = errors.New("Invalid Request")
	ErrNotFound         = errors.New("item not found")
	ErrConfiguration    = errors.New("configuration error")
	ErrStorage          = errors.New("storage error")
)

// Error is the uniform failure value carried through the pipeline: an
// HTTP-like status, a stable kind for programmatic checks, and a message
// safe to put in a response body.
type Error struct {
	Status  int
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

// New builds an Error from a sentinel kind and a message. A zero status
// defaults to 500.
func New(status int, kind error, message string) *Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if message == "" && kind != nil {
		message = kind.Error()
	}
	return &Error{Status: status, Kind: kind, Message: message}
}

// Forbidden is the 403 policy outcome used by the permission layers.
func Forbidden() *Error {
	return New(http.StatusForbidden, ErrInsufficientPerm, ErrInsufficientPerm.Error())
}

// NotFound is the 404 lookup outcome.
func NotFound() *Error {
	return New(http.StatusNotFound, ErrNotFound, ErrNotFound.Error())
}

// Internal wraps an arbitrary failure as a 500 carrying the raw message.
func Internal(err error) *Error {
	return New(http.StatusInternalServerError, ErrStorage, err.Error())
}

// From normalises any error into an *Error, preserving typed ones.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// Wrap adds context to an error (similar to fmt.Errorf("%w")).
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
