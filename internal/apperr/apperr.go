// Package apperr defines the error taxonomy shared by the realtime gateway and
// the REST surface. Business-rule failures are classified into a small set of
// kinds; everything else is treated as an internal failure.
package apperr

import (
	"errors"
	"net/http"
)

// Kind sentinels. Wrap them with fmt.Errorf("...: %w", apperr.ErrForbidden) or
// use New to attach a user-visible message.
var (
	ErrUnauthenticated = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
)

// internalMessage is what clients see for failures that are not business-rule
// errors (persistence unavailable, encoding failures, ...).
const internalMessage = "internal error"

// Error is a classified error carrying a message that is safe to show users.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

// Unwrap exposes the kind so errors.Is(err, ErrForbidden) works.
func (e *Error) Unwrap() error { return e.Kind }

// New returns an error of the given kind with a user-visible message.
func New(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}

// KindOf returns the sentinel kind of err, or nil for unclassified errors.
func KindOf(err error) error {
	for _, kind := range []error{ErrUnauthenticated, ErrForbidden, ErrInvalidRequest, ErrNotFound, ErrConflict} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// HTTPStatus maps err to the REST status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case ErrUnauthenticated:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-visible text for err. Unclassified errors never
// leak their details.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if kind := KindOf(err); kind != nil {
		return kind.Error()
	}
	return internalMessage
}
