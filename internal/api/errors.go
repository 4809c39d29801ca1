package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/parley/internal/inference"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// classify maps a session error to an HTTP status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, inference.ErrEmptyPrompt):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, inference.ErrContextOverflow):
		return http.StatusRequestEntityTooLarge, "context_length_exceeded"
	case errors.Is(err, inference.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable_error"
	case errors.Is(err, inference.ErrSessionBroken), errors.Is(err, inference.ErrRuntimeFault):
		return http.StatusInternalServerError, "runtime_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
