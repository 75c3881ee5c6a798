package utils

import (
	"errors"
	"net/http"
)

// StatusError is a custom error type that includes a status code.
type StatusError struct {
	error
	status int
}

// Status returns the status code of the error.
func (se StatusError) Status() int {
	return se.status
}

// Unwrap returns the wrapped error.
func (se StatusError) Unwrap() error {
	return se.error
}

// NewStatusError creates a new StatusError.
func NewStatusError(err error, s int) error {
	return StatusError{error: err, status: s}
}

// StatusOf returns the status code carried by err, or 500 when err carries none.
func StatusOf(err error) int {
	var se StatusError
	if errors.As(err, &se) {
		return se.Status()
	}
	return http.StatusInternalServerError
}
