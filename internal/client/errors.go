package client

import (
	"errors"
)

// TransportError is a network or backend failure: the request could not be
// completed or the server answered with a non-200 status.
type TransportError struct {
	StatusCode int
	err        error
}

func (e *TransportError) Error() string {
	return e.err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.err
}

// NewTransportError wraps err as a transport failure. status is 0 when no
// HTTP response was received.
func NewTransportError(status int, err error) error {
	return &TransportError{StatusCode: status, err: err}
}

// ModelError is an explicit error reported by the backend inside a
// successful response.
type ModelError struct {
	Message string
}

func (e *ModelError) Error() string {
	return "model error: " + e.Message
}

// IsTransport returns true if err is a transport failure.
func IsTransport(err error) bool {
	var transport *TransportError
	return errors.As(err, &transport)
}

// IsModel returns true if err was reported by the model backend.
func IsModel(err error) bool {
	var model *ModelError
	return errors.As(err, &model)
}
