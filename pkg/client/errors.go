package client

import (
	"errors"
	"fmt"
)

// RemoteError is returned when the backend answered with an error field.
type RemoteError struct {
	Control string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s rejected by backend: %s", e.Control, e.Message)
}

// AsRemote checks if an error is a RemoteError and returns it.
func AsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// TransportError is returned when a request could not be completed or its
// response could not be parsed.
type TransportError struct {
	Control string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Control, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AsTransport checks if an error is a TransportError and returns it.
func AsTransport(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
