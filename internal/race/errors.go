package race

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks failures below the HTTP layer: dial, TLS, timeouts.
	ErrTransport = errors.New("transport failure")
	// ErrDecode marks a response body that could not be understood.
	ErrDecode = errors.New("decode failure")
)

// StatusError is returned by clients when the vendor answered with a
// non-success status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

func classify(err error) ErrorKind {
	var se *StatusError
	switch {
	case err == nil:
		return ErrorNone
	case errors.As(err, &se):
		return ErrorRejected
	case errors.Is(err, ErrDecode):
		return ErrorDecode
	default:
		return ErrorTransport
	}
}
