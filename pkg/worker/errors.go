package worker

import (
	"errors"
	"fmt"
)

var (
	// ErrKilled reports a call refused or abandoned because Kill was called.
	ErrKilled = errors.New("worker killed")

	ErrNilChannel = errors.New("worker has no channel")
)

// RequestError is a fault confined to a single request, such as a failed
// send. Channel-level errors are returned as delivered, never wrapped.
type RequestError struct {
	RequestID string
	Err       error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %s: %v", e.RequestID, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsRequestError reports whether err is confined to a single request.
func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}
