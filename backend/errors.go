// ABOUTME: Error taxonomy for backend calls: transport failures versus structured backend rejections.
// ABOUTME: TransportError matches ErrUnavailable via errors.Is; RejectedError carries the backend's own message.
package backend

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks any failure to get a usable answer from the backend:
// connection errors, dropped streams, and non-success statuses on read calls.
var ErrUnavailable = errors.New("backend unavailable")

// TransportError is a connection-level failure. Callers surface it with a
// generic connectivity message, never verbatim.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	if e.Cause == nil {
		return e.Op + ": transport failure"
	}
	return e.Op + ": " + e.Cause.Error()
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrUnavailable) match any TransportError.
func (e *TransportError) Is(target error) bool { return target == ErrUnavailable }

// RejectedError is a structured error returned by the backend itself. The
// Message is shown to the operator as-is.
type RejectedError struct {
	Op      string
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: backend rejected request (status %d): %s", e.Op, e.Status, e.Message)
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// AsRejected extracts a RejectedError from err.
func AsRejected(err error) (*RejectedError, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
