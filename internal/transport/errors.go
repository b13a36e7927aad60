package transport

import (
	"errors"
	"fmt"
)

// NetworkError wraps a connection-level failure. Always retryable.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError wraps a per-attempt deadline hit. Retryable; the timed-out
// attempt still counts toward the retry budget.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout: %v", e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response. 5xx and (configurably) 429 are
// transient; any other 4xx signals a client-side contract defect and is
// never retried.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// SerializationError covers request encoding and response decoding
// failures. Terminal: resending the same bytes cannot help.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string { return fmt.Sprintf("serialization error: %v", e.Err) }
func (e *SerializationError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a terminal contract failure that no
// amount of retrying can fix.
func IsPermanent(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 400 && se.Code < 500 && se.Code != 429
	}
	var ser *SerializationError
	return errors.As(err, &ser)
}
