package pipeline

import "fmt"

// SessionUnavailableError wraps the session-creation failure. Upload tasks
// that short-circuit on a failed readiness gate carry this error's message
// verbatim as their failure reason, which is what lets the reconciler
// collapse N identical failures into one diagnostic.
type SessionUnavailableError struct {
	Err error
}

func (e *SessionUnavailableError) Error() string {
	return fmt.Sprintf("session could not be created: %v", e.Err)
}

func (e *SessionUnavailableError) Unwrap() error { return e.Err }
