package marketplace

import (
	"errors"
	"fmt"
)

// TransientError marks a failure the caller may retry with the same call:
// network faults, timeouts and server-side errors.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// TerminalError marks a failure that must abort the current run: bad
// credentials or an exhausted quota. Retrying the same call cannot help.
type TerminalError struct {
	Op     string
	Status int
	Err    error
}

func (e *TerminalError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: terminal (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: terminal: %v", e.Op, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable at the call site.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsTerminal reports whether err must abort the current category or run.
func IsTerminal(err error) bool {
	var t *TerminalError
	return errors.As(err, &t)
}
