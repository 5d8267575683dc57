package recognition

import (
	"errors"
	"fmt"
)

// Recognition failures
var (
	// ErrEngineUnavailable is returned when the OCR engine cannot be created or
	// initialized, e.g. missing credentials, models or network access.
	ErrEngineUnavailable = errors.New("OCR engine unavailable")

	// ErrRecognitionFailed is returned when the engine fails on a bitmap
	ErrRecognitionFailed = errors.New("text recognition failed")

	// ErrCancelled is returned when recognition is aborted by the caller.
	// It is an expected outcome, not a failure to report.
	ErrCancelled = errors.New("recognition cancelled")

	// ErrBusy is returned when a recognition is already in flight on the
	// same Recognizer
	ErrBusy = errors.New("recognizer busy")
)

// Error wraps recognition errors with the operation that failed
type Error struct {
	// Op is the operation that failed (e.g., "Initialize", "Recognize")
	Op string

	// Err is the underlying error
	Err error

	// Details provides additional context about the failure
	Details string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("recognition: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("recognition: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// newError joins a sentinel with its cause so errors.Is matches both
func newError(op string, sentinel, cause error, details string) *Error {
	err := sentinel
	if cause != nil && !errors.Is(cause, sentinel) {
		err = fmt.Errorf("%w: %w", sentinel, cause)
	}
	return &Error{Op: op, Err: err, Details: details}
}
