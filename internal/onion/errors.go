package onion

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEvents means the engine received an empty event sequence.
	ErrNoEvents = errors.New("no events")

	// ErrNoEntrances means no door was both classified and confirmed as an entrance.
	ErrNoEntrances = errors.New("no entrances configured")

	// ErrInternal stands in for an unexpected failure recovered at the pipeline boundary.
	ErrInternal = errors.New("internal error")
)

// ProcessingError is a fatal engine failure. Cause is one of the sentinels above.
type ProcessingError struct {
	Cause  error
	Detail string
}

func (e *ProcessingError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("processing failed: %v: %s", e.Cause, e.Detail)
	}
	return fmt.Sprintf("processing failed: %v", e.Cause)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

func fail(cause error, detail string) error {
	return &ProcessingError{Cause: cause, Detail: detail}
}
