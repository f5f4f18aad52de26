package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/doorgraph/internal/schema"
)

var (
	// ErrNoMapping means no column mapping was supplied and none is stored
	// for the file's header set.
	ErrNoMapping = errors.New("no column mapping supplied")

	// ErrInvalidSubmission wraps validation failures of a classification submission.
	ErrInvalidSubmission = errors.New("invalid classification submission")

	// ErrSnapshotInvalid means a persisted classification snapshot failed its schema check.
	ErrSnapshotInvalid = errors.New("classification snapshot is invalid")
)

// MissingColumnError reports canonical fields that do not resolve to a column.
type MissingColumnError struct {
	Fields  []schema.CanonicalField
	Details map[schema.CanonicalField]string
}

func (e *MissingColumnError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if d := e.Details[f]; d != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", f, d))
			continue
		}
		parts = append(parts, string(f))
	}
	return "missing required columns: " + strings.Join(parts, ", ")
}

// LoadReason classifies a LoadError.
type LoadReason string

const (
	ReasonEmpty         LoadReason = "empty file"
	ReasonNoColumns     LoadReason = "no columns"
	ReasonNoRows        LoadReason = "no data rows"
	ReasonParse         LoadReason = "invalid csv"
	ReasonTooLarge      LoadReason = "file too large"
	ReasonTooManyRows   LoadReason = "too many rows"
	ReasonMissingColumn LoadReason = "missing column"
	ReasonRead          LoadReason = "read failed"
)

// LoadError is a fatal failure to turn the uploaded bytes into an event table.
type LoadError struct {
	Reason LoadReason
	Row    int
	Err    error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("load failed: ")
	b.WriteString(string(e.Reason))
	if e.Row > 0 {
		fmt.Fprintf(&b, " at row %d", e.Row)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// PerDoorInputError is a rejected value for one door. It never aborts a run.
type PerDoorInputError struct {
	DoorID string
	Field  string
	Value  string
	Reason string
}

func (e *PerDoorInputError) Error() string {
	return fmt.Sprintf("door %s: invalid %s %q: %s", e.DoorID, e.Field, e.Value, e.Reason)
}

// Warning converts the error into a run warning.
func (e *PerDoorInputError) Warning() schema.Warning {
	return schema.Warning{
		Kind:    schema.WarnPerDoorInput,
		DoorID:  e.DoorID,
		Message: fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason),
	}
}
