// Package core provides the access-log pipeline: column mapping, event
// loading, classification resolution and run orchestration.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// Operators can quote the code to support staff for faster diagnosis.
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Missing column: A required column is not mapped or not in the file
//	         Action: Map every required field to a column that exists in the file
//	         Matched by: *MissingColumnError
//
//	MAP002 - No mapping: No column mapping was supplied for this file
//	         Action: Choose a column for each required field
//	         Matched by: ErrNoMapping
//
// # Load Errors (LOAD001-LOAD099)
//
//	LOAD001 - Empty file, no columns or no data rows
//	LOAD002 - Invalid CSV
//	LOAD003 - File too large
//	LOAD004 - Too many rows
//	LOAD005 - File could not be read
//
// # Processing Errors (PROC001-PROC099)
//
//	PROC001 - No events: nothing usable reached the model
//	PROC002 - No entrances: no door is both classified and confirmed as an entrance
//	PROC003 - Internal processing failure
//
// # Classification Errors (CLS001-CLS099)
//
//	CLS001 - Invalid per-door input (non-fatal, reported as a warning)
//	CLS002 - Invalid classification submission
//	CLS003 - Stored classification snapshot is invalid
//
// # Store Errors (STORE001-STORE099)
//
//	STORE001 - Not found
//	STORE002 - Store unavailable (connection refused or reset)
//	STORE003 - Store busy (locked, deadlock)
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Too many runs in flight
//	RUN002 - Run superseded by a newer run
//	RUN003 - Request cancelled
//	RUN004 - Request timed out
//
// # Other
//
//	VAL001 - Invalid request
//	RATE001 - Rate limited
//	AUTH001 - Missing API key (written by the web middleware)
//	AUTH002 - Invalid API key (written by the web middleware)
//	SYS001 - Unknown error (fallback)
//
// # Matching
//
// Typed errors are matched first with errors.As / errors.Is. Anything else is
// matched case-insensitively against the pattern table using strings.Contains;
// the first matching pattern wins, so specific patterns come first.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/doorgraph/internal/onion"
	"github.com/JonMunkholm/doorgraph/internal/store"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

var (
	msgMissingColumn = UserMessage{
		Message: "A required column is missing",
		Action:  "Map every required field to a column that exists in the file",
		Code:    "MAP001",
	}
	msgNoMapping = UserMessage{
		Message: "No column mapping was supplied for this file",
		Action:  "Choose a column for each required field",
		Code:    "MAP002",
	}
	msgNoEvents = UserMessage{
		Message: "No usable events were found in the file",
		Action:  "Check the timestamp and event columns and try again",
		Code:    "PROC001",
	}
	msgNoEntrances = UserMessage{
		Message: "No entrances configured",
		Action:  "Mark at least one door as an entrance and confirm it",
		Code:    "PROC002",
	}
	msgInternal = UserMessage{
		Message: "Processing failed unexpectedly",
		Action:  "Please try again or contact support",
		Code:    "PROC003",
	}
	msgPerDoor = UserMessage{
		Message: "A door classification value was rejected",
		Action:  "Review the highlighted door and choose a valid value",
		Code:    "CLS001",
	}
	msgSubmission = UserMessage{
		Message: "The classification form is invalid",
		Action:  "Review the classification inputs and submit again",
		Code:    "CLS002",
	}
	msgSnapshot = UserMessage{
		Message: "Stored classifications could not be read",
		Action:  "Classify the doors again to replace the stored snapshot",
		Code:    "CLS003",
	}
	msgNotFound = UserMessage{
		Message: "Nothing has been stored yet",
		Action:  "Generate a model first",
		Code:    "STORE001",
	}
	msgTooManyRuns = UserMessage{
		Message: "System is busy processing other runs",
		Action:  "Please wait a moment and try again",
		Code:    "RUN001",
	}
	msgSuperseded = UserMessage{
		Message: "A newer run replaced this one",
		Action:  "The latest result is shown instead",
		Code:    "RUN002",
	}
	msgCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "RUN003",
	}
	msgTimeout = UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "RUN004",
	}
)

var loadMessages = map[LoadReason]UserMessage{
	ReasonEmpty: {
		Message: "The uploaded file is empty",
		Action:  "Please upload a CSV file with a header and data rows",
		Code:    "LOAD001",
	},
	ReasonNoColumns: {
		Message: "The uploaded file has no columns",
		Action:  "Please upload a CSV file with a header row",
		Code:    "LOAD001",
	},
	ReasonNoRows: {
		Message: "The uploaded file has no data rows",
		Action:  "Please upload a CSV file with data rows after the header",
		Code:    "LOAD001",
	},
	ReasonParse: {
		Message: "File is not a valid CSV",
		Action:  "Ensure the file is comma-separated with quoted fields closed",
		Code:    "LOAD002",
	},
	ReasonTooLarge: {
		Message: "File exceeds the maximum size limit",
		Action:  "Split the log into smaller date ranges",
		Code:    "LOAD003",
	},
	ReasonTooManyRows: {
		Message: "File has too many rows",
		Action:  "Split the log into smaller date ranges",
		Code:    "LOAD004",
	},
	ReasonRead: {
		Message: "The uploaded file could not be read",
		Action:  "Please upload the file again",
		Code:    "LOAD005",
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns catch untyped errors, mostly from drivers and the HTTP layer.
var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the store",
			Action:  "Please try again in a few moments",
			Code:    "STORE002",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Store connection was interrupted",
			Action:  "Please try again",
			Code:    "STORE002",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Store was busy with another write",
			Action:  "Please try again",
			Code:    "STORE003",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Store was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "STORE003",
		},
	},
	{
		pattern: "timeout",
		msg:     msgTimeout,
	},
	{
		pattern: "invalid request",
		msg: UserMessage{
			Message: "The request could not be understood",
			Action:  "Check the submitted form fields",
			Code:    "VAL001",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (SYS001). Support staff
// should check the logs for the original technical error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "SYS001",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var (
		missing *MissingColumnError
		load    *LoadError
		perDoor *PerDoorInputError
	)
	switch {
	case errors.As(err, &missing):
		return msgMissingColumn
	case errors.Is(err, ErrNoMapping):
		return msgNoMapping
	case errors.As(err, &load):
		if m, ok := loadMessages[load.Reason]; ok {
			return m
		}
	case errors.Is(err, onion.ErrNoEntrances):
		return msgNoEntrances
	case errors.Is(err, onion.ErrNoEvents):
		return msgNoEvents
	case errors.Is(err, onion.ErrInternal):
		return msgInternal
	case errors.As(err, &perDoor):
		return msgPerDoor
	case errors.Is(err, ErrInvalidSubmission):
		return msgSubmission
	case errors.Is(err, ErrSnapshotInvalid):
		return msgSnapshot
	case errors.Is(err, store.ErrNotFound):
		return msgNotFound
	case errors.Is(err, ErrTooManyRuns):
		return msgTooManyRuns
	case errors.Is(err, ErrRunSuperseded):
		return msgSuperseded
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than SYS001.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err and keeps the original for logging. Returns nil for nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
