// Package schema holds the shared vocabulary of the access-log pipeline:
// canonical event columns, typed event records and per-door classifications.
// It has no dependencies on the rest of the module.
package schema

import (
	"sort"
	"strings"
	"time"
)

// CanonicalField names one of the four columns every event log must provide.
type CanonicalField string

const (
	FieldDoorID    CanonicalField = "door_id"
	FieldUserID    CanonicalField = "user_id"
	FieldEventType CanonicalField = "event_type"
	FieldTimestamp CanonicalField = "timestamp"
)

// CanonicalFields lists the required fields in display order.
var CanonicalFields = []CanonicalField{
	FieldTimestamp,
	FieldUserID,
	FieldDoorID,
	FieldEventType,
}

// fieldLabels are the operator-facing names shown in mapping forms.
var fieldLabels = map[CanonicalField]string{
	FieldTimestamp: "Timestamp (Event Time)",
	FieldUserID:    "UserID (Person Identifier)",
	FieldDoorID:    "DoorID (Device Name)",
	FieldEventType: "EventType (Access Result)",
}

// Label returns the descriptive name of the field.
func (f CanonicalField) Label() string {
	if l, ok := fieldLabels[f]; ok {
		return l
	}
	return string(f)
}

// Valid reports whether f is one of the canonical fields.
func (f CanonicalField) Valid() bool {
	_, ok := fieldLabels[f]
	return ok
}

// ColumnMapping maps a canonical field to the literal header in an uploaded file.
type ColumnMapping map[CanonicalField]string

// Missing returns the canonical fields with no (or a blank) header assigned,
// in CanonicalFields order.
func (m ColumnMapping) Missing() []CanonicalField {
	var missing []CanonicalField
	for _, f := range CanonicalFields {
		if strings.TrimSpace(m[f]) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// Clone returns a copy of the mapping.
func (m ColumnMapping) Clone() ColumnMapping {
	out := make(ColumnMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EventType is the normalised outcome of an access attempt.
type EventType string

const (
	EventAccessGranted EventType = "access_granted"
	EventAccessDenied  EventType = "access_denied"
	EventOther         EventType = "other"
)

// EventRecord is one row of the access log after mapping and parsing.
// Records are immutable once loaded.
type EventRecord struct {
	DoorID    string            `json:"door_id"`
	UserID    string            `json:"user_id"`
	EventType EventType         `json:"event_type"`
	RawEvent  string            `json:"raw_event,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Row       int               `json:"row"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Granted reports whether the event represents a successful entry.
func (e EventRecord) Granted() bool {
	return e.EventType == EventAccessGranted
}

// SortEvents orders events chronologically. Ties are broken by door id,
// then user id, then source row, so the order is fully deterministic.
func SortEvents(events []EventRecord) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.DoorID != b.DoorID {
			return a.DoorID < b.DoorID
		}
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return a.Row < b.Row
	})
}
