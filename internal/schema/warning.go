package schema

import "fmt"

// WarningKind classifies a non-fatal issue found during a run.
type WarningKind string

const (
	WarnDisconnectedDoor     WarningKind = "disconnected_door"
	WarnFloorJump            WarningKind = "floor_jump"
	WarnUnparseableTimestamp WarningKind = "unparseable_timestamp"
	WarnMissingValue         WarningKind = "missing_value"
	WarnPerDoorInput         WarningKind = "per_door_input"
	WarnArrayLength          WarningKind = "array_length_mismatch"
	WarnUnobservedEntrance   WarningKind = "unobserved_entrance"
	WarnTruncated            WarningKind = "warnings_truncated"
	WarnSnapshotInvalid      WarningKind = "snapshot_invalid"
)

// Warning is surfaced alongside a successful result. It never blocks a run.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	DoorID  string      `json:"door_id,omitempty"`
	Row     int         `json:"row,omitempty"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	switch {
	case w.DoorID != "":
		return fmt.Sprintf("%s [%s]: %s", w.Kind, w.DoorID, w.Message)
	case w.Row > 0:
		return fmt.Sprintf("%s [row %d]: %s", w.Kind, w.Row, w.Message)
	default:
		return fmt.Sprintf("%s: %s", w.Kind, w.Message)
	}
}
