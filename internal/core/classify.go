package core

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/doorgraph/internal/schema"
)

var validate = validator.New()

// ClassificationSubmission is the per-door form state. Each field is a pair
// of index-aligned arrays: door ids and the value chosen for that door.
type ClassificationSubmission struct {
	ManualMap string   `json:"manual_map" validate:"omitempty,oneof=yes no"`
	NumFloors int      `json:"num_floors" validate:"omitempty,min=1,max=500"`
	Doors     []string `json:"doors"`

	FloorIDs    []string `json:"floor_ids"`
	FloorValues []string `json:"floor_values"`

	EntranceIDs    []string `json:"entrance_ids"`
	EntranceValues []bool   `json:"entrance_values"`

	StairwellIDs    []string `json:"stairwell_ids"`
	StairwellValues []bool   `json:"stairwell_values"`

	SecurityIDs    []string `json:"security_ids"`
	SecurityValues []int    `json:"security_values"`
}

// Manual reports whether the operator chose to classify doors by hand.
func (s ClassificationSubmission) Manual() bool {
	return strings.EqualFold(strings.TrimSpace(s.ManualMap), "yes")
}

func (s ClassificationSubmission) hasInputs() bool {
	return len(s.Doors) > 0 || len(s.FloorIDs) > 0 || len(s.EntranceIDs) > 0 ||
		len(s.StairwellIDs) > 0 || len(s.SecurityIDs) > 0
}

// ClassificationBundle is the merged per-door view for one run.
type ClassificationBundle struct {
	Classifications schema.Classifications `json:"classifications"`
	Entrances       schema.DoorSet         `json:"-"`
	SnapshotJSON    []byte                 `json:"-"`
	Warnings        []schema.Warning       `json:"warnings,omitempty"`
	InputErrors     []*PerDoorInputError   `json:"-"`
}

// EntranceIDs returns the entrance set in ascending order.
func (b *ClassificationBundle) EntranceIDs() []string {
	return b.Entrances.Sorted()
}

// ResolveClassifications merges a submission over the previously persisted
// classifications. Existing doors are kept; submitted values overwrite the
// matching field of the matching door; blank values never overwrite. Only a
// malformed submission returns an error. Bad per-door values are collected on
// the bundle and the door falls back to its default for that field.
func ResolveClassifications(sub ClassificationSubmission, existing schema.Classifications) (*ClassificationBundle, error) {
	if err := validate.Struct(sub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	merged := make(schema.Classifications, len(existing))
	for id, dc := range existing {
		if id = strings.TrimSpace(id); id != "" {
			merged[id] = dc.Normalize()
		}
	}

	b := &ClassificationBundle{}
	if sub.Manual() && sub.hasInputs() {
		b.apply(merged, sub)
	}

	b.Classifications = merged
	b.Entrances = make(schema.DoorSet)
	for id, dc := range merged {
		if dc.IsEntrance {
			b.Entrances.Add(id)
		}
	}

	snap, err := EncodeSnapshot(merged)
	if err != nil {
		return nil, err
	}
	b.SnapshotJSON = snap
	return b, nil
}

func (b *ClassificationBundle) apply(m schema.Classifications, sub ClassificationSubmission) {
	get := func(id string) schema.DoorClassification {
		if dc, ok := m[id]; ok {
			return dc
		}
		return schema.DefaultClassification()
	}

	for _, id := range sub.Doors {
		if id = strings.TrimSpace(id); id != "" {
			m[id] = get(id)
		}
	}

	n := b.zipLen("floor", len(sub.FloorIDs), len(sub.FloorValues))
	for i := 0; i < n; i++ {
		id := strings.TrimSpace(sub.FloorIDs[i])
		if id == "" {
			continue
		}
		dc := get(id)
		if raw := strings.TrimSpace(sub.FloorValues[i]); raw != "" {
			floor, err := strconv.Atoi(raw)
			switch {
			case err != nil:
				b.reject(id, "floor", raw, "not a number")
			case floor < 1:
				b.reject(id, "floor", raw, "must be at least 1")
			case sub.NumFloors > 0 && floor > sub.NumFloors:
				b.reject(id, "floor", raw, fmt.Sprintf("building has %d floors", sub.NumFloors))
				dc.Floor = sub.NumFloors
			default:
				dc.Floor = floor
			}
		}
		m[id] = dc
	}

	n = b.zipLen("entrance", len(sub.EntranceIDs), len(sub.EntranceValues))
	for i := 0; i < n; i++ {
		if id := strings.TrimSpace(sub.EntranceIDs[i]); id != "" {
			dc := get(id)
			dc.IsEntrance = sub.EntranceValues[i]
			m[id] = dc
		}
	}

	n = b.zipLen("stairwell", len(sub.StairwellIDs), len(sub.StairwellValues))
	for i := 0; i < n; i++ {
		if id := strings.TrimSpace(sub.StairwellIDs[i]); id != "" {
			dc := get(id)
			dc.IsStairwell = sub.StairwellValues[i]
			m[id] = dc
		}
	}

	n = b.zipLen("security", len(sub.SecurityIDs), len(sub.SecurityValues))
	for i := 0; i < n; i++ {
		id := strings.TrimSpace(sub.SecurityIDs[i])
		if id == "" {
			continue
		}
		dc := get(id)
		level, ok := schema.SecurityLevelForIndex(sub.SecurityValues[i])
		if !ok {
			b.reject(id, "security level", strconv.Itoa(sub.SecurityValues[i]),
				fmt.Sprintf("slider index must be 0-%d", len(schema.SecurityLevels)-1))
		}
		dc.SecurityLevel = level
		m[id] = dc
	}
}

// zipLen returns the aligned length of an id/value pair and warns when the
// arrays disagree.
func (b *ClassificationBundle) zipLen(field string, ids, values int) int {
	if ids == values {
		return ids
	}
	n := min(ids, values)
	b.Warnings = append(b.Warnings, schema.Warning{
		Kind:    schema.WarnArrayLength,
		Message: fmt.Sprintf("%s: %d ids but %d values; %d entries skipped", field, ids, values, max(ids, values)-n),
	})
	return n
}

func (b *ClassificationBundle) reject(id, field, value, reason string) {
	e := &PerDoorInputError{DoorID: id, Field: field, Value: value, Reason: reason}
	b.InputErrors = append(b.InputErrors, e)
	b.Warnings = append(b.Warnings, e.Warning())
}
