package schema

import (
	"fmt"
	"sort"
)

// SecurityLevel is the closed set of door security buckets.
type SecurityLevel string

const (
	SecurityUnclassified SecurityLevel = "unclassified"
	SecurityGreen        SecurityLevel = "green"
	SecurityYellow       SecurityLevel = "yellow"
	SecurityRed          SecurityLevel = "red"
)

// SecurityOption describes one slider position.
type SecurityOption struct {
	Index int           `json:"index"`
	Value SecurityLevel `json:"value"`
	Label string        `json:"label"`
	Color string        `json:"color"`
}

// SecurityLevels is the slider index lookup table.
var SecurityLevels = []SecurityOption{
	{Index: 0, Value: SecurityUnclassified, Label: "Unclassified", Color: "#9E9E9E"},
	{Index: 1, Value: SecurityGreen, Label: "Green (Public)", Color: "#4CAF50"},
	{Index: 2, Value: SecurityYellow, Label: "Orange (Semi-Restricted)", Color: "#FF9800"},
	{Index: 3, Value: SecurityRed, Label: "Red (Restricted)", Color: "#F44336"},
}

// SecurityLevelForIndex resolves a slider index. ok is false when the
// index is outside the table.
func SecurityLevelForIndex(idx int) (SecurityLevel, bool) {
	for _, opt := range SecurityLevels {
		if opt.Index == idx {
			return opt.Value, true
		}
	}
	return SecurityUnclassified, false
}

// Valid reports whether the level belongs to the closed set.
func (l SecurityLevel) Valid() bool {
	for _, opt := range SecurityLevels {
		if opt.Value == l {
			return true
		}
	}
	return false
}

// Rank orders levels from least to most restricted.
func (l SecurityLevel) Rank() int {
	for _, opt := range SecurityLevels {
		if opt.Value == l {
			return opt.Index
		}
	}
	return 0
}

// DoorClassification is the operator's description of one door.
type DoorClassification struct {
	Floor         int           `json:"floor"`
	IsEntrance    bool          `json:"is_entrance"`
	IsStairwell   bool          `json:"is_stairwell"`
	SecurityLevel SecurityLevel `json:"security_level"`
}

// DefaultClassification is applied to doors nobody has classified.
func DefaultClassification() DoorClassification {
	return DoorClassification{
		Floor:         1,
		SecurityLevel: SecurityUnclassified,
	}
}

// Normalize fills zero values with defaults and rejects levels outside the set.
func (c DoorClassification) Normalize() DoorClassification {
	if c.Floor < 1 {
		c.Floor = 1
	}
	if !c.SecurityLevel.Valid() {
		c.SecurityLevel = SecurityUnclassified
	}
	return c
}

// String is used in log output.
func (c DoorClassification) String() string {
	return fmt.Sprintf("floor=%d entrance=%t stairwell=%t security=%s",
		c.Floor, c.IsEntrance, c.IsStairwell, c.SecurityLevel)
}

// Classifications maps door id to its classification.
type Classifications map[string]DoorClassification

// Lookup returns the classification for a door, or the default.
func (c Classifications) Lookup(doorID string) DoorClassification {
	if dc, ok := c[doorID]; ok {
		return dc.Normalize()
	}
	return DefaultClassification()
}

// Clone returns a copy of the map.
func (c Classifications) Clone() Classifications {
	out := make(Classifications, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// DoorIDs returns the keys in ascending order.
func (c Classifications) DoorIDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DoorSet is an unordered set of door ids.
type DoorSet map[string]struct{}

// NewDoorSet builds a set from ids, ignoring blanks.
func NewDoorSet(ids ...string) DoorSet {
	s := make(DoorSet, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

// Has reports membership.
func (s DoorSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id.
func (s DoorSet) Add(id string) {
	s[id] = struct{}{}
}

// Sorted returns the members in ascending order.
func (s DoorSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
