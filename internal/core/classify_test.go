package core

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/JonMunkholm/doorgraph/internal/schema"
)

func TestResolveClassifications_Manual(t *testing.T) {
	existing := schema.Classifications{
		"Lab": {Floor: 2, SecurityLevel: schema.SecurityRed},
	}
	sub := ClassificationSubmission{
		ManualMap:       "yes",
		NumFloors:       3,
		Doors:           []string{"Lobby", "Office", "Stairs"},
		FloorIDs:        []string{"Lobby", "Office", "Stairs"},
		FloorValues:     []string{"1", "2", ""},
		EntranceIDs:     []string{"Lobby"},
		EntranceValues:  []bool{true},
		StairwellIDs:    []string{"Stairs"},
		StairwellValues: []bool{true},
		SecurityIDs:     []string{"Lobby", "Office"},
		SecurityValues:  []int{1, 2},
	}

	b, err := ResolveClassifications(sub, existing)
	if err != nil {
		t.Fatalf("ResolveClassifications: %v", err)
	}

	want := schema.Classifications{
		"Lab":    {Floor: 2, SecurityLevel: schema.SecurityRed},
		"Lobby":  {Floor: 1, IsEntrance: true, SecurityLevel: schema.SecurityGreen},
		"Office": {Floor: 2, SecurityLevel: schema.SecurityYellow},
		"Stairs": {Floor: 1, IsStairwell: true, SecurityLevel: schema.SecurityUnclassified},
	}
	if !reflect.DeepEqual(b.Classifications, want) {
		t.Errorf("Classifications = %v\nwant %v", b.Classifications, want)
	}
	if got := b.EntranceIDs(); !reflect.DeepEqual(got, []string{"Lobby"}) {
		t.Errorf("EntranceIDs = %v, want [Lobby]", got)
	}
	if len(b.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", b.Warnings)
	}
}

func TestResolveClassifications_NoKeepsExisting(t *testing.T) {
	existing := schema.Classifications{"Lobby": {Floor: 1, IsEntrance: true, SecurityLevel: schema.SecurityGreen}}
	sub := ClassificationSubmission{
		ManualMap:   "no",
		FloorIDs:    []string{"Lobby"},
		FloorValues: []string{"4"},
	}

	b, err := ResolveClassifications(sub, existing)
	if err != nil {
		t.Fatalf("ResolveClassifications: %v", err)
	}
	if got := b.Classifications["Lobby"].Floor; got != 1 {
		t.Errorf("Lobby floor = %d, want 1 (inputs ignored when manual mapping is off)", got)
	}
}

func TestResolveClassifications_RejectedInputs(t *testing.T) {
	existing := schema.Classifications{"A": {Floor: 2, SecurityLevel: schema.SecurityGreen}}
	sub := ClassificationSubmission{
		ManualMap:      "yes",
		NumFloors:      3,
		FloorIDs:       []string{"A", "B", "C"},
		FloorValues:    []string{"abc", "0", "9"},
		SecurityIDs:    []string{"A"},
		SecurityValues: []int{7},
	}

	b, err := ResolveClassifications(sub, existing)
	if err != nil {
		t.Fatalf("ResolveClassifications: %v", err)
	}

	tests := []struct {
		door      string
		wantFloor int
		wantLevel schema.SecurityLevel
	}{
		{door: "A", wantFloor: 2, wantLevel: schema.SecurityUnclassified},
		{door: "B", wantFloor: 1, wantLevel: schema.SecurityUnclassified},
		{door: "C", wantFloor: 3, wantLevel: schema.SecurityUnclassified},
	}
	for _, tt := range tests {
		got := b.Classifications[tt.door]
		if got.Floor != tt.wantFloor || got.SecurityLevel != tt.wantLevel {
			t.Errorf("%s = %v, want floor %d security %s", tt.door, got, tt.wantFloor, tt.wantLevel)
		}
	}

	if len(b.InputErrors) != 4 {
		t.Fatalf("InputErrors = %d, want 4", len(b.InputErrors))
	}
	for _, e := range b.InputErrors {
		if e.DoorID == "" || e.Reason == "" {
			t.Errorf("incomplete input error %+v", e)
		}
	}
	for _, w := range b.Warnings {
		if w.Kind != schema.WarnPerDoorInput {
			t.Errorf("unexpected warning %v", w)
		}
	}
}

func TestResolveClassifications_ArrayLengthMismatch(t *testing.T) {
	sub := ClassificationSubmission{
		ManualMap:      "yes",
		EntranceIDs:    []string{"A", "B", "C"},
		EntranceValues: []bool{true},
	}
	b, err := ResolveClassifications(sub, nil)
	if err != nil {
		t.Fatalf("ResolveClassifications: %v", err)
	}
	if !b.Classifications["A"].IsEntrance {
		t.Error("A should be an entrance")
	}
	if _, ok := b.Classifications["B"]; ok {
		t.Error("B has no value and should not be classified")
	}
	if len(b.Warnings) != 1 || b.Warnings[0].Kind != schema.WarnArrayLength {
		t.Errorf("Warnings = %v, want one array_length_mismatch", b.Warnings)
	}
}

func TestResolveClassifications_InvalidSubmission(t *testing.T) {
	tests := []struct {
		name string
		sub  ClassificationSubmission
	}{
		{name: "unknown manual choice", sub: ClassificationSubmission{ManualMap: "maybe"}},
		{name: "too many floors", sub: ClassificationSubmission{NumFloors: 501}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveClassifications(tt.sub, nil)
			if !errors.Is(err, ErrInvalidSubmission) {
				t.Errorf("err = %v, want ErrInvalidSubmission", err)
			}
		})
	}
}

func TestResolveClassifications_SnapshotJSONSorted(t *testing.T) {
	sub := ClassificationSubmission{
		ManualMap:   "yes",
		FloorIDs:    []string{"b", "a"},
		FloorValues: []string{"1", "1"},
	}
	b, err := ResolveClassifications(sub, nil)
	if err != nil {
		t.Fatalf("ResolveClassifications: %v", err)
	}
	want := `{"a":{"floor":1,"is_entrance":false,"is_stairwell":false,"security_level":"unclassified"},` +
		`"b":{"floor":1,"is_entrance":false,"is_stairwell":false,"security_level":"unclassified"}}`
	if string(b.SnapshotJSON) != want {
		t.Errorf("SnapshotJSON = %s\nwant %s", b.SnapshotJSON, want)
	}
}

// genClassifications builds a door map from generated ints: each value
// encodes floor, entrance, stairwell and security index for door D<i>.
func genClassifications(vals []int) schema.Classifications {
	c := make(schema.Classifications, len(vals))
	for i, v := range vals {
		level, _ := schema.SecurityLevelForIndex(v % len(schema.SecurityLevels))
		c[fmt.Sprintf("D%d", i)] = schema.DoorClassification{
			Floor:         1 + (v/4)%9,
			IsEntrance:    (v/36)%2 == 1,
			IsStairwell:   (v/72)%2 == 1,
			SecurityLevel: level,
		}
	}
	return c
}

func TestSnapshotRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("resolve(no, decode(encode(c))) == c", prop.ForAll(
		func(vals []int) bool {
			c := genClassifications(vals)
			data, err := EncodeSnapshot(c)
			if err != nil {
				return false
			}
			decoded, err := DecodeSnapshot(data)
			if err != nil {
				return false
			}
			b, err := ResolveClassifications(ClassificationSubmission{ManualMap: "no"}, decoded)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(b.Classifications, c) && string(b.SnapshotJSON) == string(data)
		},
		gen.SliceOf(gen.IntRange(0, 143)),
	))

	properties.TestingRun(t)
}
