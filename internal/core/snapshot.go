package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/JonMunkholm/doorgraph/internal/schema"
)

// snapshotSchema is the logical schema of a persisted classification
// snapshot: door id -> {floor, is_entrance, is_stairwell, security_level}.
var snapshotSchema = mustSnapshotSchema()

func mustSnapshotSchema() *gojsonschema.Schema {
	levels := make([]string, 0, len(schema.SecurityLevels))
	for _, opt := range schema.SecurityLevels {
		levels = append(levels, string(opt.Value))
	}

	doc := map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"additionalProperties": map[string]any{
			"type":                 "object",
			"required":             []string{"floor", "is_entrance", "is_stairwell", "security_level"},
			"additionalProperties": false,
			"properties": map[string]any{
				"floor":          map[string]any{"type": "integer", "minimum": 1},
				"is_entrance":    map[string]any{"type": "boolean"},
				"is_stairwell":   map[string]any{"type": "boolean"},
				"security_level": map[string]any{"type": "string", "enum": levels},
			},
		},
	}

	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		panic(fmt.Sprintf("snapshot schema: %v", err))
	}
	return s
}

// EncodeSnapshot serializes classifications with door ids in ascending order.
func EncodeSnapshot(c schema.Classifications) ([]byte, error) {
	if c == nil {
		c = schema.Classifications{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses and validates a persisted snapshot. Empty input
// yields an empty map.
func DecodeSnapshot(data []byte) (schema.Classifications, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return schema.Classifications{}, nil
	}

	result, err := snapshotSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotInvalid, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrSnapshotInvalid, strings.Join(msgs, "; "))
	}

	var c schema.Classifications
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotInvalid, err)
	}
	if c == nil {
		c = schema.Classifications{}
	}
	return c, nil
}
