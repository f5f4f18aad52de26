package core

import (
	"fmt"

	"github.com/JonMunkholm/doorgraph/internal/schema"
)

// ResolveColumns checks a stored mapping against the headers of a file and
// returns the mapping rewritten to the header text exactly as it appears in
// the file. Every canonical field must resolve to exactly one column.
func ResolveColumns(rawHeaders []string, stored schema.ColumnMapping) (schema.ColumnMapping, error) {
	if len(stored) == 0 {
		return nil, ErrNoMapping
	}

	counts := make(map[string]int, len(rawHeaders))
	original := make(map[string]string, len(rawHeaders))
	for _, h := range rawHeaders {
		key := normalizeHeader(h)
		if key == "" {
			continue
		}
		counts[key]++
		if _, ok := original[key]; !ok {
			original[key] = h
		}
	}

	var (
		missing []schema.CanonicalField
		details = make(map[schema.CanonicalField]string)
	)
	resolved := make(schema.ColumnMapping, len(schema.CanonicalFields))
	for _, f := range schema.CanonicalFields {
		want := stored[f]
		key := normalizeHeader(want)
		switch {
		case key == "":
			missing = append(missing, f)
			details[f] = "not mapped"
		case counts[key] == 0:
			missing = append(missing, f)
			details[f] = fmt.Sprintf("header %q not in file", CleanCell(want))
		case counts[key] > 1:
			missing = append(missing, f)
			details[f] = fmt.Sprintf("header %q appears %d times", CleanCell(want), counts[key])
		default:
			resolved[f] = original[key]
		}
	}

	if len(missing) > 0 {
		return nil, &MissingColumnError{Fields: missing, Details: details}
	}
	return resolved, nil
}

// columnPositions returns the index of each canonical field in header.
// The mapping must already be resolved against the same header.
func columnPositions(header []string, mapping schema.ColumnMapping) map[schema.CanonicalField]int {
	idx := MakeHeaderIndex(header)
	pos := make(map[schema.CanonicalField]int, len(mapping))
	for f, h := range mapping {
		if i, ok := idx[normalizeHeader(h)]; ok {
			pos[f] = i
		}
	}
	return pos
}
