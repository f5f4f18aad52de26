package core

// convert.go normalizes raw CSV cells from access-control exports.
//
// These functions handle the messy reality of controller exports:
//   - Multiple timestamp formats (US, EU, ISO, with and without seconds)
//   - Excel formula prefixes (="value")
//   - Surrounding quotes and stray whitespace

import (
	"strings"
	"time"
)

// HeaderIndex maps a cleaned, lower-cased header to its column position.
type HeaderIndex map[string]int

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Timestamp layouts split by year format for proper 2-digit year handling.
var (
	twoDigitYearLayouts = []string{
		"1/2/06 15:04:05", "1/2/06 15:04", "1/2/06 3:04:05 PM", "1/2/06 3:04 PM",
		"1/2/06", "1-2-06", "1.2.06",
	}
	fourDigitYearLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006/01/02 15:04:05",
		"2006/01/02 15:04",
		"1/2/2006 15:04:05",
		"1/2/2006 15:04",
		"1/2/2006 3:04:05 PM",
		"1/2/2006 3:04 PM",
		"1-2-2006 15:04:05",
		"1.2.2006 15:04:05",
		"1.2.2006 15:04",
		"Jan 2, 2006 15:04:05",
		"Jan 2, 2006 3:04:05 PM",
		"2 Jan 2006 15:04:05",
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "1-2-2006", "1.2.2006",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
	}
)

// ParseTimestamp parses a controller timestamp into UTC. Values without a
// zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = CleanCell(s)
	if s == "" {
		return time.Time{}, false
	}

	// 4-digit year layouts first (unambiguous)
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}

// MakeHeaderIndex creates a HeaderIndex from a CSV header row.
// Keys are lowercased for case-insensitive matching. The first occurrence
// of a repeated header wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if _, dup := idx[key]; dup {
			continue
		}
		idx[key] = i
	}
	return idx
}

func normalizeHeader(h string) string {
	return strings.ToLower(CleanCell(h))
}

// CleanCell removes common CSV artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)

	return strings.TrimSpace(s)
}
