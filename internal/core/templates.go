package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/doorgraph/internal/schema"
	"github.com/JonMunkholm/doorgraph/internal/store"
)

// fieldAliases are header spellings seen in controller exports, most specific first.
var fieldAliases = map[schema.CanonicalField][]string{
	schema.FieldDoorID: {
		"door_id", "door id", "doorid", "door", "device name", "device", "device id",
		"reader", "reader name", "access point", "location",
	},
	schema.FieldUserID: {
		"user_id", "user id", "userid", "user", "person id", "token id", "token",
		"badge", "badge id", "card number", "card", "employee id", "cardholder",
	},
	schema.FieldEventType: {
		"event_type", "event type", "access result", "event", "result", "status",
		"description", "message",
	},
	schema.FieldTimestamp: {
		"timestamp", "event time", "date time", "datetime", "time", "occurred at",
		"date",
	},
}

// HeaderSignature identifies a header set independent of column order:
// a JSON array of the trimmed, lower-cased, de-duplicated headers, sorted.
func HeaderSignature(headers []string) string {
	seen := make(map[string]struct{}, len(headers))
	keys := make([]string, 0, len(headers))
	for _, h := range headers {
		k := normalizeHeader(h)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b, _ := json.Marshal(keys)
	return string(b)
}

// SuggestMapping proposes a header for each canonical field from known
// aliases. Exact alias matches are tried before substring matches, and a
// header is never assigned twice. The result may be partial.
func SuggestMapping(headers []string) schema.ColumnMapping {
	out := make(schema.ColumnMapping)
	used := make(map[int]bool)

	match := func(f schema.CanonicalField, accept func(header, alias string) bool) {
		if _, done := out[f]; done {
			return
		}
		for _, alias := range fieldAliases[f] {
			for i, h := range headers {
				if used[i] {
					continue
				}
				if accept(normalizeHeader(h), alias) {
					out[f] = CleanCell(h)
					used[i] = true
					return
				}
			}
		}
	}

	for _, f := range schema.CanonicalFields {
		match(f, func(h, alias string) bool { return h == alias })
	}
	for _, f := range schema.CanonicalFields {
		match(f, func(h, alias string) bool { return len(alias) > 3 && strings.Contains(h, alias) })
	}
	return out
}

// FieldOption is one row of the mapping form.
type FieldOption struct {
	Field schema.CanonicalField `json:"field"`
	Label string                `json:"label"`
}

// MappingSuggestion is what the mapping form needs for one file.
type MappingSuggestion struct {
	Fields    []FieldOption        `json:"fields"`
	Headers   []string             `json:"headers"`
	Signature string               `json:"signature"`
	Stored    schema.ColumnMapping `json:"stored,omitempty"`
	Suggested schema.ColumnMapping `json:"suggested"`
	Missing   []string             `json:"missing"`
}

// SuggestMapping returns the stored template for headers, if any, alongside
// an alias-based suggestion.
func (s *Service) SuggestMapping(ctx context.Context, headers []string) (*MappingSuggestion, error) {
	sug := &MappingSuggestion{
		Fields:    fieldOptions(),
		Headers:   headers,
		Signature: HeaderSignature(headers),
		Suggested: SuggestMapping(headers),
	}

	stored, err := s.LookupMapping(ctx, headers)
	switch {
	case err == nil:
		sug.Stored = stored
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	best := sug.Suggested
	if sug.Stored != nil {
		best = sug.Stored
	}
	for _, f := range best.Missing() {
		sug.Missing = append(sug.Missing, string(f))
	}
	return sug, nil
}

func fieldOptions() []FieldOption {
	out := make([]FieldOption, 0, len(schema.CanonicalFields))
	for _, f := range schema.CanonicalFields {
		out = append(out, FieldOption{Field: f, Label: f.Label()})
	}
	return out
}

// SaveMapping validates mapping against headers and stores it as the
// template for that header set.
func (s *Service) SaveMapping(ctx context.Context, headers []string, mapping schema.ColumnMapping) (schema.ColumnMapping, error) {
	resolved, err := ResolveColumns(headers, mapping)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutMapping(ctx, HeaderSignature(headers), resolved); err != nil {
		return nil, fmt.Errorf("save mapping: %w", err)
	}
	return resolved, nil
}

// LookupMapping returns the stored template for headers or store.ErrNotFound.
func (s *Service) LookupMapping(ctx context.Context, headers []string) (schema.ColumnMapping, error) {
	m, err := s.store.GetMapping(ctx, HeaderSignature(headers))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("lookup mapping: %w", err)
	}
	return m, nil
}
