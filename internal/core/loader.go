package core

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/JonMunkholm/doorgraph/internal/schema"
)

// DefaultMaxRowWarnings caps per-row warnings kept on an EventTable.
const DefaultMaxRowWarnings = 100

// Vocabulary maps raw controller event strings to event types.
type Vocabulary struct {
	GrantedPhrase   string
	InvalidExact    []string
	InvalidContains []string
}

// DefaultVocabulary matches the phrases most controllers export.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		GrantedPhrase:   "ACCESS GRANTED",
		InvalidExact:    []string{"INVALID ACCESS LEVEL"},
		InvalidContains: []string{"NO ENTRY MADE"},
	}
}

// Classify normalizes a raw event string. Denial phrases are checked before
// the granted phrase, so "ACCESS GRANTED NO ENTRY MADE" is a denial.
func (v Vocabulary) Classify(raw string) schema.EventType {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return schema.EventOther
	}

	switch schema.EventType(strings.ToLower(s)) {
	case schema.EventAccessGranted:
		return schema.EventAccessGranted
	case schema.EventAccessDenied:
		return schema.EventAccessDenied
	}

	for _, p := range v.InvalidExact {
		if p != "" && s == strings.ToUpper(p) {
			return schema.EventAccessDenied
		}
	}
	for _, p := range v.InvalidContains {
		if p != "" && strings.Contains(s, strings.ToUpper(p)) {
			return schema.EventAccessDenied
		}
	}
	if strings.Contains(s, "DENIED") {
		return schema.EventAccessDenied
	}
	if v.GrantedPhrase != "" && strings.Contains(s, strings.ToUpper(v.GrantedPhrase)) {
		return schema.EventAccessGranted
	}
	return schema.EventOther
}

// LoadOptions bounds and shapes a load.
type LoadOptions struct {
	MaxBytes       int64 // 0 means unlimited
	MaxRows        int   // 0 means unlimited
	ExtraColumns   []string
	Vocabulary     Vocabulary
	MaxRowWarnings int
}

// EventTable is the typed result of a load. Events are in file order.
type EventTable struct {
	Headers  []string
	Mapping  schema.ColumnMapping
	Events   []schema.EventRecord
	Rows     int // non-blank data rows read
	Skipped  int // rows excluded from the events
	Warnings []schema.Warning
}

// Doors returns the distinct door ids in the table.
func (t *EventTable) Doors() schema.DoorSet {
	s := make(schema.DoorSet)
	for _, ev := range t.Events {
		s.Add(ev.DoorID)
	}
	return s
}

// LoadEvents reads a CSV event log. Bytes are decoded as UTF-8 with invalid
// sequences replaced and a leading BOM removed. Rows missing a door or user,
// or carrying an unparseable timestamp, are skipped with a warning.
func LoadEvents(r io.Reader, mapping schema.ColumnMapping, opts LoadOptions) (*EventTable, error) {
	if opts.MaxRowWarnings <= 0 {
		opts.MaxRowWarnings = DefaultMaxRowWarnings
	}
	if opts.Vocabulary.GrantedPhrase == "" {
		opts.Vocabulary = DefaultVocabulary()
	}

	data, err := readLimited(r, opts.MaxBytes)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &LoadError{Reason: ReasonEmpty}
	}

	cr := newCSVReader(bytes.NewReader(data))

	header, err := readHeader(cr)
	if err != nil {
		return nil, err
	}

	resolved, err := ResolveColumns(header, mapping)
	if err != nil {
		return nil, &LoadError{Reason: ReasonMissingColumn, Err: err}
	}
	pos := columnPositions(header, resolved)

	table := &EventTable{Headers: header, Mapping: resolved}
	rw := rowWarnings{max: opts.MaxRowWarnings}

	hidx := MakeHeaderIndex(header)
	extras := make(map[string]int, len(opts.ExtraColumns))
	for _, name := range opts.ExtraColumns {
		if i, ok := hidx[normalizeHeader(name)]; ok {
			extras[CleanCell(name)] = i
			continue
		}
		rw.add(schema.Warning{
			Kind:    schema.WarnMissingValue,
			Message: fmt.Sprintf("requested column %q not in file", CleanCell(name)),
		})
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, &LoadError{Reason: ReasonParse, Row: pe.Line, Err: pe.Err}
			}
			return nil, &LoadError{Reason: ReasonParse, Err: err}
		}
		if isEmptyRow(rec) {
			continue
		}

		line, _ := cr.FieldPos(0)
		table.Rows++
		if opts.MaxRows > 0 && table.Rows > opts.MaxRows {
			return nil, &LoadError{
				Reason: ReasonTooManyRows,
				Row:    line,
				Err:    fmt.Errorf("limit is %d rows", opts.MaxRows),
			}
		}

		cell := func(f schema.CanonicalField) string {
			i := pos[f]
			if i < len(rec) {
				return CleanCell(rec[i])
			}
			return ""
		}

		door, user := cell(schema.FieldDoorID), cell(schema.FieldUserID)
		if door == "" || user == "" {
			table.Skipped++
			rw.add(schema.Warning{
				Kind:    schema.WarnMissingValue,
				Row:     line,
				Message: "row has no door or user id",
			})
			continue
		}

		rawTS := cell(schema.FieldTimestamp)
		ts, ok := ParseTimestamp(rawTS)
		if !ok {
			table.Skipped++
			rw.add(schema.Warning{
				Kind:    schema.WarnUnparseableTimestamp,
				Row:     line,
				Message: fmt.Sprintf("unparseable timestamp %q", rawTS),
			})
			continue
		}

		rawEvent := cell(schema.FieldEventType)
		ev := schema.EventRecord{
			DoorID:    door,
			UserID:    user,
			EventType: opts.Vocabulary.Classify(rawEvent),
			RawEvent:  rawEvent,
			Timestamp: ts,
			Row:       line,
		}
		if len(extras) > 0 {
			ev.Extra = make(map[string]string, len(extras))
			for name, i := range extras {
				if i < len(rec) {
					ev.Extra[name] = CleanCell(rec[i])
				}
			}
		}
		table.Events = append(table.Events, ev)
	}

	if table.Rows == 0 {
		return nil, &LoadError{Reason: ReasonNoRows}
	}

	table.Warnings = rw.list()
	return table, nil
}

// ReadHeader returns the first non-blank row of a CSV stream.
func ReadHeader(r io.Reader) ([]string, error) {
	return readHeader(newCSVReader(decodeUTF8(r)))
}

func readHeader(cr *csv.Reader) ([]string, error) {
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil, &LoadError{Reason: ReasonEmpty}
		}
		if err != nil {
			return nil, &LoadError{Reason: ReasonParse, Err: err}
		}
		if isEmptyRow(rec) {
			continue
		}
		header := make([]string, len(rec))
		for i, h := range rec {
			header[i] = CleanCell(h)
		}
		if isEmptyRow(header) {
			return nil, &LoadError{Reason: ReasonNoColumns}
		}
		return header, nil
	}
}

// readLimited reads at most limit raw bytes, failing with ReasonTooLarge
// beyond that, and returns them decoded.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, &LoadError{Reason: ReasonRead, Err: err}
	}
	if limit > 0 && int64(len(raw)) > limit {
		return nil, &LoadError{
			Reason: ReasonTooLarge,
			Err:    fmt.Errorf("limit is %d bytes", limit),
		}
	}
	data, err := io.ReadAll(decodeUTF8(bytes.NewReader(raw)))
	if err != nil {
		return nil, &LoadError{Reason: ReasonRead, Err: err}
	}
	return data, nil
}

// decodeUTF8 strips a leading UTF-8 BOM and replaces invalid bytes with U+FFFD.
func decodeUTF8(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.UTF8BOM.NewDecoder())
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// rowWarnings keeps the first max warnings and counts the rest.
type rowWarnings struct {
	max        int
	kept       []schema.Warning
	suppressed int
}

func (w *rowWarnings) add(warn schema.Warning) {
	if len(w.kept) < w.max {
		w.kept = append(w.kept, warn)
		return
	}
	w.suppressed++
}

func (w *rowWarnings) list() []schema.Warning {
	if w.suppressed == 0 {
		return w.kept
	}
	return append(w.kept, schema.Warning{
		Kind:    schema.WarnTruncated,
		Message: fmt.Sprintf("%d more row warnings suppressed", w.suppressed),
	})
}
