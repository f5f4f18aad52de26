package core

import (
	"bytes"
	"context"
	"io"
	"sort"
	"time"

	"github.com/JonMunkholm/doorgraph/internal/schema"
)

// DoorPreview summarizes one door for the classification form.
type DoorPreview struct {
	DoorID         string                     `json:"door_id"`
	Events         int                        `json:"events"`
	Granted        int                        `json:"granted"`
	Users          int                        `json:"users"`
	FirstSeen      time.Time                  `json:"first_seen"`
	LastSeen       time.Time                  `json:"last_seen"`
	Classification *schema.DoorClassification `json:"classification,omitempty"`
}

// PreviewResponse is the door universe of a file.
type PreviewResponse struct {
	Doors            []DoorPreview           `json:"doors"`
	Rows             int                     `json:"rows"`
	Skipped          int                     `json:"skipped"`
	Warnings         []schema.Warning        `json:"warnings,omitempty"`
	SecurityLevels   []schema.SecurityOption `json:"security_levels"`
	ProcessingTimeMs int64                   `json:"processing_time_ms"`
}

// PreviewDoors lists the doors of an event table ordered by first
// observation, then door id.
func PreviewDoors(table *EventTable, known schema.Classifications) []DoorPreview {
	byDoor := make(map[string]*DoorPreview)
	users := make(map[string]map[string]struct{})

	for _, ev := range table.Events {
		p, ok := byDoor[ev.DoorID]
		if !ok {
			p = &DoorPreview{DoorID: ev.DoorID, FirstSeen: ev.Timestamp, LastSeen: ev.Timestamp}
			byDoor[ev.DoorID] = p
			users[ev.DoorID] = make(map[string]struct{})
		}
		p.Events++
		if ev.Granted() {
			p.Granted++
		}
		if ev.Timestamp.Before(p.FirstSeen) {
			p.FirstSeen = ev.Timestamp
		}
		if ev.Timestamp.After(p.LastSeen) {
			p.LastSeen = ev.Timestamp
		}
		users[ev.DoorID][ev.UserID] = struct{}{}
	}

	out := make([]DoorPreview, 0, len(byDoor))
	for id, p := range byDoor {
		p.Users = len(users[id])
		if dc, ok := known[id]; ok {
			dc = dc.Normalize()
			p.Classification = &dc
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].FirstSeen.Before(out[j].FirstSeen)
		}
		return out[i].DoorID < out[j].DoorID
	})
	return out
}

// PreviewDoors loads a file and returns its doors, pre-filled with any
// persisted classification. An empty mapping falls back to the template
// stored for the file's headers.
func (s *Service) PreviewDoors(ctx context.Context, r io.Reader, mapping schema.ColumnMapping) (*PreviewResponse, error) {
	start := time.Now()

	data, err := readLimited(r, s.cfg.Upload.MaxFileSize)
	if err != nil {
		return nil, err
	}
	if len(mapping) == 0 {
		if mapping, err = s.storedMapping(ctx, data); err != nil {
			return nil, err
		}
	}

	table, err := LoadEvents(bytes.NewReader(data), mapping, s.loadOptions())
	if err != nil {
		return nil, err
	}

	known, warn, err := s.seedClassifications(ctx)
	if err != nil {
		return nil, err
	}
	if warn != nil {
		table.Warnings = append(table.Warnings, *warn)
	}

	return &PreviewResponse{
		Doors:            PreviewDoors(table, known),
		Rows:             table.Rows,
		Skipped:          table.Skipped,
		Warnings:         table.Warnings,
		SecurityLevels:   schema.SecurityLevels,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}
