// Package onion derives the layered ("onion") model of a building from its
// access log. Doors are nodes, consecutive granted scans by one user within a
// session are directed edges, and each door's layer is its BFS hop count from
// the nearest confirmed entrance.
package onion

import (
	"fmt"
	"sort"
	"time"

	"github.com/JonMunkholm/doorgraph/internal/schema"
)

// Config tunes the engine.
type Config struct {
	// NumFloors is the upper bound for door floors. Values below 1 mean 1.
	NumFloors int

	// SessionIdleTimeout splits a user's events into sessions. Zero disables splitting.
	SessionIdleTimeout time.Duration

	// DuplicateScanWindow collapses repeated scans by the same user at the
	// same door into one visit for device counts.
	DuplicateScanWindow time.Duration
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		NumFloors:           1,
		SessionIdleTimeout:  30 * time.Minute,
		DuplicateScanWindow: 10 * time.Second,
	}
}

// DeviceAttributes is the merged per-door view of topology and classification.
type DeviceAttributes struct {
	DoorID            string               `json:"door_id"`
	Layer             int                  `json:"layer"`
	Disconnected      bool                 `json:"disconnected"`
	IsEntrance        bool                 `json:"is_entrance"`
	ConfirmedEntrance bool                 `json:"confirmed_entrance"`
	IsStairwell       bool                 `json:"is_stairwell"`
	SecurityLevel     schema.SecurityLevel `json:"security_level"`
	Floor             int                  `json:"floor"`
	Parent            string               `json:"parent,omitempty"`
	NearestEntrance   string               `json:"nearest_entrance,omitempty"`
	EventCount        int                  `json:"event_count"`
	GrantedCount      int                  `json:"granted_count"`
	Visits            int                  `json:"visits"`
	UniqueUsers       int                  `json:"unique_users"`
	FirstSeen         time.Time            `json:"first_seen"`
	LastSeen          time.Time            `json:"last_seen"`
	MostCommonNext    string               `json:"most_common_next,omitempty"`
}

// EnrichedEvent is an event annotated with its door's derived attributes.
type EnrichedEvent struct {
	schema.EventRecord
	Layer         int                  `json:"layer"`
	Floor         int                  `json:"floor"`
	SecurityLevel schema.SecurityLevel `json:"security_level"`
	Session       int                  `json:"session"`
}

// Result is the engine output for one run. It is never persisted.
type Result struct {
	EnrichedEvents    []EnrichedEvent             `json:"enriched_events"`
	Devices           map[string]DeviceAttributes `json:"device_attributes"`
	PathVisualization PathVisualization           `json:"path_visualization"`
	AllPaths          []PathRecord                `json:"all_paths"`
	Entrances         []string                    `json:"entrances"`
	Disconnected      []string                    `json:"disconnected"`
	Warnings          []schema.Warning            `json:"warnings,omitempty"`
}

// MaxLayer returns the deepest finite layer, or -1 when nothing is layered.
func (r *Result) MaxLayer() int {
	deepest := DisconnectedLayer
	for _, d := range r.Devices {
		if d.Layer > deepest {
			deepest = d.Layer
		}
	}
	return deepest
}

// Compute builds the onion model.
//
// A door seeds layer 0 only when it is in confirmed AND its classification
// marks it as an entrance. Confirmed doors that never appear in the events
// are reported as warnings and do not seed.
func Compute(events []schema.EventRecord, confirmed schema.DoorSet, classes schema.Classifications, cfg Config) (*Result, error) {
	if len(confirmed) == 0 {
		return nil, fail(ErrNoEntrances, "")
	}
	if len(events) == 0 {
		return nil, fail(ErrNoEvents, "")
	}
	if cfg.NumFloors < 1 {
		cfg.NumFloors = 1
	}

	sorted := make([]schema.EventRecord, len(events))
	copy(sorted, events)
	schema.SortEvents(sorted)

	res := &Result{Devices: make(map[string]DeviceAttributes)}
	obs := observe(sorted, cfg.DuplicateScanWindow)

	var seeds []string
	for _, id := range confirmed.Sorted() {
		dc, ok := classes[id]
		if !ok || !dc.IsEntrance {
			continue
		}
		if _, seen := obs.firstSeen[id]; !seen {
			res.Warnings = append(res.Warnings, schema.Warning{
				Kind:    schema.WarnUnobservedEntrance,
				DoorID:  id,
				Message: "entrance has no events in this log",
			})
			continue
		}
		seeds = append(seeds, id)
	}
	if len(seeds) == 0 {
		return nil, fail(ErrNoEntrances, "no confirmed entrance is classified as an entrance and present in the log")
	}

	sessions := buildSessions(sorted, cfg.SessionIdleTimeout)
	g := buildTransitions(sessions, sorted)
	layers := assignLayers(g, seeds, obs.firstSeen)
	seedSet := schema.NewDoorSet(seeds...)

	for _, door := range obs.doors {
		dc := classes.Lookup(door)
		layer := layers.layerOf(door)
		res.Devices[door] = DeviceAttributes{
			DoorID:            door,
			Layer:             layer,
			Disconnected:      layer == DisconnectedLayer,
			IsEntrance:        dc.IsEntrance,
			ConfirmedEntrance: seedSet.Has(door),
			IsStairwell:       dc.IsStairwell,
			SecurityLevel:     dc.SecurityLevel,
			Floor:             clampFloor(dc.Floor, cfg.NumFloors),
			Parent:            layers.parent[door],
			NearestEntrance:   layers.entrance[door],
			EventCount:        obs.events[door],
			GrantedCount:      obs.granted[door],
			Visits:            obs.visits[door],
			UniqueUsers:       len(obs.users[door]),
			FirstSeen:         obs.firstSeen[door],
			LastSeen:          obs.lastSeen[door],
			MostCommonNext:    g.mostCommonNext(door),
		}
		if layer == DisconnectedLayer {
			res.Disconnected = append(res.Disconnected, door)
			res.Warnings = append(res.Warnings, schema.Warning{
				Kind:    schema.WarnDisconnectedDoor,
				DoorID:  door,
				Message: "no observed path from any entrance",
			})
		}
	}

	transitions := g.list()
	for _, t := range transitions {
		from, to := res.Devices[t.From], res.Devices[t.To]
		if from.IsStairwell || to.IsStairwell {
			continue
		}
		if diff := from.Floor - to.Floor; diff > 1 || diff < -1 {
			res.Warnings = append(res.Warnings, schema.Warning{
				Kind:    schema.WarnFloorJump,
				DoorID:  t.To,
				Message: fmt.Sprintf("transition %s (floor %d) -> %s (floor %d) skips floors without a stairwell", t.From, from.Floor, t.To, to.Floor),
			})
		}
	}

	sessionOf := make(map[int]int, len(sorted))
	for _, s := range sessions {
		for _, idx := range s.events {
			sessionOf[idx] = s.Index
		}
	}
	res.EnrichedEvents = make([]EnrichedEvent, len(sorted))
	for i, ev := range sorted {
		d := res.Devices[ev.DoorID]
		session, ok := sessionOf[i]
		if !ok {
			session = -1
		}
		res.EnrichedEvents[i] = EnrichedEvent{
			EventRecord:   ev,
			Layer:         d.Layer,
			Floor:         d.Floor,
			SecurityLevel: d.SecurityLevel,
			Session:       session,
		}
	}

	res.AllPaths = sessionPaths(sessions)
	res.PathVisualization = PathVisualization{
		Paths:       aggregatePaths(res.AllPaths),
		Transitions: transitions,
	}
	res.Entrances = seeds

	return res, nil
}

func clampFloor(floor, numFloors int) int {
	if floor < 1 {
		return 1
	}
	if floor > numFloors {
		return numFloors
	}
	return floor
}

// observation holds per-door counters gathered in one pass over sorted events.
type observation struct {
	doors     []string
	firstSeen map[string]time.Time
	lastSeen  map[string]time.Time
	events    map[string]int
	granted   map[string]int
	visits    map[string]int
	users     map[string]map[string]struct{}
}

func observe(sorted []schema.EventRecord, window time.Duration) observation {
	o := observation{
		firstSeen: make(map[string]time.Time),
		lastSeen:  make(map[string]time.Time),
		events:    make(map[string]int),
		granted:   make(map[string]int),
		visits:    make(map[string]int),
		users:     make(map[string]map[string]struct{}),
	}
	type scanKey struct{ door, user string }
	lastScan := make(map[scanKey]time.Time)

	for _, ev := range sorted {
		if _, ok := o.firstSeen[ev.DoorID]; !ok {
			o.firstSeen[ev.DoorID] = ev.Timestamp
			o.users[ev.DoorID] = make(map[string]struct{})
		}
		o.lastSeen[ev.DoorID] = ev.Timestamp
		o.events[ev.DoorID]++
		o.users[ev.DoorID][ev.UserID] = struct{}{}
		if ev.Granted() {
			o.granted[ev.DoorID]++
		}

		k := scanKey{ev.DoorID, ev.UserID}
		if prev, ok := lastScan[k]; !ok || ev.Timestamp.Sub(prev) > window {
			o.visits[ev.DoorID]++
		}
		lastScan[k] = ev.Timestamp
	}

	o.doors = make([]string, 0, len(o.firstSeen))
	for d := range o.firstSeen {
		o.doors = append(o.doors, d)
	}
	sort.Strings(o.doors)
	return o
}
