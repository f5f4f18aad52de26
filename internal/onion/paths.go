package onion

import (
	"sort"
	"strings"
	"time"
)

// PathRecord is one session's ordered door sequence.
type PathRecord struct {
	Session int       `json:"session"`
	UserID  string    `json:"user_id"`
	Doors   []string  `json:"doors"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// PathAggregate counts how often a distinct door sequence was traversed.
type PathAggregate struct {
	Doors     []string  `json:"doors"`
	Count     int       `json:"count"`
	Users     int       `json:"users"`
	FirstSeen time.Time `json:"first_seen"`
}

// PathVisualization is the renderer-facing summary of observed traversals.
type PathVisualization struct {
	Paths       []PathAggregate `json:"paths"`
	Transitions []Transition    `json:"transitions"`
}

const pathKeySep = "\x1f"

func sessionPaths(sessions []Session) []PathRecord {
	out := make([]PathRecord, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, PathRecord{
			Session: s.Index,
			UserID:  s.UserID,
			Doors:   append([]string(nil), s.Doors...),
			Start:   s.Start,
			End:     s.End,
		})
	}
	return out
}

// aggregatePaths groups multi-door sessions by their door sequence. The result
// is ordered by count descending, then by sequence.
func aggregatePaths(records []PathRecord) []PathAggregate {
	type acc struct {
		agg   PathAggregate
		users map[string]struct{}
	}
	byKey := make(map[string]*acc)
	for _, r := range records {
		if len(r.Doors) < 2 {
			continue
		}
		key := strings.Join(r.Doors, pathKeySep)
		a, ok := byKey[key]
		if !ok {
			a = &acc{
				agg:   PathAggregate{Doors: r.Doors, FirstSeen: r.Start},
				users: make(map[string]struct{}),
			}
			byKey[key] = a
		}
		a.agg.Count++
		a.users[r.UserID] = struct{}{}
		if r.Start.Before(a.agg.FirstSeen) {
			a.agg.FirstSeen = r.Start
		}
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := byKey[keys[i]].agg.Count, byKey[keys[j]].agg.Count
		if ci != cj {
			return ci > cj
		}
		return keys[i] < keys[j]
	})

	out := make([]PathAggregate, 0, len(keys))
	for _, k := range keys {
		a := byKey[k]
		a.agg.Users = len(a.users)
		out = append(out, a.agg)
	}
	return out
}
