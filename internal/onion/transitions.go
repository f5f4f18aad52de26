package onion

import (
	"sort"
	"time"

	"github.com/JonMunkholm/doorgraph/internal/schema"
)

// Pair is a directed door-to-door movement.
type Pair struct {
	From string
	To   string
}

// Transition is one distinct edge of the transition multigraph.
type Transition struct {
	From      string    `json:"source"`
	To        string    `json:"target"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
}

// Session is a run of one user's granted events with no idle gap
// longer than the configured threshold.
type Session struct {
	Index  int
	UserID string
	Start  time.Time
	End    time.Time
	Doors  []string
	events []int // indexes into the sorted event slice
}

// transitionGraph is the adjacency form used by layering.
type transitionGraph struct {
	counts    map[Pair]int
	firstSeen map[Pair]time.Time
	out       map[string][]string
}

// buildSessions splits sorted events into per-user sessions. Only granted
// events participate; consecutive scans at the same door extend the session
// without adding a door to its path.
func buildSessions(events []schema.EventRecord, idle time.Duration) []Session {
	byUser := make(map[string][]int)
	for i, ev := range events {
		if !ev.Granted() {
			continue
		}
		byUser[ev.UserID] = append(byUser[ev.UserID], i)
	}

	users := make([]string, 0, len(byUser))
	for u := range byUser {
		users = append(users, u)
	}
	sort.Strings(users)

	var sessions []Session
	for _, user := range users {
		var cur *Session
		var last time.Time
		for _, idx := range byUser[user] {
			ev := events[idx]
			if cur == nil || (idle > 0 && ev.Timestamp.Sub(last) > idle) {
				if cur != nil {
					sessions = append(sessions, *cur)
				}
				cur = &Session{UserID: user, Start: ev.Timestamp}
			}
			if n := len(cur.Doors); n == 0 || cur.Doors[n-1] != ev.DoorID {
				cur.Doors = append(cur.Doors, ev.DoorID)
			}
			cur.events = append(cur.events, idx)
			cur.End = ev.Timestamp
			last = ev.Timestamp
		}
		if cur != nil {
			sessions = append(sessions, *cur)
		}
	}

	for i := range sessions {
		sessions[i].Index = i
	}
	return sessions
}

// buildTransitions counts every consecutive door pair within each session.
// Self-loops never occur because session paths collapse repeated doors.
func buildTransitions(sessions []Session, events []schema.EventRecord) *transitionGraph {
	g := &transitionGraph{
		counts:    make(map[Pair]int),
		firstSeen: make(map[Pair]time.Time),
		out:       make(map[string][]string),
	}

	for _, s := range sessions {
		prevDoor := ""
		for _, idx := range s.events {
			ev := events[idx]
			if prevDoor != "" && prevDoor != ev.DoorID {
				p := Pair{From: prevDoor, To: ev.DoorID}
				if g.counts[p] == 0 {
					g.firstSeen[p] = ev.Timestamp
					g.out[p.From] = append(g.out[p.From], p.To)
				}
				g.counts[p]++
			}
			prevDoor = ev.DoorID
		}
	}
	return g
}

// list returns the distinct transitions ordered by source then target.
func (g *transitionGraph) list() []Transition {
	out := make([]Transition, 0, len(g.counts))
	for p, n := range g.counts {
		out = append(out, Transition{From: p.From, To: p.To, Count: n, FirstSeen: g.firstSeen[p]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// mostCommonNext returns the most frequent successor of door, ties by door id.
func (g *transitionGraph) mostCommonNext(door string) string {
	best, bestN := "", 0
	for _, to := range g.out[door] {
		n := g.counts[Pair{From: door, To: to}]
		if n > bestN || (n == bestN && to < best) {
			best, bestN = to, n
		}
	}
	return best
}
