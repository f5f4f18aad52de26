package onion

import (
	"sort"
	"time"
)

// DisconnectedLayer marks a door with no path from any entrance.
const DisconnectedLayer = -1

type bfsEntry struct {
	door  string
	layer int
}

type layering struct {
	layer    map[string]int
	parent   map[string]string
	entrance map[string]string
}

// assignLayers runs a multi-source BFS from the seeds. Seeds and each door's
// successors are visited in order of first observation, then door id, so the
// BFS tree (parent and nearest entrance) is deterministic.
func assignLayers(g *transitionGraph, seeds []string, firstSeen map[string]time.Time) layering {
	byObservation := func(ids []string) []string {
		out := append([]string(nil), ids...)
		sort.Slice(out, func(i, j int) bool {
			ti, tj := firstSeen[out[i]], firstSeen[out[j]]
			if !ti.Equal(tj) {
				return ti.Before(tj)
			}
			return out[i] < out[j]
		})
		return out
	}

	l := layering{
		layer:    make(map[string]int),
		parent:   make(map[string]string),
		entrance: make(map[string]string),
	}

	queue := make([]bfsEntry, 0, len(seeds))
	for _, s := range byObservation(seeds) {
		if _, seen := l.layer[s]; seen {
			continue
		}
		l.layer[s] = 0
		l.entrance[s] = s
		queue = append(queue, bfsEntry{door: s})
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, next := range byObservation(g.out[cur.door]) {
			if _, seen := l.layer[next]; seen {
				continue
			}
			l.layer[next] = cur.layer + 1
			l.parent[next] = cur.door
			l.entrance[next] = l.entrance[cur.door]
			queue = append(queue, bfsEntry{door: next, layer: cur.layer + 1})
		}
	}

	return l
}

// layerOf returns the computed layer or DisconnectedLayer.
func (l layering) layerOf(door string) int {
	if n, ok := l.layer[door]; ok {
		return n
	}
	return DisconnectedLayer
}
