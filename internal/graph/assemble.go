// Package graph turns an onion model result into the node/edge graph and
// summary statistics consumed by renderers.
package graph

import (
	"sort"

	"github.com/JonMunkholm/doorgraph/internal/onion"
	"github.com/JonMunkholm/doorgraph/internal/schema"
)

// DefaultTopDevices is the length of the most-active-devices ranking.
const DefaultTopDevices = 5

// Options controls assembly.
type Options struct {
	TopDevices int
}

// Node is one door.
type Node struct {
	ID                string               `json:"id"`
	Label             string               `json:"label"`
	Layer             int                  `json:"layer"`
	Disconnected      bool                 `json:"disconnected"`
	IsEntrance        bool                 `json:"is_entrance"`
	ConfirmedEntrance bool                 `json:"confirmed_entrance"`
	IsStairwell       bool                 `json:"is_stairwell"`
	SecurityLevel     schema.SecurityLevel `json:"security_level"`
	SecurityRank      int                  `json:"security_rank"`
	Floor             int                  `json:"floor"`
	Classified        bool                 `json:"classified"`
	EventCount        int                  `json:"event_count"`
}

// Edge is one distinct observed transition.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Weight int    `json:"weight"`
}

// Graph is the renderer-facing topology.
type Graph struct {
	Nodes    []Node `json:"nodes"`
	Edges    []Edge `json:"edges"`
	MaxLayer int    `json:"max_layer"`
}

// Assemble builds the graph and statistics for a successful engine run.
// Nodes are ordered by layer with disconnected doors last, then by id.
func Assemble(res *onion.Result, classes schema.Classifications, opts Options) (*Graph, StatsSummary) {
	if res == nil {
		return &Graph{Nodes: []Node{}, Edges: []Edge{}, MaxLayer: onion.DisconnectedLayer}, EmptyStats()
	}
	if opts.TopDevices <= 0 {
		opts.TopDevices = DefaultTopDevices
	}

	g := &Graph{
		Nodes:    make([]Node, 0, len(res.Devices)),
		Edges:    make([]Edge, 0, len(res.PathVisualization.Transitions)),
		MaxLayer: res.MaxLayer(),
	}

	for id, d := range res.Devices {
		_, classified := classes[id]
		g.Nodes = append(g.Nodes, Node{
			ID:                id,
			Label:             id,
			Layer:             d.Layer,
			Disconnected:      d.Disconnected,
			IsEntrance:        d.IsEntrance,
			ConfirmedEntrance: d.ConfirmedEntrance,
			IsStairwell:       d.IsStairwell,
			SecurityLevel:     d.SecurityLevel,
			SecurityRank:      d.SecurityLevel.Rank(),
			Floor:             d.Floor,
			Classified:        classified,
			EventCount:        d.EventCount,
		})
	}
	sort.Slice(g.Nodes, func(i, j int) bool {
		a, b := g.Nodes[i], g.Nodes[j]
		if a.Disconnected != b.Disconnected {
			return !a.Disconnected
		}
		if a.Layer != b.Layer {
			return a.Layer < b.Layer
		}
		return a.ID < b.ID
	})

	for _, t := range res.PathVisualization.Transitions {
		if t.From == t.To {
			continue
		}
		if _, ok := res.Devices[t.From]; !ok {
			continue
		}
		if _, ok := res.Devices[t.To]; !ok {
			continue
		}
		g.Edges = append(g.Edges, Edge{Source: t.From, Target: t.To, Weight: t.Count})
	}

	return g, Summarize(res, opts.TopDevices)
}
