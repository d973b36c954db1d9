package dag

import (
	"fmt"
	"slices"

	"github.com/soochol/flowchat/internal/flowchat"
)

// Options controls normalization of one run.
type Options struct {
	// SelectedToolIDs restricts the tool nodes reachable in this run.
	// Empty keeps the full graph.
	SelectedToolIDs []string
	// Interactive is the pending value of a paused run being resumed.
	Interactive *flowchat.InteractiveValue
}

// Seed is the initial runtime state derived from the graph and options.
type Seed struct {
	Entries []int
	// Resume is the position of the node resumed from Interactive, or -1.
	Resume      int
	Interactive *flowchat.InteractiveValue
	// Done maps node positions to outputs recorded before a pause.
	Done       map[int]map[string]any
	EdgeStatus []flowchat.EdgeStatus
}

// RuntimeGraph pairs the static graph with its seed state.
type RuntimeGraph struct {
	*Graph
	Seed Seed
}

// Normalize turns a stored definition into an executable graph.
func Normalize(nodes []flowchat.Node, edges []flowchat.Edge, opts Options) (*RuntimeGraph, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: graph has no nodes", flowchat.ErrGraphInvalid)
	}
	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = true
	}
	for _, e := range edges {
		if !ids[e.Source] {
			return nil, fmt.Errorf("%w: edge references unknown node: %s", flowchat.ErrGraphInvalid, e.Source)
		}
		if !ids[e.Target] {
			return nil, fmt.Errorf("%w: edge references unknown node: %s", flowchat.ErrGraphInvalid, e.Target)
		}
	}

	g, err := build(nodes, FilterEdges(edges, opts.SelectedToolIDs))
	if err != nil {
		return nil, err
	}

	seed := Seed{
		Resume:     -1,
		EdgeStatus: make([]flowchat.EdgeStatus, g.EdgeCount()),
	}
	for i := range seed.EdgeStatus {
		seed.EdgeStatus[i] = flowchat.EdgePending
	}

	if iv := opts.Interactive; iv != nil {
		pos, ok := g.Index(iv.NodeID)
		if !ok {
			return nil, fmt.Errorf("%w: interactive node %s not in graph", flowchat.ErrGraphInvalid, iv.NodeID)
		}
		seed.Resume = pos
		seed.Interactive = iv
		seed.Entries = []int{pos}
		seed.Done = make(map[int]map[string]any, len(iv.NodeOutputs))
		for id, outputs := range iv.NodeOutputs {
			if p, ok := g.Index(id); ok && p != pos {
				seed.Done[p] = outputs
			}
		}
		for i, e := range g.Edges() {
			if st, ok := iv.EdgeStatus[e.Key()]; ok {
				seed.EdgeStatus[i] = st
			}
		}
		// Edges into the resumed node are settled; it runs as an entry.
		for _, ei := range g.InEdges(pos) {
			if seed.EdgeStatus[ei] == flowchat.EdgePending {
				seed.EdgeStatus[ei] = flowchat.EdgeActive
			}
		}
		return &RuntimeGraph{Graph: g, Seed: seed}, nil
	}

	for _, i := range g.TopologicalOrder() {
		if isEntry(g.Node(i)) {
			seed.Entries = append(seed.Entries, i)
		}
	}
	if len(seed.Entries) == 0 {
		return nil, fmt.Errorf("%w: no entry node", flowchat.ErrGraphInvalid)
	}
	return &RuntimeGraph{Graph: g, Seed: seed}, nil
}

func isEntry(n *flowchat.Node) bool {
	if n.IsEntry {
		return true
	}
	return n.Type == flowchat.NodeTypeWorkflowStart || n.Type == flowchat.NodeTypePluginInput
}

// FilterEdges applies the tool allow-list. A node wired from a
// selectedTools port is a tool; edges into a tool outside selected are
// dropped. The first edge is always kept.
func FilterEdges(edges []flowchat.Edge, selected []string) []flowchat.Edge {
	if len(selected) == 0 {
		return edges
	}
	tools := make(map[string]bool)
	for _, e := range edges {
		if e.SourceHandle == flowchat.PortSelectedTools {
			tools[e.Target] = true
		}
	}
	kept := make([]flowchat.Edge, 0, len(edges))
	for i, e := range edges {
		if i == 0 || !tools[e.Target] || slices.Contains(selected, e.Target) {
			kept = append(kept, e)
		}
	}
	return kept
}
