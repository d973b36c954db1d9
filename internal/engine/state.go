package engine

import (
	"github.com/soochol/flowchat/internal/dag"
	"github.com/soochol/flowchat/internal/flowchat"
)

type readiness int

const (
	notReady readiness = iota
	ready
	dead
)

// runState is the mutable table of one run, indexed by node and edge
// position. Only the dispatch loop touches it.
type runState struct {
	g       *dag.RuntimeGraph
	status  []flowchat.NodeStatus
	outputs []map[string]any
	edges   []flowchat.EdgeStatus
}

func newRunState(g *dag.RuntimeGraph) *runState {
	st := &runState{
		g:       g,
		status:  make([]flowchat.NodeStatus, g.Len()),
		outputs: make([]map[string]any, g.Len()),
		edges:   make([]flowchat.EdgeStatus, g.EdgeCount()),
	}
	for i := range st.status {
		st.status[i] = flowchat.NodeWaiting
	}
	copy(st.edges, g.Seed.EdgeStatus)
	for i, outputs := range g.Seed.Done {
		st.status[i] = flowchat.NodeDone
		st.outputs[i] = outputs
		st.propagate(i, true)
	}
	return st
}

// evaluate applies the activation rule to a waiting node. Incoming edges
// are grouped by target port, control edges forming one group. The node
// is ready once no group is pending and at least one edge is active. It
// is dead when nothing active reached it or a required port lost every
// edge to a skipped branch.
func (st *runState) evaluate(i int) readiness {
	in := st.g.InEdges(i)
	if len(in) == 0 {
		return notReady
	}
	type group struct{ active, pending int }
	groups := make(map[string]*group)
	for _, ei := range in {
		port := st.g.Edge(ei).TargetHandle
		gr, ok := groups[port]
		if !ok {
			gr = &group{}
			groups[port] = gr
		}
		switch st.edges[ei] {
		case flowchat.EdgeActive:
			gr.active++
		case flowchat.EdgePending:
			gr.pending++
		}
	}
	node := st.g.Node(i)
	anyActive, required := false, false
	for port, gr := range groups {
		if gr.pending > 0 {
			return notReady
		}
		if gr.active > 0 {
			anyActive = true
			continue
		}
		if input, ok := node.Input(port); ok && input.Required && input.Value == nil {
			required = true
		}
	}
	if !anyActive || required {
		return dead
	}
	return ready
}

// settle dispatches every ready node and skips every dead one until the
// table stops changing. dispatch returns false to stop scheduling.
func (st *runState) settle(dispatch func(i int) bool) {
	for changed := true; changed; {
		changed = false
		for _, i := range st.g.TopologicalOrder() {
			if st.status[i] != flowchat.NodeWaiting {
				continue
			}
			switch st.evaluate(i) {
			case ready:
				if !dispatch(i) {
					return
				}
				changed = true
			case dead:
				st.skip(i)
				changed = true
			}
		}
	}
}

func (st *runState) skip(i int) {
	st.status[i] = flowchat.NodeSkipped
	for _, ei := range st.g.OutEdges(i) {
		if st.edges[ei] == flowchat.EdgePending {
			st.edges[ei] = flowchat.EdgeSkipped
		}
	}
}

// propagate settles the outgoing edges of a done node: active when the
// node produced the source port, skipped otherwise. With onlyPending set,
// edges already settled keep their status.
func (st *runState) propagate(i int, onlyPending bool) {
	for _, ei := range st.g.OutEdges(i) {
		if onlyPending && st.edges[ei] != flowchat.EdgePending {
			continue
		}
		port := st.g.Edge(ei).SourceHandle
		if _, ok := st.outputs[i][port]; ok || port == "" {
			st.edges[ei] = flowchat.EdgeActive
		} else {
			st.edges[ei] = flowchat.EdgeSkipped
		}
	}
}

// doneOutputs maps node ids to outputs for every done node.
func (st *runState) doneOutputs() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for i, s := range st.status {
		if s == flowchat.NodeDone && st.outputs[i] != nil {
			out[st.g.Node(i).ID] = st.outputs[i]
		}
	}
	return out
}

// inputs resolves the input ports of node i: templated literals first,
// then values carried by active edges.
func (st *runState) inputs(i int, vars map[string]any) map[string]any {
	node := st.g.Node(i)
	in := make(map[string]any, len(node.Inputs))
	var done map[string]map[string]any
	for _, input := range node.Inputs {
		if input.Value == nil {
			continue
		}
		if s, ok := input.Value.(string); ok {
			if done == nil {
				done = st.doneOutputs()
			}
			in[input.Key] = resolveTemplate(s, done, vars)
			continue
		}
		in[input.Key] = input.Value
	}
	for _, ei := range st.g.InEdges(i) {
		e := st.g.Edge(ei)
		if st.edges[ei] != flowchat.EdgeActive || e.TargetHandle == "" {
			continue
		}
		src, _ := st.g.Index(e.Source)
		if v, ok := st.outputs[src][e.SourceHandle]; ok {
			in[e.TargetHandle] = v
		}
	}
	return in
}

// capture snapshots the state for a later resume at node i.
func (st *runState) capture(i int, p *Pause) *flowchat.InteractiveValue {
	node := st.g.Node(i)
	iv := &flowchat.InteractiveValue{
		NodeID:      node.ID,
		NodeType:    node.Type,
		State:       p.State,
		Prompt:      p.Prompt,
		NodeOutputs: st.doneOutputs(),
		EdgeStatus:  make(map[string]flowchat.EdgeStatus),
	}
	for ei, s := range st.edges {
		if s != flowchat.EdgePending {
			iv.EdgeStatus[st.g.Edge(ei).Key()] = s
		}
	}
	return iv
}

// finish marks every node still waiting as skipped.
func (st *runState) finish() {
	for i, s := range st.status {
		if s == flowchat.NodeWaiting {
			st.skip(i)
		}
	}
}

func (st *runState) statuses() map[string]flowchat.NodeStatus {
	out := make(map[string]flowchat.NodeStatus, len(st.status))
	for i, s := range st.status {
		out[st.g.Node(i).ID] = s
	}
	return out
}
