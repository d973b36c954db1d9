package dag

import (
	"fmt"
	"sort"

	"github.com/soochol/flowchat/internal/flowchat"
)

// Graph is an immutable, indexed view of a node/edge definition. Nodes
// and edges are addressed by their position so per-run state can live in
// plain slices next to it.
type Graph struct {
	nodes []flowchat.Node
	edges []flowchat.Edge
	index map[string]int
	in    [][]int
	out   [][]int
	order []int
	cycle bool
}

func build(nodes []flowchat.Node, edges []flowchat.Edge) (*Graph, error) {
	g := &Graph{
		nodes: nodes,
		index: make(map[string]int, len(nodes)),
		in:    make([][]int, len(nodes)),
		out:   make([][]int, len(nodes)),
	}
	for i := range nodes {
		id := nodes[i].ID
		if id == "" {
			return nil, fmt.Errorf("%w: node at position %d has no id", flowchat.ErrGraphInvalid, i)
		}
		if _, exists := g.index[id]; exists {
			return nil, fmt.Errorf("%w: duplicate node ID: %s", flowchat.ErrGraphInvalid, id)
		}
		g.index[id] = i
	}
	for _, e := range edges {
		src, ok := g.index[e.Source]
		if !ok {
			return nil, fmt.Errorf("%w: edge references unknown node: %s", flowchat.ErrGraphInvalid, e.Source)
		}
		dst, ok := g.index[e.Target]
		if !ok {
			return nil, fmt.Errorf("%w: edge references unknown node: %s", flowchat.ErrGraphInvalid, e.Target)
		}
		pos := len(g.edges)
		g.edges = append(g.edges, e)
		g.out[src] = append(g.out[src], pos)
		g.in[dst] = append(g.in[dst], pos)
	}
	g.order, g.cycle = g.topoSort()
	return g, nil
}

// topoSort orders nodes by Kahn's algorithm. Nodes on a cycle cannot be
// ordered and are appended in declaration order.
func (g *Graph) topoSort() ([]int, bool) {
	inDegree := make([]int, len(g.nodes))
	for _, e := range g.edges {
		inDegree[g.index[e.Target]]++
	}
	var queue []int
	for i, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, i)
		}
	}
	order := make([]int, 0, len(g.nodes))
	placed := make([]bool, len(g.nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		placed[n] = true
		for _, ei := range g.out[n] {
			c := g.index[g.edges[ei].Target]
			inDegree[c]--
			if inDegree[c] == 0 {
				queue = append(queue, c)
			}
		}
		sort.Ints(queue)
	}
	if len(order) == len(g.nodes) {
		return order, false
	}
	for i := range g.nodes {
		if !placed[i] {
			order = append(order, i)
		}
	}
	return order, true
}

func (g *Graph) Len() int                     { return len(g.nodes) }
func (g *Graph) Node(i int) *flowchat.Node    { return &g.nodes[i] }
func (g *Graph) Nodes() []flowchat.Node       { return g.nodes }
func (g *Graph) EdgeCount() int               { return len(g.edges) }
func (g *Graph) Edge(i int) flowchat.Edge     { return g.edges[i] }
func (g *Graph) Edges() []flowchat.Edge       { return g.edges }
func (g *Graph) InEdges(node int) []int       { return g.in[node] }
func (g *Graph) OutEdges(node int) []int      { return g.out[node] }
func (g *Graph) TopologicalOrder() []int      { return g.order }
func (g *Graph) HasCycle() bool               { return g.cycle }

// Index returns the position of the node with the given id.
func (g *Graph) Index(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Children returns the ids of nodes wired from the given output port of id.
// An empty port matches every outgoing edge.
func (g *Graph) Children(id, port string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	var ids []string
	for _, ei := range g.out[i] {
		e := g.edges[ei]
		if port == "" || e.SourceHandle == port {
			ids = append(ids, e.Target)
		}
	}
	return ids
}

// Subgraph returns the nodes reachable from root (root included) and the
// edges between them, in declaration order. Edges leading back into
// exclude are dropped.
func (g *Graph) Subgraph(root, exclude string) ([]flowchat.Node, []flowchat.Edge) {
	start, ok := g.index[root]
	if !ok {
		return nil, nil
	}
	seen := make([]bool, len(g.nodes))
	seen[start] = true
	stack := []int{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, ei := range g.out[n] {
			t := g.index[g.edges[ei].Target]
			if g.nodes[t].ID == exclude || seen[t] {
				continue
			}
			seen[t] = true
			stack = append(stack, t)
		}
	}
	var nodes []flowchat.Node
	for i := range g.nodes {
		if seen[i] {
			nodes = append(nodes, g.nodes[i])
		}
	}
	var edges []flowchat.Edge
	for _, e := range g.edges {
		if seen[g.index[e.Source]] && seen[g.index[e.Target]] {
			edges = append(edges, e)
		}
	}
	return nodes, edges
}
