// ABOUTME: Builds bounded reverse-reference graphs from an object toward roots
// ABOUTME: Depth-first over inrefs with cycle back-edges and root attachments
package symbols

import (
	"github.com/prateek/pmat/dump"
	"github.com/prateek/pmat/object"
	"github.com/prateek/pmat/refs"
)

// sentinelEDepth is the synthetic root name attached when the depth bound
// is exhausted before an inref chain reaches an actual root.
const sentinelEDepth = "EDEPTH"

// Edge is one forward reference in a reverse-trace graph, from an owning
// object to the object it points at. Cycle is true for a back-edge: the
// owner was already present in the graph, so the edge is recorded but not
// descended into again.
type Edge struct {
	From     object.Address
	To       object.Address
	Role     string
	Strength refs.Strength
	Cycle    bool
}

// RootAttachment anchors some node in the graph to a named root, the
// operand stack, an immortal singleton, or the EDEPTH sentinel.
type RootAttachment struct {
	To   object.Address
	Name string
}

// Graph is the output of ReverseTrace: the traced object as its single
// interior node, every owner reachable within the depth and
// strength bounds, and the roots those owners ultimately terminate at.
type Graph struct {
	Root  object.Address
	Nodes []object.Address
	Edges []Edge
	Roots []RootAttachment
}

// tracer carries the shared state of one ReverseTrace call.
type tracer struct {
	d         *dump.Dump
	idx       *refs.InrefIndex
	strengths refs.StrengthSet
	unlimited bool

	visited map[object.Address]bool
	graph   *Graph
}

// ReverseTrace builds a bounded, depth-first inref graph from start back to
// its named roots. maxDepth <= 0 means unlimited. A nil strengths
// matches every inref.
func ReverseTrace(d *dump.Dump, idx *refs.InrefIndex, start object.Address, maxDepth int, strengths refs.StrengthSet) *Graph {
	g := &Graph{Root: start}
	t := &tracer{
		d:         d,
		idx:       idx,
		strengths: strengths,
		unlimited: maxDepth <= 0,
		visited:   make(map[object.Address]bool),
		graph:     g,
	}

	if t.attachIfTerminal(start) {
		return g
	}
	t.visited[start] = true
	g.Nodes = append(g.Nodes, start)
	t.expand(start, maxDepth)
	return g
}

// attachIfTerminal handles the two stopping cases that apply before an
// object is ever added as a graph node: it's an immortal singleton, or its
// address is itself bound to a named root. Reports whether it stopped.
func (t *tracer) attachIfTerminal(addr object.Address) bool {
	if t.d.IsImmortal(addr) {
		t.graph.Roots = append(t.graph.Roots, RootAttachment{To: addr, Name: "an immortal singleton"})
		return true
	}
	if name, ok := t.d.RootName(addr); ok {
		t.graph.Roots = append(t.graph.Roots, RootAttachment{To: addr, Name: name})
		return true
	}
	return false
}

// expand walks addr's inrefs, recursing into each owner not yet in the
// graph, bounded by depth and strengths. addr is already a node in the
// graph by the time expand is called.
func (t *tracer) expand(addr object.Address, depth int) {
	for _, ir := range t.idx.Get(addr) {
		if t.strengths != nil && !t.strengths.Contains(ir.Strength) {
			continue
		}
		if ir.FromRoot || ir.FromStack {
			t.graph.Roots = append(t.graph.Roots, RootAttachment{To: addr, Name: ir.Role})
			continue
		}
		if t.visited[ir.Owner] {
			t.graph.Edges = append(t.graph.Edges, Edge{
				From: ir.Owner, To: addr, Role: ir.Role, Strength: ir.Strength, Cycle: true,
			})
			continue
		}
		if t.attachIfTerminal(ir.Owner) {
			t.graph.Edges = append(t.graph.Edges, Edge{
				From: ir.Owner, To: addr, Role: ir.Role, Strength: ir.Strength,
			})
			continue
		}
		if !t.unlimited && depth <= 0 {
			t.graph.Roots = append(t.graph.Roots, RootAttachment{To: addr, Name: sentinelEDepth})
			continue
		}
		t.visited[ir.Owner] = true
		t.graph.Nodes = append(t.graph.Nodes, ir.Owner)
		t.expand(ir.Owner, depth-1)
		t.graph.Edges = append(t.graph.Edges, Edge{
			From: ir.Owner, To: addr, Role: ir.Role, Strength: ir.Strength,
		})
	}
}
