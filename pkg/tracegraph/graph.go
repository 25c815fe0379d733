// Package tracegraph holds the immutable graph of observed event occurrences.
//
// Nodes live in an arena addressed by stable integer ids. Every relation gets
// its own INITIAL and TERMINAL sentinel node; every trace starts at the
// relation's INITIAL node and ends at its TERMINAL node. Transitions carry the
// set of relations they belong to.
package tracegraph

import (
	"github.com/logflow/tracemine/pkg/event"
)

// NodeID addresses a node in the graph's arena.
type NodeID = int

// Transition is a concrete edge between two event nodes.
type Transition struct {
	Target    NodeID
	Relations RelationSet
}

// Node wraps one event occurrence.
type Node struct {
	ID    NodeID
	Event event.Event
	// Trace is the index of the owning trace, -1 for sentinels.
	Trace int
	// Index is the event's position within its trace, -1 for sentinels.
	Index int

	out []Transition
	in  []NodeID
}

// Type returns the node's event type.
func (n *Node) Type() event.Type { return n.Event.Type }

// Transitions returns the node's outgoing transitions. The slice must not be
// modified.
func (n *Node) Transitions() []Transition { return n.out }

// Predecessors returns the distinct source nodes of incoming transitions.
func (n *Node) Predecessors() []NodeID { return n.in }

// IsSentinel reports whether the node is an INITIAL or TERMINAL node.
func (n *Node) IsSentinel() bool { return n.Event.Type.IsSentinel() }

type traceInfo struct {
	name  string
	nodes []NodeID
}

// Graph is the trace graph. It is immutable after Build returns.
type Graph struct {
	nodes     []Node
	relations []string
	orders    map[string]Order
	initial   map[string]NodeID
	terminal  map[string]NodeID
	traces    []traceInfo
	types     []event.Type
	scope     map[string][]NodeID
}

// Len returns the number of nodes, sentinels included.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) *Node { return &g.nodes[id] }

// Relations returns the relation names, the default relation first.
func (g *Graph) Relations() []string {
	out := make([]string, len(g.relations))
	copy(out, g.relations)
	return out
}

// HasRelation reports whether rel is carried by the graph.
func (g *Graph) HasRelation(rel string) bool {
	_, ok := g.orders[rel]
	return ok
}

// Order returns the declared order of rel.
func (g *Graph) Order(rel string) (Order, bool) {
	o, ok := g.orders[rel]
	return o, ok
}

// Initial returns the INITIAL node of rel.
func (g *Graph) Initial(rel string) NodeID { return g.initial[rel] }

// Terminal returns the TERMINAL node of rel.
func (g *Graph) Terminal(rel string) NodeID { return g.terminal[rel] }

// TraceCount returns the number of traces.
func (g *Graph) TraceCount() int { return len(g.traces) }

// TraceName returns the caller-supplied name of trace i.
func (g *Graph) TraceName(i int) string { return g.traces[i].name }

// TraceNodes returns the event nodes of trace i in input order.
func (g *Graph) TraceNodes(i int) []NodeID { return g.traces[i].nodes }

// Types returns every event type in the graph: INITIAL first, observed types
// in first-seen order, TERMINAL last.
func (g *Graph) Types() []event.Type {
	out := make([]event.Type, len(g.types))
	copy(out, g.types)
	return out
}

// Scope returns the non-sentinel nodes that participate in rel, in id order.
func (g *Graph) Scope(rel string) []NodeID { return g.scope[rel] }

// Successors returns the targets of id's transitions over rel.
func (g *Graph) Successors(id NodeID, rel string) []NodeID {
	var out []NodeID
	for _, t := range g.nodes[id].out {
		if t.Relations.Contains(rel) {
			out = append(out, t.Target)
		}
	}
	return out
}

// StartNodes returns the INITIAL node of rel. Together with Label, Successors
// and IsTerminal it lets counterexample search run on the concrete graph.
func (g *Graph) StartNodes(rel string) []int {
	id, ok := g.initial[rel]
	if !ok {
		return nil
	}
	return []int{id}
}

// Label returns the event type of node n.
func (g *Graph) Label(n int) event.Type { return g.nodes[n].Event.Type }

// IsTerminal reports whether n is a TERMINAL node.
func (g *Graph) IsTerminal(n int) bool { return g.nodes[n].Event.Type.IsTerminal() }

// TypeSequence returns the event types of trace i along a total-order
// relation, from the first event to the last (sentinels excluded).
func (g *Graph) TypeSequence(i int, rel string) []event.Type {
	ini, ok := g.initial[rel]
	if !ok {
		return nil
	}
	var cur NodeID = -1
	for _, t := range g.nodes[ini].out {
		if g.nodes[t.Target].Trace == i && t.Relations.Contains(rel) {
			cur = t.Target
			break
		}
	}
	var seq []event.Type
	for cur >= 0 && !g.nodes[cur].IsSentinel() {
		seq = append(seq, g.nodes[cur].Event.Type)
		next := g.Successors(cur, rel)
		if len(next) == 0 {
			break
		}
		cur = next[0]
	}
	return seq
}
