// Package closure computes per-relation reachability over a trace graph.
//
// Two algorithms are provided: a backward pass over totally ordered chains,
// and Goralčíková–Koubek closure for partially ordered traces. Closures are
// computed per trace and never merged across traces; descendant sets are
// bitsets over trace-local indices.
package closure

import (
	"github.com/bits-and-blooms/bitset"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

// Closure is the transitive closure of one relation. Sentinel nodes are not
// part of it.
type Closure struct {
	relation string
	// local maps a node id to its index within its trace, -1 when the node
	// does not participate in the relation.
	local   []int
	members [][]tracegraph.NodeID
	desc    []*bitset.BitSet
	trace   []int
}

// Compute picks the algorithm matching rel's declared order.
func Compute(g *tracegraph.Graph, rel string) (*Closure, error) {
	o, ok := g.Order(rel)
	if !ok {
		return nil, lferrors.Newf(lferrors.CodeUnknownRelation, "unknown relation %q", rel).
			WithContext("relation", rel)
	}
	if o == tracegraph.TotalOrder {
		return ForChains(g, rel)
	}
	return ForDAGs(g, rel)
}

func newClosure(g *tracegraph.Graph, rel string) *Closure {
	c := &Closure{
		relation: rel,
		local:    make([]int, g.Len()),
		members:  make([][]tracegraph.NodeID, g.TraceCount()),
		desc:     make([]*bitset.BitSet, g.Len()),
		trace:    make([]int, g.Len()),
	}
	for i := range c.local {
		c.local[i] = -1
		c.trace[i] = -1
	}
	for _, id := range g.Scope(rel) {
		ti := g.Node(id).Trace
		c.local[id] = len(c.members[ti])
		c.trace[id] = ti
		c.members[ti] = append(c.members[ti], id)
	}
	for ti, ms := range c.members {
		for _, id := range ms {
			c.desc[id] = bitset.New(uint(len(c.members[ti])))
		}
	}
	return c
}

// successors returns the non-sentinel successors of id in the relation.
func successors(g *tracegraph.Graph, id tracegraph.NodeID, rel string) []tracegraph.NodeID {
	var out []tracegraph.NodeID
	for _, s := range g.Successors(id, rel) {
		if !g.Node(s).IsSentinel() {
			out = append(out, s)
		}
	}
	return out
}

// ForChains computes the closure of a total-order relation. Each trace is a
// chain, so a single backward pass suffices: a node reaches its successor and
// everything the successor reaches.
func ForChains(g *tracegraph.Graph, rel string) (*Closure, error) {
	c := newClosure(g, rel)
	ini := g.Initial(rel)
	for _, first := range g.Successors(ini, rel) {
		var chain []tracegraph.NodeID
		for cur := first; !g.Node(cur).IsSentinel(); {
			chain = append(chain, cur)
			next := g.Successors(cur, rel)
			if len(next) != 1 {
				return nil, lferrors.TotalOrderOutEdge(rel, cur, len(next))
			}
			cur = next[0]
		}
		for i := len(chain) - 2; i >= 0; i-- {
			next := chain[i+1]
			d := c.desc[chain[i]]
			d.Set(uint(c.local[next]))
			d.InPlaceUnion(c.desc[next])
		}
	}
	return c, nil
}

// ForDAGs computes the closure of a partial-order relation. Nodes are visited
// in reverse topological order; a node's children are visited in topological
// order and a child already known to be reachable is skipped, so each
// descendant set is folded in at most once per covering edge.
func ForDAGs(g *tracegraph.Graph, rel string) (*Closure, error) {
	c := newClosure(g, rel)
	for _, ms := range c.members {
		order, err := topoSort(g, c, ms, rel)
		if err != nil {
			return nil, err
		}
		pos := make([]int, len(ms))
		for i, id := range order {
			pos[c.local[id]] = i
		}
		for i := len(order) - 1; i >= 0; i-- {
			v := order[i]
			children := successors(g, v, rel)
			sortByPos(children, c, pos)
			d := c.desc[v]
			for _, ch := range children {
				if d.Test(uint(c.local[ch])) {
					continue
				}
				d.Set(uint(c.local[ch]))
				d.InPlaceUnion(c.desc[ch])
			}
		}
	}
	return c, nil
}

// topoSort orders one trace's members by in-degree decrement.
func topoSort(g *tracegraph.Graph, c *Closure, ms []tracegraph.NodeID, rel string) ([]tracegraph.NodeID, error) {
	parents := make([]int, len(ms))
	for _, id := range ms {
		for _, s := range successors(g, id, rel) {
			parents[c.local[s]]++
		}
	}
	var queue, order []tracegraph.NodeID
	for _, id := range ms {
		if parents[c.local[id]] == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, s := range successors(g, id, rel) {
			parents[c.local[s]]--
			if parents[c.local[s]] == 0 {
				queue = append(queue, s)
			}
		}
	}
	if len(order) != len(ms) {
		return nil, lferrors.New(lferrors.CodeCyclicRelation, "relation contains a cycle").
			WithContext("relation", rel)
	}
	return order, nil
}

func sortByPos(ids []tracegraph.NodeID, c *Closure, pos []int) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && pos[c.local[ids[j]]] < pos[c.local[ids[j-1]]]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

// Relation returns the relation the closure was computed for.
func (c *Closure) Relation() string { return c.relation }

// Reachable reports whether a strictly precedes b in the relation. Nodes of
// different traces are never reachable from each other.
func (c *Closure) Reachable(a, b tracegraph.NodeID) bool {
	if a < 0 || b < 0 || a >= len(c.local) || b >= len(c.local) {
		return false
	}
	if c.local[a] < 0 || c.local[b] < 0 || c.trace[a] != c.trace[b] {
		return false
	}
	return c.desc[a].Test(uint(c.local[b]))
}

// Descendants returns every node reachable from a, in trace-local order.
func (c *Closure) Descendants(a tracegraph.NodeID) []tracegraph.NodeID {
	if a < 0 || a >= len(c.local) || c.local[a] < 0 {
		return nil
	}
	ms := c.members[c.trace[a]]
	var out []tracegraph.NodeID
	for i, ok := c.desc[a].NextSet(0); ok; i, ok = c.desc[a].NextSet(i + 1) {
		out = append(out, ms[i])
	}
	return out
}

// TraceCount returns the number of traces.
func (c *Closure) TraceCount() int { return len(c.members) }

// Members returns the participating nodes of trace i in id order.
func (c *Closure) Members(i int) []tracegraph.NodeID { return c.members[i] }
