// Package partition implements the partition graph: a coarse view of a trace
// graph whose nodes are groups of same-typed event nodes.
//
// A partition never stores its own transitions. Its outgoing edges are
// derived from the concrete transitions of its members, mapped through the
// node-to-partition ownership table, and memoized until a Split or Merge
// touches either endpoint.
package partition

import (
	"sort"

	"go.uber.org/zap"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/event"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

// ID identifies a partition. IDs are allocated in increasing order and are
// never reused for a different partition.
type ID = int

// Partition is a non-empty set of event nodes sharing one event type.
type Partition struct {
	id      ID
	label   event.Type
	members []tracegraph.NodeID
}

// ID returns the partition id.
func (p *Partition) ID() ID { return p.id }

// Label returns the event type shared by all members.
func (p *Partition) Label() event.Type { return p.label }

// Size returns the member count.
func (p *Partition) Size() int { return len(p.members) }

// Members returns the member node ids in increasing order. The slice must
// not be modified.
func (p *Partition) Members() []tracegraph.NodeID { return p.members }

// Edge is an existential transition of a partition: at least one member has
// a concrete transition into a member of Target with exactly this relation
// set. Count is the number of such concrete transitions.
type Edge struct {
	Target    ID
	Relations tracegraph.RelationSet
	Count     int
}

// Graph is the partition graph over one trace graph. It is not safe for
// concurrent use.
type Graph struct {
	tg     *tracegraph.Graph
	parts  map[ID]*Partition
	ids    []ID
	nextID ID
	owner  []ID
	edges  map[ID][]Edge
	logger *zap.Logger
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger used for structural operations.
func WithLogger(l *zap.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewByLabel builds the initial partition graph: one partition per event
// type, created in the trace graph's type order.
func NewByLabel(tg *tracegraph.Graph, opts ...Option) *Graph {
	g := &Graph{
		tg:     tg,
		parts:  make(map[ID]*Partition),
		owner:  make([]ID, tg.Len()),
		edges:  make(map[ID][]Edge),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	byType := make(map[event.Type][]tracegraph.NodeID)
	for id := 0; id < tg.Len(); id++ {
		t := tg.Node(id).Type()
		byType[t] = append(byType[t], id)
	}
	for _, t := range tg.Types() {
		if ms := byType[t]; len(ms) > 0 {
			g.add(g.allocate(), t, ms)
		}
	}
	return g
}

func (g *Graph) allocate() ID {
	id := g.nextID
	g.nextID++
	return id
}

func (g *Graph) add(id ID, label event.Type, members []tracegraph.NodeID) *Partition {
	p := &Partition{id: id, label: label, members: members}
	g.parts[id] = p
	for _, n := range members {
		g.owner[n] = id
	}
	i := sort.SearchInts(g.ids, id)
	g.ids = append(g.ids, 0)
	copy(g.ids[i+1:], g.ids[i:])
	g.ids[i] = id
	if id >= g.nextID {
		g.nextID = id + 1
	}
	return p
}

func (g *Graph) remove(id ID) {
	delete(g.parts, id)
	delete(g.edges, id)
	i := sort.SearchInts(g.ids, id)
	if i < len(g.ids) && g.ids[i] == id {
		g.ids = append(g.ids[:i], g.ids[i+1:]...)
	}
}

// TraceGraph returns the underlying trace graph.
func (g *Graph) TraceGraph() *tracegraph.Graph { return g.tg }

// Len returns the number of partitions, sentinels included.
func (g *Graph) Len() int { return len(g.ids) }

// IDs returns the live partition ids in increasing order.
func (g *Graph) IDs() []ID {
	out := make([]ID, len(g.ids))
	copy(out, g.ids)
	return out
}

// Partition returns the partition with the given id, or nil.
func (g *Graph) Partition(id ID) *Partition { return g.parts[id] }

// Owner returns the partition that currently owns node n.
func (g *Graph) Owner(n tracegraph.NodeID) ID { return g.owner[n] }

// CountRegular returns the number of non-sentinel partitions.
func (g *Graph) CountRegular() int {
	n := 0
	for _, id := range g.ids {
		if !g.parts[id].label.IsSentinel() {
			n++
		}
	}
	return n
}

// Edges returns the existential transitions of partition id, ordered by
// target id then relation set.
func (g *Graph) Edges(id ID) []Edge {
	if e, ok := g.edges[id]; ok {
		return e
	}
	p := g.parts[id]
	if p == nil {
		return nil
	}
	type key struct {
		target ID
		rels   tracegraph.RelationSet
	}
	counts := map[key]int{}
	var keys []key
	for _, n := range p.members {
		for _, t := range g.tg.Node(n).Transitions() {
			k := key{g.owner[t.Target], t.Relations}
			if _, ok := counts[k]; !ok {
				keys = append(keys, k)
			}
			counts[k]++
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].target != keys[j].target {
			return keys[i].target < keys[j].target
		}
		return keys[i].rels < keys[j].rels
	})
	edges := make([]Edge, len(keys))
	for i, k := range keys {
		edges[i] = Edge{Target: k.target, Relations: k.rels, Count: counts[k]}
	}
	g.edges[id] = edges
	return edges
}

// invalidate drops cached edges of the given partitions and of every
// partition owning a predecessor of one of nodes.
func (g *Graph) invalidate(ids []ID, nodes []tracegraph.NodeID) {
	for _, id := range ids {
		delete(g.edges, id)
	}
	for _, n := range nodes {
		for _, p := range g.tg.Node(n).Predecessors() {
			delete(g.edges, g.owner[p])
		}
	}
}

// StartNodes returns the partition owning rel's INITIAL node.
func (g *Graph) StartNodes(rel string) []int {
	if !g.tg.HasRelation(rel) {
		return nil
	}
	return []int{g.owner[g.tg.Initial(rel)]}
}

// Label returns the event type of partition n.
func (g *Graph) Label(n int) event.Type { return g.parts[n].label }

// Successors returns the distinct partitions reachable from n in one step
// over rel, in increasing id order.
func (g *Graph) Successors(n int, rel string) []int {
	var out []int
	for _, e := range g.Edges(n) {
		if !e.Relations.Contains(rel) {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != e.Target {
			out = append(out, e.Target)
		}
	}
	return out
}

// IsTerminal reports whether partition n is the TERMINAL partition.
func (g *Graph) IsTerminal(n int) bool { return g.parts[n].label.IsTerminal() }

// CheckSanity verifies the disjoint-cover invariant: every trace-graph node
// is owned by exactly one non-empty, single-typed partition.
func (g *Graph) CheckSanity() error {
	seen := make([]bool, g.tg.Len())
	for _, id := range g.ids {
		p := g.parts[id]
		if p == nil || p.id != id {
			return lferrors.CoverViolated("partition index out of sync", -1, id)
		}
		if len(p.members) == 0 {
			return lferrors.CoverViolated("empty partition", -1, id)
		}
		for _, n := range p.members {
			if seen[n] {
				return lferrors.CoverViolated("node owned by two partitions", n, id)
			}
			seen[n] = true
			if g.owner[n] != id {
				return lferrors.CoverViolated("ownership table disagrees with membership", n, id)
			}
			if g.tg.Node(n).Type() != p.label {
				return lferrors.CoverViolated("member type differs from partition label", n, id)
			}
		}
	}
	if len(g.parts) != len(g.ids) {
		return lferrors.CoverViolated("partition index out of sync", -1, -1)
	}
	for n, ok := range seen {
		if !ok {
			return lferrors.CoverViolated("node owned by no partition", n, g.owner[n])
		}
	}
	return nil
}

// AcceptsSequence reports whether the graph has a path over rel from the
// INITIAL partition through partitions labelled with types, in order, to the
// TERMINAL partition.
func (g *Graph) AcceptsSequence(rel string, types []event.Type) bool {
	cur := g.StartNodes(rel)
	for _, t := range types {
		var next []int
		seen := map[int]bool{}
		for _, p := range cur {
			for _, s := range g.Successors(p, rel) {
				if !seen[s] && g.parts[s].label == t {
					seen[s] = true
					next = append(next, s)
				}
			}
		}
		if len(next) == 0 {
			return false
		}
		cur = next
	}
	for _, p := range cur {
		for _, s := range g.Successors(p, rel) {
			if g.IsTerminal(s) {
				return true
			}
		}
	}
	return false
}

// AcceptsTrace reports whether trace i remains representable over rel. For
// total orders the trace's type sequence must be accepted; for partial
// orders every concrete transition must map onto an existential one.
func (g *Graph) AcceptsTrace(i int, rel string) bool {
	if o, _ := g.tg.Order(rel); o == tracegraph.TotalOrder {
		return g.AcceptsSequence(rel, g.tg.TypeSequence(i, rel))
	}
	for _, n := range g.tg.TraceNodes(i) {
		for _, s := range g.tg.Successors(n, rel) {
			if !containsInt(g.Successors(g.owner[n], rel), g.owner[s]) {
				return false
			}
		}
	}
	return true
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
