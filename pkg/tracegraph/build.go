package tracegraph

import (
	"fmt"
	"sort"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/event"
)

// Link is a caller-supplied edge of a custom relation between two events of
// the same trace, addressed by their positions in Trace.Events.
type Link struct {
	From     int
	To       int
	Relation string
}

// Trace is one observed execution as handed over by a parser.
//
// When every event carries a vector time the default relation is the
// happens-before partial order of those times; otherwise the events are a
// totally ordered chain in slice order.
type Trace struct {
	Name   string
	Events []event.Event
	Links  []Link
}

// Timed reports whether every event carries a vector time.
func (t Trace) Timed() bool {
	if len(t.Events) == 0 {
		return false
	}
	for _, e := range t.Events {
		if e.Time == nil {
			return false
		}
	}
	return true
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	orders map[string]Order
}

// WithRelationOrder declares the order of a custom relation. Custom relations
// are partial orders unless declared otherwise.
func WithRelationOrder(rel string, o Order) BuildOption {
	return func(b *buildOptions) {
		b.orders[rel] = o
	}
}

type edgeKey struct{ from, to NodeID }

type builder struct {
	g     *Graph
	edges map[edgeKey]int
}

// Build validates traces and constructs the trace graph. All caller-input
// problems are reported here, before any mining starts.
func Build(traces []Trace, opts ...BuildOption) (*Graph, error) {
	bo := &buildOptions{orders: make(map[string]Order)}
	for _, opt := range opts {
		opt(bo)
	}
	if len(traces) == 0 {
		return nil, lferrors.New(lferrors.CodeEmptyInput, "no traces to build from")
	}

	timed, err := checkTiming(traces)
	if err != nil {
		return nil, err
	}
	relations, err := collectRelations(traces)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		relations: relations,
		orders:    make(map[string]Order, len(relations)),
		initial:   make(map[string]NodeID, len(relations)),
		terminal:  make(map[string]NodeID, len(relations)),
		scope:     make(map[string][]NodeID, len(relations)),
	}
	for _, rel := range relations {
		switch {
		case rel == event.DefaultRelation && timed:
			g.orders[rel] = PartialOrder
		case rel == event.DefaultRelation:
			g.orders[rel] = TotalOrder
		default:
			g.orders[rel] = bo.orders[rel]
		}
	}
	for rel := range bo.orders {
		if _, ok := g.orders[rel]; !ok {
			return nil, lferrors.Newf(lferrors.CodeUnknownRelation, "relation %q has no links", rel).
				WithContext("relation", rel)
		}
	}

	b := &builder{g: g, edges: make(map[edgeKey]int)}
	for _, rel := range relations {
		g.initial[rel] = b.addNode(event.New(event.Initial()), -1, -1)
	}
	seen := map[event.Type]bool{}
	g.types = append(g.types, event.Initial())
	for ti, tr := range traces {
		info := traceInfo{name: traceName(tr, ti)}
		for ei, e := range tr.Events {
			if e.Type.IsSentinel() {
				return nil, lferrors.MalformedTrace(info.name, "sentinel event type in input").
					WithContext("index", ei)
			}
			info.nodes = append(info.nodes, b.addNode(e, ti, ei))
			if !seen[e.Type] {
				seen[e.Type] = true
				g.types = append(g.types, e.Type)
			}
		}
		g.traces = append(g.traces, info)
	}
	g.types = append(g.types, event.Terminal())
	for _, rel := range relations {
		g.terminal[rel] = b.addNode(event.New(event.Terminal()), -1, -1)
	}

	for ti, tr := range traces {
		if err := b.linkTrace(ti, tr, timed); err != nil {
			return nil, err
		}
	}
	for _, rel := range relations {
		if err := g.validate(rel); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func traceName(tr Trace, i int) string {
	if tr.Name != "" {
		return tr.Name
	}
	return fmt.Sprintf("trace-%d", i)
}

// checkTiming requires every trace to be either fully timed or fully untimed,
// and all traces to agree.
func checkTiming(traces []Trace) (bool, error) {
	timed := 0
	for i, tr := range traces {
		if len(tr.Events) == 0 {
			return false, lferrors.MalformedTrace(traceName(tr, i), "trace has no events")
		}
		n := 0
		for _, e := range tr.Events {
			if e.Time != nil {
				n++
			}
		}
		if n != 0 && n != len(tr.Events) {
			return false, lferrors.MalformedTrace(traceName(tr, i), "trace mixes timed and untimed events")
		}
		if n != 0 {
			timed++
		}
	}
	if timed != 0 && timed != len(traces) {
		return false, lferrors.New(lferrors.CodeMalformedTrace, "input mixes timed and untimed traces")
	}
	return timed != 0, nil
}

// collectRelations returns the default relation followed by custom relations
// in first-seen order.
func collectRelations(traces []Trace) ([]string, error) {
	rels := []string{event.DefaultRelation}
	seen := map[string]bool{event.DefaultRelation: true}
	for i, tr := range traces {
		for _, l := range tr.Links {
			name := traceName(tr, i)
			if !validRelationName(l.Relation) || l.Relation == event.DefaultRelation {
				return nil, lferrors.Newf(lferrors.CodeUnknownRelation, "invalid link relation %q", l.Relation).
					WithContext("trace", name)
			}
			if l.From < 0 || l.From >= len(tr.Events) || l.To < 0 || l.To >= len(tr.Events) {
				return nil, lferrors.MalformedTrace(name, "link endpoint out of range").
					WithContext("from", l.From).
					WithContext("to", l.To)
			}
			if l.From == l.To {
				return nil, lferrors.MalformedTrace(name, "self link").WithContext("event", l.From)
			}
			if !seen[l.Relation] {
				seen[l.Relation] = true
				rels = append(rels, l.Relation)
			}
		}
	}
	return rels, nil
}

func (b *builder) addNode(e event.Event, trace, index int) NodeID {
	id := len(b.g.nodes)
	b.g.nodes = append(b.g.nodes, Node{ID: id, Event: e, Trace: trace, Index: index})
	return id
}

func (b *builder) addEdge(from, to NodeID, rel string) {
	k := edgeKey{from, to}
	if i, ok := b.edges[k]; ok {
		t := &b.g.nodes[from].out[i]
		t.Relations = t.Relations.With(rel)
		return
	}
	n := &b.g.nodes[from]
	b.edges[k] = len(n.out)
	n.out = append(n.out, Transition{Target: to, Relations: NewRelationSet(rel)})
	b.g.nodes[to].in = append(b.g.nodes[to].in, from)
}

// linkTrace adds the edges of every relation for one trace, including the
// sentinel edges.
func (b *builder) linkTrace(ti int, tr Trace, timed bool) error {
	nodes := b.g.traces[ti].nodes
	name := b.g.traces[ti].name

	var pairs [][2]int
	if timed {
		var err error
		if pairs, err = hasse(name, tr.Events); err != nil {
			return err
		}
	} else {
		for i := 0; i+1 < len(nodes); i++ {
			pairs = append(pairs, [2]int{i, i + 1})
		}
	}
	b.linkRelation(event.DefaultRelation, nodes, pairs, len(tr.Events))

	byRel := map[string][][2]int{}
	var order []string
	for _, l := range tr.Links {
		if _, ok := byRel[l.Relation]; !ok {
			order = append(order, l.Relation)
		}
		byRel[l.Relation] = append(byRel[l.Relation], [2]int{l.From, l.To})
	}
	for _, rel := range order {
		b.linkRelation(rel, nodes, byRel[rel], len(tr.Events))
	}
	return nil
}

// linkRelation adds the given event pairs as edges of rel, connects sources to
// INITIAL and sinks to TERMINAL, and records the participants in rel's scope.
// For the default relation every event participates; for custom relations only
// link endpoints do.
func (b *builder) linkRelation(rel string, nodes []NodeID, pairs [][2]int, n int) {
	part := make([]bool, n)
	hasIn := make([]bool, n)
	hasOut := make([]bool, n)
	if rel == event.DefaultRelation {
		for i := range part {
			part[i] = true
		}
	}
	for _, p := range pairs {
		part[p[0]], part[p[1]] = true, true
		hasOut[p[0]], hasIn[p[1]] = true, true
		b.addEdge(nodes[p[0]], nodes[p[1]], rel)
	}
	for i := 0; i < n; i++ {
		if !part[i] {
			continue
		}
		b.g.scope[rel] = append(b.g.scope[rel], nodes[i])
		if !hasIn[i] {
			b.addEdge(b.g.initial[rel], nodes[i], rel)
		}
		if !hasOut[i] {
			b.addEdge(nodes[i], b.g.terminal[rel], rel)
		}
	}
	sort.Ints(b.g.scope[rel])
}

// hasse returns the covering pairs of the happens-before order over events:
// i -> j when i happened before j and no event lies strictly between them.
func hasse(trace string, events []event.Event) ([][2]int, error) {
	n := len(events)
	less := make([][]bool, n)
	for i := range less {
		less[i] = make([]bool, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := events[i].Time, events[j].Time
			switch {
			case a.Equal(b):
				return nil, lferrors.AmbiguousOrder(trace, i, j)
			case a.Less(b):
				less[i][j] = true
			case b.Less(a):
				less[j][i] = true
			}
		}
	}
	var pairs [][2]int
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if !less[i][j] {
				continue
			}
			covered := true
			for k := 0; k < n; k++ {
				if less[i][k] && less[k][j] {
					covered = false
					break
				}
			}
			if covered {
				pairs = append(pairs, [2]int{i, j})
			}
		}
	}
	return pairs, nil
}

// validate checks the declared order of rel: acyclicity for every relation,
// and exactly one outgoing and one incoming edge per participant for total
// orders.
func (g *Graph) validate(rel string) error {
	scope := g.scope[rel]
	indeg := make(map[NodeID]int, len(scope))
	for _, id := range scope {
		indeg[id] = 0
	}
	for _, id := range scope {
		for _, s := range g.Successors(id, rel) {
			if _, ok := indeg[s]; ok {
				indeg[s]++
			}
		}
	}

	if g.orders[rel] == TotalOrder {
		for _, id := range scope {
			if out := len(g.Successors(id, rel)); out != 1 {
				return lferrors.TotalOrderOutEdge(rel, id, out)
			}
		}
		perTrace := map[int]int{}
		for _, s := range g.Successors(g.initial[rel], rel) {
			perTrace[g.nodes[s].Trace]++
		}
		for ti, n := range perTrace {
			if n != 1 {
				return lferrors.MalformedTrace(g.traces[ti].name, "total-order relation has more than one first event").
					WithContext("relation", rel).
					WithContext("sources", n)
			}
		}
	}

	// Kahn: anything left unvisited sits on a cycle.
	queue := make([]NodeID, 0, len(scope))
	for _, id := range scope {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, s := range g.Successors(id, rel) {
			if _, ok := indeg[s]; !ok {
				continue
			}
			indeg[s]--
			if indeg[s] == 0 {
				queue = append(queue, s)
			}
		}
	}
	if visited != len(scope) {
		for _, id := range scope {
			if indeg[id] > 0 {
				return lferrors.New(lferrors.CodeCyclicRelation, "relation contains a cycle").
					WithContext("relation", rel).
					WithContext("node", id).
					WithContext("trace", g.traces[g.nodes[id].Trace].name)
			}
		}
	}
	return nil
}
