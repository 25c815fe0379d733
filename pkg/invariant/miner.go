package invariant

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/logflow/tracemine/pkg/closure"
	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/event"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

// Miner derives the exact invariant set of a trace graph from per-relation
// transitive closures.
type Miner struct {
	logger        *zap.Logger
	concurrency   int
	interruptedBy bool
	concurrent    bool
}

// MinerOption configures a Miner.
type MinerOption func(*Miner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) MinerOption {
	return func(m *Miner) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithConcurrency bounds how many relations are mined in parallel.
func WithConcurrency(n int) MinerOption {
	return func(m *Miner) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithInterruptedBy enables mining of InterruptedBy invariants over
// total-order relations.
func WithInterruptedBy(enabled bool) MinerOption {
	return func(m *Miner) { m.interruptedBy = enabled }
}

// WithConcurrencyInvariants toggles AlwaysConcurrentWith and
// NeverConcurrentWith mining over partial-order relations. It is on by
// default.
func WithConcurrencyInvariants(enabled bool) MinerOption {
	return func(m *Miner) { m.concurrent = enabled }
}

// NewMiner creates a miner.
func NewMiner(opts ...MinerOption) *Miner {
	m := &Miner{
		logger:      zap.NewNop(),
		concurrency: 1,
		concurrent:  true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mine returns the invariants of every relation of g. Relations may be mined
// in parallel; the result always lists them in g.Relations() order.
func (m *Miner) Mine(ctx context.Context, g *tracegraph.Graph) (*Set, error) {
	start := time.Now()
	rels := g.Relations()
	results := make([]*Set, len(rels))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(m.concurrency)
	for i, rel := range rels {
		i, rel := i, rel
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return lferrors.Canceled("mine", err)
			}
			s, err := m.MineRelation(g, rel)
			if err != nil {
				return err
			}
			results[i] = s
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	all := NewSet()
	for _, s := range results {
		all.AddAll(s)
	}
	m.logger.Info("Mined invariants",
		zap.Int("relations", len(rels)),
		zap.Int("invariants", all.Len()),
		zap.Duration("duration", time.Since(start)))
	return all, nil
}

// ordering summarizes how every occurrence of one type relates to the
// occurrences of another within the same traces.
type ordering struct {
	neverFollowedBy  bool
	alwaysFollowedBy bool
	alwaysPrecedes   bool
	alwaysOrdered    bool
	neverOrdered     bool
}

// classes groups a relation's participants by type, per trace.
type classes struct {
	types   []event.Type
	byTrace map[event.Type]map[int][]tracegraph.NodeID
	members map[event.Type][]tracegraph.NodeID
}

func groupByType(g *tracegraph.Graph, rel string) *classes {
	c := &classes{
		byTrace: make(map[event.Type]map[int][]tracegraph.NodeID),
		members: make(map[event.Type][]tracegraph.NodeID),
	}
	for _, id := range g.Scope(rel) {
		n := g.Node(id)
		t := n.Type()
		if _, ok := c.byTrace[t]; !ok {
			c.byTrace[t] = make(map[int][]tracegraph.NodeID)
			c.types = append(c.types, t)
		}
		c.byTrace[t][n.Trace] = append(c.byTrace[t][n.Trace], id)
		c.members[t] = append(c.members[t], id)
	}
	return c
}

func summarize(g *tracegraph.Graph, tc *closure.Closure, c *classes, x, y event.Type) ordering {
	o := ordering{
		neverFollowedBy:  true,
		alwaysFollowedBy: true,
		alwaysPrecedes:   true,
		alwaysOrdered:    true,
		neverOrdered:     true,
	}
	for _, n1 := range c.members[x] {
		follower, predecessor := false, false
		for _, n2 := range c.byTrace[y][g.Node(n1).Trace] {
			fwd, back := tc.Reachable(n1, n2), tc.Reachable(n2, n1)
			if fwd {
				o.neverFollowedBy = false
				follower = true
			}
			if back {
				predecessor = true
			}
			if !fwd && !back {
				o.alwaysOrdered = false
			}
		}
		if !follower {
			o.alwaysFollowedBy = false
		}
		if !predecessor {
			o.alwaysPrecedes = false
		}
		if follower || predecessor {
			o.neverOrdered = false
		}
	}
	return o
}

// MineRelation returns the invariants of a single relation. Invariants over
// the INITIAL and TERMINAL sentinels are never produced, except the
// "INITIAL AFby x" family for types present in every trace.
func (m *Miner) MineRelation(g *tracegraph.Graph, rel string) (*Set, error) {
	start := time.Now()
	tc, err := closure.Compute(g, rel)
	if err != nil {
		return nil, err
	}
	order, _ := g.Order(rel)
	c := groupByType(g, rel)

	paths := NewSet()
	neverConc := NewSet()
	alwaysConc := NewSet()
	mineConc := m.concurrent && order == tracegraph.PartialOrder

	for i, x := range c.types {
		for _, y := range c.types[i:] {
			xy := summarize(g, tc, c, x, y)
			yx := summarize(g, tc, c, y, x)

			addedNeverOrdered := false
			if mineConc && x.Host != "" && y.Host != "" && x.Host != y.Host {
				if xy.neverOrdered {
					alwaysConc.Add(New(AlwaysConcurrentWith, y, x, rel))
					addedNeverOrdered = true
				}
				if xy.alwaysOrdered &&
					!xy.alwaysPrecedes && !xy.alwaysFollowedBy &&
					!yx.alwaysPrecedes && !yx.alwaysFollowedBy {
					neverConc.Add(New(NeverConcurrentWith, y, x, rel))
				}
			}

			// AlwaysConcurrentWith subsumes NeverFollowedBy.
			if !addedNeverOrdered {
				if xy.neverFollowedBy {
					paths.Add(New(NeverFollowedBy, x, y, rel))
				}
				if yx.neverFollowedBy {
					paths.Add(New(NeverFollowedBy, y, x, rel))
				}
			}
			if xy.alwaysFollowedBy {
				paths.Add(New(AlwaysFollowedBy, x, y, rel))
			}
			if yx.alwaysFollowedBy {
				paths.Add(New(AlwaysFollowedBy, y, x, rel))
			}
			if xy.alwaysPrecedes {
				paths.Add(New(AlwaysPrecedes, y, x, rel))
			}
			if yx.alwaysPrecedes {
				paths.Add(New(AlwaysPrecedes, x, y, rel))
			}
		}
	}
	paths.AddAll(neverConc)
	paths.AddAll(alwaysConc)

	if m.interruptedBy && order == tracegraph.TotalOrder {
		paths.AddAll(mineInterruptedBy(g, rel, c))
	}
	paths.AddAll(eventually(g, rel, c))

	m.logger.Debug("Mined relation",
		zap.String("relation", rel),
		zap.Int("types", len(c.types)),
		zap.Int("invariants", paths.Len()),
		zap.Duration("duration", time.Since(start)))
	return paths, nil
}

// eventually returns "INITIAL AFby x" for every type x that occurs in every
// trace participating in rel.
func eventually(g *tracegraph.Graph, rel string, c *classes) *Set {
	traces := map[int]bool{}
	for _, id := range g.Scope(rel) {
		traces[g.Node(id).Trace] = true
	}
	out := NewSet()
	for _, t := range c.types {
		if len(c.byTrace[t]) == len(traces) {
			out.Add(New(AlwaysFollowedBy, event.Initial(), t, rel))
		}
	}
	return out
}

// mineInterruptedBy finds "x IntrBy y": between any two consecutive x in any
// trace there is a y. Only types that repeat in some trace are considered;
// for the rest the invariant holds vacuously and says nothing.
func mineInterruptedBy(g *tracegraph.Graph, rel string, c *classes) *Set {
	// between[x] is the set of types seen between every pair of consecutive
	// x occurrences so far; nil until x repeats once.
	between := map[event.Type]map[event.Type]bool{}
	for ti := 0; ti < g.TraceCount(); ti++ {
		seq := g.TypeSequence(ti, rel)
		last := map[event.Type]int{}
		for i, t := range seq {
			if j, ok := last[t]; ok {
				seen := map[event.Type]bool{}
				for _, s := range seq[j+1 : i] {
					seen[s] = true
				}
				if prev, ok := between[t]; ok {
					for s := range prev {
						if !seen[s] {
							delete(prev, s)
						}
					}
				} else {
					between[t] = seen
				}
			}
			last[t] = i
		}
	}
	out := NewSet()
	for _, x := range c.types {
		ys, ok := between[x]
		if !ok {
			continue
		}
		for _, y := range c.types {
			if y != x && ys[y] {
				out.Add(New(InterruptedBy, x, y, rel))
			}
		}
	}
	return out
}
