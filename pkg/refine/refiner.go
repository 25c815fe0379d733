// Package refine holds the two engines that shape a partition graph:
// counterexample-guided refinement, which splits partitions until every
// invariant holds, and coarsening, which merges equivalent partitions back
// together whenever that keeps every invariant true.
package refine

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/hooks"
	"github.com/logflow/tracemine/pkg/invariant"
	"github.com/logflow/tracemine/pkg/oracle"
	"github.com/logflow/tracemine/pkg/partition"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

// State is the refinement state machine's state.
type State int

const (
	StateMining State = iota
	StateChecking
	StateSplitting
	StateConverged
)

func (s State) String() string {
	switch s {
	case StateMining:
		return "mining"
	case StateChecking:
		return "checking"
	case StateSplitting:
		return "splitting"
	case StateConverged:
		return "converged"
	default:
		return "unknown"
	}
}

type settings struct {
	logger    *zap.Logger
	oracle    oracle.Oracle
	hooks     *hooks.HookManager
	maxSplits int
	deadline  time.Time
	sanity    bool
}

// Option configures the refiner and the coarsener.
type Option func(*settings)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithOracle sets the counterexample oracle. The FSM checker is the default.
func WithOracle(o oracle.Oracle) Option {
	return func(s *settings) {
		if o != nil {
			s.oracle = o
		}
	}
}

// WithHooks sets the hook manager notified of splits, merges and rollbacks.
func WithHooks(h *hooks.HookManager) Option {
	return func(s *settings) { s.hooks = h }
}

// WithMaxSplits stops refinement with a budget error after n splits.
// Zero means unbounded.
func WithMaxSplits(n int) Option {
	return func(s *settings) { s.maxSplits = n }
}

// WithDeadline stops either engine with a budget error once t has passed.
// The check happens between iterations only.
func WithDeadline(t time.Time) Option {
	return func(s *settings) { s.deadline = t }
}

// WithSanityCheck verifies the disjoint-cover invariant after every
// committed operation.
func WithSanityCheck(enabled bool) Option {
	return func(s *settings) { s.sanity = enabled }
}

func newSettings(opts []Option) settings {
	s := settings{
		logger: zap.NewNop(),
		oracle: oracle.NewFSMChecker(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// checkable returns the invariants that drive refinement: refinable kinds
// over total-order relations. Over a partial order a path through the graph
// is a chain of the DAG rather than a whole trace, so a path-based
// counterexample need not be spurious.
func checkable(g *partition.Graph, invs *invariant.Set) []invariant.Binary {
	tg := g.TraceGraph()
	return invs.Refinable().Filter(func(inv invariant.Binary) bool {
		o, ok := tg.Order(inv.Relation)
		return ok && o == tracegraph.TotalOrder
	}).All()
}

// between runs the checks due between two iterations of an engine loop.
func (s *settings) between(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return lferrors.Canceled(op, err)
	}
	if !s.deadline.IsZero() && time.Now().After(s.deadline) {
		return lferrors.BudgetExhausted("max_duration", s.deadline.Format(time.RFC3339))
	}
	return nil
}

func (s *settings) check(inv invariant.Binary, g *partition.Graph) (*oracle.Path, error) {
	p, err := s.oracle.Check(inv, g)
	if err != nil {
		if _, ok := err.(*lferrors.Error); ok {
			return nil, err
		}
		return nil, lferrors.Wrap(err, lferrors.CodeOracleFailure, "oracle failed").
			WithContext("oracle", s.oracle.Name()).
			WithContext("invariant", inv.String())
	}
	return p, nil
}

// Refiner splits partitions until the oracle finds no counterexample for any
// refinable invariant.
type Refiner struct {
	settings
	g      *partition.Graph
	invs   []invariant.Binary
	state  State
	splits int
	bound  int
}

// NewRefiner prepares refinement of g against the refinable members of invs.
// Invariants are checked in invs' insertion order.
func NewRefiner(g *partition.Graph, invs *invariant.Set, opts ...Option) *Refiner {
	return &Refiner{
		settings: newSettings(opts),
		g:        g,
		invs:     checkable(g, invs),
		state:    StateMining,
		bound:    g.TraceGraph().Len() - g.Len(),
	}
}

// State returns the current state.
func (r *Refiner) State() State { return r.state }

// Splits returns the number of committed splits.
func (r *Refiner) Splits() int { return r.splits }

// Run refines until convergence. On a budget or cancellation error the graph
// is left in its last consistent state and remains usable.
func (r *Refiner) Run(ctx context.Context) error {
	start := time.Now()
	r.state = StateChecking

	// A split only removes existential edges, so an invariant that holds
	// keeps holding; the cursor never moves back.
	for i := 0; i < len(r.invs); {
		if err := r.between(ctx, "refine"); err != nil {
			return err
		}
		inv := r.invs[i]
		p, err := r.check(inv, r.g)
		if err != nil {
			return err
		}
		if p == nil {
			i++
			continue
		}

		r.state = StateSplitting
		if r.maxSplits > 0 && r.splits >= r.maxSplits {
			r.state = StateChecking
			return lferrors.BudgetExhausted("max_splits", r.splits)
		}
		if r.splits >= r.bound {
			return lferrors.New(lferrors.CodeSplitBound, "split count exceeds nodes minus initial partitions").
				WithContext("splits", r.splits).
				WithContext("bound", r.bound)
		}
		if err := r.split(ctx, p); err != nil {
			return err
		}
		r.state = StateChecking
	}

	r.state = StateConverged
	r.logger.Info("Refinement converged",
		zap.Int("splits", r.splits),
		zap.Int("partitions", r.g.Len()),
		zap.Int("invariants", len(r.invs)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// split eliminates the counterexample p with one split. A candidate that
// removes every violation of p's invariant is preferred; otherwise the first
// candidate is used.
func (r *Refiner) split(ctx context.Context, p *oracle.Path) error {
	cands, err := Candidates(r.g, p)
	if err != nil {
		return err
	}

	var chosen *partition.Split
	global := false
	for _, c := range cands {
		undo, err := r.g.Apply(c)
		if err != nil {
			return err
		}
		still, err := r.check(p.Invariant, r.g)
		if err != nil {
			return err
		}
		if still == nil {
			chosen, global = c, true
			break
		}
		if _, err := r.g.Apply(undo); err != nil {
			return err
		}
	}
	if chosen == nil {
		chosen = cands[0]
		if _, err := r.g.Apply(chosen); err != nil {
			return err
		}
	}

	r.splits++
	if r.sanity {
		if err := r.g.CheckSanity(); err != nil {
			return err
		}
	}

	sizes := make([]int, len(chosen.Parts))
	for i, part := range chosen.Parts {
		sizes[i] = len(part)
	}
	label := r.g.Partition(chosen.Partition).Label().String()
	r.logger.Debug("Split partition",
		zap.String("invariant", p.Invariant.String()),
		zap.Int("partition", chosen.Partition),
		zap.String("label", label),
		zap.Ints("sizes", sizes),
		zap.Bool("global", global))
	return r.hooks.RunSplit(ctx, &hooks.SplitInfo{
		Invariant:  p.Invariant.String(),
		Partition:  chosen.Partition,
		Label:      label,
		Sizes:      sizes,
		Partitions: r.g.Len(),
		Global:     global,
		Count:      r.splits,
	})
}

// Candidates maps a counterexample onto candidate splits.
//
// The walk keeps the set of concrete nodes that can realize the path so far.
// At the first step where none of them continues into the next partition,
// the current partition mixes members that do continue with members that do
// not: splitting it on that outgoing transition removes the spurious step.
// A split on the incoming transition from the previous partition is offered
// as a second candidate when it separates anything.
func Candidates(g *partition.Graph, p *oracle.Path) ([]*partition.Split, error) {
	rel := p.Invariant.Relation
	tg := g.TraceGraph()
	if len(p.Nodes) == 0 {
		return nil, lferrors.NoSplitPoint(p.Invariant.String(), p.Nodes)
	}

	hot := append([]tracegraph.NodeID(nil), g.Partition(p.Nodes[0]).Members()...)
	broke := -1
	for i, part := range p.Nodes {
		if g.Partition(part) == nil {
			return nil, lferrors.NoSplitPoint(p.Invariant.String(), p.Nodes).
				WithContext("missing_partition", part)
		}
		hot = retainOwned(g, hot, part)
		if len(hot) == 0 {
			broke = i
			break
		}
		hot = concreteSuccessors(tg, hot, rel)
	}
	if broke < 1 {
		return nil, lferrors.NoSplitPoint(p.Invariant.String(), p.Nodes)
	}

	cur, next := p.Nodes[broke-1], p.Nodes[broke]
	var cands []*partition.Split
	if s := splitBy(g, cur, func(n tracegraph.NodeID) bool {
		for _, succ := range tg.Successors(n, rel) {
			if g.Owner(succ) == next {
				return true
			}
		}
		return false
	}); s != nil {
		cands = append(cands, s)
	}
	if broke >= 2 {
		prev := p.Nodes[broke-2]
		if s := splitBy(g, cur, func(n tracegraph.NodeID) bool {
			for _, pred := range tg.Node(n).Predecessors() {
				if g.Owner(pred) == prev && containsNode(tg.Successors(pred, rel), n) {
					return true
				}
			}
			return false
		}); s != nil {
			cands = append(cands, s)
		}
	}
	if len(cands) == 0 {
		return nil, lferrors.NoSplitPoint(p.Invariant.String(), p.Nodes).
			WithContext("partition", cur)
	}
	return cands, nil
}

// splitBy separates a partition's members by match. Members that do not
// match keep the partition id. It returns nil if either side would be empty.
func splitBy(g *partition.Graph, id partition.ID, match func(tracegraph.NodeID) bool) *partition.Split {
	var keep, move []tracegraph.NodeID
	for _, n := range g.Partition(id).Members() {
		if match(n) {
			move = append(move, n)
		} else {
			keep = append(keep, n)
		}
	}
	if len(keep) == 0 || len(move) == 0 {
		return nil
	}
	return &partition.Split{Partition: id, Parts: [][]tracegraph.NodeID{keep, move}}
}

func retainOwned(g *partition.Graph, nodes []tracegraph.NodeID, id partition.ID) []tracegraph.NodeID {
	out := nodes[:0]
	for _, n := range nodes {
		if g.Owner(n) == id {
			out = append(out, n)
		}
	}
	return out
}

func concreteSuccessors(tg *tracegraph.Graph, nodes []tracegraph.NodeID, rel string) []tracegraph.NodeID {
	seen := map[tracegraph.NodeID]bool{}
	var out []tracegraph.NodeID
	for _, n := range nodes {
		for _, s := range tg.Successors(n, rel) {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Ints(out)
	return out
}

func containsNode(ns []tracegraph.NodeID, n tracegraph.NodeID) bool {
	for _, x := range ns {
		if x == n {
			return true
		}
	}
	return false
}
