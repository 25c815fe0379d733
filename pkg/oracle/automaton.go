package oracle

import (
	"github.com/logflow/tracemine/pkg/invariant"
)

// dfa recognizes violating label sequences of one invariant kind. Columns of
// delta are indexed by symbol: other, first, second, both.
type dfa struct {
	start int
	delta [][4]int
	bad   []bool
}

// violationAutomata are the complements of each kind's LTL formula,
// determinized over the four-letter alphabet.
var violationAutomata = map[invariant.Kind]dfa{
	// [](x -> <>y): a pending x not yet answered by y.
	invariant.AlwaysFollowedBy: {
		start: 0,
		delta: [][4]int{
			{0, 1, 0, 1},
			{1, 1, 0, 1},
		},
		bad: []bool{false, true},
	},
	// [](x -> X([] !y)): a y somewhere after an x.
	invariant.NeverFollowedBy: {
		start: 0,
		delta: [][4]int{
			{0, 1, 0, 1},
			{1, 1, 2, 2},
			{2, 2, 2, 2},
		},
		bad: []bool{false, false, true},
	},
	// (<>y) -> (!y U x): a y before any x.
	invariant.AlwaysPrecedes: {
		start: 0,
		delta: [][4]int{
			{0, 1, 2, 1},
			{1, 1, 1, 1},
			{2, 2, 2, 2},
		},
		bad: []bool{false, false, true},
	},
	// [](x -> X(!x W y)): two x with no y between them.
	invariant.InterruptedBy: {
		start: 0,
		delta: [][4]int{
			{0, 1, 0, 1},
			{1, 2, 0, 2},
			{2, 2, 2, 2},
		},
		bad: []bool{false, false, true},
	},
}

// AutomatonChecker searches the product of the model and a violation
// automaton breadth-first. The first TERMINAL node reached in a bad
// automaton state ends the search, and its BFS parent chain is the shortest
// counterexample.
type AutomatonChecker struct{}

// NewAutomatonChecker returns the automaton product checker.
func NewAutomatonChecker() *AutomatonChecker { return &AutomatonChecker{} }

// Name returns "automaton".
func (c *AutomatonChecker) Name() string { return "automaton" }

type productState struct {
	node  int
	state int
}

// Check implements Oracle.
func (c *AutomatonChecker) Check(inv invariant.Binary, m Model) (*Path, error) {
	a, ok := violationAutomata[inv.Kind]
	if !ok {
		return nil, unsupported(inv)
	}

	parent := map[productState]productState{}
	visited := map[productState]bool{}
	var queue []productState
	root := productState{node: -1}

	for _, s := range m.StartNodes(inv.Relation) {
		ps := productState{s, a.delta[a.start][classify(inv, m.Label(s))]}
		if !visited[ps] {
			visited[ps] = true
			parent[ps] = root
			queue = append(queue, ps)
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if m.IsTerminal(cur.node) && a.bad[cur.state] {
			return &Path{Invariant: inv, Nodes: unwind(parent, cur, root)}, nil
		}
		for _, s := range m.Successors(cur.node, inv.Relation) {
			next := productState{s, a.delta[cur.state][classify(inv, m.Label(s))]}
			if visited[next] {
				continue
			}
			visited[next] = true
			parent[next] = cur
			queue = append(queue, next)
		}
	}
	return nil, nil
}

func unwind(parent map[productState]productState, end, root productState) []int {
	var rev []int
	for cur := end; cur != root; cur = parent[cur] {
		rev = append(rev, cur.node)
	}
	out := make([]int, len(rev))
	for i, n := range rev {
		out[len(rev)-1-i] = n
	}
	return out
}
