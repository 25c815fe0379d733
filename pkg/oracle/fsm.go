package oracle

import (
	"github.com/logflow/tracemine/pkg/invariant"
)

// tracer is the tracing state machine of one invariant kind. States are
// small integers; state 0 is the state before any event.
type tracer struct {
	states int
	step   func(state int, s symbol) int
	fail   func(state int) bool
}

const (
	// AFby
	afbyDone    = 0
	afbyPending = 1

	// NFby and IntrBy
	aNotSeen   = 0
	aSeen      = 1
	violated   = 2
	bSeenAfter = violated

	// AP
	neitherSeen = 0
	firstA      = 1
	firstB      = 2
)

var tracers = map[invariant.Kind]tracer{
	invariant.AlwaysFollowedBy: {
		states: 2,
		step: func(st int, s symbol) int {
			switch s {
			case symFirst, symBoth:
				return afbyPending
			case symSecond:
				return afbyDone
			}
			return st
		},
		fail: func(st int) bool { return st == afbyPending },
	},
	invariant.NeverFollowedBy: {
		states: 3,
		step: func(st int, s symbol) int {
			if st == aSeen && (s == symSecond || s == symBoth) {
				return bSeenAfter
			}
			if st == aNotSeen && (s == symFirst || s == symBoth) {
				return aSeen
			}
			return st
		},
		fail: func(st int) bool { return st == bSeenAfter },
	},
	invariant.AlwaysPrecedes: {
		states: 3,
		step: func(st int, s symbol) int {
			if st != neitherSeen {
				return st
			}
			switch s {
			case symFirst, symBoth:
				return firstA
			case symSecond:
				return firstB
			}
			return st
		},
		fail: func(st int) bool { return st == firstB },
	},
	invariant.InterruptedBy: {
		states: 3,
		step: func(st int, s symbol) int {
			if st == violated {
				return st
			}
			switch s {
			case symSecond:
				return aNotSeen
			case symFirst, symBoth:
				if st == aSeen {
					return violated
				}
				return aSeen
			}
			return st
		},
		fail: func(st int) bool { return st == violated },
	},
}

// FSMChecker propagates, for every model node, the shortest history reaching
// it in each tracing state. Propagation runs to a fixpoint over a worklist;
// the shortest history ending at a TERMINAL node in a failing state is the
// counterexample.
type FSMChecker struct{}

// NewFSMChecker returns the tracing state machine checker.
func NewFSMChecker() *FSMChecker { return &FSMChecker{} }

// Name returns "fsm".
func (c *FSMChecker) Name() string { return "fsm" }

// Check implements Oracle.
func (c *FSMChecker) Check(inv invariant.Binary, m Model) (*Path, error) {
	tr, ok := tracers[inv.Kind]
	if !ok {
		return nil, unsupported(inv)
	}

	hist := map[int][]*history{}
	var queue []int
	queued := map[int]bool{}

	// record keeps h for (n, st) when it is shorter than what is known.
	record := func(n, st int, h *history) {
		hs := hist[n]
		if hs == nil {
			hs = make([]*history, tr.states)
			hist[n] = hs
		}
		if hs[st] != nil && hs[st].length <= h.length {
			return
		}
		hs[st] = h
		if !queued[n] {
			queued[n] = true
			queue = append(queue, n)
		}
	}

	for _, s := range m.StartNodes(inv.Relation) {
		record(s, tr.step(0, classify(inv, m.Label(s))), &history{node: s, length: 1})
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		queued[n] = false
		succ := m.Successors(n, inv.Relation)
		for st, h := range hist[n] {
			if h == nil {
				continue
			}
			for _, s := range succ {
				record(s, tr.step(st, classify(inv, m.Label(s))), h.extend(s))
			}
		}
	}

	var best *history
	for n, hs := range hist {
		if !m.IsTerminal(n) {
			continue
		}
		for st, h := range hs {
			if h == nil || !tr.fail(st) {
				continue
			}
			if best == nil || h.length < best.length || (h.length == best.length && lessPath(h, best)) {
				best = h
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	return &Path{Invariant: inv, Nodes: best.nodes()}, nil
}

// lessPath orders equally long histories lexicographically by node id, so
// ties never depend on map iteration order.
func lessPath(a, b *history) bool {
	an, bn := a.nodes(), b.nodes()
	for i := range an {
		if an[i] != bn[i] {
			return an[i] < bn[i]
		}
	}
	return false
}
