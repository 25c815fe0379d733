// Package oracle finds counterexample paths: paths through a model that
// violate a temporal invariant. Two interchangeable strategies are provided,
// a per-invariant tracing state machine and an automaton product search.
package oracle

import (
	"errors"
	"fmt"
	"strings"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/event"
	"github.com/logflow/tracemine/pkg/invariant"
)

// ErrUnsupportedKind is returned for invariant kinds without a path-based
// counterexample semantics.
var ErrUnsupportedKind = errors.New("invariant kind has no counterexample semantics")

// Model is the graph an oracle searches. Nodes are plain ints so both the
// concrete trace graph and the partition graph can be checked.
type Model interface {
	// StartNodes returns the entry nodes of rel, labelled INITIAL.
	StartNodes(rel string) []int
	Label(n int) event.Type
	// Successors returns n's one-step successors over rel in a stable order.
	Successors(n int, rel string) []int
	IsTerminal(n int) bool
}

// Path is a counterexample: a path from an INITIAL node to a TERMINAL node
// whose label sequence violates Invariant.
type Path struct {
	Invariant invariant.Binary
	Nodes     []int
}

// Len returns the number of nodes on the path.
func (p *Path) Len() int { return len(p.Nodes) }

// Labels renders the path's label sequence.
func (p *Path) Labels(m Model) []string {
	out := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		out[i] = m.Label(n).String()
	}
	return out
}

// String renders the path as node ids.
func (p *Path) String() string {
	parts := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		parts[i] = fmt.Sprint(n)
	}
	return p.Invariant.String() + ": [" + strings.Join(parts, " ") + "]"
}

// Oracle checks one invariant against a model. Check returns nil when the
// invariant holds, and the shortest violating path otherwise.
type Oracle interface {
	Name() string
	Check(inv invariant.Binary, m Model) (*Path, error)
}

// Names lists the available strategies.
func Names() []string { return []string{"fsm", "automaton"} }

// New returns the strategy registered under name.
func New(name string) (Oracle, error) {
	switch strings.ToLower(name) {
	case "", "fsm":
		return NewFSMChecker(), nil
	case "automaton", "ltl":
		return NewAutomatonChecker(), nil
	default:
		return nil, lferrors.Newf(lferrors.CodeInvalidConfig, "unknown oracle %q", name).
			WithContext("available", Names())
	}
}

func unsupported(inv invariant.Binary) error {
	return lferrors.Wrap(ErrUnsupportedKind, lferrors.CodeOracleFailure, "cannot check invariant").
		WithContext("invariant", inv.String()).
		WithContext("kind", inv.Kind.LongName())
}

// symbol classifies a label against an invariant's operands.
type symbol uint8

const (
	symOther symbol = iota
	symFirst
	symSecond
	symBoth
)

func classify(inv invariant.Binary, t event.Type) symbol {
	switch a, b := t == inv.First, t == inv.Second; {
	case a && b:
		return symBoth
	case a:
		return symFirst
	case b:
		return symSecond
	default:
		return symOther
	}
}

// history is a path prefix stored as a linked list, newest node first.
type history struct {
	node   int
	prev   *history
	length int
}

func (h *history) extend(n int) *history {
	return &history{node: n, prev: h, length: h.length + 1}
}

func (h *history) nodes() []int {
	out := make([]int, h.length)
	for i, c := h.length-1, h; c != nil; i, c = i-1, c.prev {
		out[i] = c.node
	}
	return out
}
