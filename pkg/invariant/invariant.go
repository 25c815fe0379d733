// Package invariant defines binary temporal invariants, ordered invariant
// sets, and the miners that derive them from a trace graph.
package invariant

import (
	"fmt"
	"strings"

	"github.com/logflow/tracemine/pkg/event"
)

// Kind is the temporal relationship an invariant asserts between two event
// types.
type Kind uint8

const (
	AlwaysFollowedBy Kind = iota + 1
	NeverFollowedBy
	AlwaysPrecedes
	InterruptedBy
	AlwaysConcurrentWith
	NeverConcurrentWith
	AlwaysImmediatelyFollowedBy
	NeverImmediatelyFollowedBy
)

var kindNames = map[Kind][2]string{
	AlwaysFollowedBy:            {"AFby", "AlwaysFollowedBy"},
	NeverFollowedBy:             {"NFby", "NeverFollowedBy"},
	AlwaysPrecedes:              {"AP", "AlwaysPrecedes"},
	InterruptedBy:               {"IntrBy", "InterruptedBy"},
	AlwaysConcurrentWith:        {"ACwith", "AlwaysConcurrentWith"},
	NeverConcurrentWith:         {"NCwith", "NeverConcurrentWith"},
	AlwaysImmediatelyFollowedBy: {"AIFby", "AlwaysImmediatelyFollowedBy"},
	NeverImmediatelyFollowedBy:  {"NIFby", "NeverImmediatelyFollowedBy"},
}

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		AlwaysFollowedBy, NeverFollowedBy, AlwaysPrecedes, InterruptedBy,
		AlwaysConcurrentWith, NeverConcurrentWith,
		AlwaysImmediatelyFollowedBy, NeverImmediatelyFollowedBy,
	}
}

// String returns the short name, e.g. "AFby".
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n[0]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// LongName returns the spelled-out name, e.g. "AlwaysFollowedBy".
func (k Kind) LongName() string {
	if n, ok := kindNames[k]; ok {
		return n[1]
	}
	return k.String()
}

// ParseKind accepts either the short or the long name, case-insensitively.
func ParseKind(s string) (Kind, bool) {
	for k, n := range kindNames {
		if strings.EqualFold(s, n[0]) || strings.EqualFold(s, n[1]) {
			return k, true
		}
	}
	return 0, false
}

// Symmetric reports whether inv(x,y) and inv(y,x) are the same invariant.
func (k Kind) Symmetric() bool {
	return k == AlwaysConcurrentWith || k == NeverConcurrentWith
}

// Refinable reports whether the kind can drive partition refinement. Only
// kinds with a path-based counterexample semantics qualify.
func (k Kind) Refinable() bool {
	switch k {
	case AlwaysFollowedBy, NeverFollowedBy, AlwaysPrecedes, InterruptedBy:
		return true
	default:
		return false
	}
}

// Immediate reports whether the kind is one of the plugin immediate kinds.
func (k Kind) Immediate() bool {
	return k == AlwaysImmediatelyFollowedBy || k == NeverImmediatelyFollowedBy
}

// Binary is a temporal invariant over two event types within one relation. It
// is comparable; symmetric kinds are stored with the smaller type first so
// that inv(x,y) == inv(y,x).
type Binary struct {
	First    event.Type
	Second   event.Type
	Relation string
	Kind     Kind
}

// New builds an invariant, normalizing operand order for symmetric kinds.
func New(kind Kind, first, second event.Type, relation string) Binary {
	if kind.Symmetric() && second.Compare(first) < 0 {
		first, second = second, first
	}
	return Binary{First: first, Second: second, Relation: relation, Kind: kind}
}

// String renders "x AFby y", adding the relation when it is not the default.
func (b Binary) String() string {
	if b.Relation == "" || b.Relation == event.DefaultRelation {
		return fmt.Sprintf("%s %s %s", b.First, b.Kind, b.Second)
	}
	return fmt.Sprintf("%s %s(%s) %s", b.First, b.Kind, b.Relation, b.Second)
}

// LTL returns the invariant as a linear temporal logic formula over did(x)
// propositions. Concurrency kinds have no LTL form.
func (b Binary) LTL() (string, bool) {
	x := "did(" + b.First.String() + ")"
	y := "did(" + b.Second.String() + ")"
	switch b.Kind {
	case AlwaysFollowedBy:
		return fmt.Sprintf("[](%s -> <>(%s))", x, y), true
	case NeverFollowedBy:
		return fmt.Sprintf("[](%s -> X([] !(%s)))", x, y), true
	case AlwaysPrecedes:
		return fmt.Sprintf("(<>(%s)) -> ((!%s) U %s)", y, y, x), true
	case InterruptedBy:
		return fmt.Sprintf("[](%s -> X((!%s) W %s))", x, x, y), true
	case AlwaysImmediatelyFollowedBy:
		return fmt.Sprintf("[](%s -> X(%s))", x, y), true
	case NeverImmediatelyFollowedBy:
		return fmt.Sprintf("[](%s -> X(!%s))", x, y), true
	default:
		return "", false
	}
}

// compare orders invariants by relation, kind, first, then second.
func compare(a, b Binary) int {
	if c := strings.Compare(a.Relation, b.Relation); c != 0 {
		return c
	}
	if a.Kind != b.Kind {
		return int(a.Kind) - int(b.Kind)
	}
	if c := a.First.Compare(b.First); c != 0 {
		return c
	}
	return a.Second.Compare(b.Second)
}
