package tracegraph

import (
	"sort"
	"strings"
)

// Order declares how a relation orders the events of one trace.
type Order uint8

const (
	// PartialOrder relations form a DAG per trace.
	PartialOrder Order = iota
	// TotalOrder relations form a chain per trace: every participating node
	// has exactly one outgoing edge.
	TotalOrder
)

// String returns the order name.
func (o Order) String() string {
	switch o {
	case TotalOrder:
		return "total"
	case PartialOrder:
		return "partial"
	default:
		return "unknown"
	}
}

// ParseOrder parses "total" or "partial".
func ParseOrder(s string) (Order, bool) {
	switch strings.ToLower(s) {
	case "total", "chain":
		return TotalOrder, true
	case "partial", "dag":
		return PartialOrder, true
	default:
		return PartialOrder, false
	}
}

const relationSep = ","

// RelationSet is an immutable, sorted set of relation names. Its zero value is
// the empty set. It is comparable and usable as a map key.
type RelationSet string

// NewRelationSet builds a set from names.
func NewRelationSet(names ...string) RelationSet {
	if len(names) == 0 {
		return ""
	}
	uniq := make(map[string]struct{}, len(names))
	sorted := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := uniq[n]; ok {
			continue
		}
		uniq[n] = struct{}{}
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)
	return RelationSet(strings.Join(sorted, relationSep))
}

// Names returns the relation names in sorted order.
func (s RelationSet) Names() []string {
	if s == "" {
		return nil
	}
	return strings.Split(string(s), relationSep)
}

// Contains reports whether rel is in the set.
func (s RelationSet) Contains(rel string) bool {
	for _, n := range s.Names() {
		if n == rel {
			return true
		}
	}
	return false
}

// With returns the union of s and rel.
func (s RelationSet) With(rel string) RelationSet {
	return NewRelationSet(append(s.Names(), rel)...)
}

// Len returns the number of relations in the set.
func (s RelationSet) Len() int {
	return len(s.Names())
}

// String renders the set as {a,b}.
func (s RelationSet) String() string {
	return "{" + string(s) + "}"
}

func validRelationName(name string) bool {
	return name != "" && !strings.Contains(name, relationSep)
}
