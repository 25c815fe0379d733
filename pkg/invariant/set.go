package invariant

import (
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Set is a deduplicated collection of invariants that remembers insertion
// order. Iteration always follows insertion order so runs are reproducible.
// A Set is not safe for concurrent mutation.
type Set struct {
	items []Binary
	index map[Binary]int
}

// NewSet returns a set holding invs in order, duplicates dropped.
func NewSet(invs ...Binary) *Set {
	s := &Set{index: make(map[Binary]int, len(invs))}
	for _, inv := range invs {
		s.Add(inv)
	}
	return s
}

// Add inserts inv and reports whether it was new.
func (s *Set) Add(inv Binary) bool {
	if s.index == nil {
		s.index = make(map[Binary]int)
	}
	if _, ok := s.index[inv]; ok {
		return false
	}
	s.index[inv] = len(s.items)
	s.items = append(s.items, inv)
	return true
}

// AddAll inserts every invariant of o, keeping o's order.
func (s *Set) AddAll(o *Set) {
	if o == nil {
		return
	}
	for _, inv := range o.items {
		s.Add(inv)
	}
}

// Contains reports whether inv is in the set.
func (s *Set) Contains(inv Binary) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[inv]
	return ok
}

// Len returns the number of invariants.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// All returns the invariants in insertion order.
func (s *Set) All() []Binary {
	if s == nil {
		return nil
	}
	out := make([]Binary, len(s.items))
	copy(out, s.items)
	return out
}

// Sorted returns the invariants ordered by relation, kind and operands.
func (s *Set) Sorted() []Binary {
	out := s.All()
	sort.SliceStable(out, func(i, j int) bool { return compare(out[i], out[j]) < 0 })
	return out
}

// Union returns s followed by the members of o not already in s.
func (s *Set) Union(o *Set) *Set {
	u := NewSet(s.All()...)
	u.AddAll(o)
	return u
}

// Difference returns the members of s that are not in o.
func (s *Set) Difference(o *Set) *Set {
	return s.Filter(func(inv Binary) bool { return !o.Contains(inv) })
}

// Intersection returns the members of s that are also in o.
func (s *Set) Intersection(o *Set) *Set {
	return s.Filter(func(inv Binary) bool { return o.Contains(inv) })
}

// Filter returns the members of s for which keep returns true.
func (s *Set) Filter(keep func(Binary) bool) *Set {
	out := NewSet()
	if s == nil {
		return out
	}
	for _, inv := range s.items {
		if keep(inv) {
			out.Add(inv)
		}
	}
	return out
}

// Refinable returns the invariants that can drive partition refinement.
func (s *Set) Refinable() *Set {
	return s.Filter(func(inv Binary) bool { return inv.Kind.Refinable() })
}

// ForRelation returns the invariants of one relation.
func (s *Set) ForRelation(rel string) *Set {
	return s.Filter(func(inv Binary) bool { return inv.Relation == rel })
}

// Equal reports whether both sets hold the same invariants, regardless of
// order.
func (s *Set) Equal(o *Set) bool {
	if s.Len() != o.Len() {
		return false
	}
	for _, inv := range s.All() {
		if !o.Contains(inv) {
			return false
		}
	}
	return true
}

// Digest fingerprints the set contents independently of insertion order.
func (s *Set) Digest() uint64 {
	h := xxhash.New()
	for _, inv := range s.Sorted() {
		_, _ = h.WriteString(inv.Relation)
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(inv.String())
		_, _ = h.WriteString("\n")
	}
	return h.Sum64()
}

// Strings renders every invariant in insertion order.
func (s *Set) Strings() []string {
	out := make([]string, 0, s.Len())
	for _, inv := range s.All() {
		out = append(out, inv.String())
	}
	return out
}
