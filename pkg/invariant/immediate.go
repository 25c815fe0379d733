package invariant

import (
	"github.com/logflow/tracemine/pkg/event"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

// MineImmediate mines the plugin immediate kinds over one relation:
// "x AIFby y" when every x has an immediate successor of type y, and
// "x NIFby y" when no x does. These kinds have no counterexample semantics
// and never enter refinement; they serve model comparison.
func MineImmediate(g *tracegraph.Graph, rel string) *Set {
	c := groupByType(g, rel)

	// next[x][y] counts the x nodes with at least one immediate y successor.
	next := make(map[event.Type]map[event.Type]int, len(c.types))
	for _, x := range c.types {
		next[x] = map[event.Type]int{}
		for _, id := range c.members[x] {
			seen := map[event.Type]bool{}
			for _, s := range g.Successors(id, rel) {
				n := g.Node(s)
				if n.IsSentinel() || seen[n.Type()] {
					continue
				}
				seen[n.Type()] = true
				next[x][n.Type()]++
			}
		}
	}

	out := NewSet()
	for _, x := range c.types {
		for _, y := range c.types {
			switch next[x][y] {
			case len(c.members[x]):
				out.Add(New(AlwaysImmediatelyFollowedBy, x, y, rel))
			case 0:
				out.Add(New(NeverImmediatelyFollowedBy, x, y, rel))
			}
		}
	}
	return out
}

// MineImmediateAll runs MineImmediate over every relation of g.
func MineImmediateAll(g *tracegraph.Graph) *Set {
	out := NewSet()
	for _, rel := range g.Relations() {
		out.AddAll(MineImmediate(g, rel))
	}
	return out
}
