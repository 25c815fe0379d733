// Package diff compares the mined behaviour of two logs: event type
// frequencies and, above all, which temporal invariants were gained or lost.
package diff

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/logflow/tracemine/pkg/invariant"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

// Side is one input of a comparison.
type Side struct {
	Graph      *tracegraph.Graph
	Invariants *invariant.Set
}

// Report contains the differences between two logs.
type Report struct {
	LeftTraces  int
	RightTraces int
	LeftEvents  int
	RightEvents int

	TypeChanges  []TypeChange
	NewTypes     []string
	RemovedTypes []string

	// Added holds invariants that only hold on the right, Removed those that
	// only held on the left. Both are sorted.
	Added   []invariant.Binary
	Removed []invariant.Binary
	Common  int

	KindChanges []KindChange

	LeftDigest  uint64
	RightDigest uint64
}

// TypeChange represents a change in event type frequency.
type TypeChange struct {
	Type          string  `json:"type"`
	LeftCount     int     `json:"left_count"`
	RightCount    int     `json:"right_count"`
	LeftPercent   float64 `json:"left_percent"`
	RightPercent  float64 `json:"right_percent"`
	PercentDelta  float64 `json:"percent_delta"` // Positive means increased in right
	AbsoluteDelta int     `json:"absolute_delta"`
	Significance  string  `json:"significance"` // "increased", "decreased", "stable", "new", "removed"
}

// KindChange counts invariants of one kind on both sides.
type KindChange struct {
	Kind  invariant.Kind
	Left  int
	Right int
}

// Identical reports whether both sides have the same invariants.
func (r *Report) Identical() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0
}

// Compare diffs two mined logs.
func Compare(left, right Side) *Report {
	r := &Report{
		LeftTraces:  left.Graph.TraceCount(),
		RightTraces: right.Graph.TraceCount(),
	}

	lt, ln := typeCounts(left.Graph)
	rt, rn := typeCounts(right.Graph)
	r.LeftEvents, r.RightEvents = ln, rn
	r.TypeChanges = typeChanges(lt, rt, ln, rn)
	for _, c := range r.TypeChanges {
		switch c.Significance {
		case "new":
			r.NewTypes = append(r.NewTypes, c.Type)
		case "removed":
			r.RemovedTypes = append(r.RemovedTypes, c.Type)
		}
	}
	sort.Strings(r.NewTypes)
	sort.Strings(r.RemovedTypes)

	r.Added = right.Invariants.Difference(left.Invariants).Sorted()
	r.Removed = left.Invariants.Difference(right.Invariants).Sorted()
	r.Common = left.Invariants.Intersection(right.Invariants).Len()
	r.LeftDigest = left.Invariants.Digest()
	r.RightDigest = right.Invariants.Digest()

	for _, k := range invariant.Kinds() {
		kc := KindChange{
			Kind:  k,
			Left:  left.Invariants.Filter(func(b invariant.Binary) bool { return b.Kind == k }).Len(),
			Right: right.Invariants.Filter(func(b invariant.Binary) bool { return b.Kind == k }).Len(),
		}
		if kc.Left != 0 || kc.Right != 0 {
			r.KindChanges = append(r.KindChanges, kc)
		}
	}
	return r
}

func typeCounts(g *tracegraph.Graph) (map[string]int, int) {
	counts := make(map[string]int)
	total := 0
	for i := 0; i < g.TraceCount(); i++ {
		for _, id := range g.TraceNodes(i) {
			counts[g.Node(id).Type().String()]++
			total++
		}
	}
	return counts, total
}

func typeChanges(left, right map[string]int, leftTotal, rightTotal int) []TypeChange {
	all := make(map[string]struct{})
	for t := range left {
		all[t] = struct{}{}
	}
	for t := range right {
		all[t] = struct{}{}
	}

	changes := make([]TypeChange, 0, len(all))
	for t := range all {
		lc, rc := left[t], right[t]

		lp := float64(0)
		if leftTotal > 0 {
			lp = float64(lc) / float64(leftTotal) * 100
		}
		rp := float64(0)
		if rightTotal > 0 {
			rp = float64(rc) / float64(rightTotal) * 100
		}

		change := TypeChange{
			Type:          t,
			LeftCount:     lc,
			RightCount:    rc,
			LeftPercent:   lp,
			RightPercent:  rp,
			PercentDelta:  rp - lp,
			AbsoluteDelta: rc - lc,
		}
		switch {
		case lc == 0:
			change.Significance = "new"
		case rc == 0:
			change.Significance = "removed"
		case math.Abs(change.PercentDelta) < 1.0:
			change.Significance = "stable"
		case change.PercentDelta > 0:
			change.Significance = "increased"
		default:
			change.Significance = "decreased"
		}
		changes = append(changes, change)
	}

	// Most significant first; ties by name so the report is stable.
	sort.Slice(changes, func(i, j int) bool {
		di, dj := math.Abs(changes[i].PercentDelta), math.Abs(changes[j].PercentDelta)
		if di != dj {
			return di > dj
		}
		return changes[i].Type < changes[j].Type
	})
	return changes
}

// String returns a human-readable diff report.
func (r *Report) String() string {
	var b strings.Builder
	b.WriteString("=== Invariant Diff Report ===\n\n")

	fmt.Fprintf(&b, "Traces:     %d -> %d (%+d)\n", r.LeftTraces, r.RightTraces, r.RightTraces-r.LeftTraces)
	fmt.Fprintf(&b, "Events:     %d -> %d (%+d)\n", r.LeftEvents, r.RightEvents, r.RightEvents-r.LeftEvents)
	fmt.Fprintf(&b, "Invariants: %d common, %d added, %d removed\n", r.Common, len(r.Added), len(r.Removed))

	if len(r.NewTypes) > 0 {
		fmt.Fprintf(&b, "\nNew Types: %v\n", r.NewTypes)
	}
	if len(r.RemovedTypes) > 0 {
		fmt.Fprintf(&b, "Removed Types: %v\n", r.RemovedTypes)
	}

	if len(r.KindChanges) > 0 {
		b.WriteString("\nBy Kind:\n")
		fmt.Fprintf(&b, "  %-30s %8s %8s\n", "Kind", "Left", "Right")
		for _, kc := range r.KindChanges {
			fmt.Fprintf(&b, "  %-30s %8d %8d\n", kc.Kind.LongName(), kc.Left, kc.Right)
		}
	}

	if len(r.Added) > 0 {
		b.WriteString("\nAdded:\n")
		for _, inv := range r.Added {
			fmt.Fprintf(&b, "  + %s\n", inv)
		}
	}
	if len(r.Removed) > 0 {
		b.WriteString("\nRemoved:\n")
		for _, inv := range r.Removed {
			fmt.Fprintf(&b, "  - %s\n", inv)
		}
	}

	b.WriteString("\nType Changes (top 10):\n")
	fmt.Fprintf(&b, "  %-30s %10s %10s %10s %12s\n", "Type", "Left", "Right", "Delta", "Status")
	for i, c := range r.TypeChanges {
		if i >= 10 {
			break
		}
		name := c.Type
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		fmt.Fprintf(&b, "  %-30s %10d %10d %+9.1f%% %12s\n",
			name, c.LeftCount, c.RightCount, c.PercentDelta, c.Significance)
	}
	return b.String()
}
