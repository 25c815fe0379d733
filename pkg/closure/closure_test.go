package closure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/tracemine/pkg/event"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

func chain(labels ...string) tracegraph.Trace {
	var tr tracegraph.Trace
	for _, l := range labels {
		tr.Events = append(tr.Events, event.New(event.NewType(l)))
	}
	return tr
}

func TestForChains(t *testing.T) {
	g, err := tracegraph.Build([]tracegraph.Trace{chain("A", "B", "C"), chain("D", "E")})
	require.NoError(t, err)

	c, err := Compute(g, event.DefaultRelation)
	require.NoError(t, err)

	t1, t2 := g.TraceNodes(0), g.TraceNodes(1)
	tests := []struct {
		a, b tracegraph.NodeID
		want bool
	}{
		{t1[0], t1[1], true},
		{t1[0], t1[2], true},
		{t1[1], t1[2], true},
		{t1[2], t1[0], false},
		{t1[1], t1[1], false},
		{t1[0], t2[1], false},
		{t2[0], t2[1], true},
		{g.Initial(event.DefaultRelation), t1[0], false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Reachable(tt.a, tt.b), "%d -> %d", tt.a, tt.b)
	}

	assert.Equal(t, []tracegraph.NodeID{t1[1], t1[2]}, c.Descendants(t1[0]))
	assert.Empty(t, c.Descendants(t1[2]))
	assert.Equal(t, 2, c.TraceCount())
}

func TestForDAGs(t *testing.T) {
	//    a
	//   / \
	//  b   c
	//   \ /
	//    d    e (concurrent with everything)
	tr := tracegraph.Trace{Events: []event.Event{
		{Type: event.NewType("a"), Time: event.VectorTime{1, 0, 0}},
		{Type: event.NewType("b"), Time: event.VectorTime{2, 0, 0}},
		{Type: event.NewType("c"), Time: event.VectorTime{1, 1, 0}},
		{Type: event.NewType("d"), Time: event.VectorTime{2, 2, 0}},
		{Type: event.NewType("e"), Time: event.VectorTime{0, 0, 1}},
	}}
	g, err := tracegraph.Build([]tracegraph.Trace{tr})
	require.NoError(t, err)

	c, err := Compute(g, event.DefaultRelation)
	require.NoError(t, err)

	n := g.TraceNodes(0)
	a, b, cc, d, e := n[0], n[1], n[2], n[3], n[4]
	assert.True(t, c.Reachable(a, b))
	assert.True(t, c.Reachable(a, cc))
	assert.True(t, c.Reachable(a, d))
	assert.True(t, c.Reachable(b, d))
	assert.True(t, c.Reachable(cc, d))
	assert.False(t, c.Reachable(b, cc))
	assert.False(t, c.Reachable(cc, b))
	assert.False(t, c.Reachable(d, a))
	for _, x := range []tracegraph.NodeID{a, b, cc, d} {
		assert.False(t, c.Reachable(x, e))
		assert.False(t, c.Reachable(e, x))
	}
	assert.ElementsMatch(t, []tracegraph.NodeID{b, cc, d}, c.Descendants(a))
}

func TestForDAGs_AgreesWithChains(t *testing.T) {
	// A chain is also a DAG; both algorithms must agree on it.
	g, err := tracegraph.Build([]tracegraph.Trace{chain("A", "B", "A", "C")})
	require.NoError(t, err)

	chains, err := ForChains(g, event.DefaultRelation)
	require.NoError(t, err)
	dags, err := ForDAGs(g, event.DefaultRelation)
	require.NoError(t, err)

	for i := 0; i < g.Len(); i++ {
		for j := 0; j < g.Len(); j++ {
			assert.Equal(t, chains.Reachable(i, j), dags.Reachable(i, j), "%d -> %d", i, j)
		}
	}
}

func TestCompute_UnknownRelation(t *testing.T) {
	g, err := tracegraph.Build([]tracegraph.Trace{chain("A")})
	require.NoError(t, err)
	_, err = Compute(g, "nope")
	assert.Error(t, err)
}
