package partition

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/event"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

const rel = event.DefaultRelation

func chain(labels ...string) tracegraph.Trace {
	var tr tracegraph.Trace
	for _, l := range labels {
		tr.Events = append(tr.Events, event.New(event.NewType(l)))
	}
	return tr
}

func scenario(t *testing.T) *Graph {
	t.Helper()
	tg, err := tracegraph.Build([]tracegraph.Trace{chain("A", "B", "C"), chain("D", "B", "E")})
	require.NoError(t, err)
	return NewByLabel(tg)
}

func find(g *Graph, label string) ID {
	for _, id := range g.IDs() {
		if g.Partition(id).Label().Label == label {
			return id
		}
	}
	return -1
}

func labelsOf(g *Graph, ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = g.Label(id).String()
	}
	return out
}

func TestNewByLabel(t *testing.T) {
	g := scenario(t)
	require.NoError(t, g.CheckSanity())

	// INITIAL, A..E, TERMINAL.
	assert.Equal(t, 7, g.Len())
	assert.Equal(t, 5, g.CountRegular())
	assert.Equal(t, []ID{0, 1, 2, 3, 4, 5, 6}, g.IDs())

	b := find(g, "B")
	assert.Equal(t, 2, g.Partition(b).Size())
	assert.Equal(t, []string{"C", "E"}, labelsOf(g, g.Successors(b, rel)))
	assert.Equal(t, []string{"A", "D"}, labelsOf(g, g.Successors(g.StartNodes(rel)[0], rel)))

	for i := 0; i < 2; i++ {
		assert.True(t, g.AcceptsTrace(i, rel))
	}
	// The spurious path A B E is accepted before refinement.
	assert.True(t, g.AcceptsSequence(rel, []event.Type{event.NewType("A"), event.NewType("B"), event.NewType("E")}))
}

func TestSplit_ApplyAndUndo(t *testing.T) {
	g := scenario(t)
	b := find(g, "B")
	members := g.Partition(b).Members()
	before := g.Export()

	inv, err := g.Apply(&Split{Partition: b, Parts: [][]tracegraph.NodeID{{members[0]}, {members[1]}}})
	require.NoError(t, err)
	require.NoError(t, g.CheckSanity())

	assert.Equal(t, 8, g.Len())
	assert.Equal(t, 1, g.Partition(b).Size())
	assert.Equal(t, []string{"C"}, labelsOf(g, g.Successors(b, rel)))
	nb := g.IDs()[len(g.IDs())-1]
	assert.Equal(t, []string{"E"}, labelsOf(g, g.Successors(nb, rel)))

	a := find(g, "A")
	assert.Equal(t, []int{b}, g.Successors(a, rel), "cached predecessor edges are refreshed")
	assert.False(t, g.AcceptsSequence(rel, []event.Type{event.NewType("A"), event.NewType("B"), event.NewType("E")}))
	for i := 0; i < 2; i++ {
		assert.True(t, g.AcceptsTrace(i, rel))
	}

	_, err = g.Apply(inv)
	require.NoError(t, err)
	require.NoError(t, g.CheckSanity())
	assert.Equal(t, before, g.Export())
}

func TestMerge_ApplyAndUndo(t *testing.T) {
	g := scenario(t)
	b := find(g, "B")
	members := g.Partition(b).Members()
	_, err := g.Apply(&Split{Partition: b, Parts: [][]tracegraph.NodeID{{members[0]}, {members[1]}}})
	require.NoError(t, err)
	split := g.Export()
	nb := g.IDs()[len(g.IDs())-1]

	inv, err := g.Apply(&Merge{Target: b, Others: []ID{nb}})
	require.NoError(t, err)
	require.NoError(t, g.CheckSanity())
	assert.Equal(t, 2, g.Partition(b).Size())
	assert.Nil(t, g.Partition(nb))

	_, err = g.Apply(inv)
	require.NoError(t, err)
	assert.Equal(t, split, g.Export(), "undo restores ids exactly")
}

func TestApply_Rejects(t *testing.T) {
	g := scenario(t)
	a, b := find(g, "A"), find(g, "B")
	members := g.Partition(b).Members()

	tests := []struct {
		name string
		op   Operation
	}{
		{"unknown partition", &Split{Partition: 99, Parts: [][]tracegraph.NodeID{{1}, {2}}}},
		{"single part", &Split{Partition: b, Parts: [][]tracegraph.NodeID{members}}},
		{"empty part", &Split{Partition: b, Parts: [][]tracegraph.NodeID{members, {}}}},
		{"drops a member", &Split{Partition: b, Parts: [][]tracegraph.NodeID{{members[0]}, {members[0]}}}},
		{"foreign node", &Split{Partition: b, Parts: [][]tracegraph.NodeID{{members[0]}, {members[1], g.Partition(a).Members()[0]}}}},
		{"different labels", &Merge{Target: a, Others: []ID{b}}},
		{"self merge", &Merge{Target: a, Others: []ID{a}}},
		{"nothing to merge", &Merge{Target: a}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Apply(tt.op)
			require.Error(t, err)
			assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidOperation))
			assert.NoError(t, g.CheckSanity(), "rejected operations leave the graph untouched")
		})
	}
}

func TestExport(t *testing.T) {
	g := scenario(t)
	m := g.Export()
	require.Len(t, m.Nodes, 7)
	assert.True(t, m.Nodes[0].Initial)
	assert.True(t, m.Nodes[6].Terminal)

	b := find(g, "B")
	var fromB []EdgeView
	for _, e := range m.Edges {
		if e.Source == b {
			fromB = append(fromB, e)
		}
	}
	require.Len(t, fromB, 2)
	for _, e := range fromB {
		assert.Equal(t, 1, e.Count)
		assert.InDelta(t, 0.5, e.Probability, 1e-9)
		assert.Equal(t, []string{rel}, e.Relations)
	}

	data, err := m.JSON()
	require.NoError(t, err)
	var back Model
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, len(m.Edges), len(back.Edges))

	y, err := m.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(y), "label: B")
}

func TestCheckSanity_BrokenCover(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(g *Graph)
		reason  string
	}{
		{"wrong owner", func(g *Graph) {
			n := g.parts[find(g, "B")].members[0]
			g.owner[n] = find(g, "C")
		}, "ownership table disagrees"},
		{"duplicate member", func(g *Graph) {
			p := g.parts[find(g, "B")]
			p.members = append([]tracegraph.NodeID{p.members[0]}, p.members...)
		}, "owned by two partitions"},
		{"empty partition", func(g *Graph) {
			g.parts[find(g, "A")].members = nil
		}, "empty partition"},
		{"foreign label", func(g *Graph) {
			b := find(g, "B")
			m := g.parts[find(g, "C")].members[0]
			g.parts[b].members = append(append([]tracegraph.NodeID{}, g.parts[b].members...), m)
			g.owner[m] = b
		}, "type differs from partition label"},
		{"dropped node", func(g *Graph) {
			p := g.parts[find(g, "B")]
			p.members = p.members[1:]
		}, "owned by no partition"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := scenario(t)
			require.NoError(t, g.CheckSanity())
			tt.corrupt(g)

			err := g.CheckSanity()
			require.Error(t, err)
			assert.True(t, lferrors.IsCode(err, lferrors.CodeCoverViolated))
			assert.True(t, lferrors.IsFatal(err))
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}
