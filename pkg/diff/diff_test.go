package diff

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/tracemine/pkg/event"
	"github.com/logflow/tracemine/pkg/invariant"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

func chain(labels ...string) tracegraph.Trace {
	var tr tracegraph.Trace
	for _, l := range labels {
		tr.Events = append(tr.Events, event.New(event.NewType(l)))
	}
	return tr
}

func side(t *testing.T, traces ...tracegraph.Trace) Side {
	t.Helper()
	g, err := tracegraph.Build(traces)
	require.NoError(t, err)
	invs, err := invariant.NewMiner().Mine(context.Background(), g)
	require.NoError(t, err)
	return Side{Graph: g, Invariants: invs}
}

func TestCompare(t *testing.T) {
	left := side(t, chain("open", "read", "close"))
	right := side(t, chain("open", "close"), chain("open", "write", "close"))

	r := Compare(left, right)
	assert.Equal(t, 1, r.LeftTraces)
	assert.Equal(t, 2, r.RightTraces)
	assert.Equal(t, 3, r.LeftEvents)
	assert.Equal(t, 5, r.RightEvents)
	assert.Equal(t, []string{"write"}, r.NewTypes)
	assert.Equal(t, []string{"read"}, r.RemovedTypes)
	assert.False(t, r.Identical())

	open, read := event.NewType("open"), event.NewType("read")
	assert.Contains(t, r.Removed, invariant.New(invariant.AlwaysFollowedBy, open, read, event.DefaultRelation))
	assert.NotZero(t, r.Common)
	assert.NotEqual(t, r.LeftDigest, r.RightDigest)

	out := r.String()
	assert.Contains(t, out, "Invariant Diff Report")
	assert.Contains(t, out, "- open AFby read")
	assert.Contains(t, out, "New Types: [write]")
}

func TestCompare_Identical(t *testing.T) {
	a := side(t, chain("a", "b"), chain("a", "c", "b"))
	b := side(t, chain("a", "c", "b"), chain("a", "b"))

	r := Compare(a, b)
	assert.True(t, r.Identical())
	assert.Equal(t, a.Invariants.Len(), r.Common)
	assert.Equal(t, r.LeftDigest, r.RightDigest)
	for _, c := range r.TypeChanges {
		assert.Equal(t, "stable", c.Significance, c.Type)
	}
}
