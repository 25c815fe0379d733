package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/tracemine/pkg/event"
	"github.com/logflow/tracemine/pkg/invariant"
	"github.com/logflow/tracemine/pkg/partition"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

const rel = event.DefaultRelation

func ty(l string) event.Type { return event.NewType(l) }

// fakeModel is a labelled adjacency list; node 0 is INITIAL.
type fakeModel struct {
	labels []event.Type
	succ   map[int][]int
}

func (f *fakeModel) StartNodes(string) []int          { return []int{0} }
func (f *fakeModel) Label(n int) event.Type           { return f.labels[n] }
func (f *fakeModel) Successors(n int, _ string) []int { return f.succ[n] }
func (f *fakeModel) IsTerminal(n int) bool            { return f.labels[n].IsTerminal() }

// loop: INITIAL -> a -> b -> a ..., b -> TERMINAL, a -> c -> TERMINAL
func loopModel() *fakeModel {
	return &fakeModel{
		labels: []event.Type{event.Initial(), ty("a"), ty("b"), ty("c"), event.Terminal()},
		succ: map[int][]int{
			0: {1},
			1: {2, 3},
			2: {1, 4},
			3: {4},
		},
	}
}

func checkers() []Oracle {
	return []Oracle{NewFSMChecker(), NewAutomatonChecker()}
}

func chain(labels ...string) tracegraph.Trace {
	var tr tracegraph.Trace
	for _, l := range labels {
		tr.Events = append(tr.Events, event.New(ty(l)))
	}
	return tr
}

func TestCheck_FakeModel(t *testing.T) {
	tests := []struct {
		name string
		inv  invariant.Binary
		want []string
	}{
		{"afby violated after last b", invariant.New(invariant.AlwaysFollowedBy, ty("b"), ty("a"), rel), []string{"INITIAL", "a", "b", "TERMINAL"}},
		{"afby violated via c", invariant.New(invariant.AlwaysFollowedBy, ty("a"), ty("b"), rel), []string{"INITIAL", "a", "c", "TERMINAL"}},
		{"nfby violated", invariant.New(invariant.NeverFollowedBy, ty("b"), ty("c"), rel), []string{"INITIAL", "a", "b", "a", "c", "TERMINAL"}},
		{"nfby holds", invariant.New(invariant.NeverFollowedBy, ty("c"), ty("a"), rel), nil},
		{"ap holds", invariant.New(invariant.AlwaysPrecedes, ty("a"), ty("c"), rel), nil},
		{"ap violated", invariant.New(invariant.AlwaysPrecedes, ty("b"), ty("a"), rel), []string{"INITIAL", "a", "b", "TERMINAL"}},
		{"intrby violated", invariant.New(invariant.InterruptedBy, ty("a"), ty("c"), rel), []string{"INITIAL", "a", "b", "a", "b", "TERMINAL"}},
		{"intrby holds", invariant.New(invariant.InterruptedBy, ty("a"), ty("b"), rel), nil},
		{"initial afby", invariant.New(invariant.AlwaysFollowedBy, event.Initial(), ty("c"), rel), []string{"INITIAL", "a", "b", "TERMINAL"}},
	}

	for _, c := range checkers() {
		for _, tt := range tests {
			t.Run(c.Name()+"/"+tt.name, func(t *testing.T) {
				m := loopModel()
				p, err := c.Check(tt.inv, m)
				require.NoError(t, err)
				if tt.want == nil {
					assert.Nil(t, p)
					return
				}
				require.NotNil(t, p)
				assert.Equal(t, tt.want, p.Labels(m))
				assert.Equal(t, tt.inv, p.Invariant)
			})
		}
	}
}

func TestCheck_WorkedScenario(t *testing.T) {
	tg, err := tracegraph.Build([]tracegraph.Trace{chain("A", "B", "C"), chain("D", "B", "E")})
	require.NoError(t, err)
	g := partition.NewByLabel(tg)
	inv := invariant.New(invariant.NeverFollowedBy, ty("A"), ty("E"), rel)

	for _, c := range checkers() {
		t.Run(c.Name(), func(t *testing.T) {
			p, err := c.Check(inv, g)
			require.NoError(t, err)
			require.NotNil(t, p)
			assert.Equal(t, []string{"INITIAL", "A", "B", "E", "TERMINAL"}, p.Labels(g))

			// The concrete graph has no such path.
			p, err = c.Check(inv, tg)
			require.NoError(t, err)
			assert.Nil(t, p)
		})
	}
}

func TestCheck_MinedInvariantsHoldOnTraces(t *testing.T) {
	tg, err := tracegraph.Build([]tracegraph.Trace{
		chain("open", "read", "read", "close"),
		chain("open", "write", "close"),
		chain("open", "close", "open", "read", "close"),
	})
	require.NoError(t, err)
	invs, err := invariant.NewMiner(invariant.WithInterruptedBy(true)).Mine(context.Background(), tg)
	require.NoError(t, err)
	require.NotZero(t, invs.Len())

	for _, c := range checkers() {
		for _, inv := range invs.Refinable().All() {
			p, err := c.Check(inv, tg)
			require.NoError(t, err)
			assert.Nil(t, p, "%s: %s", c.Name(), inv)
		}
	}
}

func TestCheck_CheckersAgree(t *testing.T) {
	tg, err := tracegraph.Build([]tracegraph.Trace{
		chain("a", "b", "c", "b"),
		chain("b", "a", "c"),
		chain("c", "a", "a", "b"),
	})
	require.NoError(t, err)
	g := partition.NewByLabel(tg)

	fsm, auto := NewFSMChecker(), NewAutomatonChecker()
	types := tg.Types()
	for _, k := range []invariant.Kind{invariant.AlwaysFollowedBy, invariant.NeverFollowedBy, invariant.AlwaysPrecedes, invariant.InterruptedBy} {
		for _, x := range types {
			for _, y := range types {
				if k == invariant.InterruptedBy && x == y {
					continue
				}
				inv := invariant.New(k, x, y, rel)
				p1, err := fsm.Check(inv, g)
				require.NoError(t, err)
				p2, err := auto.Check(inv, g)
				require.NoError(t, err)
				require.Equal(t, p1 == nil, p2 == nil, inv.String())
				if p1 != nil {
					assert.Equal(t, p1.Len(), p2.Len(), "both are shortest: %s", inv)
				}
			}
		}
	}
}

func TestCheck_UnsupportedKind(t *testing.T) {
	inv := invariant.New(invariant.AlwaysConcurrentWith, ty("a"), ty("b"), rel)
	for _, c := range checkers() {
		_, err := c.Check(inv, loopModel())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnsupportedKind))
	}
}

func TestNew(t *testing.T) {
	for _, name := range Names() {
		o, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, name, o.Name())
	}
	_, err := New("spin")
	assert.Error(t, err)
}
