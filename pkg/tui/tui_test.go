package tui

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/tracemine/pkg/checkpoint"
	"github.com/logflow/tracemine/pkg/event"
	"github.com/logflow/tracemine/pkg/hooks"
	"github.com/logflow/tracemine/pkg/invariant"
)

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, &Summary{
		RunID:      "r1",
		Oracle:     "fsm",
		Traces:     2,
		Events:     1500,
		Invariants: 12,
		Partitions: 8,
		Splits:     3,
		Merges:     1,
		Rollbacks:  2,
		Duration:   1500 * time.Millisecond,
	})
	out := buf.String()
	assert.Contains(t, out, "INFERENCE COMPLETE")
	assert.Contains(t, out, "1.5K events")
	assert.Contains(t, out, "8 partitions")
	assert.Contains(t, out, "(2 rolled back)")
	assert.Contains(t, out, "1.5s")

	buf.Reset()
	PrintSummary(&buf, &Summary{Partial: true})
	assert.Contains(t, buf.String(), "partial model")
}

func TestPrintInvariants(t *testing.T) {
	a, b := event.NewType("a"), event.NewType("b")
	invs := []invariant.Binary{
		invariant.New(invariant.AlwaysFollowedBy, a, b, event.DefaultRelation),
		invariant.New(invariant.AlwaysConcurrentWith, a, b, event.DefaultRelation),
	}

	var buf bytes.Buffer
	PrintInvariants(&buf, "INVARIANTS", invs, true)
	out := buf.String()
	assert.Contains(t, out, "(2)")
	assert.Contains(t, out, "a AFby b")
	assert.Contains(t, out, "[](did(a) -> <>(did(b)))")
	assert.Contains(t, out, "a ACwith b")
}

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	PrintRuns(&buf, nil)
	assert.Contains(t, buf.String(), "No runs recorded")

	rec := checkpoint.NewRecord("in.jsonl")
	rec.Update(func(r *checkpoint.Record) {
		r.Oracle = "fsm"
		r.Splits = 4
		r.Error = "inference budget exhausted"
	})
	rec.SetPhase(checkpoint.PhaseAborted)

	buf.Reset()
	PrintRuns(&buf, []*checkpoint.Record{rec})
	assert.Contains(t, buf.String(), rec.ID)
	assert.Contains(t, buf.String(), "in.jsonl")

	buf.Reset()
	PrintRun(&buf, rec)
	assert.Contains(t, buf.String(), "RUN "+rec.ID)
	assert.Contains(t, buf.String(), "4 splits")
	assert.Contains(t, buf.String(), "budget exhausted")
}

func TestProgress_Attach(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf)
	m := hooks.NewHookManager()
	p.Attach(m)
	assert.Equal(t, "starting", p.Description())

	ctx := context.Background()
	require.NoError(t, m.RunPhase(ctx, &hooks.PhaseInfo{Phase: hooks.PhaseRefining, Partitions: 5}))
	require.NoError(t, m.RunSplit(ctx, &hooks.SplitInfo{Partitions: 6}))
	require.NoError(t, m.RunSplit(ctx, &hooks.SplitInfo{Partitions: 7}))
	assert.Equal(t, "refining: 7 partitions, 2 splits, 0 merges", p.Description())

	require.NoError(t, m.RunPhase(ctx, &hooks.PhaseInfo{Phase: hooks.PhaseCoarsening, Partitions: 7}))
	require.NoError(t, m.RunMerge(ctx, &hooks.MergeInfo{Partitions: 6}))
	require.NoError(t, m.RunRollback(ctx, &hooks.MergeInfo{}))
	assert.Equal(t, int64(4), p.Steps())
	assert.Equal(t, "coarsening: 6 partitions, 2 splits, 1 merges", p.Description())

	require.NoError(t, m.RunPhase(ctx, &hooks.PhaseInfo{Phase: hooks.PhaseComplete}))
}
