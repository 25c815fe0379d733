package metrics

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/logflow/tracemine/pkg/hooks"
)

func TestMetricName(t *testing.T) {
	assert.Equal(t, "tracemine_refine_splits_total", metricName(MetricSplitsTotal, "", nil))
	assert.Equal(t, `tracemine_phase_duration_seconds{oracle="fsm",phase="mining"}`,
		metricName(MetricPhaseDuration, "_seconds", map[string]string{"phase": "mining", "oracle": "fsm"}))
}

func TestVictoriaExporter(t *testing.T) {
	v := NewVictoriaExporter()
	v.Counter(MetricSplitsTotal, 2, nil)
	v.Counter(MetricSplitsTotal, 1, nil)
	v.Counter(MetricSplitsTotal, -5, nil)
	v.Gauge(MetricPartitions, 4, nil)
	v.Gauge(MetricPartitions, 6, nil)
	v.Timer(MetricPhaseDuration, 250*time.Millisecond, map[string]string{TagPhase: "mining"})
	v.Histogram(MetricTraceEvents, 12, nil)

	var buf bytes.Buffer
	v.WritePrometheus(&buf)
	out := buf.String()
	assert.Contains(t, out, "tracemine_refine_splits_total 3\n")
	assert.Contains(t, out, "tracemine_partitions 6\n")
	assert.Contains(t, out, `tracemine_phase_duration_seconds_count{phase="mining"} 1`)
	assert.Contains(t, out, "tracemine_trace_events_count 1")
	assert.NoError(t, v.Flush())
	assert.NoError(t, v.Close())
}

func TestLogExporter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLogExporter(zap.New(core), zapcore.DebugLevel)

	l.Counter(MetricMergesTotal, 1, map[string]string{TagOracle: "fsm"})
	l.Timer(MetricPhaseDuration, time.Second, nil)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, MetricMergesTotal, entries[0].Message)
	assert.Equal(t, "counter", entries[0].ContextMap()["type"])
	assert.Equal(t, "fsm", entries[0].ContextMap()[TagOracle])
	assert.Equal(t, "timer", entries[1].ContextMap()["type"])

	quiet := NewLogExporter(zap.New(core), zapcore.DebugLevel-1)
	quiet.Gauge(MetricPartitions, 1, nil)
	assert.Len(t, logs.All(), 2, "entries below the core level are dropped")
}

func TestAttach(t *testing.T) {
	v := NewVictoriaExporter()
	m := hooks.NewHookManager()
	Attach(m, v, map[string]string{TagOracle: "fsm"})

	ctx := context.Background()
	require.NoError(t, m.RunPhase(ctx, &hooks.PhaseInfo{Phase: hooks.PhaseRefining, Partitions: 5, Invariants: 9}))
	require.NoError(t, m.RunSplit(ctx, &hooks.SplitInfo{}))
	require.NoError(t, m.RunSplit(ctx, &hooks.SplitInfo{}))
	require.NoError(t, m.RunPhase(ctx, &hooks.PhaseInfo{Phase: hooks.PhaseCoarsening, Partitions: 7, Elapsed: time.Second}))
	require.NoError(t, m.RunMerge(ctx, &hooks.MergeInfo{}))
	require.NoError(t, m.RunRollback(ctx, &hooks.MergeInfo{}))

	var buf bytes.Buffer
	v.WritePrometheus(&buf)
	out := buf.String()
	assert.Contains(t, out, `tracemine_refine_splits_total{oracle="fsm"} 2`)
	assert.Contains(t, out, `tracemine_coarsen_merges_total{oracle="fsm"} 1`)
	assert.Contains(t, out, `tracemine_coarsen_rollbacks_total{oracle="fsm"} 1`)
	assert.Contains(t, out, `tracemine_partitions{oracle="fsm"} 7`)
	assert.Contains(t, out, `tracemine_invariants{oracle="fsm"} 9`)
	assert.Contains(t, out, `tracemine_phase_duration_seconds_count{oracle="fsm",phase="refining"} 1`)
}

func TestNoop(t *testing.T) {
	var e Exporter = NewNoop()
	e.Counter("x", 1, nil)
	e.Timer("x", time.Second, nil)
	assert.NoError(t, e.Flush())
	assert.NoError(t, e.Close())
}
