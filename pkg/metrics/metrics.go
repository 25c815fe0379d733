// Package metrics exports run metrics: split, merge and rollback counters,
// phase durations and model sizes.
package metrics

import (
	"context"
	"time"

	"github.com/logflow/tracemine/pkg/hooks"
)

// Exporter exports metrics to a monitoring backend.
type Exporter interface {
	// Counter increments a counter metric.
	Counter(name string, value int64, tags map[string]string)

	// Gauge sets a gauge metric to the specified value.
	Gauge(name string, value float64, tags map[string]string)

	// Histogram records a value in a histogram.
	Histogram(name string, value float64, tags map[string]string)

	// Timer records a duration.
	Timer(name string, duration time.Duration, tags map[string]string)

	// Flush sends any buffered metrics to the backend.
	Flush() error

	// Close releases resources.
	Close() error
}

// Metric names.
const (
	MetricRunsTotal      = "tracemine.runs.total"
	MetricRunsFailed     = "tracemine.runs.failed"
	MetricPhaseDuration  = "tracemine.phase.duration"
	MetricSplitsTotal    = "tracemine.refine.splits.total"
	MetricMergesTotal    = "tracemine.coarsen.merges.total"
	MetricRollbacksTotal = "tracemine.coarsen.rollbacks.total"
	MetricInvariants     = "tracemine.invariants"
	MetricPartitions     = "tracemine.partitions"
	MetricTraceEvents    = "tracemine.trace.events"
)

// Tag names.
const (
	TagPhase  = "phase"
	TagOracle = "oracle"
	TagStatus = "status"
)

// Attach registers hooks on m that feed e: counters for splits, merges and
// rollbacks, a duration sample per finished phase, and gauges for the
// partition and invariant counts reported at phase changes. tags are added
// to every metric.
func Attach(m *hooks.HookManager, e Exporter, tags map[string]string) {
	var (
		current hooks.Phase
		since   time.Duration
	)
	m.RegisterPhase(func(ctx context.Context, info *hooks.PhaseInfo) error {
		if current != "" {
			e.Timer(MetricPhaseDuration, info.Elapsed-since, with(tags, TagPhase, string(current)))
		}
		current, since = info.Phase, info.Elapsed
		if info.Phase == hooks.PhaseComplete || info.Phase == hooks.PhaseAborted {
			current = ""
		}
		e.Gauge(MetricPartitions, float64(info.Partitions), tags)
		if info.Invariants > 0 {
			e.Gauge(MetricInvariants, float64(info.Invariants), tags)
		}
		return nil
	})
	m.RegisterSplit(func(ctx context.Context, info *hooks.SplitInfo) error {
		e.Counter(MetricSplitsTotal, 1, tags)
		return nil
	})
	m.RegisterMerge(func(ctx context.Context, info *hooks.MergeInfo) error {
		e.Counter(MetricMergesTotal, 1, tags)
		return nil
	})
	m.RegisterRollback(func(ctx context.Context, info *hooks.MergeInfo) error {
		e.Counter(MetricRollbacksTotal, 1, tags)
		return nil
	})
}

func with(tags map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(tags)+1)
	for key, val := range tags {
		out[key] = val
	}
	out[k] = v
	return out
}
