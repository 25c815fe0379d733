// Package infer drives a complete inference run: it builds the trace graph,
// mines invariants, refines the initial partition graph until every
// invariant holds and finally coarsens it. Each run is traced, measured and
// recorded.
package infer

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/logflow/tracemine/pkg/checkpoint"
	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/hooks"
	"github.com/logflow/tracemine/pkg/invariant"
	"github.com/logflow/tracemine/pkg/metrics"
	"github.com/logflow/tracemine/pkg/oracle"
	"github.com/logflow/tracemine/pkg/partition"
	"github.com/logflow/tracemine/pkg/refine"
	"github.com/logflow/tracemine/pkg/telemetry"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

// Engine runs inference. An Engine may be reused for several runs but not
// concurrently.
type Engine struct {
	logger   *zap.Logger
	tracer   trace.Tracer
	exporter metrics.Exporter
	backend  checkpoint.Backend
	hooks    *hooks.HookManager
	oracle   oracle.Oracle

	input       string
	coarsen     bool
	maxSplits   int
	maxDuration time.Duration
	sanity      bool
	selfCheck   bool
	immediate   bool

	relations []string
	minerOpts []invariant.MinerOption
	buildOpts []tracegraph.BuildOption
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer sets the tracer used for run and phase spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithMetrics sets the metrics exporter.
func WithMetrics(x metrics.Exporter) Option {
	return func(e *Engine) {
		if x != nil {
			e.exporter = x
		}
	}
}

// WithCheckpoint persists a run record to b at every phase change.
func WithCheckpoint(b checkpoint.Backend) Option {
	return func(e *Engine) { e.backend = b }
}

// WithHooks sets the hook manager notified during runs.
func WithHooks(h *hooks.HookManager) Option {
	return func(e *Engine) {
		if h != nil {
			e.hooks = h
		}
	}
}

// WithOracle sets the counterexample oracle.
func WithOracle(o oracle.Oracle) Option {
	return func(e *Engine) {
		if o != nil {
			e.oracle = o
		}
	}
}

// WithInput names the input in run records.
func WithInput(name string) Option {
	return func(e *Engine) { e.input = name }
}

// WithCoarsen enables or disables the coarsening phase. It is on by default.
func WithCoarsen(enabled bool) Option {
	return func(e *Engine) { e.coarsen = enabled }
}

// WithMaxSplits bounds refinement. Zero means unbounded.
func WithMaxSplits(n int) Option {
	return func(e *Engine) { e.maxSplits = n }
}

// WithMaxDuration bounds refinement and coarsening together. Zero means
// unbounded.
func WithMaxDuration(d time.Duration) Option {
	return func(e *Engine) { e.maxDuration = d }
}

// WithSanityCheck verifies the disjoint cover after every operation.
func WithSanityCheck(enabled bool) Option {
	return func(e *Engine) { e.sanity = enabled }
}

// WithSelfCheck verifies at the end of a run that the model still accepts
// every input trace.
func WithSelfCheck(enabled bool) Option {
	return func(e *Engine) { e.selfCheck = enabled }
}

// WithImmediate also mines the immediate-follows kinds. They are reported
// but never refined.
func WithImmediate(enabled bool) Option {
	return func(e *Engine) { e.immediate = enabled }
}

// WithRelations keeps only the invariants of the named relations. Empty
// means every relation.
func WithRelations(rels ...string) Option {
	return func(e *Engine) { e.relations = append(e.relations, rels...) }
}

// WithMinerOptions passes options through to the invariant miner.
func WithMinerOptions(opts ...invariant.MinerOption) Option {
	return func(e *Engine) { e.minerOpts = append(e.minerOpts, opts...) }
}

// WithRelationOrder declares the order of a custom relation.
func WithRelationOrder(rel string, o tracegraph.Order) Option {
	return func(e *Engine) {
		e.buildOpts = append(e.buildOpts, tracegraph.WithRelationOrder(rel, o))
	}
}

// New creates an engine. Metrics are fed from the engine's hooks, so an
// exporter set here sees every split, merge and phase change.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:   zap.NewNop(),
		tracer:   telemetry.NewProvider().Tracer(),
		exporter: metrics.NewNoop(),
		hooks:    hooks.NewHookManager(),
		oracle:   oracle.NewFSMChecker(),
		coarsen:  true,
	}
	for _, opt := range opts {
		opt(e)
	}
	metrics.Attach(e.hooks, e.exporter, e.tags())
	return e
}

// Hooks returns the engine's hook manager.
func (e *Engine) Hooks() *hooks.HookManager { return e.hooks }

func (e *Engine) tags() map[string]string {
	return map[string]string{metrics.TagOracle: e.oracle.Name()}
}

// Result is the outcome of a run. On a budget error Run returns the partial
// result alongside the error.
type Result struct {
	RunID string

	TraceGraph *tracegraph.Graph
	Graph      *partition.Graph
	Model      *partition.Model

	// Invariants holds every mined invariant; Immediate the immediate kinds
	// when enabled.
	Invariants *invariant.Set
	Immediate  *invariant.Set

	Events    int
	Splits    int
	Merges    int
	Rollbacks int
	Duration  time.Duration
}

// Mine builds the trace graph and mines its invariants without refining.
func (e *Engine) Mine(ctx context.Context, traces []tracegraph.Trace) (*tracegraph.Graph, *invariant.Set, error) {
	tg, err := tracegraph.Build(traces, e.buildOpts...)
	if err != nil {
		return nil, nil, err
	}
	invs, err := e.mine(ctx, tg)
	if err != nil {
		return nil, nil, err
	}
	return tg, invs, nil
}

func (e *Engine) mine(ctx context.Context, tg *tracegraph.Graph) (*invariant.Set, error) {
	ctx, span := telemetry.Start(ctx, e.tracer, telemetry.SpanMine)
	opts := append([]invariant.MinerOption{invariant.WithLogger(e.logger)}, e.minerOpts...)
	invs, err := invariant.NewMiner(opts...).Mine(ctx, tg)
	if err == nil && len(e.relations) > 0 {
		invs, err = e.selectRelations(tg, invs)
	}
	if err != nil {
		telemetry.End(span, err)
		return nil, err
	}
	telemetry.End(span, nil, telemetry.AttrInvariants.Int(invs.Len()))
	return invs, nil
}

func (e *Engine) selectRelations(tg *tracegraph.Graph, invs *invariant.Set) (*invariant.Set, error) {
	out := invariant.NewSet()
	for _, rel := range e.relations {
		if !tg.HasRelation(rel) {
			return nil, lferrors.Newf(lferrors.CodeUnknownRelation, "relation %q does not occur in the input", rel).
				WithContext("relation", rel)
		}
		out.AddAll(invs.ForRelation(rel))
	}
	return out, nil
}

// run carries the per-run state shared by the phases.
type run struct {
	e      *Engine
	res    *Result
	rec    *checkpoint.Record
	start  time.Time
	phase  hooks.Phase
	logger *zap.Logger
}

// Run executes a full inference run over traces.
func (e *Engine) Run(ctx context.Context, traces []tracegraph.Trace) (res *Result, err error) {
	r := &run{
		e:     e,
		rec:   checkpoint.NewRecord(e.input),
		start: time.Now(),
	}
	r.res = &Result{RunID: r.rec.ID}
	r.logger = e.logger.With(zap.String("run_id", r.rec.ID))
	r.rec.Update(func(rec *checkpoint.Record) { rec.Oracle = e.oracle.Name() })

	ctx, span := telemetry.Start(ctx, e.tracer, telemetry.SpanRun,
		telemetry.AttrRunID.String(r.rec.ID),
		telemetry.AttrOracle.String(e.oracle.Name()))
	defer func() {
		r.res.Duration = time.Since(r.start)
		err = r.finish(ctx, err)
		telemetry.End(span, err,
			telemetry.AttrSplits.Int(r.res.Splits),
			telemetry.AttrMerges.Int(r.res.Merges),
			telemetry.AttrRollbacks.Int(r.res.Rollbacks))
		if err != nil && r.res.Model == nil {
			res = nil
		}
	}()

	tg, err := tracegraph.Build(traces, e.buildOpts...)
	if err != nil {
		return r.res, err
	}
	r.res.TraceGraph = tg
	events := 0
	for i := 0; i < tg.TraceCount(); i++ {
		events += len(tg.TraceNodes(i))
	}
	r.res.Events = events
	r.rec.Update(func(rec *checkpoint.Record) {
		rec.Traces = tg.TraceCount()
		rec.Events = events
		rec.Relations = tg.Relations()
	})
	e.exporter.Histogram(metrics.MetricTraceEvents, float64(events), e.tags())
	telemetry.AddEvent(ctx, "traces loaded",
		telemetry.AttrTraces.Int(tg.TraceCount()),
		telemetry.AttrEvents.Int(events))

	if err := r.enter(ctx, hooks.PhaseMining); err != nil {
		return r.res, err
	}
	invs, err := e.mine(ctx, tg)
	if err != nil {
		return r.res, err
	}
	r.res.Invariants = invs
	if e.immediate {
		r.res.Immediate = invariant.MineImmediateAll(tg)
	}
	r.rec.Update(func(rec *checkpoint.Record) {
		rec.Invariants = invs.Len()
		rec.Digest = fmt.Sprintf("%016x", invs.Digest())
	})

	g := partition.NewByLabel(tg, partition.WithLogger(r.logger))
	r.res.Graph = g

	if err := r.enter(ctx, hooks.PhaseRefining); err != nil {
		return r.res, err
	}
	if err := r.refine(ctx, g, invs); err != nil {
		return r.res, err
	}

	if e.coarsen {
		if err := r.enter(ctx, hooks.PhaseCoarsening); err != nil {
			return r.res, err
		}
		if err := r.coarsen(ctx, g, invs); err != nil {
			return r.res, err
		}
	}

	if err := r.verify(g); err != nil {
		return r.res, err
	}
	return r.res, nil
}

func (r *run) engineOptions() []refine.Option {
	e := r.e
	opts := []refine.Option{
		refine.WithLogger(r.logger),
		refine.WithOracle(e.oracle),
		refine.WithHooks(e.hooks),
		refine.WithMaxSplits(e.maxSplits),
		refine.WithSanityCheck(e.sanity),
	}
	if e.maxDuration > 0 {
		opts = append(opts, refine.WithDeadline(r.start.Add(e.maxDuration)))
	}
	return opts
}

func (r *run) refine(ctx context.Context, g *partition.Graph, invs *invariant.Set) error {
	ctx, span := telemetry.Start(ctx, r.e.tracer, telemetry.SpanRefine,
		telemetry.AttrPartitions.Int(g.Len()))
	ref := refine.NewRefiner(g, invs, r.engineOptions()...)
	err := ref.Run(ctx)
	r.res.Splits = ref.Splits()
	r.rec.Update(func(rec *checkpoint.Record) {
		rec.Splits = ref.Splits()
		rec.Partitions = g.Len()
	})
	telemetry.End(span, err,
		telemetry.AttrSplits.Int(ref.Splits()),
		telemetry.AttrPartitions.Int(g.Len()))
	return err
}

func (r *run) coarsen(ctx context.Context, g *partition.Graph, invs *invariant.Set) error {
	ctx, span := telemetry.Start(ctx, r.e.tracer, telemetry.SpanCoarsen,
		telemetry.AttrPartitions.Int(g.Len()))
	c := refine.NewCoarsener(g, invs, r.engineOptions()...)
	err := c.Run(ctx)
	r.res.Merges = c.Merges()
	r.res.Rollbacks = c.Rollbacks()
	r.rec.Update(func(rec *checkpoint.Record) {
		rec.Merges = c.Merges()
		rec.Rollbacks = c.Rollbacks()
		rec.Partitions = g.Len()
	})
	telemetry.End(span, err,
		telemetry.AttrMerges.Int(c.Merges()),
		telemetry.AttrRollbacks.Int(c.Rollbacks()),
		telemetry.AttrPartitions.Int(g.Len()))
	return err
}

// verify runs the end-of-run checks.
func (r *run) verify(g *partition.Graph) error {
	if r.e.sanity {
		if err := g.CheckSanity(); err != nil {
			return err
		}
	}
	if !r.e.selfCheck {
		return nil
	}
	tg := g.TraceGraph()
	for _, rel := range tg.Relations() {
		for i := 0; i < tg.TraceCount(); i++ {
			if !g.AcceptsTrace(i, rel) {
				return lferrors.New(lferrors.CodeInvalidOperation, "model no longer accepts an input trace").
					WithContext("trace", tg.TraceName(i)).
					WithContext("relation", rel)
			}
		}
	}
	return nil
}

// enter moves the run into phase, notifying hooks and saving the record.
func (r *run) enter(ctx context.Context, phase hooks.Phase) error {
	r.phase = phase
	info := &hooks.PhaseInfo{
		RunID:   r.rec.ID,
		Phase:   phase,
		Elapsed: time.Since(r.start),
	}
	if r.res.Graph != nil {
		info.Partitions = r.res.Graph.Len()
	}
	if r.res.Invariants != nil {
		info.Invariants = r.res.Invariants.Len()
	}
	if err := r.e.hooks.RunPhase(ctx, info); err != nil {
		return err
	}
	r.rec.SetPhase(string(phase))
	r.save(ctx)
	return nil
}

// finish closes the run: it exports the model when there is one, runs error
// hooks, emits the final phase and persists the record.
func (r *run) finish(ctx context.Context, err error) error {
	e := r.e
	exportable := err == nil || lferrors.IsCode(err, lferrors.CodeBudgetExhausted)
	if exportable && r.res.Graph != nil {
		r.res.Model = r.res.Graph.Export()
		r.rec.Update(func(rec *checkpoint.Record) {
			rec.Model = r.res.Model
			rec.Partitions = r.res.Graph.Len()
		})
	}

	status := "ok"
	final := hooks.PhaseComplete
	if err != nil {
		status = "failed"
		final = hooks.PhaseAborted
		phase := r.phase
		if phase == "" {
			phase = hooks.PhaseMining
		}
		err = e.hooks.RunError(ctx, err, phase)
		r.rec.Update(func(rec *checkpoint.Record) { rec.Error = err.Error() })
		e.exporter.Counter(metrics.MetricRunsFailed, 1, e.tags())
		r.logger.Warn("Run stopped",
			zap.String("phase", string(phase)),
			zap.String("code", string(lferrors.GetCode(err))),
			zap.Error(err))
	}

	// Phase hooks run with a detached context so the final phase is still
	// reported after cancellation.
	detached := context.WithoutCancel(ctx)
	info := &hooks.PhaseInfo{
		RunID:   r.rec.ID,
		Phase:   final,
		Elapsed: time.Since(r.start),
	}
	if r.res.Graph != nil {
		info.Partitions = r.res.Graph.Len()
	}
	if r.res.Invariants != nil {
		info.Invariants = r.res.Invariants.Len()
	}
	if hookErr := e.hooks.RunPhase(detached, info); hookErr != nil && err == nil {
		err = hookErr
	}
	r.rec.SetPhase(string(final))
	r.save(detached)

	e.exporter.Counter(metrics.MetricRunsTotal, 1, map[string]string{
		metrics.TagOracle: e.oracle.Name(),
		metrics.TagStatus: status,
	})
	if flushErr := e.exporter.Flush(); flushErr != nil {
		r.logger.Warn("Failed to flush metrics", zap.Error(flushErr))
	}

	if err == nil {
		r.logger.Info("Run complete",
			zap.Int("partitions", info.Partitions),
			zap.Int("invariants", info.Invariants),
			zap.Int("splits", r.res.Splits),
			zap.Int("merges", r.res.Merges),
			zap.Duration("duration", r.res.Duration))
	}
	return err
}

// save persists the run record. Record storage is best effort; a failing
// backend never fails the run.
func (r *run) save(ctx context.Context) {
	if r.e.backend == nil {
		return
	}
	if err := r.e.backend.Save(ctx, r.rec); err != nil {
		r.logger.Warn("Failed to save run record",
			zap.String("backend", r.e.backend.Name()),
			zap.Error(err))
	}
}
