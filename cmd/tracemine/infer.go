package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/hooks"
	"github.com/logflow/tracemine/pkg/infer"
	"github.com/logflow/tracemine/pkg/partition"
	"github.com/logflow/tracemine/pkg/tui"
	"github.com/logflow/tracemine/pkg/watch"
)

// Infer flags
var (
	inferInput      string
	inferIn         inputFlags
	inferRelations  []string
	inferOracle     string
	noCoarsen       bool
	maxSplits       int
	inferTimeout    time.Duration
	modelOutput     string
	showInvariants  bool
	showProgress    bool
	watchMode       bool
	watchDebounce   time.Duration
	checkSanityFlag bool
)

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Infer a model from a trace file",
	Long: `Mine invariants from the traces, then refine and coarsen a partition graph
until it satisfies all of them.

A run stopped by --max-splits or --timeout still writes the partial model and
exits with status 3.

Examples:
  tracemine infer -i traces.jsonl -o model.yaml
  tracemine infer -i events.csv --trace-column case_id --oracle automaton
  tracemine infer -i app.log --watch -o model.json`,
	RunE: runInfer,
}

func init() {
	inferCmd.Flags().StringVarP(&inferInput, "input", "i", "", "Input trace file (required)")
	inferIn.register(inferCmd)
	inferCmd.Flags().StringSliceVarP(&inferRelations, "relation", "r", nil, "Only use these relations (repeatable)")
	inferCmd.Flags().StringVar(&inferOracle, "oracle", "", "Counterexample oracle (fsm, automaton)")
	inferCmd.Flags().BoolVar(&noCoarsen, "no-coarsen", false, "Skip the coarsening phase")
	inferCmd.Flags().IntVar(&maxSplits, "max-splits", 0, "Stop refinement after this many splits")
	inferCmd.Flags().DurationVar(&inferTimeout, "timeout", 0, "Stop refinement and coarsening after this long")
	inferCmd.Flags().StringVarP(&modelOutput, "output", "o", "", "Write the model to this file (.json or .yaml)")
	inferCmd.Flags().BoolVar(&showInvariants, "invariants", false, "Print the mined invariants")
	inferCmd.Flags().BoolVar(&showProgress, "progress", false, "Show a progress spinner on stderr")
	inferCmd.Flags().BoolVar(&checkSanityFlag, "check-sanity", false, "Check graph consistency after every operation")
	inferCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "Re-run whenever the input changes")
	inferCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "Debounce interval for --watch")
	_ = inferCmd.MarkFlagRequired("input")
}

// applyInferFlags layers explicitly set flags over the configuration.
func applyInferFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("relation") {
		cfg.Inference.Relations = inferRelations
	}
	if flags.Changed("oracle") {
		cfg.Oracle.Name = inferOracle
	}
	if noCoarsen {
		cfg.Inference.Coarsen = false
	}
	if flags.Changed("max-splits") {
		cfg.Inference.MaxSplits = maxSplits
	}
	if flags.Changed("timeout") {
		cfg.Inference.MaxDuration = inferTimeout
	}
	if checkSanityFlag {
		cfg.Inference.CheckSanity = true
	}
}

func runInfer(cmd *cobra.Command, args []string) error {
	applyInferFlags(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, cleanup, err := newEngine(ctx, inferInput)
	if err != nil {
		return err
	}
	defer cleanup()

	attachHooks(e, os.Stderr)

	out := cmd.OutOrStdout()
	if !watchMode {
		return inferOnce(ctx, out, e, inferInput)
	}

	tui.PrintHeader(out)
	if err := inferOnce(ctx, out, e, inferInput); err != nil {
		logger.Warn("Inference failed", zap.Error(err))
	}

	w, err := watch.New(func(ctx context.Context, path string) error {
		fmt.Fprintf(out, "[%s] Change detected, re-running inference\n", time.Now().Format("15:04:05"))
		return inferOnce(ctx, out, e, path)
	}, watch.WithDebounce(watchDebounce), watch.WithLogger(logger))
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Watch(inferInput); err != nil {
		return err
	}
	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", inferInput)
	return w.Run(ctx)
}

// newEngine builds an engine from the configuration. cleanup flushes metrics
// and telemetry and releases the record backend.
func newEngine(ctx context.Context, input string) (*infer.Engine, func(), error) {
	opts, err := engineOptions(cfg)
	if err != nil {
		return nil, nil, err
	}
	orders, err := inferIn.orderOptions()
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, orders...)
	opts = append(opts, infer.WithInput(input))

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	backend, err := openBackend(ctx, cfg.Checkpoint)
	if err != nil {
		return nil, nil, err
	}
	if backend != nil {
		opts = append(opts, infer.WithCheckpoint(backend))
		if c, ok := backend.(io.Closer); ok {
			closers = append(closers, func() { _ = c.Close() })
		}
	}

	exporter, closeExporter, err := openExporter(cfg.Metrics)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	opts = append(opts, infer.WithMetrics(exporter))
	closers = append(closers, func() {
		if err := closeExporter(); err != nil {
			logger.Warn("Failed to close metrics exporter", zap.Error(err))
		}
	})

	provider, err := openTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	opts = append(opts, infer.WithTracer(provider.Tracer()))
	closers = append(closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(sctx); err != nil {
			logger.Warn("Failed to shut down telemetry", zap.Error(err))
		}
	})

	return infer.New(opts...), cleanup, nil
}

// attachHooks registers the observers selected by -v and --progress.
func attachHooks(e *infer.Engine, stderr io.Writer) {
	if verbose {
		hooks.LoggingHooks(e.Hooks(), logger)
	}
	if showProgress {
		tui.NewProgress(stderr).Attach(e.Hooks())
	}
}

func inferOnce(ctx context.Context, out io.Writer, e *infer.Engine, path string) error {
	traces, err := inferIn.load(ctx, path)
	if err != nil {
		return err
	}
	res, err := e.Run(ctx, traces)
	if res == nil {
		return err
	}

	summary := &tui.Summary{
		RunID:     res.RunID,
		Input:     path,
		Oracle:    cfg.Oracle.Name,
		Traces:    len(traces),
		Events:    res.Events,
		Splits:    res.Splits,
		Merges:    res.Merges,
		Rollbacks: res.Rollbacks,
		Duration:  res.Duration,
		Partial:   err != nil,
		Output:    modelOutput,
	}
	if res.Invariants != nil {
		summary.Invariants = res.Invariants.Len()
	}
	if res.Graph != nil {
		summary.Partitions = res.Graph.CountRegular()
	}

	if modelOutput != "" {
		if werr := writeModel(res.Model, modelOutput); werr != nil {
			return werr
		}
	}
	tui.PrintSummary(out, summary)
	if showInvariants && res.Invariants != nil {
		tui.PrintInvariants(out, "INVARIANTS", res.Invariants.Sorted(), false)
		if res.Immediate != nil {
			tui.PrintInvariants(out, "IMMEDIATE INVARIANTS", res.Immediate.Sorted(), false)
		}
	}
	return err
}

// writeModel writes m as JSON or YAML depending on the file extension.
func writeModel(m *partition.Model, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = m.JSON()
	case ".yaml", ".yml", "":
		data, err = m.YAML()
	default:
		return lferrors.Newf(lferrors.CodeInvalidConfig, "unsupported model format %q, use .json or .yaml", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return lferrors.Wrap(err, lferrors.CodeInvalidConfig, "failed to write model").
			WithContext("path", path)
	}
	return nil
}
