package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/infer"
	"github.com/logflow/tracemine/pkg/invariant"
	"github.com/logflow/tracemine/pkg/tui"
)

// Mine flags
var (
	mineInput       string
	mineIn          inputFlags
	mineImmediate   bool
	mineConcurrency bool
	mineIntrBy      bool
	mineLTL         bool
	mineKinds       []string
	mineJSON        bool
)

var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Mine temporal invariants without building a model",
	Long: `Mine the invariants that hold over every trace in the input and print them.

Examples:
  tracemine mine -i traces.jsonl
  tracemine mine -i traces.jsonl --immediate --ltl
  tracemine mine -i run.log --kind AFby --kind NFby --json`,
	RunE: runMine,
}

func init() {
	mineCmd.Flags().StringVarP(&mineInput, "input", "i", "", "Input trace file (required)")
	mineIn.register(mineCmd)
	mineCmd.Flags().BoolVar(&mineImmediate, "immediate", false, "Also mine AIFby and NIFby invariants")
	mineCmd.Flags().BoolVar(&mineConcurrency, "concurrency", false, "Also mine ACwith and NCwith over partial orders")
	mineCmd.Flags().BoolVar(&mineIntrBy, "interrupted-by", false, "Also mine IntrBy over total orders")
	mineCmd.Flags().BoolVar(&mineLTL, "ltl", false, "Print each invariant's LTL formula")
	mineCmd.Flags().StringSliceVar(&mineKinds, "kind", nil, "Only print these kinds (AFby, NFby, AP, ...)")
	mineCmd.Flags().BoolVar(&mineJSON, "json", false, "Output invariants as JSON")
	_ = mineCmd.MarkFlagRequired("input")
}

func runMine(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("concurrency") {
		cfg.Inference.MineConcurrency = mineConcurrency
	}
	if flags.Changed("interrupted-by") {
		cfg.Inference.MineInterruptedBy = mineIntrBy
	}
	if flags.Changed("immediate") {
		cfg.Inference.MineImmediate = mineImmediate
	}

	keep, err := kindFilter(mineKinds)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	traces, err := mineIn.load(ctx, mineInput)
	if err != nil {
		return err
	}

	opts, err := engineOptions(cfg)
	if err != nil {
		return err
	}
	orders, err := mineIn.orderOptions()
	if err != nil {
		return err
	}
	e := infer.New(append(opts, orders...)...)

	tg, invs, err := e.Mine(ctx, traces)
	if err != nil {
		return err
	}
	if cfg.Inference.MineImmediate {
		invs = invs.Union(invariant.MineImmediateAll(tg))
	}
	if keep != nil {
		invs = invs.Filter(func(b invariant.Binary) bool { return keep[b.Kind] })
	}

	out := cmd.OutOrStdout()
	if mineJSON {
		data, err := json.MarshalIndent(invs.Strings(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	tui.PrintInvariants(out, fmt.Sprintf("INVARIANTS over %d traces", tg.TraceCount()), invs.Sorted(), mineLTL)
	return nil
}

// kindFilter parses --kind values. A nil map keeps everything.
func kindFilter(names []string) (map[invariant.Kind]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	keep := make(map[invariant.Kind]bool, len(names))
	for _, n := range names {
		k, ok := invariant.ParseKind(n)
		if !ok {
			return nil, lferrors.Newf(lferrors.CodeInvalidConfig, "unknown invariant kind %q", n)
		}
		keep[k] = true
	}
	return keep, nil
}
