package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/logflow/tracemine/pkg/diff"
	"github.com/logflow/tracemine/pkg/infer"
)

// Diff flags
var (
	diffIn   inputFlags
	diffJSON bool
)

var diffCmd = &cobra.Command{
	Use:   "diff <left> <right>",
	Short: "Compare the invariants mined from two trace files",
	Long: `Mine both inputs and report which invariants hold only on one side,
along with event type frequency changes.

Examples:
  tracemine diff before.jsonl after.jsonl
  tracemine diff --json v1.log v2.log`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	diffIn.register(diffCmd)
	diffCmd.Flags().BoolVar(&diffJSON, "json", false, "Output report as JSON")
}

// diffView is the JSON form of a report, with invariants rendered as text.
type diffView struct {
	LeftTraces   int               `json:"left_traces"`
	RightTraces  int               `json:"right_traces"`
	LeftEvents   int               `json:"left_events"`
	RightEvents  int               `json:"right_events"`
	Added        []string          `json:"added"`
	Removed      []string          `json:"removed"`
	Common       int               `json:"common"`
	NewTypes     []string          `json:"new_types,omitempty"`
	RemovedTypes []string          `json:"removed_types,omitempty"`
	TypeChanges  []diff.TypeChange `json:"type_changes,omitempty"`
	Kinds        map[string][2]int `json:"kinds,omitempty"`
	Digests      map[string]string `json:"digests"`
}

func newDiffView(r *diff.Report) *diffView {
	v := &diffView{
		LeftTraces:   r.LeftTraces,
		RightTraces:  r.RightTraces,
		LeftEvents:   r.LeftEvents,
		RightEvents:  r.RightEvents,
		Added:        []string{},
		Removed:      []string{},
		Common:       r.Common,
		NewTypes:     r.NewTypes,
		RemovedTypes: r.RemovedTypes,
		TypeChanges:  r.TypeChanges,
		Kinds:        make(map[string][2]int, len(r.KindChanges)),
		Digests: map[string]string{
			"left":  fmt.Sprintf("%016x", r.LeftDigest),
			"right": fmt.Sprintf("%016x", r.RightDigest),
		},
	}
	for _, inv := range r.Added {
		v.Added = append(v.Added, inv.String())
	}
	for _, inv := range r.Removed {
		v.Removed = append(v.Removed, inv.String())
	}
	for _, k := range r.KindChanges {
		v.Kinds[k.Kind.String()] = [2]int{k.Left, k.Right}
	}
	return v
}

func runDiff(cmd *cobra.Command, args []string) error {
	opts, err := engineOptions(cfg)
	if err != nil {
		return err
	}
	orders, err := diffIn.orderOptions()
	if err != nil {
		return err
	}
	e := infer.New(append(opts, orders...)...)

	sides := make([]diff.Side, 2)
	g, ctx := errgroup.WithContext(cmd.Context())
	for i, path := range args {
		i, path := i, path
		g.Go(func() error {
			traces, err := diffIn.load(ctx, path)
			if err != nil {
				return err
			}
			tg, invs, err := e.Mine(ctx, traces)
			if err != nil {
				return err
			}
			sides[i] = diff.Side{Graph: tg, Invariants: invs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	report := diff.Compare(sides[0], sides[1])
	out := cmd.OutOrStdout()
	if diffJSON {
		data, err := json.MarshalIndent(newDiffView(report), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	fmt.Fprint(out, report.String())
	return nil
}
