package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/tracemine/pkg/checkpoint"
	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/tui"
)

// Runs flags
var (
	runsPrefix     string
	runsIncomplete bool
	runsOlderThan  time.Duration
	runsModel      string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded inference runs",
	Long: `List, show and clean up the run records written by 'tracemine infer' when
checkpoint.enabled is set. Records live in the configured backend (file,
redis or s3).`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished runs older than --older-than",
	Args:  cobra.NoArgs,
	RunE:  runRunsCleanup,
}

func init() {
	runsListCmd.Flags().StringVar(&runsPrefix, "prefix", "", "Only list runs whose id starts with this prefix")
	runsListCmd.Flags().BoolVar(&runsIncomplete, "incomplete", false, "Only list runs that never finished")
	runsShowCmd.Flags().StringVarP(&runsModel, "output", "o", "", "Write the run's model to this file (.json or .yaml)")
	runsCleanupCmd.Flags().DurationVar(&runsOlderThan, "older-than", 7*24*time.Hour, "Age threshold")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsCleanupCmd)
}

// withBackend opens the configured backend regardless of checkpoint.enabled.
func withBackend(ctx context.Context, fn func(checkpoint.Backend) error) error {
	c := cfg.Checkpoint
	c.Enabled = true
	b, err := openBackend(ctx, c)
	if err != nil {
		return err
	}
	if closer, ok := b.(io.Closer); ok {
		defer closer.Close()
	}
	return fn(b)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	return withBackend(cmd.Context(), func(b checkpoint.Backend) error {
		var (
			runs []*checkpoint.Record
			err  error
		)
		if runsIncomplete {
			runs, err = b.ListIncomplete(cmd.Context())
		} else {
			runs, err = b.List(cmd.Context(), runsPrefix)
		}
		if err != nil {
			return err
		}
		tui.PrintRuns(cmd.OutOrStdout(), runs)
		return nil
	})
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	return withBackend(cmd.Context(), func(b checkpoint.Backend) error {
		r, err := b.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		tui.PrintRun(cmd.OutOrStdout(), r)
		if runsModel == "" {
			return nil
		}
		if r.Model == nil {
			return lferrors.Newf(lferrors.CodeNotFound, "run %s has no model", r.ID)
		}
		return writeModel(r.Model, runsModel)
	})
}

func runRunsCleanup(cmd *cobra.Command, args []string) error {
	return withBackend(cmd.Context(), func(b checkpoint.Backend) error {
		n, err := b.Cleanup(cmd.Context(), runsOlderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d runs from %s\n", n, b.Name())
		return nil
	})
}
