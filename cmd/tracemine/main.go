// tracemine infers finite-state models of a system from execution traces.
// It mines temporal invariants from the traces, then refines and coarsens a
// partition graph until the model satisfies every invariant.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configPath string
	logLevel   string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error classes to process exit codes: 2 for rejected input,
// 3 for an exhausted budget, 130 for cancellation, 1 otherwise.
func exitCode(err error) int {
	switch {
	case lferrors.IsInput(err):
		return 2
	case lferrors.IsCode(err, lferrors.CodeBudgetExhausted):
		return 3
	case lferrors.IsCode(err, lferrors.CodeCanceled):
		return 130
	default:
		return 1
	}
}

var rootCmd = &cobra.Command{
	Use:   "tracemine",
	Short: "tracemine - infer models from execution traces",
	Long: `tracemine mines temporal invariants (AlwaysFollowedBy, NeverFollowedBy,
AlwaysPrecedes, ...) from execution traces and infers the smallest partition
graph it can find that satisfies all of them.

Configuration is read from /etc/tracemine/config.yaml, ~/.tracemine/config.yaml
and ./.tracemine.yaml, then TRACEMINE_* environment variables, then flags.`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	tui.Version = version

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (replaces the search path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(inferCmd)
	rootCmd.AddCommand(mineCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configCmd)
}
