// Package tui renders command output: run summaries, invariant listings,
// run records and a progress indicator driven by engine hooks.
// Simple, streaming, no full-screen TUI.
package tui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/logflow/tracemine/pkg/checkpoint"
	"github.com/logflow/tracemine/pkg/invariant"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	warning = lipgloss.Color("#FFAA00")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warning).Bold(true)
)

const rule = "  ─────────────────────────────────────"

// Version is printed in the header.
var Version = "0.1.0"

// PrintHeader prints the program banner.
func PrintHeader(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  TRACEMINE")+mutedStyle.Render(" v"+Version))
	fmt.Fprintln(w, mutedStyle.Render("  Temporal invariant mining and model inference"))
	fmt.Fprintln(w)
}

// Summary describes a finished run.
type Summary struct {
	RunID      string
	Input      string
	Oracle     string
	Traces     int
	Events     int
	Invariants int
	Partitions int
	Splits     int
	Merges     int
	Rollbacks  int
	Duration   time.Duration
	// Partial is set when a budget stopped the run early.
	Partial bool
	Output  string
}

// PrintSummary prints results after a run.
func PrintSummary(w io.Writer, s *Summary) {
	fmt.Fprintln(w)
	if s.Partial {
		fmt.Fprintln(w, warningStyle.Render("  ! INFERENCE STOPPED ON BUDGET (partial model)"))
	} else {
		fmt.Fprintln(w, successStyle.Render("  ✓ INFERENCE COMPLETE"))
	}
	fmt.Fprintln(w)
	field(w, "Run:", s.RunID)
	if s.Input != "" {
		field(w, "Input:", s.Input)
	}
	field(w, "Oracle:", s.Oracle)
	field(w, "Traces:", fmt.Sprintf("%s (%s events)", formatNumber(int64(s.Traces)), formatNumber(int64(s.Events))))
	field(w, "Invariants:", formatNumber(int64(s.Invariants)))
	field(w, "Model:", fmt.Sprintf("%d partitions", s.Partitions))
	fmt.Fprintf(w, "  %s %d splits, %d merges %s\n",
		mutedStyle.Render("Operations:"), s.Splits, s.Merges,
		mutedStyle.Render(fmt.Sprintf("(%d rolled back)", s.Rollbacks)))
	if s.Duration > 0 {
		field(w, "Time:", formatDuration(s.Duration))
	}
	if s.Output != "" {
		field(w, "Output:", s.Output)
	}
	fmt.Fprintln(w)
}

func field(w io.Writer, name, value string) {
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(name), titleStyle.Render(value))
}

// PrintInvariants lists invariants one per line, optionally with their LTL
// form.
func PrintInvariants(w io.Writer, title string, invs []invariant.Binary, ltl bool) {
	fmt.Fprintln(w, accentStyle.Render("▸ "+title)+mutedStyle.Render(fmt.Sprintf(" (%d)", len(invs))))
	for _, inv := range invs {
		if !ltl {
			fmt.Fprintf(w, "  %s\n", inv)
			continue
		}
		if f, ok := inv.LTL(); ok {
			fmt.Fprintf(w, "  %-40s %s\n", inv.String(), mutedStyle.Render(f))
		} else {
			fmt.Fprintf(w, "  %s\n", inv)
		}
	}
}

// PrintRuns prints run records as a table, newest first.
func PrintRuns(w io.Writer, runs []*checkpoint.Record) {
	if len(runs) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  No runs recorded."))
		return
	}
	fmt.Fprintf(w, "  %-36s  %-10s  %-9s  %6s  %6s  %10s  %s\n",
		"ID", "PHASE", "ORACLE", "SPLITS", "MERGES", "DURATION", "INPUT")
	for _, r := range runs {
		phase := r.Phase
		switch phase {
		case checkpoint.PhaseComplete:
			phase = successStyle.Render(fmt.Sprintf("%-10s", phase))
		case checkpoint.PhaseAborted:
			phase = accentStyle.Render(fmt.Sprintf("%-10s", phase))
		default:
			phase = fmt.Sprintf("%-10s", phase)
		}
		fmt.Fprintf(w, "  %-36s  %s  %-9s  %6d  %6d  %10s  %s\n",
			r.ID, phase, r.Oracle, r.Splits, r.Merges, formatDuration(r.Duration()), r.Input)
	}
}

// PrintRun prints one run record in detail.
func PrintRun(w io.Writer, r *checkpoint.Record) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("▸ RUN "+r.ID))
	fmt.Fprintln(w, mutedStyle.Render(rule))
	field(w, "Phase:", r.Phase)
	field(w, "Input:", r.Input)
	field(w, "Oracle:", r.Oracle)
	field(w, "Started:", r.StartedAt.Format(time.RFC3339))
	field(w, "Duration:", formatDuration(r.Duration()))
	field(w, "Traces:", fmt.Sprintf("%d (%d events)", r.Traces, r.Events))
	field(w, "Invariants:", fmt.Sprintf("%d (digest %s)", r.Invariants, r.Digest))
	field(w, "Operations:", fmt.Sprintf("%d splits, %d merges, %d rollbacks", r.Splits, r.Merges, r.Rollbacks))
	field(w, "Partitions:", fmt.Sprintf("%d", r.Partitions))
	if r.Error != "" {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Error:"), accentStyle.Render(r.Error))
	}
	fmt.Fprintln(w, mutedStyle.Render(rule))
	fmt.Fprintln(w)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}
