package tui

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/logflow/tracemine/pkg/hooks"
)

// Progress shows engine activity as a spinner with an operation count. The
// total number of splits is not known up front, so the bar is indeterminate.
// Counts come from a hooks.ProgressTracker.
type Progress struct {
	bar     *progressbar.ProgressBar
	tracker *hooks.ProgressTracker
}

// NewProgress creates a progress indicator writing to w.
func NewProgress(w io.Writer) *Progress {
	p := &Progress{
		bar: progressbar.NewOptions64(-1,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("starting"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		),
	}
	p.tracker = hooks.NewProgressTracker(1, func(hooks.Progress) { p.render() })
	return p
}

// Attach drives the indicator from m. The final phase clears it.
func (p *Progress) Attach(m *hooks.HookManager) {
	p.tracker.Attach(m)
	m.RegisterPhase(func(ctx context.Context, info *hooks.PhaseInfo) error {
		if info.Phase == hooks.PhaseComplete || info.Phase == hooks.PhaseAborted {
			_ = p.bar.Finish()
		}
		return nil
	})
}

// Rendering failures never abort a run.
func (p *Progress) render() {
	s := p.tracker.GetProgress()
	p.bar.Describe(describe(s))
	_ = p.bar.Set(s.Splits + s.Merges + s.Rollbacks)
}

func describe(s hooks.Progress) string {
	if s.Phase == "" {
		return "starting"
	}
	return fmt.Sprintf("%s: %d partitions, %d splits, %d merges", s.Phase, s.Partitions, s.Splits, s.Merges)
}

// Steps returns how many operations have been counted.
func (p *Progress) Steps() int64 {
	s := p.tracker.GetProgress()
	return int64(s.Splits + s.Merges + s.Rollbacks)
}

// Description returns the text currently shown next to the spinner.
func (p *Progress) Description() string {
	return describe(p.tracker.GetProgress())
}
