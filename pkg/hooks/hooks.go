// Package hooks lets callers observe an inference run: phase changes,
// committed splits and merges, rolled-back merges and errors.
// Hooks run synchronously on the engine goroutine, in registration order.
package hooks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Phase names a stage of an inference run.
type Phase string

const (
	PhaseMining     Phase = "mining"
	PhaseRefining   Phase = "refining"
	PhaseCoarsening Phase = "coarsening"
	PhaseComplete   Phase = "complete"
	PhaseAborted    Phase = "aborted"
)

// HookManager manages all registered hooks.
type HookManager struct {
	mu sync.RWMutex

	phaseHooks    []PhaseHook
	splitHooks    []SplitHook
	mergeHooks    []MergeHook
	rollbackHooks []MergeHook
	errorHooks    []ErrorHook
}

// NewHookManager creates a new hook manager.
func NewHookManager() *HookManager {
	return &HookManager{}
}

// PhaseInfo describes a phase transition.
type PhaseInfo struct {
	RunID      string
	Phase      Phase
	Partitions int
	Invariants int
	Elapsed    time.Duration
}

// PhaseHook is called when a run enters a phase.
type PhaseHook func(ctx context.Context, info *PhaseInfo) error

// SplitInfo describes a committed split.
type SplitInfo struct {
	Invariant string
	Partition int
	Label     string
	// Sizes holds the member counts of the resulting partitions.
	Sizes      []int
	Partitions int
	// Global reports whether the split removed the counterexample's
	// invariant violation from the whole graph.
	Global bool
	Count  int
}

// SplitHook is called after each committed split.
type SplitHook func(ctx context.Context, info *SplitInfo) error

// MergeInfo describes a merge attempt.
type MergeInfo struct {
	Target     int
	Other      int
	Label      string
	Partitions int
	// Violated names the invariant that forced a rollback, if any.
	Violated string
	Count    int
}

// MergeHook is called after a merge is committed or rolled back.
type MergeHook func(ctx context.Context, info *MergeInfo) error

// ErrorHook is called when a run fails. It may replace the error.
type ErrorHook func(ctx context.Context, err error, phase Phase) error

// RegisterPhase adds a phase hook.
func (m *HookManager) RegisterPhase(hook PhaseHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phaseHooks = append(m.phaseHooks, hook)
}

// RegisterSplit adds a split hook.
func (m *HookManager) RegisterSplit(hook SplitHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.splitHooks = append(m.splitHooks, hook)
}

// RegisterMerge adds a hook for committed merges.
func (m *HookManager) RegisterMerge(hook MergeHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeHooks = append(m.mergeHooks, hook)
}

// RegisterRollback adds a hook for rolled-back merges.
func (m *HookManager) RegisterRollback(hook MergeHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbackHooks = append(m.rollbackHooks, hook)
}

// RegisterError adds an error hook.
func (m *HookManager) RegisterError(hook ErrorHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorHooks = append(m.errorHooks, hook)
}

// RunPhase executes all phase hooks.
func (m *HookManager) RunPhase(ctx context.Context, info *PhaseInfo) error {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	hooks := m.phaseHooks
	m.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, info); err != nil {
			return err
		}
	}
	return nil
}

// RunSplit executes all split hooks.
func (m *HookManager) RunSplit(ctx context.Context, info *SplitInfo) error {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	hooks := m.splitHooks
	m.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, info); err != nil {
			return err
		}
	}
	return nil
}

// RunMerge executes all merge hooks.
func (m *HookManager) RunMerge(ctx context.Context, info *MergeInfo) error {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	hooks := m.mergeHooks
	m.mu.RUnlock()
	return runMerge(ctx, hooks, info)
}

// RunRollback executes all rollback hooks.
func (m *HookManager) RunRollback(ctx context.Context, info *MergeInfo) error {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	hooks := m.rollbackHooks
	m.mu.RUnlock()
	return runMerge(ctx, hooks, info)
}

func runMerge(ctx context.Context, hooks []MergeHook, info *MergeInfo) error {
	for _, hook := range hooks {
		if err := hook(ctx, info); err != nil {
			return err
		}
	}
	return nil
}

// RunError executes all error hooks and returns the final error.
func (m *HookManager) RunError(ctx context.Context, err error, phase Phase) error {
	if m == nil {
		return err
	}
	m.mu.RLock()
	hooks := m.errorHooks
	m.mu.RUnlock()

	for _, hook := range hooks {
		if hookErr := hook(ctx, err, phase); hookErr != nil {
			return hookErr
		}
	}
	return err
}

// Clear removes all registered hooks.
func (m *HookManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.phaseHooks = nil
	m.splitHooks = nil
	m.mergeHooks = nil
	m.rollbackHooks = nil
	m.errorHooks = nil
}

// --- Built-in hooks ---

// LoggingHooks registers hooks that log every event at debug level and phase
// changes at info level.
func LoggingHooks(m *HookManager, logger *zap.Logger) {
	m.RegisterPhase(func(ctx context.Context, info *PhaseInfo) error {
		logger.Info("Phase",
			zap.String("run_id", info.RunID),
			zap.String("phase", string(info.Phase)),
			zap.Int("partitions", info.Partitions),
			zap.Int("invariants", info.Invariants),
			zap.Duration("elapsed", info.Elapsed))
		return nil
	})
	m.RegisterSplit(func(ctx context.Context, info *SplitInfo) error {
		logger.Debug("Split",
			zap.String("invariant", info.Invariant),
			zap.Int("partition", info.Partition),
			zap.String("label", info.Label),
			zap.Ints("sizes", info.Sizes),
			zap.Bool("global", info.Global))
		return nil
	})
	m.RegisterMerge(func(ctx context.Context, info *MergeInfo) error {
		logger.Debug("Merge",
			zap.Int("target", info.Target),
			zap.Int("other", info.Other),
			zap.String("label", info.Label))
		return nil
	})
	m.RegisterRollback(func(ctx context.Context, info *MergeInfo) error {
		logger.Debug("Merge rolled back",
			zap.Int("target", info.Target),
			zap.Int("other", info.Other),
			zap.String("violated", info.Violated))
		return nil
	})
}

// --- Progress tracking ---

// Progress contains progress information.
type Progress struct {
	Phase      Phase
	Splits     int
	Merges     int
	Rollbacks  int
	Partitions int
	StartTime  time.Time
}

// ProgressHook is called with progress updates.
type ProgressHook func(progress Progress)

// ProgressTracker tracks and reports progress.
type ProgressTracker struct {
	mu       sync.Mutex
	progress Progress
	hook     ProgressHook
	interval int // Report every N operations
	counter  int
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker(interval int, hook ProgressHook) *ProgressTracker {
	if interval <= 0 {
		interval = 1
	}
	return &ProgressTracker{
		interval: interval,
		hook:     hook,
		progress: Progress{StartTime: time.Now()},
	}
}

// Attach registers the tracker's hooks with m.
func (t *ProgressTracker) Attach(m *HookManager) {
	m.RegisterPhase(func(ctx context.Context, info *PhaseInfo) error {
		t.mu.Lock()
		t.progress.Phase = info.Phase
		t.progress.Partitions = info.Partitions
		p := t.progress
		t.mu.Unlock()
		if t.hook != nil {
			t.hook(p)
		}
		return nil
	})
	m.RegisterSplit(func(ctx context.Context, info *SplitInfo) error {
		t.tick(func(p *Progress) {
			p.Splits++
			p.Partitions = info.Partitions
		})
		return nil
	})
	m.RegisterMerge(func(ctx context.Context, info *MergeInfo) error {
		t.tick(func(p *Progress) {
			p.Merges++
			p.Partitions = info.Partitions
		})
		return nil
	})
	m.RegisterRollback(func(ctx context.Context, info *MergeInfo) error {
		t.tick(func(p *Progress) { p.Rollbacks++ })
		return nil
	})
}

func (t *ProgressTracker) tick(update func(*Progress)) {
	t.mu.Lock()
	update(&t.progress)
	t.counter++
	report := t.counter >= t.interval && t.hook != nil
	if report {
		t.counter = 0
	}
	p := t.progress
	t.mu.Unlock()

	if report {
		t.hook(p)
	}
}

// GetProgress returns a copy of the current progress.
func (t *ProgressTracker) GetProgress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}
