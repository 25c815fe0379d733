package hooks

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestHookManager_PhaseHooks(t *testing.T) {
	mgr := NewHookManager()

	var phases []Phase
	mgr.RegisterPhase(func(ctx context.Context, info *PhaseInfo) error {
		phases = append(phases, info.Phase)
		return nil
	})
	mgr.RegisterPhase(func(ctx context.Context, info *PhaseInfo) error {
		phases = append(phases, info.Phase)
		return nil
	})

	if err := mgr.RunPhase(context.Background(), &PhaseInfo{Phase: PhaseRefining}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if len(phases) != 2 || phases[0] != PhaseRefining {
		t.Errorf("Expected both hooks to see %q, got %v", PhaseRefining, phases)
	}
}

func TestHookManager_SplitHookError(t *testing.T) {
	mgr := NewHookManager()

	expectedErr := errors.New("stop")
	called := false
	mgr.RegisterSplit(func(ctx context.Context, info *SplitInfo) error {
		return expectedErr
	})
	mgr.RegisterSplit(func(ctx context.Context, info *SplitInfo) error {
		called = true
		return nil
	})

	err := mgr.RunSplit(context.Background(), &SplitInfo{Partition: 3})
	if err != expectedErr {
		t.Errorf("Expected error %v, got %v", expectedErr, err)
	}
	if called {
		t.Error("Hooks after a failing hook must not run")
	}
}

func TestHookManager_MergeAndRollback(t *testing.T) {
	mgr := NewHookManager()

	var merges, rollbacks int
	mgr.RegisterMerge(func(ctx context.Context, info *MergeInfo) error {
		merges++
		return nil
	})
	mgr.RegisterRollback(func(ctx context.Context, info *MergeInfo) error {
		rollbacks++
		if info.Violated == "" {
			t.Error("Rollback should name the violated invariant")
		}
		return nil
	})

	ctx := context.Background()
	_ = mgr.RunMerge(ctx, &MergeInfo{Target: 1, Other: 2})
	_ = mgr.RunRollback(ctx, &MergeInfo{Target: 1, Other: 3, Violated: "a NFby b"})
	_ = mgr.RunRollback(ctx, &MergeInfo{Target: 1, Other: 4, Violated: "a AFby b"})

	if merges != 1 || rollbacks != 2 {
		t.Errorf("Expected 1 merge and 2 rollbacks, got %d and %d", merges, rollbacks)
	}
}

func TestHookManager_ErrorHookReplaces(t *testing.T) {
	mgr := NewHookManager()

	original := errors.New("original")
	replaced := errors.New("replaced")

	if err := mgr.RunError(context.Background(), original, PhaseRefining); err != original {
		t.Errorf("Without hooks the original error is returned, got %v", err)
	}

	mgr.RegisterError(func(ctx context.Context, err error, phase Phase) error {
		return replaced
	})
	if err := mgr.RunError(context.Background(), original, PhaseRefining); err != replaced {
		t.Errorf("Expected %v, got %v", replaced, err)
	}
}

func TestHookManager_NilIsNoop(t *testing.T) {
	var mgr *HookManager
	if err := mgr.RunSplit(context.Background(), &SplitInfo{}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := mgr.RunPhase(context.Background(), &PhaseInfo{}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestHookManager_Clear(t *testing.T) {
	mgr := NewHookManager()
	called := false
	mgr.RegisterMerge(func(ctx context.Context, info *MergeInfo) error {
		called = true
		return nil
	})
	mgr.Clear()
	_ = mgr.RunMerge(context.Background(), &MergeInfo{})
	if called {
		t.Error("Cleared hooks should not run")
	}
}

func TestLoggingHooks(t *testing.T) {
	mgr := NewHookManager()
	LoggingHooks(mgr, zap.NewNop())

	ctx := context.Background()
	if err := mgr.RunPhase(ctx, &PhaseInfo{Phase: PhaseMining}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := mgr.RunSplit(ctx, &SplitInfo{Sizes: []int{1, 2}}); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestProgressTracker(t *testing.T) {
	var reports []Progress
	tracker := NewProgressTracker(2, func(p Progress) {
		reports = append(reports, p)
	})

	mgr := NewHookManager()
	tracker.Attach(mgr)

	ctx := context.Background()
	_ = mgr.RunPhase(ctx, &PhaseInfo{Phase: PhaseRefining, Partitions: 5})
	_ = mgr.RunSplit(ctx, &SplitInfo{Partitions: 6})
	_ = mgr.RunSplit(ctx, &SplitInfo{Partitions: 7})
	_ = mgr.RunRollback(ctx, &MergeInfo{})

	p := tracker.GetProgress()
	if p.Splits != 2 || p.Rollbacks != 1 || p.Partitions != 7 {
		t.Errorf("Unexpected progress: %+v", p)
	}
	if p.Phase != PhaseRefining {
		t.Errorf("Expected phase %q, got %q", PhaseRefining, p.Phase)
	}
	// One report for the phase change, one after the second split.
	if len(reports) != 2 {
		t.Errorf("Expected 2 reports, got %d", len(reports))
	}
}
