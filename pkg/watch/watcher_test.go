package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWatcher_Run(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "traces.txt")
	other := filepath.Join(dir, "other.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\n"), 0644))

	changed := make(chan string, 4)
	w, err := New(func(_ context.Context, p string) error {
		changed <- p
		return nil
	}, WithDebounce(20*time.Millisecond), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	require.NoError(t, w.Watch(path))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(other, []byte("ignored\n"), 0644))
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\n"), 0644))

	select {
	case p := <-changed:
		abs, _ := filepath.Abs(path)
		assert.Equal(t, abs, p)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_RunWaitsForCallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "traces.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\n"), 0644))

	started := make(chan struct{})
	release := make(chan struct{})
	var (
		once     sync.Once
		finished atomic.Bool
	)
	w, err := New(func(_ context.Context, _ string) error {
		once.Do(func() { close(started) })
		<-release
		finished.Store(true)
		return nil
	}, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Watch(path))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte("a\nb\n"), 0644))
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	select {
	case <-done:
		t.Fatal("Run returned while a callback was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.True(t, finished.Load())
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the callback finished")
	}
}

func TestWatcher_WatchMissing(t *testing.T) {
	w, err := New(nil)
	require.NoError(t, err)
	defer w.Close()
	assert.Error(t, w.Watch(filepath.Join(t.TempDir(), "nope")))
}
