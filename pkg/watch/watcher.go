// Package watch re-runs a callback when watched input files change.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	lferrors "github.com/logflow/tracemine/pkg/errors"
)

// DefaultDebounce is how long a file must stay quiet before OnChange fires.
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc is called once per settled change of a watched file.
type ChangeFunc func(ctx context.Context, path string) error

// Watcher monitors files for changes and triggers updates.
type Watcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]*fileState
	mu       sync.Mutex
	debounce time.Duration
	logger   *zap.Logger

	// inflight counts scheduled and running callbacks.
	inflight sync.WaitGroup

	OnChange ChangeFunc
	OnError  func(path string, err error)
}

type fileState struct {
	lastModified time.Time
	size         int64
	processing   bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a change is reported.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a new file watcher.
func New(onChange ChangeFunc, opts ...Option) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeUnknown, "failed to create watcher")
	}

	w := &Watcher{
		watcher:  fsWatcher,
		files:    make(map[string]*fileState),
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
		OnChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch starts watching a file. The containing directory is watched so that
// editors replacing the file by rename are still seen.
func (w *Watcher) Watch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeInvalidConfig, "failed to resolve path").
			WithContext("path", path)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeInvalidConfig, "failed to stat file").
			WithContext("path", absPath)
	}

	w.mu.Lock()
	w.files[absPath] = &fileState{
		lastModified: stat.ModTime(),
		size:         stat.Size(),
	}
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(absPath)); err != nil {
		return lferrors.Wrap(err, lferrors.CodeInvalidConfig, "failed to watch directory").
			WithContext("path", absPath)
	}
	w.logger.Debug("watching", zap.String("path", absPath))
	return nil
}

// Run starts the watch loop. It blocks until ctx is canceled, waits for a
// callback that is already running, and then closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			if t.Stop() {
				w.inflight.Done()
			}
		}
		w.inflight.Wait()
		w.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			absPath, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			w.mu.Lock()
			state, watched := w.files[absPath]
			w.mu.Unlock()
			if !watched {
				continue
			}

			if t, ok := timers[absPath]; ok && t.Stop() {
				w.inflight.Done()
			}
			w.inflight.Add(1)
			timers[absPath] = time.AfterFunc(w.debounce, func() {
				defer w.inflight.Done()
				w.handleChange(ctx, absPath, state)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.report("", err)
		}
	}
}

func (w *Watcher) handleChange(ctx context.Context, path string, state *fileState) {
	if ctx.Err() != nil {
		return
	}

	w.mu.Lock()
	if state.processing {
		w.mu.Unlock()
		return
	}
	state.processing = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		state.processing = false
		w.mu.Unlock()
	}()

	stat, err := os.Stat(path)
	if err != nil {
		w.report(path, err)
		return
	}

	w.mu.Lock()
	unchanged := stat.ModTime().Equal(state.lastModified) && stat.Size() == state.size
	state.lastModified = stat.ModTime()
	state.size = stat.Size()
	w.mu.Unlock()
	if unchanged {
		return
	}

	w.logger.Info("input changed", zap.String("path", path), zap.Int64("size", stat.Size()))
	if w.OnChange != nil {
		if err := w.OnChange(ctx, path); err != nil {
			w.report(path, err)
		}
	}
}

func (w *Watcher) report(path string, err error) {
	w.logger.Warn("watch error", zap.String("path", path), zap.Error(err))
	if w.OnError != nil {
		w.OnError(path, err)
	}
}

// Close stops the watcher without waiting for Run.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
