// Package checkpoint persists run records: one record per inference run,
// updated at every phase change and holding the final model once the run
// completes or stops on a budget.
package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/partition"
)

const (
	PhaseStarting   = "starting"
	PhaseMining     = "mining"
	PhaseRefining   = "refining"
	PhaseCoarsening = "coarsening"
	PhaseComplete   = "complete"
	PhaseAborted    = "aborted"
)

// Record tracks one inference run.
type Record struct {
	ID    string `json:"id"`
	Input string `json:"input"`

	Oracle    string   `json:"oracle"`
	Relations []string `json:"relations,omitempty"`

	Traces     int    `json:"traces"`
	Events     int    `json:"events"`
	Invariants int    `json:"invariants"`
	Digest     string `json:"digest,omitempty"`

	Splits     int `json:"splits"`
	Merges     int `json:"merges"`
	Rollbacks  int `json:"rollbacks"`
	Partitions int `json:"partitions"`

	Phase       string     `json:"phase"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Model    *partition.Model  `json:"model,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	mu sync.Mutex
}

// NewRecord starts a record for a run over input with a fresh run id.
func NewRecord(input string) *Record {
	now := time.Now()
	return &Record{
		ID:        uuid.NewString(),
		Input:     input,
		Phase:     PhaseStarting,
		StartedAt: now,
		UpdatedAt: now,
		Metadata:  make(map[string]string),
	}
}

// SetPhase updates the phase. Complete and aborted records get a completion
// time.
func (r *Record) SetPhase(phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Phase = phase
	r.UpdatedAt = time.Now()
	if phase == PhaseComplete || phase == PhaseAborted {
		now := r.UpdatedAt
		r.CompletedAt = &now
	}
}

// Update applies fn to the record under its lock.
func (r *Record) Update(fn func(*Record)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn(r)
	r.UpdatedAt = time.Now()
}

// SetMetadata sets a metadata value.
func (r *Record) SetMetadata(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
}

// Done reports whether the run has finished, successfully or not.
func (r *Record) Done() bool {
	return r.Phase == PhaseComplete || r.Phase == PhaseAborted
}

// Duration returns how long the run took, or has been running.
func (r *Record) Duration() time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

func (r *Record) marshal() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeCheckpointWrite, "failed to marshal run record").
			WithContext("id", r.ID)
	}
	return data, nil
}

func unmarshal(data []byte, id string) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeCheckpointRead, "failed to unmarshal run record").
			WithContext("id", id)
	}
	return &r, nil
}

func notFound(id string) error {
	return lferrors.New(lferrors.CodeNotFound, "run record not found").WithContext("id", id)
}

// sortByStart orders records newest first.
func sortByStart(rs []*Record) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].StartedAt.Equal(rs[j].StartedAt) {
			return rs[i].StartedAt.After(rs[j].StartedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

const fileExt = ".run.json"

// FileBackend stores one JSON file per record in a directory.
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

// NewFileBackend creates the directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeCheckpointWrite, "failed to create checkpoint directory").
			WithContext("dir", dir)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(id string) string {
	return filepath.Join(b.dir, id+fileExt)
}

// Save writes the record atomically through a temp file and rename.
func (b *FileBackend) Save(ctx context.Context, r *Record) error {
	data, err := r.marshal()
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.path(r.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return lferrors.Wrap(err, lferrors.CodeCheckpointWrite, "failed to write run record").
			WithContext("path", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return lferrors.Wrap(err, lferrors.CodeCheckpointWrite, "failed to rename run record").
			WithContext("path", path)
	}
	return nil
}

// Load reads a record by id.
func (b *FileBackend) Load(ctx context.Context, id string) (*Record, error) {
	data, err := os.ReadFile(b.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(id)
		}
		return nil, lferrors.Wrap(err, lferrors.CodeCheckpointRead, "failed to read run record").
			WithContext("id", id)
	}
	return unmarshal(data, id)
}

// Delete removes a record.
func (b *FileBackend) Delete(ctx context.Context, id string) error {
	if err := os.Remove(b.path(id)); err != nil {
		if os.IsNotExist(err) {
			return notFound(id)
		}
		return lferrors.Wrap(err, lferrors.CodeCheckpointWrite, "failed to delete run record").
			WithContext("id", id)
	}
	return nil
}

// List returns the records whose id starts with prefix, newest first.
// Unreadable files are skipped.
func (b *FileBackend) List(ctx context.Context, prefix string) ([]*Record, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeCheckpointRead, "failed to list run records").
			WithContext("dir", b.dir)
	}

	var out []*Record
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, fileExt) {
			continue
		}
		id := strings.TrimSuffix(name, fileExt)
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		r, err := b.Load(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	sortByStart(out)
	return out, nil
}

// ListIncomplete returns the records of runs that never finished.
func (b *FileBackend) ListIncomplete(ctx context.Context) ([]*Record, error) {
	return incomplete(b.List(ctx, ""))
}

// Cleanup removes finished records last updated before now minus maxAge.
func (b *FileBackend) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	return cleanup(ctx, b, maxAge)
}

// Name returns "file".
func (b *FileBackend) Name() string {
	return "file"
}

func incomplete(all []*Record, err error) ([]*Record, error) {
	if err != nil {
		return nil, err
	}
	var out []*Record
	for _, r := range all {
		if !r.Done() {
			out = append(out, r)
		}
	}
	return out, nil
}

func cleanup(ctx context.Context, b Backend, maxAge time.Duration) (int, error) {
	all, err := b.List(ctx, "")
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, r := range all {
		if r.Done() && r.UpdatedAt.Before(cutoff) {
			if err := b.Delete(ctx, r.ID); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
