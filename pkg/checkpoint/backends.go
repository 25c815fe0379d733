package checkpoint

import (
	"context"
	"time"

	"go.uber.org/zap"

	lferrors "github.com/logflow/tracemine/pkg/errors"
)

// Backend stores run records.
type Backend interface {
	// Save persists a record, replacing any earlier version.
	Save(ctx context.Context, r *Record) error

	// Load retrieves a record by id. A missing record is a CodeNotFound error.
	Load(ctx context.Context, id string) (*Record, error)

	// Delete removes a record.
	Delete(ctx context.Context, id string) error

	// List returns the records whose id starts with prefix, newest first.
	List(ctx context.Context, prefix string) ([]*Record, error)

	// ListIncomplete returns the records of runs that never finished.
	ListIncomplete(ctx context.Context) ([]*Record, error)

	// Cleanup removes finished records older than maxAge.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)

	// Name returns the backend name for logging.
	Name() string
}

// MultiBackend writes to a primary backend and mirrors to a secondary one.
type MultiBackend struct {
	primary   Backend
	secondary Backend
	logger    *zap.Logger
}

// NewMultiBackend creates a backend that writes to both primary and secondary.
func NewMultiBackend(primary, secondary Backend, logger *zap.Logger) *MultiBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiBackend{
		primary:   primary,
		secondary: secondary,
		logger:    logger,
	}
}

// Save writes to both backends (primary first). Secondary failures are
// logged and otherwise ignored.
func (m *MultiBackend) Save(ctx context.Context, r *Record) error {
	if err := m.primary.Save(ctx, r); err != nil {
		return err
	}
	if err := m.secondary.Save(ctx, r); err != nil {
		m.logger.Warn("Secondary checkpoint save failed",
			zap.String("backend", m.secondary.Name()),
			zap.String("id", r.ID),
			zap.Error(err))
	}
	return nil
}

// Load reads from primary, falls back to secondary.
func (m *MultiBackend) Load(ctx context.Context, id string) (*Record, error) {
	r, err := m.primary.Load(ctx, id)
	if err == nil {
		return r, nil
	}
	return m.secondary.Load(ctx, id)
}

// Delete removes from both backends. Not-found on either side is ignored as
// long as one side had the record.
func (m *MultiBackend) Delete(ctx context.Context, id string) error {
	err1 := m.primary.Delete(ctx, id)
	err2 := m.secondary.Delete(ctx, id)
	switch {
	case err1 == nil || err2 == nil:
		if err1 != nil && !lferrors.IsCode(err1, lferrors.CodeNotFound) {
			return err1
		}
		if err2 != nil && !lferrors.IsCode(err2, lferrors.CodeNotFound) {
			return err2
		}
		return nil
	default:
		return err1
	}
}

// List returns results from primary.
func (m *MultiBackend) List(ctx context.Context, prefix string) ([]*Record, error) {
	return m.primary.List(ctx, prefix)
}

// ListIncomplete returns incomplete records from primary.
func (m *MultiBackend) ListIncomplete(ctx context.Context) ([]*Record, error) {
	return m.primary.ListIncomplete(ctx)
}

// Cleanup cleans both backends and reports the primary's count.
func (m *MultiBackend) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	n, err := m.primary.Cleanup(ctx, maxAge)
	if err != nil {
		return 0, err
	}
	if _, err := m.secondary.Cleanup(ctx, maxAge); err != nil {
		m.logger.Warn("Secondary checkpoint cleanup failed",
			zap.String("backend", m.secondary.Name()),
			zap.Error(err))
	}
	return n, nil
}

// Name returns the combined backend names.
func (m *MultiBackend) Name() string {
	return m.primary.Name() + "+" + m.secondary.Name()
}
