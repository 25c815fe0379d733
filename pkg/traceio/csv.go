package traceio

import (
	"context"
	"encoding/csv"
	"errors"
	"io"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

// CSVLoader reads delimited files with a header row.
type CSVLoader struct {
	cfg Config
}

// NewCSVLoader creates a CSV loader.
func NewCSVLoader(cfg Config) *CSVLoader {
	return &CSVLoader{cfg: cfg}
}

// Load implements Loader.
func (l *CSVLoader) Load(ctx context.Context, r io.Reader, source string) ([]tracegraph.Trace, error) {
	reader := csv.NewReader(r)
	if l.cfg.Delimiter != 0 {
		reader.Comma = l.cfg.Delimiter
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, lferrors.New(lferrors.CodeEmptyInput, "csv input is empty").
			WithContext("source", source)
	}
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeInvalidFormat, "failed to read csv header").
			WithContext("source", source)
	}
	t, err := newTable(l.cfg, header, source)
	if err != nil {
		return nil, err
	}

	c := newCollector(source)
	for {
		if err := canceled(ctx, source); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, lferrors.Wrap(err, lferrors.CodeInvalidFormat, "failed to read csv record").
				WithContext("source", source)
		}
		line, _ := reader.FieldPos(0)
		if err := t.row(c, record, line); err != nil {
			return nil, err
		}
	}
	return c.finish()
}
