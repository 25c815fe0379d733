package traceio

import (
	"context"
	"io"

	"github.com/xuri/excelize/v2"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

// XLSXLoader reads the first sheet of an Excel workbook. The first row is the
// header; the rest are events in the same layout as the CSV loader.
type XLSXLoader struct {
	cfg Config
}

// NewXLSXLoader creates an XLSX loader.
func NewXLSXLoader(cfg Config) *XLSXLoader {
	return &XLSXLoader{cfg: cfg}
}

// Load implements Loader. excelize needs the whole workbook, so r is read to
// the end before any row is processed.
func (l *XLSXLoader) Load(ctx context.Context, r io.Reader, source string) ([]tracegraph.Trace, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeInvalidFormat, "failed to open xlsx").
			WithContext("source", source)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, lferrors.New(lferrors.CodeEmptyInput, "xlsx has no sheets").
			WithContext("source", source)
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeInvalidFormat, "failed to read rows").
			WithContext("source", source).
			WithContext("sheet", sheets[0])
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, lferrors.New(lferrors.CodeEmptyInput, "xlsx sheet is empty").
			WithContext("source", source)
	}
	header, err := rows.Columns()
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeInvalidFormat, "failed to read header").
			WithContext("source", source)
	}
	t, err := newTable(l.cfg, header, source)
	if err != nil {
		return nil, err
	}

	c := newCollector(source)
	rowNum := 1
	for rows.Next() {
		if err := canceled(ctx, source); err != nil {
			return nil, err
		}
		rowNum++
		cols, err := rows.Columns()
		if err != nil {
			return nil, lferrors.Wrap(err, lferrors.CodeInvalidFormat, "failed to read row").
				WithContext("source", source).
				WithContext("line", rowNum)
		}
		if err := t.row(c, cols, rowNum); err != nil {
			return nil, err
		}
	}
	if err := rows.Error(); err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeInvalidFormat, "failed to read rows").
			WithContext("source", source)
	}
	return c.finish()
}
