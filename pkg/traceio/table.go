package traceio

import (
	"strings"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/event"
)

// table maps a header row onto trace/type/host/time columns. It is shared by
// the CSV and XLSX loaders.
type table struct {
	trace, typ, host, time int
}

func newTable(cfg Config, header []string, source string) (*table, error) {
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}

	t := &table{}
	var ok bool
	if t.trace, ok = findColumn(idx, cfg.TraceColumn, "trace", "trace_id", "case_id", "case"); !ok {
		return nil, lferrors.New(lferrors.CodeInvalidFormat, "trace column not found").
			WithContext("source", source).
			WithContext("column", cfg.TraceColumn)
	}
	if t.typ, ok = findColumn(idx, cfg.TypeColumn, "type", "event", "activity", "label"); !ok {
		return nil, lferrors.New(lferrors.CodeInvalidFormat, "type column not found").
			WithContext("source", source).
			WithContext("column", cfg.TypeColumn)
	}
	if t.host, ok = findColumn(idx, cfg.HostColumn, "host", "process", "node"); !ok {
		t.host = -1
	}
	if t.time, ok = findColumn(idx, cfg.TimeColumn, "time", "vtime", "clock"); !ok {
		t.time = -1
	}
	return t, nil
}

func findColumn(idx map[string]int, preferred string, aliases ...string) (int, bool) {
	if preferred != "" {
		if i, ok := idx[strings.ToLower(preferred)]; ok {
			return i, true
		}
	}
	for _, a := range aliases {
		if i, ok := idx[a]; ok {
			return i, true
		}
	}
	return 0, false
}

func cell(cols []string, i int) string {
	if i < 0 || i >= len(cols) {
		return ""
	}
	return strings.TrimSpace(cols[i])
}

// row adds one data row to c. Blank rows are skipped.
func (t *table) row(c *collector, cols []string, line int) error {
	name, label := cell(cols, t.trace), cell(cols, t.typ)
	if name == "" && label == "" {
		return nil
	}
	if label == "" {
		return lferrors.MalformedTrace(name, "event has no type").
			WithContext("source", c.source).
			WithContext("line", line)
	}

	e := event.New(newType(label, cell(cols, t.host)))
	if raw := cell(cols, t.time); raw != "" {
		vt, err := event.ParseVectorTime(raw)
		if err != nil {
			return lferrors.Wrap(err, lferrors.CodeMalformedTrace, "invalid vector time").
				WithContext("trace", name).
				WithContext("source", c.source).
				WithContext("line", line)
		}
		e.Time = vt
	}
	e.Line = line
	c.add(name, e)
	return nil
}
