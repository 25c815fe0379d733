// Package traceio loads structured trace files (JSONL, CSV, XLSX and plain
// text) into the traces consumed by tracegraph.Build.
package traceio

import (
	"context"
	"io"
	"strings"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/event"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

// Loader reads every trace from r. Source names the input in events and
// errors; it is usually the file path.
type Loader interface {
	Load(ctx context.Context, r io.Reader, source string) ([]tracegraph.Trace, error)
}

// Format represents a supported input format.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatJSONL
	FormatCSV
	FormatXLSX
	FormatText
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatJSONL:
		return "jsonl"
	case FormatCSV:
		return "csv"
	case FormatXLSX:
		return "xlsx"
	case FormatText:
		return "text"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format string.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "jsonl", "ndjson", "json":
		return FormatJSONL
	case "csv", "tsv":
		return FormatCSV
	case "xlsx", "excel":
		return FormatXLSX
	case "text", "txt", "log":
		return FormatText
	default:
		return FormatUnknown
	}
}

// FormatFromPath guesses the format from a file extension, looking through
// a trailing .gz.
func FormatFromPath(path string) Format {
	ext := baseExt(path)
	if ext == "" {
		return FormatUnknown
	}
	return ParseFormat(ext)
}

// Config holds column names for the tabular formats. Empty names fall back to
// the usual aliases ("trace", "case_id", "activity", ...).
type Config struct {
	TraceColumn string
	TypeColumn  string
	HostColumn  string
	TimeColumn  string
	// Delimiter separates CSV fields.
	Delimiter rune
}

// DefaultConfig returns the default loader configuration.
func DefaultConfig() Config {
	return Config{
		TraceColumn: "trace",
		TypeColumn:  "type",
		HostColumn:  "host",
		TimeColumn:  "time",
		Delimiter:   ',',
	}
}

// NewLoader creates a loader for the given format.
func NewLoader(f Format, cfg Config) (Loader, error) {
	switch f {
	case FormatJSONL:
		return &JSONLLoader{}, nil
	case FormatCSV:
		return &CSVLoader{cfg: cfg}, nil
	case FormatXLSX:
		return &XLSXLoader{cfg: cfg}, nil
	case FormatText:
		return &TextLoader{}, nil
	default:
		return nil, lferrors.Newf(lferrors.CodeInvalidFormat, "unsupported input format %q", f.String())
	}
}

// LoadFile opens path and loads it with the given format. FormatUnknown is
// resolved from the file extension. Gzip-compressed files are decompressed
// transparently.
func LoadFile(ctx context.Context, path string, f Format, cfg Config) ([]tracegraph.Trace, error) {
	if f == FormatUnknown {
		f = FormatFromPath(path)
	}
	l, err := NewLoader(f, cfg)
	if err != nil {
		return nil, err
	}

	r, cleanup, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return l.Load(ctx, r, path)
}

func canceled(ctx context.Context, source string) error {
	if err := ctx.Err(); err != nil {
		return lferrors.Canceled("load "+source, err)
	}
	return nil
}

// collector groups events by trace name, keeping traces in first-seen order
// and events in input order.
type collector struct {
	source string
	order  []*pending
	byName map[string]*pending
}

type pending struct {
	trace tracegraph.Trace
	ids   map[string]int
	links []pendingLink
}

type pendingLink struct {
	relation string
	from     string
	to       int
	line     int
}

func newCollector(source string) *collector {
	return &collector{source: source, byName: make(map[string]*pending)}
}

func (c *collector) trace(name string) *pending {
	p, ok := c.byName[name]
	if !ok {
		p = &pending{trace: tracegraph.Trace{Name: name}, ids: make(map[string]int)}
		c.byName[name] = p
		c.order = append(c.order, p)
	}
	return p
}

// add appends e to the named trace and returns its position.
func (c *collector) add(name string, e event.Event) int {
	p := c.trace(name)
	e.Source = c.source
	p.trace.Events = append(p.trace.Events, e)
	return len(p.trace.Events) - 1
}

// finish resolves link ids and returns the traces.
func (c *collector) finish() ([]tracegraph.Trace, error) {
	if len(c.order) == 0 {
		return nil, lferrors.New(lferrors.CodeEmptyInput, "input contains no events").
			WithContext("source", c.source)
	}
	traces := make([]tracegraph.Trace, 0, len(c.order))
	for _, p := range c.order {
		for _, l := range p.links {
			from, ok := p.ids[l.from]
			if !ok {
				return nil, lferrors.MalformedTrace(p.trace.Name, "link names an unknown event id").
					WithContext("id", l.from).
					WithContext("source", c.source).
					WithContext("line", l.line)
			}
			p.trace.Links = append(p.trace.Links, tracegraph.Link{
				From:     from,
				To:       l.to,
				Relation: l.relation,
			})
		}
		traces = append(traces, p.trace)
	}
	return traces, nil
}

func newType(label, host string) event.Type {
	if host == "" {
		return event.NewType(label)
	}
	return event.NewHostType(label, host)
}
