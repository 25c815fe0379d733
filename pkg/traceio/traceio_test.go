package traceio

import (
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/event"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

func labels(tr tracegraph.Trace) []string {
	out := make([]string, len(tr.Events))
	for i, e := range tr.Events {
		out[i] = e.Type.String()
	}
	return out
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"jsonl", FormatJSONL},
		{"NDJSON", FormatJSONL},
		{"csv", FormatCSV},
		{"excel", FormatXLSX},
		{"txt", FormatText},
		{"xes", FormatUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseFormat(tt.in), tt.in)
	}

	assert.Equal(t, FormatCSV, FormatFromPath("/tmp/log.csv"))
	assert.Equal(t, FormatXLSX, FormatFromPath("events.XLSX"))
	assert.Equal(t, FormatUnknown, FormatFromPath("README"))
	assert.Equal(t, "jsonl", FormatJSONL.String())

	_, err := NewLoader(FormatUnknown, DefaultConfig())
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidFormat))
}

func TestJSONLLoader_Load(t *testing.T) {
	input := `{"trace":"t1","type":"open","id":"a"}
{"trace":"t2","type":"open"}

{"trace":"t1","type":"read","host":"disk","id":"b","links":[{"relation":"io","from":"a"}]}
{"trace":"t1","type":"close"}
{"trace":"t2","type":"close"}
`
	traces, err := (&JSONLLoader{}).Load(context.Background(), strings.NewReader(input), "in.jsonl")
	require.NoError(t, err)
	require.Len(t, traces, 2)

	assert.Equal(t, "t1", traces[0].Name)
	assert.Equal(t, []string{"open", "read@disk", "close"}, labels(traces[0]))
	assert.Equal(t, []string{"open", "close"}, labels(traces[1]))
	assert.Equal(t, []tracegraph.Link{{From: 0, To: 1, Relation: "io"}}, traces[0].Links)

	read := traces[0].Events[1]
	assert.Equal(t, "in.jsonl", read.Source)
	assert.Equal(t, 4, read.Line)

	g, err := tracegraph.Build(traces)
	require.NoError(t, err)
	assert.True(t, g.HasRelation("io"))
}

func TestJSONLLoader_VectorTime(t *testing.T) {
	input := `{"trace":"t","type":"send","time":[1,0]}
{"trace":"t","type":"recv","time":"1,1"}
`
	traces, err := (&JSONLLoader{}).Load(context.Background(), strings.NewReader(input), "vt")
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, event.VectorTime{1, 0}, traces[0].Events[0].Time)
	assert.Equal(t, event.VectorTime{1, 1}, traces[0].Events[1].Time)
	assert.True(t, traces[0].Timed())
}

func TestJSONLLoader_EmptyTimeIsUntimed(t *testing.T) {
	input := `{"trace":"t","type":"a","time":[]}
{"trace":"t","type":"b","time":[]}
`
	traces, err := (&JSONLLoader{}).Load(context.Background(), strings.NewReader(input), "vt")
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Nil(t, traces[0].Events[0].Time)
	assert.Nil(t, traces[0].Events[1].Time)
	assert.False(t, traces[0].Timed())

	g, err := tracegraph.Build(traces)
	require.NoError(t, err)
	assert.True(t, g.HasRelation(event.DefaultRelation))
}

func TestJSONLLoader_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		code  lferrors.Code
	}{
		{"bad json", `{"trace":`, lferrors.CodeInvalidFormat},
		{"missing type", `{"trace":"t"}`, lferrors.CodeMalformedTrace},
		{"bad time", `{"trace":"t","type":"a","time":"1,x"}`, lferrors.CodeMalformedTrace},
		{"unknown link", `{"trace":"t","type":"a","links":[{"relation":"r","from":"zz"}]}`, lferrors.CodeMalformedTrace},
		{"duplicate id", "{\"trace\":\"t\",\"type\":\"a\",\"id\":\"x\"}\n{\"trace\":\"t\",\"type\":\"b\",\"id\":\"x\"}", lferrors.CodeMalformedTrace},
		{"empty", "\n\n", lferrors.CodeEmptyInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&JSONLLoader{}).Load(context.Background(), strings.NewReader(tt.input), "x")
			require.Error(t, err)
			assert.Equal(t, tt.code, lferrors.GetCode(err))
		})
	}
}

func TestJSONLLoader_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&JSONLLoader{}).Load(ctx, strings.NewReader(`{"trace":"t","type":"a"}`), "x")
	assert.True(t, lferrors.IsCode(err, lferrors.CodeCanceled))
}

func TestCSVLoader_Load(t *testing.T) {
	input := `case_id,activity,process,vtime
# comment rows are ignored
c1,login,web,
c2,login,web,
c1,logout,web,

c2,logout,api,
`
	traces, err := NewCSVLoader(DefaultConfig()).Load(context.Background(), strings.NewReader(input), "in.csv")
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, "c1", traces[0].Name)
	assert.Equal(t, []string{"login@web", "logout@web"}, labels(traces[0]))
	assert.Equal(t, []string{"login@web", "logout@api"}, labels(traces[1]))
	assert.Equal(t, 3, traces[0].Events[0].Line)
	assert.Nil(t, traces[0].Events[0].Time)
}

func TestCSVLoader_CustomColumns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceColumn = "session"
	cfg.TypeColumn = "op"
	cfg.Delimiter = ';'

	input := "session;op;clock\ns;a;1|0\ns;b;2|0\n"
	traces, err := NewCSVLoader(cfg).Load(context.Background(), strings.NewReader(input), "in.csv")
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, event.VectorTime{2, 0}, traces[0].Events[1].Time)

	_, err = NewCSVLoader(DefaultConfig()).Load(context.Background(), strings.NewReader("who,what\nx,y\n"), "in.csv")
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidFormat))

	_, err = NewCSVLoader(DefaultConfig()).Load(context.Background(), strings.NewReader(""), "in.csv")
	assert.True(t, lferrors.IsCode(err, lferrors.CodeEmptyInput))
}

func TestXLSXLoader_Load(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"trace", "type"},
		{"t1", "a"},
		{"t1", "b"},
		{"t2", "a"},
	}
	for i, r := range rows {
		cellName, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellName, &r))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	traces, err := NewXLSXLoader(DefaultConfig()).Load(context.Background(), buf, "in.xlsx")
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, []string{"a", "b"}, labels(traces[0]))
	assert.Equal(t, 3, traces[0].Events[1].Line)
	assert.Equal(t, []string{"a"}, labels(traces[1]))
}

func TestTextLoader_Load(t *testing.T) {
	input := `# two traces
a
b

--
a
c
--
`
	traces, err := (&TextLoader{}).Load(context.Background(), strings.NewReader(input), "in.txt")
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, "trace-0", traces[0].Name)
	assert.Equal(t, []string{"a", "b"}, labels(traces[0]))
	assert.Equal(t, []string{"a", "c"}, labels(traces[1]))
	assert.Equal(t, 7, traces[1].Events[1].Line)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\n"), 0644))

	traces, err := LoadFile(context.Background(), path, FormatUnknown, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, path, traces[0].Events[0].Source)

	_, err = LoadFile(context.Background(), filepath.Join(dir, "missing.txt"), FormatText, DefaultConfig())
	assert.Error(t, err)

	_, err = LoadFile(context.Background(), filepath.Join(dir, "log.bin"), FormatUnknown, DefaultConfig())
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidFormat))
}

func TestLoadFile_Gzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.jsonl.gz")

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"trace":"t1","type":"open"}` + "\n" + `{"trace":"t1","type":"close"}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	assert.Equal(t, FormatJSONL, FormatFromPath(path))
	traces, err := LoadFile(context.Background(), path, FormatUnknown, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Len(t, traces[0].Events, 2)

	bad := filepath.Join(dir, "bad.txt.gz")
	require.NoError(t, os.WriteFile(bad, []byte("not gzip"), 0644))
	_, err = LoadFile(context.Background(), bad, FormatUnknown, DefaultConfig())
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidFormat))
}
